package common

import (
	"fmt"
	"os"
	"strconv"
)

const (
	EnvServer           = "MIMIRI_SERVER"
	EnvDataDir          = "MIMIRI_DATA_DIR"
	EnvUsername         = "MIMIRI_USERNAME"
	EnvPassword         = "MIMIRI_PASSWORD"
	EnvDebug            = "MIMIRI_DEBUG"
	EnvSchemaValidation = "MIMIRI_SCHEMA_VALIDATION"
	EnvRequestTimeout   = "MIMIRI_REQUEST_TIMEOUT" // Override default request timeout in seconds
	EnvRetryWaitMin     = "MIMIRI_RETRY_WAIT_MIN"  // Override minimum retry wait in seconds
	EnvRetryWaitMax     = "MIMIRI_RETRY_WAIT_MAX"  // Override maximum retry wait in seconds
	EnvSyncMaxDelay     = "MIMIRI_SYNC_MAX_DELAY"  // Override sync backoff ceiling in milliseconds
)

// ParseEnvInt64 looks up an environment variable and attempts to parse
// it as an int64. It returns the parsed value, a boolean indicating
// whether the variable was set, and any error encountered.
func ParseEnvInt64(name string) (int64, bool, error) {
	val := os.Getenv(name)
	if val == "" {
		return 0, false, nil
	}

	v, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s value: %w", name, err)
	}

	return v, true, nil
}
