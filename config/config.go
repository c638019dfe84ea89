package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	configName    = "config"
	configType    = "yaml"
	dataDirSuffix = "." + common.LibName

	KeyServer           = "server"
	KeyDataDir          = "data_dir"
	KeyDebug            = "debug"
	KeyRequestTimeout   = "request_timeout"
	KeySchemaValidation = "schema_validation"
	KeyUsername         = "username"
	KeyPassword         = "password"
	KeySyncMaxDelay     = "sync_max_delay"
)

// Config holds the client settings resolved from the environment and an
// optional config file.
type Config struct {
	Server           string
	DataDir          string
	Debug            bool
	RequestTimeout   time.Duration
	SchemaValidation bool
	Username         string
	Password         string

	// SyncMaxDelay caps the sync retry backoff.
	SyncMaxDelay time.Duration
}

// DefaultDataDir returns ~/.mimiri.
func DefaultDataDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("DefaultDataDir | %w", err)
	}

	return filepath.Join(home, dataDirSuffix), nil
}

// Load reads MIMIRI_* env vars and, if present, config.yaml in the data
// directory. Env vars win over the file.
func Load() (Config, error) {
	return load(viper.New(), "")
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (Config, error) {
	dataDir, err := DefaultDataDir()
	if err != nil {
		return Config{}, err
	}

	v.SetEnvPrefix(strings.ToUpper(common.LibName))
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyServer, common.APIServer)
	v.SetDefault(KeyDataDir, dataDir)
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyRequestTimeout, common.RequestTimeout)
	v.SetDefault(KeySchemaValidation, true)
	v.SetDefault(KeySyncMaxDelay, common.SyncMaxDelayMs)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(v.GetString(KeyDataDir))
	}

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return Config{}, fmt.Errorf("Load | %w", err)
		}
	}

	timeout := v.GetInt(KeyRequestTimeout)
	if timeout <= 0 {
		timeout = common.RequestTimeout
	}

	maxDelay := v.GetInt64(KeySyncMaxDelay)
	if maxDelay < common.SyncBaseDelayMs {
		maxDelay = common.SyncBaseDelayMs
	}

	return Config{
		Server:           strings.TrimSuffix(v.GetString(KeyServer), "/"),
		DataDir:          v.GetString(KeyDataDir),
		Debug:            v.GetBool(KeyDebug),
		RequestTimeout:   time.Duration(timeout) * time.Second,
		SchemaValidation: v.GetBool(KeySchemaValidation),
		Username:         v.GetString(KeyUsername),
		Password:         v.GetString(KeyPassword),
		SyncMaxDelay:     time.Duration(maxDelay) * time.Millisecond,
	}, nil
}
