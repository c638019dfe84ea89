package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/stretchr/testify/require"
)

func TestSyncErrorClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name              string
		inputError        error
		expectedType      SyncErrorType
		expectedRetryable bool
	}{
		{
			name:              "rate limit message",
			inputError:        errors.New("HTTP 429: rate limit exceeded"),
			expectedType:      SyncErrorRateLimit,
			expectedRetryable: true,
		},
		{
			name:              "bandwidth message",
			inputError:        errors.New("You have exceeded the maximum bandwidth allotted to your account"),
			expectedType:      SyncErrorRateLimit,
			expectedRetryable: true,
		},
		{
			name:              "authentication message",
			inputError:        errors.New("unauthorized access - invalid session"),
			expectedType:      SyncErrorAuthentication,
			expectedRetryable: false,
		},
		{
			name:              "validation message",
			inputError:        errors.New("validation failed: malformed content"),
			expectedType:      SyncErrorValidation,
			expectedRetryable: false,
		},
		{
			name:              "network message",
			inputError:        errors.New("network connection timeout"),
			expectedType:      SyncErrorNetwork,
			expectedRetryable: true,
		},
		{
			name:              "conflict message",
			inputError:        errors.New("sync conflict detected for item"),
			expectedType:      SyncErrorConflict,
			expectedRetryable: true,
		},
		{
			name:              "unknown",
			inputError:        errors.New("some unknown error occurred"),
			expectedType:      SyncErrorUnknown,
			expectedRetryable: true,
		},
		{
			name:              "unreachable server",
			inputError:        fmt.Errorf("pull | %w", &url.Error{Op: "Post", URL: "http://localhost", Err: errors.New("connection refused")}),
			expectedType:      SyncErrorNetwork,
			expectedRetryable: true,
		},
		{
			name:              "server error status",
			inputError:        &api.HTTPRequestError{StatusCode: http.StatusBadGateway, Message: "POST to /sync/push-changes failed"},
			expectedType:      SyncErrorNetwork,
			expectedRetryable: true,
		},
		{
			name:              "forbidden status",
			inputError:        fmt.Errorf("pull | %w", &api.HTTPRequestError{StatusCode: http.StatusForbidden, Message: "POST failed"}),
			expectedType:      SyncErrorAuthentication,
			expectedRetryable: false,
		},
		{
			name:              "too many requests status",
			inputError:        &api.HTTPRequestError{StatusCode: http.StatusTooManyRequests, Message: "POST failed"},
			expectedType:      SyncErrorRateLimit,
			expectedRetryable: true,
		},
		{
			name:              "payload too large status",
			inputError:        &api.HTTPRequestError{StatusCode: http.StatusRequestEntityTooLarge, Message: "POST failed"},
			expectedType:      SyncErrorQuota,
			expectedRetryable: false,
		},
		{
			name:              "bad request status",
			inputError:        &api.HTTPRequestError{StatusCode: http.StatusBadRequest, Message: "POST failed"},
			expectedType:      SyncErrorValidation,
			expectedRetryable: false,
		},
		{
			name:              "version conflict",
			inputError:        &api.VersionConflictError{Conflicts: []api.VersionConflict{{Type: "text", Expected: 1, Actual: 2}}},
			expectedType:      SyncErrorConflict,
			expectedRetryable: true,
		},
		{
			name:              "missing identity",
			inputError:        api.ErrNotAuthenticated,
			expectedType:      SyncErrorAuthentication,
			expectedRetryable: false,
		},
		{
			name:              "cancelled",
			inputError:        fmt.Errorf("pull | %w", context.Canceled),
			expectedType:      SyncErrorUnknown,
			expectedRetryable: false,
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			syncErr := classifySyncError(tc.inputError)
			require.NotNil(t, syncErr)
			require.Equal(t, tc.expectedType, syncErr.Type, syncErr.Type.String())
			require.Equal(t, tc.expectedRetryable, syncErr.Retryable)
			require.Same(t, tc.inputError, syncErr.Original)
			require.ErrorIs(t, syncErr, tc.inputError)
			require.Greater(t, len(syncErr.Message), 10)
		})
	}

	require.Nil(t, classifySyncError(nil))
}

func TestClassifyKeepsSyncError(t *testing.T) {
	t.Parallel()

	se := &SyncError{Type: SyncErrorQuota, Original: errors.New("full"), Message: "quota exceeded: full"}

	require.Same(t, se, classifySyncError(fmt.Errorf("run | %w", se)))
	require.Equal(t, "quota exceeded: full", se.Error())
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := backoff{base: time.Second, max: 5 * time.Minute}

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		64 * time.Second,
		128 * time.Second,
		256 * time.Second,
		5 * time.Minute,
		5 * time.Minute,
	}

	for attempt, d := range expected {
		require.Equal(t, d, b.delay(attempt), "attempt %d", attempt)
	}

	require.Equal(t, 5*time.Minute, b.delay(1000))
}

func TestBackoffWaitStopsOnCancel(t *testing.T) {
	t.Parallel()

	b := backoff{base: time.Hour, max: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, b.wait(ctx, 0), context.Canceled)

	short := backoff{base: time.Millisecond, max: time.Millisecond}
	require.NoError(t, short.wait(context.Background(), 3))
}
