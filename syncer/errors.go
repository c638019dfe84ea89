package syncer

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/innonova/mimiri-client-sub002/api"
)

type SyncErrorType int

const (
	SyncErrorUnknown SyncErrorType = iota
	SyncErrorNetwork
	SyncErrorAuthentication
	SyncErrorRateLimit
	SyncErrorValidation
	SyncErrorConflict
	SyncErrorQuota
)

func (t SyncErrorType) String() string {
	switch t {
	case SyncErrorNetwork:
		return "network"
	case SyncErrorAuthentication:
		return "authentication"
	case SyncErrorRateLimit:
		return "rate-limit"
	case SyncErrorValidation:
		return "validation"
	case SyncErrorConflict:
		return "conflict"
	case SyncErrorQuota:
		return "quota"
	default:
		return "unknown"
	}
}

// SyncError is a failed sync cycle classified for the retry loop.
type SyncError struct {
	Type      SyncErrorType
	Original  error
	Message   string
	Retryable bool
}

func (e *SyncError) Error() string {
	return e.Message
}

func (e *SyncError) Unwrap() error {
	return e.Original
}

func newSyncError(t SyncErrorType, err error, message string, retryable bool) *SyncError {
	return &SyncError{Type: t, Original: err, Message: message + ": " + err.Error(), Retryable: retryable}
}

// classifySyncError maps an error from a sync cycle to a SyncError. Typed
// errors from the api package are checked first, then the message text.
func classifySyncError(err error) *SyncError {
	if err == nil {
		return nil
	}

	var se *SyncError
	if errors.As(err, &se) {
		return se
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newSyncError(SyncErrorUnknown, err, "sync cancelled", false)
	}

	var conflict *api.VersionConflictError
	if errors.As(err, &conflict) {
		return newSyncError(SyncErrorConflict, err, "sync conflict", true)
	}

	if errors.Is(err, api.ErrNotAuthenticated) {
		return newSyncError(SyncErrorAuthentication, err, "authentication failed", false)
	}

	var he *api.HTTPRequestError
	if errors.As(err, &he) {
		switch {
		case he.StatusCode == http.StatusUnauthorized, he.StatusCode == http.StatusForbidden:
			return newSyncError(SyncErrorAuthentication, err, "authentication failed", false)
		case he.StatusCode == http.StatusTooManyRequests:
			return newSyncError(SyncErrorRateLimit, err, "rate limit exceeded", true)
		case he.StatusCode == http.StatusConflict:
			return newSyncError(SyncErrorConflict, err, "sync conflict", true)
		case he.StatusCode == http.StatusRequestEntityTooLarge, he.StatusCode == http.StatusInsufficientStorage:
			return newSyncError(SyncErrorQuota, err, "quota exceeded", false)
		case he.StatusCode == http.StatusBadRequest, he.StatusCode == http.StatusUnprocessableEntity:
			return newSyncError(SyncErrorValidation, err, "request rejected", false)
		case he.StatusCode >= http.StatusInternalServerError:
			return newSyncError(SyncErrorNetwork, err, "server unavailable", true)
		}
	}

	if api.IsNetworkError(err) {
		return newSyncError(SyncErrorNetwork, err, "network failure", true)
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "bandwidth"):
		return newSyncError(SyncErrorRateLimit, err, "rate limit exceeded", true)
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid session"):
		return newSyncError(SyncErrorAuthentication, err, "authentication failed", false)
	case strings.Contains(msg, "validation"), strings.Contains(msg, "malformed"):
		return newSyncError(SyncErrorValidation, err, "request rejected", false)
	case strings.Contains(msg, "network"), strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"):
		return newSyncError(SyncErrorNetwork, err, "network failure", true)
	case strings.Contains(msg, "conflict"):
		return newSyncError(SyncErrorConflict, err, "sync conflict", true)
	}

	return newSyncError(SyncErrorUnknown, err, "sync failed", true)
}
