package api

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrNotAuthenticated = errors.New("client has no signing identity")
	ErrMissingKeySigner = errors.New("no signature available for key")
)

// VersionConflictError is returned when the server rejects a Multi-Action
// because one or more items were written against a stale version.
type VersionConflictError struct {
	Conflicts []VersionConflict
}

func (e *VersionConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s expected %d actual %d", c.Type, c.Expected, c.Actual))
	}

	return "version conflict: " + strings.Join(parts, ", ")
}

// HTTPRequestError is any non-200 response.
type HTTPRequestError struct {
	StatusCode int
	Message    string
}

func (e *HTTPRequestError) Error() string {
	return fmt.Sprintf("%s (status code %d)", e.Message, e.StatusCode)
}

// IsStatus reports whether err is an HTTPRequestError with the given status.
func IsStatus(err error, status int) bool {
	var he *HTTPRequestError
	if errors.As(err, &he) {
		return he.StatusCode == status
	}

	return false
}

// IsNetworkError reports whether the request never produced a response.
func IsNetworkError(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne)
}
