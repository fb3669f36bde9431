package ingestion

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnknownSourceType indicates a registry lookup for a source type no
// connector claims. This is a wiring problem and must fail fast.
var ErrUnknownSourceType = errors.New("unknown source type")

// ConfigError reports an invalid or missing connector configuration
// field. Config errors are fatal for the run and are never retried.
type ConfigError struct {
	SourceType string
	Field      string
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s config: field %q %s", e.SourceType, e.Field, e.Reason)
}

// NewConfigError builds a ConfigError for a connector field.
func NewConfigError(sourceType, field, reason string) error {
	return &ConfigError{SourceType: sourceType, Field: field, Reason: reason}
}

// IsConfigError reports whether err is a connector configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// HTTPStatusError carries a non-2xx upstream response so callers can
// decide retry/abort policy by status class.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.StatusCode, e.URL)
}

// IsAuthError reports whether err is an authoritative upstream rejection
// (401/403). These indicate a bad credential, not a transient condition:
// the call is not retried and remaining batched calls are abandoned.
func IsAuthError(err error) bool {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
	}
	return false
}

// isRetryableStatus reports whether a status code indicates a transient
// upstream condition worth retrying.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
