package planet

import (
	"fmt"
	"strings"
	"time"
)

// ConfigurationError is returned when no api key can be resolved
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Reason }

// HttpError is returned for any unhandled non-2xx response
type HttpError struct {
	StatusCode int
	Body       string
}

func (e *HttpError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http error %d", e.StatusCode)
	}
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Body)
}

// Temporary returns whether the request may succeed on retry
func (e *HttpError) Temporary() bool { return e.StatusCode == 429 || e.StatusCode >= 500 }

// RateLimitError is returned when the retry budget is exhausted on 429s
type RateLimitError struct {
	StatusCode int
	Attempts   int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited after %d attempts (status %d)", e.Attempts, e.StatusCode)
}

func (e *RateLimitError) Temporary() bool { return true }

// PermissionError is returned when the server denies access to an asset (401)
type PermissionError struct {
	SourceID  string
	AssetName string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied on asset %s of item %s", e.AssetName, e.SourceID)
}

// MalformedResponseError is returned when an expected header or field is absent or unparsable
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string { return "malformed response: " + e.Reason }

// PollTimeoutError is returned when the deadline elapses while waiting for activations
type PollTimeoutError struct {
	Timeout time.Duration
	Pending []string
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("still not active after %v: %s", e.Timeout, strings.Join(e.Pending, ", "))
}

// Temporary returns true: the activation may complete on a later attempt
func (e *PollTimeoutError) Temporary() bool { return true }

// DownloadError is returned on an I/O failure while streaming a download
type DownloadError struct {
	Path string
	Err  error
}

func (e *DownloadError) Error() string   { return fmt.Sprintf("download %s: %v", e.Path, e.Err) }
func (e *DownloadError) Unwrap() error   { return e.Err }
func (e *DownloadError) Temporary() bool { return true }
