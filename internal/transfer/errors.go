package transfer

import (
	"errors"
	"fmt"
)

// ErrRangeNotSatisfiable is returned by a Fetcher when the server answers 416 to a
// resume request.
var ErrRangeNotSatisfiable = errors.New("transfer: requested range not satisfiable")

// NetworkError represents connection failures and non-success HTTP responses.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "fetch", "read_body")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string // Status line or transport error message
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DiskError represents a failure to create, open, seek, write or sync the destination file.
type DiskError struct {
	Operation string // "mkdir", "open", "truncate", "seek", "write", "sync", "rehash"
	Path      string
	Err       error
}

func (e *DiskError) Error() string {
	return fmt.Sprintf("disk error during %s of '%s': %v", e.Operation, e.Path, e.Err)
}

func (e *DiskError) Unwrap() error {
	return e.Err
}

// VerificationError means the written file does not match what was expected. The file
// is left in place.
type VerificationError struct {
	Path           string
	Reason         string
	ExpectedHash   string
	ActualHash     string
	ExpectedLength int64
	ActualLength   int64
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for '%s': %s (length %d/%d, hash %q/%q)",
		e.Path, e.Reason, e.ActualLength, e.ExpectedLength, e.ActualHash, e.ExpectedHash)
}

// RangeError represents a partial-content response that cannot be used to resume.
type RangeError struct {
	Header string
	Reason string
	Err    error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("unusable range response %q: %s", e.Header, e.Reason)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err was caused by the remote side.
func IsNetworkError(err error) bool {
	var netErr *NetworkError

	return errors.As(err, &netErr)
}

// IsDiskError reports whether err was caused by local storage.
func IsDiskError(err error) bool {
	var diskErr *DiskError

	return errors.As(err, &diskErr)
}

// IsVerificationError reports whether err is a content mismatch.
func IsVerificationError(err error) bool {
	var verr *VerificationError

	return errors.As(err, &verr)
}
