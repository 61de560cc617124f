package source

import (
	"errors"
	"fmt"
)

// Sentinel errors for source operations.
var (
	// ErrNotFound indicates the requested path does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the backing bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable indicates the backing store is unavailable.
	ErrUnavailable = errors.New("source unavailable")

	// ErrThrottled indicates the request was rate limited by the backing store.
	ErrThrottled = errors.New("request throttled")
)

// SourceError wraps backend-specific errors with context.
type SourceError struct {
	// Op is the operation that failed (e.g., "List", "Stat").
	Op string

	// Source is the source backend type.
	Source SourceType

	// Bucket is the bucket name, if applicable.
	Bucket string

	// Path is the entry path, if applicable.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Source, e.Op, e.Bucket, e.Path, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Source, e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a path was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsUnavailable returns true if the error indicates the backing store is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsTransient reports whether an error is worth retrying: throttling and
// backend unavailability are expected to clear, everything else is not.
func IsTransient(err error) bool {
	return IsThrottled(err) || IsUnavailable(err)
}
