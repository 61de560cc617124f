// Package source defines the media source abstraction used by rescan.
//
// A Source enumerates media entries from a backing store (local directory,
// S3 bucket) with cursor-based pagination. Entries carry the path, basename,
// size, and modification time that downstream fingerprinting depends on.
package source

import (
	"context"
	"time"
)

// SourceType identifies a source backend.
type SourceType string

const (
	// SourceFile is a local filesystem source.
	SourceFile SourceType = "file"

	// SourceS3 is an AWS S3 or S3-compatible source.
	SourceS3 SourceType = "s3"
)

// Entry describes a single media file visible in a source.
type Entry struct {
	// Path is the source-relative path, always slash-separated.
	Path string

	// Name is the basename of Path.
	Name string

	// Size is the file size in bytes.
	Size int64

	// MTime is the last modification time.
	MTime time.Time
}

// ListOptions configures a List call.
type ListOptions struct {
	// Prefix restricts results to paths with this prefix.
	Prefix string

	// ContinuationToken resumes a previous listing. Empty starts from the beginning.
	ContinuationToken string

	// MaxEntries is the maximum number of entries per page.
	// Zero uses the source default.
	MaxEntries int
}

// ListResult is one page of entries.
type ListResult struct {
	// Entries is the page of media entries, ordered by path.
	Entries []Entry

	// ContinuationToken is passed to the next List call when IsTruncated.
	ContinuationToken string

	// IsTruncated indicates more entries remain.
	IsTruncated bool
}

// Source enumerates and inspects media files in a backing store.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Type returns the source backend type.
	Type() SourceType

	// List returns one page of entries. Callers page with the
	// continuation token until IsTruncated is false.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Stat returns the entry for a single path.
	// Returns an error wrapping ErrNotFound if the path does not exist.
	Stat(ctx context.Context, path string) (*Entry, error)

	// Close releases any resources held by the source.
	Close() error
}
