// Package file implements the source interface for local filesystem paths.
package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/golumen/pkg/source"
)

// DefaultMaxEntries is the default page size for List operations.
const DefaultMaxEntries = 1000

// Source implements source.Source for a local directory tree.
//
// Paths are treated as slash-separated paths relative to BaseDir.
type Source struct {
	baseDir string
}

var _ source.Source = (*Source)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (s *Source) Type() source.SourceType { return source.SourceFile }

func (s *Source) Close() error { return nil }

func (s *Source) List(ctx context.Context, opts source.ListOptions) (*source.ListResult, error) {
	_ = ctx
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	paths, err := s.collectPaths(prefix)
	if err != nil {
		return nil, s.wrapError("List", opts.Prefix, err)
	}
	sort.Strings(paths)

	start := 0
	if opts.ContinuationToken != "" {
		// Resume strictly after the last returned path.
		idx := sort.SearchStrings(paths, opts.ContinuationToken)
		for idx < len(paths) && paths[idx] <= opts.ContinuationToken {
			idx++
		}
		start = idx
	}

	end := start + maxEntries
	if end > len(paths) {
		end = len(paths)
	}

	entries := make([]source.Entry, 0, end-start)
	for _, p := range paths[start:end] {
		full, err := s.fullPath(p)
		if err != nil {
			continue
		}
		st, err := os.Stat(full)
		if err != nil || st.IsDir() {
			continue
		}
		entries = append(entries, source.Entry{
			Path:  p,
			Name:  path.Base(p),
			Size:  st.Size(),
			MTime: st.ModTime(),
		})
	}

	res := &source.ListResult{Entries: entries}
	if end < len(paths) {
		res.IsTruncated = true
		res.ContinuationToken = paths[end-1]
	}
	return res, nil
}

func (s *Source) Stat(ctx context.Context, p string) (*source.Entry, error) {
	_ = ctx
	full, err := s.fullPath(p)
	if err != nil {
		return nil, s.wrapError("Stat", p, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, s.wrapError("Stat", p, err)
	}
	if st.IsDir() {
		return nil, &source.SourceError{Op: "Stat", Source: source.SourceFile, Path: p, Err: source.ErrNotFound}
	}

	rel := strings.TrimPrefix(p, "/")
	return &source.Entry{
		Path:  rel,
		Name:  path.Base(rel),
		Size:  st.Size(),
		MTime: st.ModTime(),
	}, nil
}

func (s *Source) fullPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "/")
	// Prevent path traversal.
	clean := path.Clean("/" + p)
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid entry path")
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

func (s *Source) collectPaths(prefix string) ([]string, error) {
	root, err := s.fullPath(prefix)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var paths []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	return paths, nil
}

func (s *Source) wrapError(op, p string, err error) error {
	wrapped := &source.SourceError{Op: op, Source: source.SourceFile, Path: p, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	// Normalize common filesystem errors to source sentinels.
	if os.IsNotExist(err) {
		wrapped.Err = source.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = source.ErrAccessDenied
	}
	return wrapped
}
