package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/3leaps/golumen/pkg/source"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestList_ReturnsSortedEntries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "movies/b.mp4", "bb")
	writeFile(t, dir, "movies/a.mp4", "a")
	writeFile(t, dir, "shows/c.mkv", "ccc")

	s, err := New(Config{BaseDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := s.List(context.Background(), source.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.IsTruncated {
		t.Fatal("expected single page")
	}
	if len(res.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(res.Entries))
	}

	wantPaths := []string{"movies/a.mp4", "movies/b.mp4", "shows/c.mkv"}
	for i, want := range wantPaths {
		if res.Entries[i].Path != want {
			t.Errorf("entry %d: path = %q, want %q", i, res.Entries[i].Path, want)
		}
	}
	if res.Entries[0].Name != "a.mp4" {
		t.Errorf("name = %q, want a.mp4", res.Entries[0].Name)
	}
	if res.Entries[1].Size != 2 {
		t.Errorf("size = %d, want 2", res.Entries[1].Size)
	}
}

func TestList_PaginatesWithContinuationToken(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.mp4", "x")
	writeFile(t, dir, "b.mp4", "x")
	writeFile(t, dir, "c.mp4", "x")

	s, err := New(Config{BaseDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	page1, err := s.List(context.Background(), source.ListOptions{MaxEntries: 2})
	if err != nil {
		t.Fatalf("List page 1: %v", err)
	}
	if !page1.IsTruncated {
		t.Fatal("expected truncated first page")
	}
	if len(page1.Entries) != 2 {
		t.Fatalf("page 1: expected 2 entries, got %d", len(page1.Entries))
	}

	page2, err := s.List(context.Background(), source.ListOptions{
		MaxEntries:        2,
		ContinuationToken: page1.ContinuationToken,
	})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if page2.IsTruncated {
		t.Fatal("expected final page")
	}
	if len(page2.Entries) != 1 || page2.Entries[0].Path != "c.mp4" {
		t.Fatalf("page 2: got %+v", page2.Entries)
	}
}

func TestList_PrefixFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "movies/a.mp4", "x")
	writeFile(t, dir, "shows/b.mkv", "x")

	s, err := New(Config{BaseDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := s.List(context.Background(), source.ListOptions{Prefix: "movies"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Path != "movies/a.mp4" {
		t.Fatalf("got %+v", res.Entries)
	}
}

func TestList_MissingPrefixIsEmpty(t *testing.T) {
	s, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := s.List(context.Background(), source.ListOptions{Prefix: "nope"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Entries) != 0 {
		t.Fatalf("expected empty listing, got %d entries", len(res.Entries))
	}
}

func TestStat_ReturnsEntry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "movies/a.mp4", "hello")

	s, err := New(Config{BaseDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e, err := s.Stat(context.Background(), "movies/a.mp4")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if e.Path != "movies/a.mp4" || e.Name != "a.mp4" || e.Size != 5 {
		t.Fatalf("got %+v", e)
	}
	if e.MTime.IsZero() {
		t.Fatal("expected non-zero mtime")
	}
}

func TestStat_MissingPathIsNotFound(t *testing.T) {
	s, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.Stat(context.Background(), "missing.mp4")
	if !source.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestStat_RejectsTraversal(t *testing.T) {
	s, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.Stat(context.Background(), "../etc/passwd"); err == nil {
		t.Fatal("expected error for traversal path")
	}
}

func TestNew_RequiresBaseDir(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty base dir")
	}
}
