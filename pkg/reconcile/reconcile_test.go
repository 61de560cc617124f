package reconcile

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestReconcile_ExactPathMatch(t *testing.T) {
	recorded := []RecordedEntry{
		{ID: "1", Path: "/a/x.mp4", Name: "x.mp4", Size: 100, MTime: 10},
	}
	disk := []DiskEntry{
		{Path: "/a/x.mp4", Name: "x.mp4", Size: 100, MTime: 10},
	}

	res := Reconcile(recorded, disk)

	if len(res.Matched) != 1 {
		t.Fatalf("matched count: %d", len(res.Matched))
	}
	if res.Matched[0].Recorded.ID != "1" || res.Matched[0].Disk.Path != "/a/x.mp4" {
		t.Fatalf("unexpected match: %+v", res.Matched[0])
	}
	if len(res.Moved)+len(res.Deleted)+len(res.New)+len(res.Ambiguous) != 0 {
		t.Fatalf("expected all other sets empty: %+v", res)
	}
}

func TestReconcile_MoveDetectedByFingerprint(t *testing.T) {
	recorded := []RecordedEntry{
		{ID: "1", Path: "/old/x.mp4", Name: "x.mp4", Size: 100, MTime: 10},
	}
	disk := []DiskEntry{
		{Path: "/new/x.mp4", Name: "x.mp4", Size: 100, MTime: 10},
	}

	res := Reconcile(recorded, disk)

	if len(res.Moved) != 1 {
		t.Fatalf("moved count: %d", len(res.Moved))
	}
	m := res.Moved[0]
	if m.Recorded.ID != "1" || m.Disk == nil || m.Disk.Path != "/new/x.mp4" {
		t.Fatalf("unexpected move: %+v", m)
	}
	if len(res.Matched)+len(res.Deleted)+len(res.New)+len(res.Ambiguous) != 0 {
		t.Fatalf("expected all other sets empty: %+v", res)
	}
}

func TestReconcile_AmbiguousMoveIsSurfacedNotGuessed(t *testing.T) {
	recorded := []RecordedEntry{
		{ID: "1", Path: "/old/x.mp4", Name: "x.mp4", Size: 100, MTime: 10},
	}
	disk := []DiskEntry{
		{Path: "/p/x.mp4", Name: "x.mp4", Size: 100, MTime: 10},
		{Path: "/q/x.mp4", Name: "x.mp4", Size: 100, MTime: 10},
	}

	res := Reconcile(recorded, disk)

	if len(res.Ambiguous) != 1 {
		t.Fatalf("ambiguous count: %d", len(res.Ambiguous))
	}
	amb := res.Ambiguous[0]
	if amb.Recorded.ID != "1" || len(amb.Candidates) != 2 {
		t.Fatalf("unexpected ambiguity: %+v", amb)
	}
	// Neither candidate may be claimed as moved or new, and the recorded
	// entry must not be double-reported as deleted.
	if len(res.Moved) != 0 || len(res.New) != 0 || len(res.Deleted) != 0 {
		t.Fatalf("ambiguity leaked into other sets: %+v", res)
	}
}

func TestReconcile_DeletedAndNew(t *testing.T) {
	recorded := []RecordedEntry{
		{ID: "1", Path: "/a/gone.mp4", Name: "gone.mp4", Size: 50, MTime: 5},
		{ID: "2", Path: "/a/kept.mp4", Name: "kept.mp4", Size: 60, MTime: 6},
	}
	disk := []DiskEntry{
		{Path: "/a/kept.mp4", Name: "kept.mp4", Size: 60, MTime: 6},
		{Path: "/a/fresh.mp4", Name: "fresh.mp4", Size: 70, MTime: 7},
	}

	res := Reconcile(recorded, disk)

	if len(res.Matched) != 1 || res.Matched[0].Recorded.ID != "2" {
		t.Fatalf("matched mismatch: %+v", res.Matched)
	}
	if len(res.Deleted) != 1 || res.Deleted[0].Recorded.ID != "1" {
		t.Fatalf("deleted mismatch: %+v", res.Deleted)
	}
	if res.Deleted[0].Disk != nil {
		t.Fatalf("deleted entry must have no disk side")
	}
	if len(res.New) != 1 || res.New[0].Path != "/a/fresh.mp4" {
		t.Fatalf("new mismatch: %+v", res.New)
	}
}

func TestReconcile_ExactPathWinsOverFingerprint(t *testing.T) {
	// The file at the recorded path has the same fingerprint as a copy
	// elsewhere; pass 1 must claim the in-place file before pass 2 can
	// consider the copy a move target.
	recorded := []RecordedEntry{
		{ID: "1", Path: "/a/x.mp4", Name: "x.mp4", Size: 100, MTime: 10},
	}
	disk := []DiskEntry{
		{Path: "/a/x.mp4", Name: "x.mp4", Size: 100, MTime: 10},
		{Path: "/b/x.mp4", Name: "x.mp4", Size: 100, MTime: 10},
	}

	res := Reconcile(recorded, disk)

	if len(res.Matched) != 1 {
		t.Fatalf("matched count: %d", len(res.Matched))
	}
	if len(res.New) != 1 || res.New[0].Path != "/b/x.mp4" {
		t.Fatalf("copy should be reported new: %+v", res.New)
	}
	if len(res.Moved)+len(res.Ambiguous) != 0 {
		t.Fatalf("unexpected moves/ambiguities: %+v", res)
	}
}

func TestReconcile_DeterministicUnderShuffledInput(t *testing.T) {
	recorded := []RecordedEntry{
		{ID: "1", Path: "/a/one.mp4", Name: "one.mp4", Size: 1, MTime: 1},
		{ID: "2", Path: "/a/two.mp4", Name: "two.mp4", Size: 2, MTime: 2},
		{ID: "3", Path: "/old/three.mp4", Name: "three.mp4", Size: 3, MTime: 3},
		{ID: "4", Path: "/a/four.mp4", Name: "four.mp4", Size: 4, MTime: 4},
	}
	disk := []DiskEntry{
		{Path: "/a/one.mp4", Name: "one.mp4", Size: 1, MTime: 1},
		{Path: "/new/three.mp4", Name: "three.mp4", Size: 3, MTime: 3},
		{Path: "/a/five.mp4", Name: "five.mp4", Size: 5, MTime: 5},
	}

	want := Reconcile(recorded, disk)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		rec := make([]RecordedEntry, len(recorded))
		copy(rec, recorded)
		rng.Shuffle(len(rec), func(a, b int) { rec[a], rec[b] = rec[b], rec[a] })

		dsk := make([]DiskEntry, len(disk))
		copy(dsk, disk)
		rng.Shuffle(len(dsk), func(a, b int) { dsk[a], dsk[b] = dsk[b], dsk[a] })

		got := Reconcile(rec, dsk)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("result differs under shuffle %d:\ngot:  %+v\nwant: %+v", i, got, want)
		}
	}
}

func TestResult_Changes(t *testing.T) {
	res := &Result{
		Matched: []Match{{}},
		Moved:   []Match{{}},
		Deleted: []Match{{}, {}},
		New:     []DiskEntry{{}},
	}
	if got := res.Changes(); got != 4 {
		t.Fatalf("Changes() = %d, want 4", got)
	}
}
