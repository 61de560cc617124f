// Package reconcile matches on-disk media files against previously
// recorded library entries.
//
// Matching uses a fingerprint of (basename, size, mtime) rather than
// content hashing, so a moved file is recognized without reading its
// bytes. The algorithm is pure and synchronous: applying the result
// (importing new files, re-pointing moved ones, retiring deleted ones)
// is the caller's business, typically expressed as a new batch job.
package reconcile

import (
	"fmt"
	"sort"
)

// RecordedEntry is a previously recorded library file.
type RecordedEntry struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"`
}

// DiskEntry is a file found on disk (or in the configured media source).
type DiskEntry struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"`
}

// Fingerprint is the composite key used to recognize a file across moves.
type Fingerprint struct {
	Name  string
	Size  int64
	MTime int64
}

func (r RecordedEntry) Fingerprint() Fingerprint {
	return Fingerprint{Name: r.Name, Size: r.Size, MTime: r.MTime}
}

func (d DiskEntry) Fingerprint() Fingerprint {
	return Fingerprint{Name: d.Name, Size: d.Size, MTime: d.MTime}
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%s:%d:%d", f.Name, f.Size, f.MTime)
}

// Match pairs a recorded entry with the disk entry it resolved to.
// Disk is nil for deleted entries.
type Match struct {
	Recorded RecordedEntry `json:"recorded"`
	Disk     *DiskEntry    `json:"disk,omitempty"`
}

// Ambiguity is a recorded entry whose fingerprint matched more than one
// unclaimed disk entry. The caller decides; the reconciler never guesses.
type Ambiguity struct {
	Recorded   RecordedEntry `json:"recorded"`
	Candidates []DiskEntry   `json:"candidates"`
}

// Result is the change-set produced by one reconciliation run. Each input
// entry is consumed by at most one bucket.
type Result struct {
	Matched   []Match     `json:"matched"`
	Moved     []Match     `json:"moved"`
	Deleted   []Match     `json:"deleted"`
	New       []DiskEntry `json:"new"`
	Ambiguous []Ambiguity `json:"ambiguous"`
}

// Reconcile computes the change-set between recorded entries and the
// current disk listing.
//
// Passes, in order, each entry consumed at most once:
//  1. exact path match
//  2. fingerprint match at a different path: exactly one candidate is a
//     move; several candidates are surfaced as ambiguous (the recorded
//     entry is claimed, the disk candidates are not)
//  3. recorded entries still unclaimed are deleted
//  4. disk entries still unclaimed are new
//
// The result is deterministic regardless of input ordering: inputs are
// worked through in sorted order and ties are only ever broken by the
// exactly-one-candidate rule.
func Reconcile(recorded []RecordedEntry, disk []DiskEntry) *Result {
	rec := make([]RecordedEntry, len(recorded))
	copy(rec, recorded)
	sort.Slice(rec, func(i, j int) bool {
		if rec[i].Path != rec[j].Path {
			return rec[i].Path < rec[j].Path
		}
		return rec[i].ID < rec[j].ID
	})

	dsk := make([]DiskEntry, len(disk))
	copy(dsk, disk)
	sort.Slice(dsk, func(i, j int) bool { return dsk[i].Path < dsk[j].Path })

	byPath := make(map[string]int, len(dsk))
	byPrint := make(map[Fingerprint][]int, len(dsk))
	for i, d := range dsk {
		byPath[d.Path] = i
		byPrint[d.Fingerprint()] = append(byPrint[d.Fingerprint()], i)
	}

	claimedDisk := make([]bool, len(dsk))
	claimedRec := make([]bool, len(rec))
	inAmbiguity := make([]bool, len(dsk))
	res := &Result{
		Matched:   []Match{},
		Moved:     []Match{},
		Deleted:   []Match{},
		New:       []DiskEntry{},
		Ambiguous: []Ambiguity{},
	}

	// Pass 1: exact path.
	for i, r := range rec {
		di, ok := byPath[r.Path]
		if !ok || claimedDisk[di] {
			continue
		}
		d := dsk[di]
		res.Matched = append(res.Matched, Match{Recorded: r, Disk: &d})
		claimedRec[i] = true
		claimedDisk[di] = true
	}

	// Pass 2: fingerprint at a different path.
	for i, r := range rec {
		if claimedRec[i] {
			continue
		}
		var candidates []int
		for _, di := range byPrint[r.Fingerprint()] {
			if claimedDisk[di] || dsk[di].Path == r.Path {
				continue
			}
			candidates = append(candidates, di)
		}
		switch len(candidates) {
		case 0:
			// Falls through to the deleted pass.
		case 1:
			di := candidates[0]
			d := dsk[di]
			res.Moved = append(res.Moved, Match{Recorded: r, Disk: &d})
			claimedRec[i] = true
			claimedDisk[di] = true
		default:
			// True ambiguity: claim the recorded entry so it is not
			// double-reported as deleted, leave the disk entries free.
			cands := make([]DiskEntry, 0, len(candidates))
			for _, di := range candidates {
				cands = append(cands, dsk[di])
				inAmbiguity[di] = true
			}
			res.Ambiguous = append(res.Ambiguous, Ambiguity{Recorded: r, Candidates: cands})
			claimedRec[i] = true
		}
	}

	// Pass 3: deleted.
	for i, r := range rec {
		if claimedRec[i] {
			continue
		}
		res.Deleted = append(res.Deleted, Match{Recorded: r})
	}

	// Pass 4: new. Disk entries surfaced as ambiguity candidates are held
	// back until the operator resolves the ambiguity.
	for di, d := range dsk {
		if claimedDisk[di] || inAmbiguity[di] {
			continue
		}
		res.New = append(res.New, d)
	}

	return res
}

// Changes is the total number of non-matched outcomes, i.e. the size of
// the apply batch a caller would submit.
func (r *Result) Changes() int {
	return len(r.Moved) + len(r.Deleted) + len(r.New) + len(r.Ambiguous)
}
