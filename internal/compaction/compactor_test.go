package compaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/internal/partition"
	"github.com/cedricziel/errata/internal/storage"
	"github.com/cedricziel/errata/internal/store"
	"github.com/cedricziel/errata/pkg/types"
)

func newTestStore(t *testing.T) *storage.LocalStorage {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return s
}

func writeEvents(t *testing.T, s storage.ObjectStorage, n int, day string) {
	t.Helper()
	w := store.NewWriter(s)
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		t.Fatalf("bad day: %v", err)
	}
	for i := 0; i < n; i++ {
		_, err := w.Write(context.Background(), []types.EventRecord{{
			types.ColOrganizationID: "org-1",
			types.ColProjectID:      "proj-1",
			types.ColEventType:      "log",
			types.ColTimestamp:      d.UTC().Add(time.Hour).UnixMilli() + int64(i),
		}})
		if err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestCompact_EndToEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 5 events in 5 separate calls -> 5 raw files in one partition.
	writeEvents(t, s, 5, "2026-08-27")

	finder := NewFinder(s)
	candidates, err := finder.FindPartitionsForCompaction(ctx, Filters{})
	assert.NoError(t, err)
	assert.Len(t, candidates, 1)
	assert.Len(t, candidates[0].Files, 5)

	c := NewCompactor(s, NewLockManager())
	summary, err := c.Compact(ctx, Filters{}, false)
	assert.NoError(t, err)

	assert.Equal(t, 1, summary.PartitionsFound)
	assert.Equal(t, 1, summary.PartitionsCompacted)
	assert.Equal(t, 1, summary.BlocksCreated)
	assert.Equal(t, 5, summary.FilesRemoved)
	assert.Equal(t, int64(5), summary.TotalEvents)
	assert.False(t, summary.HasErrors())
	assert.False(t, summary.IsEmpty())

	// The partition holds exactly one block file now.
	objects, err := s.List(ctx, "")
	assert.NoError(t, err)
	assert.Len(t, objects, 1)
	assert.True(t, partition.IsBlockFile(partition.BaseName(objects[0])))

	// The same 5 logical events read back.
	records, err := store.NewReader(s).Read(ctx, store.Selector{OrganizationID: "org-1"})
	assert.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestFinder_ExcludesSingleFileAndCompactedPartitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// One raw file only: not a candidate.
	writeEvents(t, s, 1, "2026-08-25")

	candidates, err := NewFinder(s).FindPartitionsForCompaction(ctx, Filters{})
	assert.NoError(t, err)
	assert.Empty(t, candidates)

	// Compacted partition (single block): still not a candidate.
	writeEvents(t, s, 2, "2026-08-26")
	_, err = NewCompactor(s, NewLockManager()).Compact(ctx, Filters{Date: "2026-08-26"}, false)
	assert.NoError(t, err)

	candidates, err = NewFinder(s).FindPartitionsForCompaction(ctx, Filters{Date: "2026-08-26"})
	assert.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestFinder_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	writeEvents(t, s, 3, "2026-08-27")
	writeEvents(t, s, 3, "2026-08-28")

	all, err := NewFinder(s).FindPartitionsForCompaction(ctx, Filters{})
	assert.NoError(t, err)
	assert.Len(t, all, 2)

	oneDay, err := NewFinder(s).FindPartitionsForCompaction(ctx, Filters{Date: "2026-08-27"})
	assert.NoError(t, err)
	assert.Len(t, oneDay, 1)

	otherOrg, err := NewFinder(s).FindPartitionsForCompaction(ctx, Filters{OrganizationID: "org-9"})
	assert.NoError(t, err)
	assert.Empty(t, otherOrg)
}

func TestCompact_DryRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	writeEvents(t, s, 4, "2026-08-27")

	summary, err := NewCompactor(s, NewLockManager()).Compact(ctx, Filters{}, true)
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.PartitionsFound)
	assert.Equal(t, 0, summary.PartitionsCompacted)
	assert.True(t, summary.DryRun)

	// Dry run performs no mutation.
	objects, err := s.List(ctx, "")
	assert.NoError(t, err)
	assert.Len(t, objects, 4)
}

func TestCompactPartition_LockHeld(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	writeEvents(t, s, 2, "2026-08-27")
	locks := NewLockManager()

	candidates, err := NewFinder(s).FindPartitionsForCompaction(ctx, Filters{})
	assert.NoError(t, err)
	assert.Len(t, candidates, 1)
	cand := candidates[0]

	release, ok := locks.TryLock(cand.Path)
	assert.True(t, ok)
	defer release()

	res := NewCompactor(s, locks).CompactPartition(ctx, cand.Path, cand.Files)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, errs.CodeLockHeld)

	// Lock failure leaves the original files untouched.
	objects, err := s.List(ctx, "")
	assert.NoError(t, err)
	assert.Len(t, objects, 2)
}

func TestCompactPartition_MissingSourceLeavesOriginals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	writeEvents(t, s, 3, "2026-08-27")
	candidates, err := NewFinder(s).FindPartitionsForCompaction(ctx, Filters{})
	assert.NoError(t, err)
	cand := candidates[0]

	// Simulate another actor having replaced a source file after discovery.
	assert.NoError(t, s.Delete(ctx, cand.Files[0]))

	res := NewCompactor(s, NewLockManager()).CompactPartition(ctx, cand.Path, cand.Files)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, errs.CodeSourceMissing)
	assert.Zero(t, res.FilesRemoved)

	// The two remaining originals are untouched and no block was left behind.
	objects, err := s.List(ctx, "")
	assert.NoError(t, err)
	assert.Len(t, objects, 2)
	for _, obj := range objects {
		assert.True(t, partition.IsRawFile(partition.BaseName(obj)))
	}
}

func TestCompact_PartialFailureDoesNotAbortRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	writeEvents(t, s, 3, "2026-08-27")
	writeEvents(t, s, 3, "2026-08-28")

	locks := NewLockManager()

	// Hold the lock for one of the two partitions.
	key := partition.Key{OrganizationID: "org-1", ProjectID: "proj-1", EventType: "log", Date: "2026-08-27"}
	release, ok := locks.TryLock(key.Path())
	assert.True(t, ok)
	defer release()

	summary, err := NewCompactor(s, locks).Compact(ctx, Filters{}, false)
	assert.NoError(t, err)
	assert.Equal(t, 2, summary.PartitionsFound)
	assert.Equal(t, 1, summary.PartitionsCompacted)
	assert.Equal(t, 1, summary.Errors)
	assert.True(t, summary.HasErrors())
}

func TestCompact_MergesExistingBlockWithNewRawFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	writeEvents(t, s, 2, "2026-08-27")
	_, err := NewCompactor(s, NewLockManager()).Compact(ctx, Filters{}, false)
	assert.NoError(t, err)

	// New raw files arrive after the first compaction.
	writeEvents(t, s, 2, "2026-08-27")

	summary, err := NewCompactor(s, NewLockManager()).Compact(ctx, Filters{}, false)
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.PartitionsCompacted)
	assert.Equal(t, int64(4), summary.TotalEvents)

	objects, err := s.List(ctx, "")
	assert.NoError(t, err)
	assert.Len(t, objects, 1, "partition must end with exactly one block file")

	records, err := store.NewReader(s).Read(ctx, store.Selector{OrganizationID: "org-1"})
	assert.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestLockManager(t *testing.T) {
	locks := NewLockManager()

	release, ok := locks.TryLock("p1")
	assert.True(t, ok)

	_, ok = locks.TryLock("p1")
	assert.False(t, ok, "second acquisition of a held lock must fail")

	release2, ok := locks.TryLock("p2")
	assert.True(t, ok, "distinct paths lock independently")
	release2()

	release()
	release() // double release is safe

	release3, ok := locks.TryLock("p1")
	assert.True(t, ok, "released lock can be re-acquired")
	release3()
}
