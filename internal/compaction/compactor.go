package compaction

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cedricziel/errata/internal/columnar"
	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/internal/partition"
	"github.com/cedricziel/errata/internal/storage"
	"github.com/cedricziel/errata/pkg/types"
)

// Compactor merges a partition's raw files into a single block file.
// Compaction never changes the set of logical events visible to readers,
// only the physical file layout.
type Compactor struct {
	storage storage.ObjectStorage
	finder  *Finder
	locks   LockManager
	journal *Journal // optional run history
}

// NewCompactor creates a compactor over the given storage and lock manager.
func NewCompactor(store storage.ObjectStorage, locks LockManager) *Compactor {
	return &Compactor{
		storage: store,
		finder:  NewFinder(store),
		locks:   locks,
	}
}

// WithJournal attaches a run-history journal; every Compact run is recorded.
func (c *Compactor) WithJournal(j *Journal) *Compactor {
	c.journal = j
	return c
}

// Compact drives a full run: find candidates under the filters, compact each
// under its own lock, and aggregate per-partition outcomes. In dry-run mode
// it stops after candidate discovery and mutates nothing. Failed partitions
// are counted and never abort the remaining ones.
func (c *Compactor) Compact(ctx context.Context, filters Filters, dryRun bool) (*CompactionSummary, error) {
	candidates, err := c.finder.FindPartitionsForCompaction(ctx, filters)
	if err != nil {
		return nil, err
	}

	summary := &CompactionSummary{
		PartitionsFound: len(candidates),
		DryRun:          dryRun,
	}
	if dryRun {
		for _, cand := range candidates {
			summary.Results = append(summary.Results, CompactionResult{
				PartitionPath: cand.Path,
				FilesRemoved:  0,
			})
		}
		return summary, nil
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res := c.CompactPartition(ctx, cand.Path, cand.Files)
		summary.add(res)
		if !res.Success {
			log.Printf("compaction: partition %s failed: %s", cand.Path, res.Error)
		}
	}

	if c.journal != nil {
		if err := c.journal.RecordRun(ctx, filters, summary); err != nil {
			log.Printf("compaction: journal write failed: %v", err)
		}
	}

	return summary, nil
}

// CompactPartition merges the listed files of one partition into a single
// new block file, verifies event-count conservation, and removes the
// originals only after the block is durably written. Any error before the
// block write leaves the original files untouched.
func (c *Compactor) CompactPartition(ctx context.Context, path string, files []string) CompactionResult {
	res := CompactionResult{PartitionPath: path}

	release, ok := c.locks.TryLock(path)
	if !ok {
		res.Error = errs.NewCompactionError(errs.CodeLockHeld,
			fmt.Sprintf("partition %s is locked by another compaction", path), nil).Error()
		return res
	}
	defer release()

	// Read and concatenate every source file, tracking the per-file counts
	// whose sum the merged output must conserve.
	var allRecords []types.EventRecord
	var expectedEvents int64
	for _, file := range files {
		data, err := c.storage.Get(ctx, file)
		if err != nil {
			code := errs.CodeReadFailed
			if errors.Is(err, storage.ErrObjectNotFound) {
				code = errs.CodeSourceMissing
			}
			res.Error = errs.NewCompactionError(code,
				fmt.Sprintf("read source file %s", file), err).Error()
			return res
		}

		count, err := columnar.RowCount(data)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		expectedEvents += int64(count)

		records, err := columnar.Decode(data, nil)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		allRecords = append(allRecords, records...)
	}

	if int64(len(allRecords)) != expectedEvents {
		res.Error = errs.NewCompactionError(errs.CodeCountMismatch,
			fmt.Sprintf("merged %d events, sources hold %d", len(allRecords), expectedEvents), nil).Error()
		return res
	}

	blockData, err := columnar.Encode(allRecords)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	blockPath := path + "/" + partition.NewBlockFileName()
	if err := c.storage.Put(ctx, blockPath, blockData); err != nil {
		res.Error = errs.NewCompactionError(errs.CodeWriteFailed,
			fmt.Sprintf("write block file %s", blockPath), err).Error()
		return res
	}

	// Re-read the written block and verify the count once more before any
	// source file is deleted. A mismatch is a hard failure of this attempt.
	written, err := c.storage.Get(ctx, blockPath)
	if err == nil {
		var count int
		count, err = columnar.RowCount(written)
		if err == nil && int64(count) != expectedEvents {
			err = errs.NewCompactionError(errs.CodeCountMismatch,
				fmt.Sprintf("block holds %d events, sources hold %d", count, expectedEvents), nil)
		}
	}
	if err != nil {
		_ = c.storage.Delete(ctx, blockPath)
		res.Error = err.Error()
		return res
	}

	for _, file := range files {
		if err := c.storage.Delete(ctx, file); err != nil {
			res.Error = errs.NewCompactionError(errs.CodeWriteFailed,
				fmt.Sprintf("delete source file %s", file), err).Error()
			res.OutputFiles = []string{blockPath}
			return res
		}
		res.FilesRemoved++
	}

	res.Success = true
	res.OutputFiles = []string{blockPath}
	res.EventsCount = expectedEvents
	return res
}
