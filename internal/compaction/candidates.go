package compaction

import (
	"context"
	"fmt"
	"sort"

	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/internal/partition"
	"github.com/cedricziel/errata/internal/storage"
)

// minRawFiles is the raw-file count at which a partition becomes worth
// compacting. Single-file and already-compacted partitions are excluded.
const minRawFiles = 2

// Finder identifies partitions eligible for compaction by enumerating the
// storage layout under the filters' prefix.
type Finder struct {
	storage storage.ObjectStorage
}

// NewFinder creates a compaction candidate finder.
func NewFinder(store storage.ObjectStorage) *Finder {
	return &Finder{storage: store}
}

// FindPartitionsForCompaction returns every partition matching the filters
// that holds at least two raw files. Candidate file lists include any
// existing block file so the merged output is again a single block.
func (f *Finder) FindPartitionsForCompaction(ctx context.Context, filters Filters) ([]Candidate, error) {
	prefix := partition.Prefix(filters.OrganizationID, filters.ProjectID, string(filters.EventType), filters.Date)

	objects, err := f.storage.List(ctx, prefix)
	if err != nil {
		return nil, errs.NewStorageError(errs.CodeReadFailed,
			fmt.Sprintf("list prefix %q", prefix), err)
	}

	type dirFiles struct {
		raw   int
		files []string
	}
	byDir := make(map[string]*dirFiles)

	for _, obj := range objects {
		key, err := partition.ParsePath(obj)
		if err != nil {
			continue
		}
		if !matchesFilters(filters, key) {
			continue
		}

		base := partition.BaseName(obj)
		isRaw := partition.IsRawFile(base)
		if !isRaw && !partition.IsBlockFile(base) {
			continue
		}

		dir := partition.DirOf(obj)
		df := byDir[dir]
		if df == nil {
			df = &dirFiles{}
			byDir[dir] = df
		}
		df.files = append(df.files, obj)
		if isRaw {
			df.raw++
		}
	}

	var candidates []Candidate
	for dir, df := range byDir {
		if df.raw >= minRawFiles {
			sort.Strings(df.files)
			candidates = append(candidates, Candidate{Path: dir, Files: df.files})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })

	return candidates, nil
}

// matchesFilters applies the optional AND-combined partition filters.
func matchesFilters(filters Filters, key partition.Key) bool {
	if filters.OrganizationID != "" && key.OrganizationID != filters.OrganizationID {
		return false
	}
	if filters.ProjectID != "" && key.ProjectID != filters.ProjectID {
		return false
	}
	if filters.EventType != "" && key.EventType != string(filters.EventType) {
		return false
	}
	if filters.Date != "" && key.Date != filters.Date {
		return false
	}
	return true
}
