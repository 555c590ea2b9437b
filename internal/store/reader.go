package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cedricziel/errata/internal/columnar"
	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/internal/partition"
	"github.com/cedricziel/errata/internal/storage"
	"github.com/cedricziel/errata/pkg/types"
)

// ErrStop aborts a Scan early without reporting an error to the caller.
var ErrStop = errors.New("stop scan")

// partitionRetries bounds re-listing a partition whose files were compacted
// away mid-scan.
const partitionRetries = 3

// Selector describes which partitions and columns a scan touches. An empty
// field means "all values of that field".
type Selector struct {
	OrganizationID string
	ProjectID      string
	EventType      types.EventType

	// From and To bound the scan by UTC calendar day (derived from epoch
	// milliseconds). Partitioning is by full day, so no record-level time
	// filtering happens here. Zero means unbounded on that side.
	From int64
	To   int64

	// Columns projects decoding to the named columns. Empty means all.
	Columns []string

	// ValueProbe, when set, skips files whose bloom section excludes the
	// value. Only meaningful for event_id / trace_id equality lookups.
	ValueProbe string
}

// Reader produces matching event records by locating and scanning only the
// partition files implied by a selector. A fresh Scan re-lists storage, so
// reads are restartable.
type Reader struct {
	storage storage.ObjectStorage
}

// NewReader creates a reader over the given object storage.
func NewReader(store storage.ObjectStorage) *Reader {
	return &Reader{storage: store}
}

// Scan streams every matching record to fn in file order. There is no
// cross-file ordering guarantee. fn returning ErrStop ends the scan early;
// any other error aborts it. Selectors matching nothing scan nothing and
// return nil.
func (r *Reader) Scan(ctx context.Context, sel Selector, fn func(types.EventRecord) error) error {
	parts, err := r.partitions(ctx, sel)
	if err != nil {
		return err
	}

	for _, part := range parts {
		records, err := r.readPartition(ctx, sel, part)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := fn(rec); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// Read collects every matching record into a slice.
func (r *Reader) Read(ctx context.Context, sel Selector) ([]types.EventRecord, error) {
	var records []types.EventRecord
	err := r.Scan(ctx, sel, func(rec types.EventRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// partitionFiles is one partition directory and its matching files.
type partitionFiles struct {
	dir   string
	files []string
}

// partitions resolves the selector to the set of partition directories and
// files to scan. When every partition field plus a date range is supplied,
// each calendar day is enumerated individually; otherwise the longest
// literal prefix is listed once and filtered by parsed key.
func (r *Reader) partitions(ctx context.Context, sel Selector) ([]partitionFiles, error) {
	var listed []string

	if sel.OrganizationID != "" && sel.ProjectID != "" && sel.EventType != "" && sel.From > 0 && sel.To > 0 {
		for _, day := range partition.DaysBetween(sel.From, sel.To) {
			prefix := partition.Prefix(sel.OrganizationID, sel.ProjectID, string(sel.EventType), day)
			objects, err := r.storage.List(ctx, prefix)
			if err != nil {
				return nil, errs.NewStorageError(errs.CodeReadFailed,
					fmt.Sprintf("list prefix %s", prefix), err)
			}
			listed = append(listed, objects...)
		}
	} else {
		prefix := partition.Prefix(sel.OrganizationID, sel.ProjectID, string(sel.EventType), "")
		objects, err := r.storage.List(ctx, prefix)
		if err != nil {
			return nil, errs.NewStorageError(errs.CodeReadFailed,
				fmt.Sprintf("list prefix %s", prefix), err)
		}
		listed = objects
	}

	byDir := make(map[string][]string)
	var order []string
	for _, obj := range listed {
		if !r.matches(sel, obj) {
			continue
		}
		dir := partition.DirOf(obj)
		if _, seen := byDir[dir]; !seen {
			order = append(order, dir)
		}
		byDir[dir] = append(byDir[dir], obj)
	}

	parts := make([]partitionFiles, 0, len(order))
	for _, dir := range order {
		parts = append(parts, partitionFiles{dir: dir, files: byDir[dir]})
	}
	return parts, nil
}

// matches reports whether an object path belongs to the selector's scope.
func (r *Reader) matches(sel Selector, objectPath string) bool {
	base := partition.BaseName(objectPath)
	if !partition.IsRawFile(base) && !partition.IsBlockFile(base) {
		return false
	}

	key, err := partition.ParsePath(objectPath)
	if err != nil {
		return false
	}
	if sel.OrganizationID != "" && key.OrganizationID != sel.OrganizationID {
		return false
	}
	if sel.ProjectID != "" && key.ProjectID != sel.ProjectID {
		return false
	}
	if sel.EventType != "" && key.EventType != string(sel.EventType) {
		return false
	}
	// YYYY-MM-DD compares correctly as a string.
	if sel.From > 0 && key.Date < partition.DateOf(sel.From) {
		return false
	}
	if sel.To > 0 && key.Date > partition.DateOf(sel.To) {
		return false
	}
	return true
}

// readPartition fetches and decodes every file of one partition. If a file
// vanishes mid-read (compaction replaced the raw set with a block file),
// the partition's file list is refreshed and the read restarts, so the scan
// observes either the pre- or post-compaction set, never a mix.
func (r *Reader) readPartition(ctx context.Context, sel Selector, part partitionFiles) ([]types.EventRecord, error) {
	files := part.files

	for attempt := 0; attempt < partitionRetries; attempt++ {
		records, retry, err := r.tryReadFiles(ctx, sel, files)
		if err != nil {
			return nil, err
		}
		if !retry {
			return records, nil
		}

		objects, err := r.storage.List(ctx, part.dir+"/")
		if err != nil {
			return nil, errs.NewStorageError(errs.CodeReadFailed,
				fmt.Sprintf("relist partition %s", part.dir), err)
		}
		files = nil
		for _, obj := range objects {
			if r.matches(sel, obj) {
				files = append(files, obj)
			}
		}
	}

	return nil, errs.NewStorageError(errs.CodeReadFailed,
		fmt.Sprintf("partition %s kept changing during scan", part.dir), nil)
}

// tryReadFiles reads one file set. retry is true when a listed file no
// longer exists and the partition must be re-listed.
//
// A listing can catch compaction between writing a block and deleting its
// source raw files, so a set mixing block and raw files may hold the same
// events twice. Blocks are read first and raw records whose event id
// already appeared in a block are skipped, so the scan counts each logical
// event once whether it observes the pre- or mid-compaction layout.
func (r *Reader) tryReadFiles(ctx context.Context, sel Selector, files []string) (records []types.EventRecord, retry bool, err error) {
	var blocks, raws []string
	for _, file := range files {
		if partition.IsBlockFile(partition.BaseName(file)) {
			blocks = append(blocks, file)
		} else {
			raws = append(raws, file)
		}
	}

	mixed := len(blocks) > 0 && len(raws) > 0
	columns := sel.Columns
	if mixed && len(columns) > 0 && !containsColumn(columns, types.ColEventID) {
		columns = append(append([]string(nil), columns...), types.ColEventID)
	}

	var compacted map[string]struct{}
	if mixed {
		compacted = make(map[string]struct{})
	}

	for _, file := range append(blocks, raws...) {
		data, err := r.storage.Get(ctx, file)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, true, nil
			}
			return nil, false, errs.NewStorageError(errs.CodeReadFailed,
				fmt.Sprintf("read partition file %s", file), err)
		}

		if sel.ValueProbe != "" {
			ok, err := columnar.MightContain(data, sel.ValueProbe)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				continue
			}
		}

		decoded, err := columnar.Decode(data, columns)
		if err != nil {
			return nil, false, err
		}

		if !mixed {
			records = append(records, decoded...)
			continue
		}

		isBlock := partition.IsBlockFile(partition.BaseName(file))
		for _, rec := range decoded {
			id := rec.EventID()
			if isBlock {
				compacted[id] = struct{}{}
			} else if _, seen := compacted[id]; seen {
				continue
			}
			records = append(records, rec)
		}
	}
	return records, false, nil
}

func containsColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}
