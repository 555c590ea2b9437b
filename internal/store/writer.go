// Package store implements the partitioned append-only event store: the
// writer producing columnar partition files and the reader scanning them.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cedricziel/errata/internal/columnar"
	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/internal/partition"
	"github.com/cedricziel/errata/internal/storage"
	"github.com/cedricziel/errata/pkg/types"
)

// Writer persists normalized event records as raw columnar files, one file
// per partition group per call. Writes are append-only: existing files are
// never mutated or deleted.
type Writer struct {
	storage storage.ObjectStorage
	now     func() time.Time
}

// NewWriter creates a writer backed by the given object storage.
func NewWriter(store storage.ObjectStorage) *Writer {
	return &Writer{
		storage: store,
		now:     time.Now,
	}
}

// Write persists a non-empty batch of records and returns the path of the
// first partition group's file. A batch spanning K partition keys produces
// exactly K files; callers needing every path use WriteAll.
func (w *Writer) Write(ctx context.Context, records []types.EventRecord) (string, error) {
	paths, err := w.WriteAll(ctx, records)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// WriteAll persists a non-empty batch of records, one file per partition
// group, and returns every created path in group order.
func (w *Writer) WriteAll(ctx context.Context, records []types.EventRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, errs.NewValidationError(errs.CodeEmptyBatch, "write batch contains no records")
	}

	now := w.now()

	// Group by partition key, preserving first-seen group order so the
	// returned first path is deterministic for a given batch.
	groups := make(map[partition.Key][]types.EventRecord)
	var order []partition.Key
	for _, r := range records {
		key := partition.KeyFor(partition.Normalize(r, now))
		if err := validateKey(key); err != nil {
			return nil, err
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	paths := make([]string, 0, len(order))
	for _, key := range order {
		data, err := columnar.Encode(groups[key])
		if err != nil {
			return nil, err
		}

		objectPath := key.Path() + "/" + partition.NewRawFileName(now)
		if err := w.storage.Put(ctx, objectPath, data); err != nil {
			return nil, errs.NewStorageError(errs.CodeWriteFailed,
				fmt.Sprintf("write partition file %s", objectPath), err)
		}
		paths = append(paths, objectPath)
	}

	return paths, nil
}

// validateKey rejects records whose partition key cannot be embedded in a
// storage path. Key components become directory names verbatim, so an id
// carrying a separator or dot-only segment would place the file outside
// its partition (or outside the storage root entirely) and make it
// invisible to partition-pruned reads. The event type must additionally be
// one of the known values; the "unknown" sentinel substituted for a
// missing type stays accepted.
func validateKey(key partition.Key) error {
	if err := key.Validate(); err != nil {
		return errs.NewValidationError(errs.CodeInvalidPartitionKey, err.Error())
	}
	if key.EventType != types.UnknownValue && !types.EventType(key.EventType).IsValid() {
		return errs.NewValidationError(errs.CodeInvalidPartitionKey,
			fmt.Sprintf("unknown event type %q", key.EventType))
	}
	return nil
}
