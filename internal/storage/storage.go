// Package storage provides object storage abstractions for partition files.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrPutFailed      = errors.New("put failed")
	ErrGetFailed      = errors.New("get failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts the store holding partition files.
// Implementations include S3 and the local filesystem.
//
// Put must make the object visible atomically: a concurrent List/Get never
// observes a partially written object. The compaction pipeline's
// delete-after-write ordering depends on that.
type ObjectStorage interface {
	// Put stores data under objectPath, creating parent structure as needed.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get returns the full content of the object at objectPath.
	// Returns ErrObjectNotFound if no such object exists.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object exists at objectPath.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// List returns all object paths under the given prefix, in any order.
	// A prefix with no objects yields an empty slice, not an error.
	List(ctx context.Context, prefix string) ([]string, error)
}
