// Package tasks defines the asynchronous work contract: the three task
// kinds the system produces and consumes, and an in-process dispatcher
// that executes them. Delivery is at-least-once; every handler recomputes
// over the stores, so re-delivery is safe.
package tasks

import (
	"context"
	"encoding/json"

	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/pkg/types"
)

// Kind identifies one category of asynchronous work.
type Kind string

const (
	KindExecuteQuery      Kind = "execute_query"
	KindComputeFacetBatch Kind = "compute_facet_batch"
	KindCompactPartition  Kind = "compact_partition"
)

// Task is one unit of asynchronous work with a kind-specific JSON payload.
type Task struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// ExecuteQueryPayload carries everything an executor needs to run a query
// whose state record already exists in the query store.
type ExecuteQueryPayload struct {
	QueryID        string             `json:"query_id"`
	Request        types.QueryRequest `json:"request"`
	UserID         string             `json:"user_id,omitempty"`
	OrganizationID string             `json:"organization_id,omitempty"`
}

// ComputeFacetBatchPayload carries one deferred facet batch: the batch's
// attribute subset plus the full filter context of the owning query.
type ComputeFacetBatchPayload struct {
	QueryID    string             `json:"query_id"`
	BatchID    string             `json:"batch_id"`
	Attributes []string           `json:"attributes"`
	Request    types.QueryRequest `json:"request"`
}

// CompactPartitionPayload requests compaction of all partitions of a day.
type CompactPartitionPayload struct {
	Date string `json:"date"`
}

// NewTask marshals a payload into a Task of the given kind.
func NewTask(kind Kind, payload interface{}) (Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Task{}, errs.NewInternalError("encode task payload", err)
	}
	return Task{Kind: kind, Payload: data}, nil
}

// Enqueuer hands tasks to the dispatch mechanism. Implementations must
// not execute the task inline on the caller's goroutine.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}

// Handler executes one task payload. Returned errors are logged by the
// dispatcher; handlers own their store-side failure recording.
type Handler func(ctx context.Context, payload json.RawMessage) error
