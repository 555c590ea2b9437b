package facet

import (
	"context"
	"fmt"
	"log"

	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/internal/tasks"
	"github.com/cedricziel/errata/pkg/types"
)

// Dispatcher fans a query's deferred facets out as one async task per
// batch, each carrying the batch's attribute subset plus the full filter
// context so the worker applies the same constraints.
type Dispatcher struct {
	enqueuer tasks.Enqueuer
}

// NewDispatcher creates a dispatcher over the given task channel.
func NewDispatcher(enqueuer tasks.Enqueuer) *Dispatcher {
	return &Dispatcher{enqueuer: enqueuer}
}

// BatchIDs exposes the expected batch-id set for pre-registration.
func (d *Dispatcher) BatchIDs() []string {
	return BatchIDs()
}

// Dispatch enqueues exactly one task per batch. An enqueue failure does
// not stop the remaining batches; the first error is returned after all
// batches were attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, queryID string, req types.QueryRequest) error {
	var firstErr error
	for _, b := range batches {
		task, err := tasks.NewTask(tasks.KindComputeFacetBatch, tasks.ComputeFacetBatchPayload{
			QueryID:    queryID,
			BatchID:    b.ID,
			Attributes: b.Attributes,
			Request:    req,
		})
		if err == nil {
			err = d.enqueuer.Enqueue(ctx, task)
		}
		if err != nil {
			log.Printf("facet: dispatch batch %s for query %s failed: %v", b.ID, queryID, err)
			if firstErr == nil {
				firstErr = errs.NewInternalError(
					fmt.Sprintf("dispatch facet batch %s", b.ID), err)
			}
		}
	}
	return firstErr
}
