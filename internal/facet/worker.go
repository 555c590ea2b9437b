package facet

import (
	"context"
	"log"

	"github.com/cedricziel/errata/internal/query"
	"github.com/cedricziel/errata/internal/querystate"
	"github.com/cedricziel/errata/internal/store"
	"github.com/cedricziel/errata/internal/tasks"
	"github.com/cedricziel/errata/pkg/types"
)

// Worker computes one deferred facet batch: scan the store with only the
// batch's attributes projected, count value occurrences under the query's
// active filters, and record the outcome in the query store.
type Worker struct {
	reader *store.Reader
	state  *querystate.Store
}

// NewWorker creates a batch worker.
func NewWorker(reader *store.Reader, state *querystate.Store) *Worker {
	return &Worker{reader: reader, state: state}
}

// Compute handles one batch unit. If the owning query is already
// cancelled, all work is skipped and the batch stays pending; the query's
// terminal state is authoritative. A failure marks only this batch failed
// and is returned for the task runtime's retry policy.
func (w *Worker) Compute(ctx context.Context, p tasks.ComputeFacetBatchPayload) error {
	cancelled, err := w.state.IsCancelled(p.QueryID)
	if err != nil {
		return err
	}
	if cancelled {
		log.Printf("facet: query %s cancelled, skipping batch %s", p.QueryID, p.BatchID)
		return nil
	}

	filter := query.FilterFrom(p.Request)
	counter := query.NewFacetCounter(p.Attributes)

	err = w.reader.Scan(ctx, filter.Selector(p.Attributes), func(r types.EventRecord) error {
		if filter.Matches(r) {
			counter.Observe(r)
		}
		return nil
	})
	if err != nil {
		log.Printf("facet: batch %s for query %s failed: %v", p.BatchID, p.QueryID, err)
		if serr := w.state.MarkFacetBatchFailed(p.QueryID, p.BatchID, err.Error()); serr != nil {
			return serr
		}
		return err
	}

	return w.state.AppendFacets(p.QueryID, p.BatchID, counter.Facets(p.Request.Attributes))
}
