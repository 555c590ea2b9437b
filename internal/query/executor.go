package query

import (
	"context"
	"fmt"
	"log"
	"sort"

	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/internal/querystate"
	"github.com/cedricziel/errata/internal/store"
	"github.com/cedricziel/errata/pkg/types"
)

// DefaultLimit caps the events page when the request does not set one.
const DefaultLimit = 100

// BatchDispatcher hands deferred facet batches to the async task channel.
// Implemented by the facet package; the executor only needs the expected
// batch-id set and the fan-out call.
type BatchDispatcher interface {
	BatchIDs() []string
	Dispatch(ctx context.Context, queryID string, req types.QueryRequest) error
}

// Executor runs one asynchronous query to completion: scan, page, priority
// facets, grouped aggregates, then deferred facet dispatch. Cancellation is
// checked at each phase boundary; a mid-phase cancel takes effect at the
// next checkpoint.
type Executor struct {
	reader   *store.Reader
	state    *querystate.Store
	batches  BatchDispatcher
	priority []string
}

// NewExecutor creates an executor. priorityAttributes are the facets
// computed synchronously during the main scan.
func NewExecutor(reader *store.Reader, state *querystate.Store, batches BatchDispatcher, priorityAttributes []string) *Executor {
	return &Executor{
		reader:   reader,
		state:    state,
		batches:  batches,
		priority: priorityAttributes,
	}
}

// Execute runs the query whose record was already initialized under
// queryID. Scan failures are recorded in the query store and returned, so
// the task runtime can apply its retry policy. A cancelled query returns
// nil; only that query stops.
func (e *Executor) Execute(ctx context.Context, queryID string, req types.QueryRequest) error {
	if stopped, err := e.checkpoint(queryID); stopped || err != nil {
		return err
	}

	if err := e.state.MarkInProgress(queryID, 10); err != nil {
		return err
	}
	filter := FilterFrom(req)

	if stopped, err := e.checkpoint(queryID); stopped || err != nil {
		return err
	}
	if err := e.state.UpdateProgress(queryID, 30); err != nil {
		return err
	}

	result, err := e.scan(ctx, filter, req)
	if err != nil {
		log.Printf("query: %s scan failed: %v", queryID, err)
		if serr := e.state.StoreError(queryID, err.Error()); serr != nil {
			return serr
		}
		return errs.NewQueryError(errs.CodeScanFailed,
			fmt.Sprintf("query %s scan", queryID), err)
	}

	if err := e.state.UpdateProgress(queryID, 80); err != nil {
		return err
	}
	if stopped, err := e.checkpoint(queryID); stopped || err != nil {
		return err
	}

	if err := e.state.StoreResult(queryID, result); err != nil {
		return err
	}

	// Pre-register the full batch set so completeness tracking knows every
	// expected id before any batch task runs.
	if err := e.state.InitializeFacetBatches(queryID, e.batches.BatchIDs()); err != nil {
		return err
	}
	return e.batches.Dispatch(ctx, queryID, req)
}

// checkpoint observes a pending cancellation and finalizes it. stopped is
// true when the query is cancelled and no further work may happen.
func (e *Executor) checkpoint(queryID string) (stopped bool, err error) {
	cancelled, err := e.state.IsCancelled(queryID)
	if err != nil {
		return false, err
	}
	if !cancelled {
		return false, nil
	}
	if err := e.state.MarkCancelled(queryID); err != nil {
		return true, err
	}
	log.Printf("query: %s cancelled", queryID)
	return true, nil
}

// scan runs the main read: all matching records, newest first, paged per
// the request, with total count, priority facets, and optional grouped
// aggregates.
func (e *Executor) scan(ctx context.Context, filter Filter, req types.QueryRequest) (*types.QueryResult, error) {
	counter := NewFacetCounter(e.priority)
	var groups map[string]int64
	if req.GroupBy != "" {
		groups = make(map[string]int64)
	}

	var matched []types.EventRecord
	err := e.reader.Scan(ctx, filter.Selector(nil), func(r types.EventRecord) error {
		if !filter.Matches(r) {
			return nil
		}
		matched = append(matched, r)
		counter.Observe(r)
		if groups != nil {
			if v, ok := r[req.GroupBy]; ok && v != nil {
				if s := stringify(v); s != "" {
					groups[s]++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp() > matched[j].Timestamp()
	})

	result := &types.QueryResult{
		Events: page(matched, req.Offset, req.Limit),
		Total:  int64(len(matched)),
		Facets: counter.Facets(req.Attributes),
	}
	if groups != nil {
		result.Groups = groupCounts(groups)
	}
	return result, nil
}

// page slices one page out of the sorted match set.
func page(records []types.EventRecord, offset, limit int) []types.EventRecord {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []types.EventRecord{}
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}

// groupCounts renders group-by buckets, largest first, ties by key.
func groupCounts(groups map[string]int64) []types.GroupCount {
	out := make([]types.GroupCount, 0, len(groups))
	for key, count := range groups {
		out = append(out, types.GroupCount{Key: key, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
