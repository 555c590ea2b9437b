package facet

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedricziel/errata/internal/partition"
	"github.com/cedricziel/errata/internal/query"
	"github.com/cedricziel/errata/internal/querystate"
	"github.com/cedricziel/errata/internal/storage"
	"github.com/cedricziel/errata/internal/store"
	"github.com/cedricziel/errata/internal/tasks"
	"github.com/cedricziel/errata/pkg/types"
)

type fakeEnqueuer struct {
	queued []tasks.Task
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, task tasks.Task) error {
	f.queued = append(f.queued, task)
	return nil
}

type facetFixture struct {
	storage *storage.LocalStorage
	writer  *store.Writer
	reader  *store.Reader
	state   *querystate.Store
	worker  *Worker
}

func newFacetFixture(t *testing.T) *facetFixture {
	t.Helper()

	backend, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	state, err := querystate.Open(querystate.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = state.Close() })

	reader := store.NewReader(backend)
	return &facetFixture{
		storage: backend,
		writer:  store.NewWriter(backend),
		reader:  reader,
		state:   state,
		worker:  NewWorker(reader, state),
	}
}

func eventAt(hour int, kv ...string) types.EventRecord {
	r := types.EventRecord{
		types.ColOrganizationID: "org1",
		types.ColProjectID:      "proj1",
		types.ColEventType:      "error",
		types.ColTimestamp:      time.Date(2026, 8, 27, hour, 0, 0, 0, time.UTC).UnixMilli(),
	}
	for i := 0; i+1 < len(kv); i += 2 {
		r[kv[i]] = kv[i+1]
	}
	return r
}

func facetRequest() types.QueryRequest {
	return types.QueryRequest{
		OrganizationID: "org1",
		From:           time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC).UnixMilli(),
		To:             time.Date(2026, 8, 27, 23, 59, 59, 0, time.UTC).UnixMilli(),
	}
}

func TestBatches_StaticTable(t *testing.T) {
	assert.Equal(t, []string{"device", "app", "trace", "user"}, BatchIDs())
	assert.Equal(t, []string{"span.op", "span.status", "transaction"}, AttributesFor("trace"))
	assert.Nil(t, AttributesFor("nope"))

	// Batches are non-overlapping.
	seen := make(map[string]string)
	for _, b := range Batches() {
		for _, attr := range b.Attributes {
			prev, dup := seen[attr]
			assert.False(t, dup, "attribute %s in both %s and %s", attr, prev, b.ID)
			seen[attr] = b.ID
		}
	}
	assert.Len(t, DeferredAttributes(), len(seen))
	assert.NotEmpty(t, PriorityAttributes())
}

func TestWorker_ComputesBatchFacets(t *testing.T) {
	fx := newFacetFixture(t)

	_, err := fx.writer.WriteAll(context.Background(), []types.EventRecord{
		eventAt(10, "device.model", "pixel-9", "device.os_name", "android"),
		eventAt(11, "device.model", "pixel-9", "device.os_name", "android"),
		eventAt(12, "device.model", "iphone-16", "device.os_name", "ios"),
	})
	require.NoError(t, err)

	req := facetRequest()
	require.NoError(t, fx.state.InitializeQuery("q1", req, "u", "org1"))
	require.NoError(t, fx.state.StoreResult("q1", &types.QueryResult{Total: 3}))
	require.NoError(t, fx.state.InitializeFacetBatches("q1", BatchIDs()))

	require.NoError(t, fx.worker.Compute(context.Background(), tasks.ComputeFacetBatchPayload{
		QueryID:    "q1",
		BatchID:    "device",
		Attributes: AttributesFor("device"),
		Request:    req,
	}))

	state, err := fx.state.GetQueryState("q1")
	require.NoError(t, err)
	assert.Equal(t, types.FacetBatchCompleted, state.FacetBatches["device"].Status)
	assert.Equal(t, types.FacetBatchPending, state.FacetBatches["app"].Status)

	facets := state.FacetBatches["device"].Facets
	require.Len(t, facets, 2)
	assert.Equal(t, "device.model", facets[0].Attribute)
	assert.Equal(t, []types.FacetValue{
		{Value: "pixel-9", Count: 2},
		{Value: "iphone-16", Count: 1},
	}, facets[0].Values)

	// Merged into the main result too.
	require.NotNil(t, state.Result)
	assert.Len(t, state.Result.Facets, 2)
}

func TestWorker_AppliesActiveFiltersAndSelection(t *testing.T) {
	fx := newFacetFixture(t)

	_, err := fx.writer.WriteAll(context.Background(), []types.EventRecord{
		eventAt(10, "device.model", "pixel-9", "environment", "production"),
		eventAt(11, "device.model", "iphone-16", "environment", "staging"),
	})
	require.NoError(t, err)

	req := facetRequest()
	req.Attributes = map[string]string{"environment": "production", "device.model": "pixel-9"}
	require.NoError(t, fx.state.InitializeQuery("q1", req, "u", "org1"))
	require.NoError(t, fx.state.StoreResult("q1", &types.QueryResult{}))
	require.NoError(t, fx.state.InitializeFacetBatches("q1", BatchIDs()))

	require.NoError(t, fx.worker.Compute(context.Background(), tasks.ComputeFacetBatchPayload{
		QueryID:    "q1",
		BatchID:    "device",
		Attributes: AttributesFor("device"),
		Request:    req,
	}))

	state, _ := fx.state.GetQueryState("q1")
	facets := state.FacetBatches["device"].Facets
	require.Len(t, facets, 1)
	// Only the production event survives the filters, and the already
	// filtered value is marked selected.
	assert.Equal(t, []types.FacetValue{
		{Value: "pixel-9", Count: 1, Selected: true},
	}, facets[0].Values)
}

func TestWorker_SkipsCancelledQuery(t *testing.T) {
	fx := newFacetFixture(t)

	req := facetRequest()
	require.NoError(t, fx.state.InitializeQuery("q1", req, "u", "org1"))
	require.NoError(t, fx.state.InitializeFacetBatches("q1", BatchIDs()))
	requested, err := fx.state.RequestCancellation("q1")
	require.NoError(t, err)
	require.True(t, requested)

	require.NoError(t, fx.worker.Compute(context.Background(), tasks.ComputeFacetBatchPayload{
		QueryID:    "q1",
		BatchID:    "device",
		Attributes: AttributesFor("device"),
		Request:    req,
	}))

	// No state mutation beyond leaving the batch pending.
	state, _ := fx.state.GetQueryState("q1")
	assert.Equal(t, types.FacetBatchPending, state.FacetBatches["device"].Status)
}

func TestWorker_RunsWhenCancelLostRaceToCompletion(t *testing.T) {
	fx := newFacetFixture(t)

	_, err := fx.writer.WriteAll(context.Background(), []types.EventRecord{
		eventAt(10, "device.model", "pixel-9"),
	})
	require.NoError(t, err)

	// Cancellation requested after the executor's last checkpoint but
	// before the result landed: the completion wins and the request goes
	// stale. Batch workers must still run, or the completed query's batches
	// would stay pending forever.
	req := facetRequest()
	require.NoError(t, fx.state.InitializeQuery("q1", req, "u", "org1"))
	require.NoError(t, fx.state.MarkInProgress("q1", 80))
	requested, err := fx.state.RequestCancellation("q1")
	require.NoError(t, err)
	require.True(t, requested)
	require.NoError(t, fx.state.StoreResult("q1", &types.QueryResult{Total: 1}))
	require.NoError(t, fx.state.InitializeFacetBatches("q1", BatchIDs()))

	for _, batchID := range BatchIDs() {
		require.NoError(t, fx.worker.Compute(context.Background(), tasks.ComputeFacetBatchPayload{
			QueryID:    "q1",
			BatchID:    batchID,
			Attributes: AttributesFor(batchID),
			Request:    req,
		}))
	}

	complete, err := fx.state.AreFacetBatchesComplete("q1")
	require.NoError(t, err)
	assert.True(t, complete)

	state, _ := fx.state.GetQueryState("q1")
	assert.Equal(t, types.QueryStatusCompleted, state.Status)
	assert.Equal(t, types.FacetBatchCompleted, state.FacetBatches["device"].Status)
}

func TestWorker_FailureMarksOnlyOwnBatch(t *testing.T) {
	fx := newFacetFixture(t)

	key := partition.Key{OrganizationID: "org1", ProjectID: "proj1", EventType: "error", Date: "2026-08-27"}
	path := key.Path() + "/events_100000_deadbeef.col"
	require.NoError(t, fx.storage.Put(context.Background(), path, []byte("garbage")))

	req := facetRequest()
	require.NoError(t, fx.state.InitializeQuery("q1", req, "u", "org1"))
	require.NoError(t, fx.state.StoreResult("q1", &types.QueryResult{}))
	require.NoError(t, fx.state.InitializeFacetBatches("q1", BatchIDs()))

	err := fx.worker.Compute(context.Background(), tasks.ComputeFacetBatchPayload{
		QueryID:    "q1",
		BatchID:    "device",
		Attributes: AttributesFor("device"),
		Request:    req,
	})
	require.Error(t, err)

	state, _ := fx.state.GetQueryState("q1")
	assert.Equal(t, types.FacetBatchFailed, state.FacetBatches["device"].Status)
	assert.NotEmpty(t, state.FacetBatches["device"].Error)
	// Siblings and the owning query are untouched.
	assert.Equal(t, types.FacetBatchPending, state.FacetBatches["app"].Status)
	assert.Equal(t, types.QueryStatusCompleted, state.Status)
}

func TestDispatcher_OneTaskPerBatch(t *testing.T) {
	enq := &fakeEnqueuer{}
	d := NewDispatcher(enq)
	req := facetRequest()

	require.NoError(t, d.Dispatch(context.Background(), "q1", req))
	require.Len(t, enq.queued, len(BatchIDs()))

	var gotIDs []string
	for _, task := range enq.queued {
		assert.Equal(t, tasks.KindComputeFacetBatch, task.Kind)
		var p tasks.ComputeFacetBatchPayload
		require.NoError(t, json.Unmarshal(task.Payload, &p))
		assert.Equal(t, "q1", p.QueryID)
		assert.Equal(t, AttributesFor(p.BatchID), p.Attributes)
		gotIDs = append(gotIDs, p.BatchID)
	}
	assert.Equal(t, BatchIDs(), gotIDs)
}

// Submitting a query, executing it, then draining every dispatched batch
// task must leave all batches completed and the merged facet list holding
// both priority and deferred facets.
func TestDeferredFacets_EndToEnd(t *testing.T) {
	fx := newFacetFixture(t)

	_, err := fx.writer.WriteAll(context.Background(), []types.EventRecord{
		eventAt(10, types.ColSeverity, "error", "device.model", "pixel-9", "app.version", "1.2.0"),
		eventAt(11, types.ColSeverity, "error", "device.model", "pixel-9", "app.version", "1.2.0"),
		eventAt(12, types.ColSeverity, "warning", "device.model", "iphone-16", "app.version", "1.3.0"),
	})
	require.NoError(t, err)

	enq := &fakeEnqueuer{}
	executor := query.NewExecutor(fx.reader, fx.state, NewDispatcher(enq), PriorityAttributes())

	req := facetRequest()
	require.NoError(t, fx.state.InitializeQuery("q1", req, "u", "org1"))
	require.NoError(t, executor.Execute(context.Background(), "q1", req))

	// Drain the dispatched batch tasks the way the task runtime would.
	for _, task := range enq.queued {
		var p tasks.ComputeFacetBatchPayload
		require.NoError(t, json.Unmarshal(task.Payload, &p))
		require.NoError(t, fx.worker.Compute(context.Background(), p))
	}

	complete, err := fx.state.AreFacetBatchesComplete("q1")
	require.NoError(t, err)
	assert.True(t, complete)

	state, _ := fx.state.GetQueryState("q1")
	require.NotNil(t, state.Result)
	assert.Equal(t, int64(3), state.Result.Total)

	byAttr := make(map[string]types.Facet)
	for _, f := range state.Result.Facets {
		byAttr[f.Attribute] = f
	}
	// Priority facet from the main scan.
	assert.Contains(t, byAttr, types.ColSeverity)
	// Deferred facets merged in by the batch workers.
	assert.Contains(t, byAttr, "device.model")
	assert.Contains(t, byAttr, "app.version")
	assert.Equal(t, int64(2), byAttr["device.model"].Values[0].Count)
}
