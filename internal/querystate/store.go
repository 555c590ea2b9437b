// Package querystate implements the shared, TTL-backed record of query
// lifecycle state. It is the single source of truth a client polls or
// streams from, and the only resource mutated by more than one concurrent
// actor for a single query.
package querystate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/pkg/types"
)

// DefaultTTL is how long a query record is retained after its last mutation.
const DefaultTTL = 24 * time.Hour

// conflictRetries bounds transaction retries under concurrent mutation of
// the same query id (badger aborts one side with ErrConflict).
const conflictRetries = 16

const keyPrefix = "query/"

// Store is the badger-backed Async Query Store. Every mutation is a single
// serializable transaction on the query's key, so concurrent updates for
// different facet batches of one query never lose writes.
type Store struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
}

// Config holds store configuration.
type Config struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string
	// InMemory runs the store without disk persistence (tests, dev).
	InMemory bool
	// TTL is the retention for query records. Zero means DefaultTTL.
	TTL time.Duration
}

// Open creates a badger-backed store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.NewStateError(errs.CodeStoreUnavailable, "open query store", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitializeQuery creates the record for a freshly submitted query:
// status pending, progress zero.
func (s *Store) InitializeQuery(id string, req types.QueryRequest, userID, orgID string) error {
	state := &types.QueryState{
		ID:             id,
		Status:         types.QueryStatusPending,
		Progress:       0,
		Request:        req,
		UserID:         userID,
		OrganizationID: orgID,
		CreatedAt:      s.now(),
	}
	return s.put(id, state)
}

// MarkInProgress transitions a non-terminal query to in_progress.
func (s *Store) MarkInProgress(id string, progress int) error {
	return s.update(id, func(state *types.QueryState) {
		if state.Status.IsTerminal() {
			return
		}
		state.Status = types.QueryStatusInProgress
		state.Progress = clampProgress(progress)
	})
}

// UpdateProgress sets the progress percentage, clamped to [0,100].
func (s *Store) UpdateProgress(id string, progress int) error {
	return s.update(id, func(state *types.QueryState) {
		if state.Status.IsTerminal() {
			return
		}
		state.Progress = clampProgress(progress)
	})
}

// StoreResult stores the combined result and completes the query.
func (s *Store) StoreResult(id string, result *types.QueryResult) error {
	return s.update(id, func(state *types.QueryState) {
		if state.Status.IsTerminal() {
			return
		}
		state.Status = types.QueryStatusCompleted
		state.Progress = 100
		state.Result = result
		state.CompletedAt = s.now()
	})
}

// StoreError records a failure message and fails the query.
func (s *Store) StoreError(id, message string) error {
	return s.update(id, func(state *types.QueryState) {
		if state.Status.IsTerminal() {
			return
		}
		state.Status = types.QueryStatusFailed
		state.Error = message
	})
}

// RequestCancellation flags a non-terminal query for cancellation. Returns
// false, with no effect, for terminal or missing queries.
func (s *Store) RequestCancellation(id string) (bool, error) {
	requested := false
	err := s.update(id, func(state *types.QueryState) {
		if state.Status.IsTerminal() {
			return
		}
		state.CancelRequested = true
		state.CancelRequestedAt = s.now()
		requested = true
	})
	return requested, err
}

// IsCancelled reports whether the query is cancelled or has a live
// cancellation request. Executors poll this at phase boundaries. A request
// that lost the race to another terminal transition (the result was stored
// before the executor saw the flag) is stale and reported false, so work
// on the completed query proceeds normally.
func (s *Store) IsCancelled(id string) (bool, error) {
	state, err := s.GetQueryState(id)
	if err != nil || state == nil {
		return false, err
	}
	if state.Status == types.QueryStatusCancelled {
		return true, nil
	}
	return state.CancelRequested && !state.Status.IsTerminal(), nil
}

// MarkCancelled transitions a non-terminal query to cancelled, discarding
// any partially computed result.
func (s *Store) MarkCancelled(id string) error {
	return s.update(id, func(state *types.QueryState) {
		if state.Status.IsTerminal() {
			return
		}
		state.Status = types.QueryStatusCancelled
		state.Result = nil
	})
}

// InitializeFacetBatches seeds every expected batch id as pending, so
// completeness tracking knows the full set before any batch runs.
func (s *Store) InitializeFacetBatches(id string, batchIDs []string) error {
	return s.update(id, func(state *types.QueryState) {
		if state.FacetBatches == nil {
			state.FacetBatches = make(map[string]types.FacetBatchState, len(batchIDs))
		}
		for _, batchID := range batchIDs {
			state.FacetBatches[batchID] = types.FacetBatchState{Status: types.FacetBatchPending}
		}
	})
}

// AppendFacets marks a batch completed, stores its facets, and merges them
// into the main result's facet list without disturbing other batches'
// contributions. Batch tasks are delivered at least once, so a redelivered
// completion replaces the batch's earlier contribution instead of
// appending it twice: the merge evicts any result facet whose attribute
// belongs to this batch's prior facets before appending the new ones.
func (s *Store) AppendFacets(id, batchID string, facets []types.Facet) error {
	return s.update(id, func(state *types.QueryState) {
		if state.FacetBatches == nil {
			state.FacetBatches = make(map[string]types.FacetBatchState)
		}
		prior := state.FacetBatches[batchID]
		state.FacetBatches[batchID] = types.FacetBatchState{
			Status: types.FacetBatchCompleted,
			Facets: facets,
		}
		if state.Result == nil {
			state.Result = &types.QueryResult{}
		}
		if len(prior.Facets) > 0 {
			stale := make(map[string]bool, len(prior.Facets))
			for _, f := range prior.Facets {
				stale[f.Attribute] = true
			}
			var kept []types.Facet
			for _, f := range state.Result.Facets {
				if !stale[f.Attribute] {
					kept = append(kept, f)
				}
			}
			state.Result.Facets = kept
		}
		state.Result.Facets = append(state.Result.Facets, facets...)
	})
}

// MarkFacetBatchFailed records a batch failure. A failed batch counts as
// done for completeness, never as pending.
func (s *Store) MarkFacetBatchFailed(id, batchID, message string) error {
	return s.update(id, func(state *types.QueryState) {
		if state.FacetBatches == nil {
			state.FacetBatches = make(map[string]types.FacetBatchState)
		}
		state.FacetBatches[batchID] = types.FacetBatchState{
			Status: types.FacetBatchFailed,
			Error:  message,
		}
	})
}

// GetPendingFacetBatches returns the batch ids still pending, sorted.
func (s *Store) GetPendingFacetBatches(id string) ([]string, error) {
	state, err := s.GetQueryState(id)
	if err != nil || state == nil {
		return nil, err
	}

	var pending []string
	for batchID, batch := range state.FacetBatches {
		if batch.Status == types.FacetBatchPending {
			pending = append(pending, batchID)
		}
	}
	sort.Strings(pending)
	return pending, nil
}

// AreFacetBatchesComplete reports whether every batch has finished,
// successfully or not. Failed batches count as done.
func (s *Store) AreFacetBatchesComplete(id string) (bool, error) {
	state, err := s.GetQueryState(id)
	if err != nil || state == nil {
		return false, err
	}
	for _, batch := range state.FacetBatches {
		if batch.Status == types.FacetBatchPending {
			return false, nil
		}
	}
	return true, nil
}

// GetCompletedFacetBatches returns the facets of every completed batch.
func (s *Store) GetCompletedFacetBatches(id string) (map[string][]types.Facet, error) {
	state, err := s.GetQueryState(id)
	if err != nil || state == nil {
		return nil, err
	}

	completed := make(map[string][]types.Facet)
	for batchID, batch := range state.FacetBatches {
		if batch.Status == types.FacetBatchCompleted {
			completed[batchID] = batch.Facets
		}
	}
	return completed, nil
}

// GetQueryState returns the full record, or nil for an unknown id.
func (s *Store) GetQueryState(id string) (*types.QueryState, error) {
	var state *types.QueryState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			state = &types.QueryState{}
			return json.Unmarshal(val, state)
		})
	})
	if err != nil {
		return nil, errs.NewStateError(errs.CodeStoreUnavailable,
			fmt.Sprintf("read query %s", id), err)
	}
	return state, nil
}

// DeleteQuery evicts the record. Deleting a missing id is a no-op.
func (s *Store) DeleteQuery(id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
	if err != nil {
		return errs.NewStateError(errs.CodeStoreUnavailable,
			fmt.Sprintf("delete query %s", id), err)
	}
	return nil
}

// put stores a fresh state record with the retention TTL.
func (s *Store) put(id string, state *types.QueryState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errs.NewInternalError("encode query state", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key(id), data).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return errs.NewStateError(errs.CodeStoreUnavailable,
			fmt.Sprintf("write query %s", id), err)
	}
	return nil
}

// update applies fn to the stored record inside one transaction, retrying
// on write conflicts. A missing id is a no-op.
func (s *Store) update(id string, fn func(*types.QueryState)) error {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		lastErr = s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			var state types.QueryState
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			}); err != nil {
				return err
			}

			fn(&state)

			data, err := json.Marshal(&state)
			if err != nil {
				return err
			}
			return txn.SetEntry(badger.NewEntry(key(id), data).WithTTL(s.ttl))
		})
		if !errors.Is(lastErr, badger.ErrConflict) {
			break
		}
	}
	if lastErr != nil {
		return errs.NewStateError(errs.CodeStoreUnavailable,
			fmt.Sprintf("update query %s", id), lastErr)
	}
	return nil
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
