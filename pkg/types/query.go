package types

import "time"

// QueryStatus is the lifecycle state of an asynchronous query.
type QueryStatus string

const (
	QueryStatusPending    QueryStatus = "pending"
	QueryStatusInProgress QueryStatus = "in_progress"
	QueryStatusCompleted  QueryStatus = "completed"
	QueryStatusFailed     QueryStatus = "failed"
	QueryStatusCancelled  QueryStatus = "cancelled"
)

// IsTerminal reports whether no further status transition can occur.
func (s QueryStatus) IsTerminal() bool {
	switch s {
	case QueryStatusCompleted, QueryStatusFailed, QueryStatusCancelled:
		return true
	}
	return false
}

// FacetBatchStatus is the lifecycle state of one deferred facet batch.
type FacetBatchStatus string

const (
	FacetBatchPending   FacetBatchStatus = "pending"
	FacetBatchCompleted FacetBatchStatus = "completed"
	FacetBatchFailed    FacetBatchStatus = "failed"
)

// QueryRequest describes a filtered, faceted, paginated event query.
type QueryRequest struct {
	// OrganizationID scopes the query to one tenant. Required.
	OrganizationID string `json:"organization_id"`

	// ProjectID optionally narrows the query to one project.
	ProjectID string `json:"project_id,omitempty"`

	// EventType optionally narrows the query to one event type.
	EventType EventType `json:"event_type,omitempty"`

	// From and To bound the time range in epoch milliseconds. Zero means unbounded.
	From int64 `json:"from,omitempty"`
	To   int64 `json:"to,omitempty"`

	// Attributes holds attribute equality filters (column -> required value).
	Attributes map[string]string `json:"attributes,omitempty"`

	// GroupBy optionally requests aggregate counts grouped by this column.
	GroupBy string `json:"group_by,omitempty"`

	// Limit and Offset paginate the returned events page.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// Extra carries unknown request attributes through unchanged.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// FacetValue is one (value, count) pair of a facet distribution.
type FacetValue struct {
	Value    string `json:"value"`
	Count    int64  `json:"count"`
	Selected bool   `json:"selected,omitempty"`
}

// Facet is an attribute's value->count distribution over matching events.
type Facet struct {
	Attribute string       `json:"attribute"`
	Label     string       `json:"label"`
	Values    []FacetValue `json:"values"`
}

// GroupCount is one group-by bucket of the aggregate result.
type GroupCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// QueryResult is the payload stored for a completed query.
type QueryResult struct {
	Events []EventRecord `json:"events"`
	Total  int64         `json:"total"`
	Facets []Facet       `json:"facets,omitempty"`
	Groups []GroupCount  `json:"groups,omitempty"`
}

// FacetBatchState tracks one deferred facet batch of a query.
type FacetBatchState struct {
	Status FacetBatchStatus `json:"status"`
	Facets []Facet          `json:"facets,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// QueryState is the full lifecycle record of an asynchronous query,
// keyed by query id in the Async Query Store.
type QueryState struct {
	ID             string       `json:"id"`
	Status         QueryStatus  `json:"status"`
	Progress       int          `json:"progress"`
	Request        QueryRequest `json:"request"`
	UserID         string       `json:"user_id,omitempty"`
	OrganizationID string       `json:"organization_id,omitempty"`

	Result *QueryResult `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`

	CancelRequested   bool      `json:"cancel_requested,omitempty"`
	CancelRequestedAt time.Time `json:"cancel_requested_at,omitempty"`

	FacetBatches map[string]FacetBatchState `json:"facet_batches,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}
