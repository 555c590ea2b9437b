package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/internal/querystate"
	"github.com/cedricziel/errata/internal/tasks"
	"github.com/cedricziel/errata/pkg/types"
)

// SubmitQueryRequest is the POST /v1/queries body.
type SubmitQueryRequest struct {
	types.QueryRequest
	UserID string `json:"user_id,omitempty"`
}

// SubmitQueryResponse acknowledges an accepted query.
type SubmitQueryResponse struct {
	QueryID   string            `json:"query_id"`
	Status    types.QueryStatus `json:"status"`
	RequestID string            `json:"request_id"`
}

// CancelResponse reports whether a cancellation request took effect.
type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	RequestID string `json:"request_id"`
}

// QueriesHandler serves the asynchronous query lifecycle routes.
type QueriesHandler struct {
	state    *querystate.Store
	enqueuer tasks.Enqueuer
}

// NewQueriesHandler creates the query lifecycle handler.
func NewQueriesHandler(state *querystate.Store, enqueuer tasks.Enqueuer) *QueriesHandler {
	return &QueriesHandler{state: state, enqueuer: enqueuer}
}

// Submit handles POST /v1/queries: initialize the state record, then hand
// execution to the task runtime.
func (h *QueriesHandler) Submit(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req SubmitQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, errs.CodeInvalidRequest,
			fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.OrganizationID == "" {
		writeErrorCode(w, http.StatusBadRequest, errs.CodeInvalidRequest,
			"organization_id is required", requestID)
		return
	}

	queryID := uuid.New().String()
	if err := h.state.InitializeQuery(queryID, req.QueryRequest, req.UserID, req.OrganizationID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("initialize query: %v", err), requestID)
		return
	}

	task, err := tasks.NewTask(tasks.KindExecuteQuery, tasks.ExecuteQueryPayload{
		QueryID:        queryID,
		Request:        req.QueryRequest,
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
	})
	if err == nil {
		err = h.enqueuer.Enqueue(r.Context(), task)
	}
	if err != nil {
		_ = h.state.StoreError(queryID, "failed to enqueue query execution")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue query: %v", err), requestID)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitQueryResponse{
		QueryID:   queryID,
		Status:    types.QueryStatusPending,
		RequestID: requestID,
	})
}

// Get handles GET /v1/queries/{id}: the polling contract. The full state
// record is returned, including per-batch facet status.
func (h *QueriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	queryID := mux.Vars(r)["id"]

	state, err := h.state.GetQueryState(queryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read query: %v", err), requestID)
		return
	}
	if state == nil {
		writeErrorCode(w, http.StatusNotFound, errs.CodeQueryNotFound,
			fmt.Sprintf("query %s not found", queryID), requestID)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Cancel handles POST /v1/queries/{id}/cancel. Cancelling a terminal
// query reports cancelled=false and changes nothing.
func (h *QueriesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	queryID := mux.Vars(r)["id"]

	state, err := h.state.GetQueryState(queryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read query: %v", err), requestID)
		return
	}
	if state == nil {
		writeErrorCode(w, http.StatusNotFound, errs.CodeQueryNotFound,
			fmt.Sprintf("query %s not found", queryID), requestID)
		return
	}

	requested, err := h.state.RequestCancellation(queryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("cancel query: %v", err), requestID)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Cancelled: requested, RequestID: requestID})
}
