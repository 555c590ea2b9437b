package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/internal/store"
	"github.com/cedricziel/errata/pkg/types"
)

// IngestRequest is the POST /v1/events body: a batch of event records.
// Records missing partition columns are normalized, not rejected; records
// whose partition columns cannot form a safe storage path are rejected.
type IngestRequest struct {
	Events []types.EventRecord `json:"events"`
}

// IngestResponse reports how many events were accepted.
type IngestResponse struct {
	Accepted  int    `json:"accepted"`
	Files     int    `json:"files"`
	RequestID string `json:"request_id"`
}

// EventsHandler handles POST /v1/events.
type EventsHandler struct {
	writer *store.Writer
}

// NewEventsHandler creates the event submission handler.
func NewEventsHandler(writer *store.Writer) *EventsHandler {
	return &EventsHandler{writer: writer}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, errs.CodeInvalidRequest,
			fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if len(req.Events) == 0 {
		writeErrorCode(w, http.StatusBadRequest, errs.CodeInvalidRequest,
			"events is required and must not be empty", requestID)
		return
	}

	paths, err := h.writer.WriteAll(r.Context(), req.Events)
	if err != nil {
		// Rejected batches (empty, unsafe partition key) are the caller's
		// fault; everything else is a storage failure.
		if errs.GetCategory(err) == errs.ErrCategoryValidation {
			writeErrorCode(w, http.StatusBadRequest, errs.GetCode(err), err.Error(), requestID)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("write failed: %v", err), requestID)
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		Accepted:  len(req.Events),
		Files:     len(paths),
		RequestID: requestID,
	})
}
