package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cedricziel/errata/internal/compaction"
	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/pkg/types"
)

// CompactRequest is the POST /v1/compact body. All filters are optional
// and AND-combined; dry_run reports candidates without mutating storage.
type CompactRequest struct {
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	Date           string `json:"date,omitempty"`
	DryRun         bool   `json:"dry_run,omitempty"`
}

// CompactHandler handles POST /v1/compact.
type CompactHandler struct {
	compactor *compaction.Compactor
}

// NewCompactHandler creates the on-demand compaction handler.
func NewCompactHandler(compactor *compaction.Compactor) *CompactHandler {
	return &CompactHandler{compactor: compactor}
}

func (h *CompactHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req CompactRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorCode(w, http.StatusBadRequest, errs.CodeInvalidRequest,
				fmt.Sprintf("invalid request body: %v", err), requestID)
			return
		}
	}

	summary, err := h.compactor.Compact(r.Context(), compaction.Filters{
		OrganizationID: req.OrganizationID,
		ProjectID:      req.ProjectID,
		EventType:      types.EventType(req.EventType),
		Date:           req.Date,
	}, req.DryRun)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("compaction failed: %v", err), requestID)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
