package http

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/internal/querystate"
	"github.com/cedricziel/errata/pkg/types"
)

// streamPollInterval is how often the stream re-reads the query record.
const streamPollInterval = 250 * time.Millisecond

// StreamEvent is one server-push message of GET /v1/queries/{id}/stream.
// Result and Error are only set on the terminal message.
type StreamEvent struct {
	Type     string             `json:"type"`
	Status   types.QueryStatus  `json:"status"`
	Progress int                `json:"progress"`
	Result   *types.QueryResult `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// StreamHandler pushes query state transitions over a websocket, closing
// the connection on the first terminal status.
type StreamHandler struct {
	state    *querystate.Store
	upgrader websocket.Upgrader
}

// NewStreamHandler creates the query streaming handler.
func NewStreamHandler(state *querystate.Store) *StreamHandler {
	return &StreamHandler{
		state: state,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	queryID := mux.Vars(r)["id"]

	state, err := h.state.GetQueryState(queryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read query failed", requestID)
		return
	}
	if state == nil {
		writeErrorCode(w, http.StatusNotFound, errs.CodeQueryNotFound, "query not found", requestID)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("http: websocket upgrade for query %s failed: %v", queryID, err)
		return
	}
	defer conn.Close()

	h.stream(r, conn, queryID, state)
}

// stream emits one event per observed transition, then a terminal event
// and a normal close. Socket write failures end the stream silently; the
// query itself is unaffected.
func (h *StreamHandler) stream(r *http.Request, conn *websocket.Conn, queryID string, last *types.QueryState) {
	if err := conn.WriteJSON(eventFor(last)); err != nil {
		return
	}
	if last.Status.IsTerminal() {
		h.closeStream(conn)
		return
	}

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		state, err := h.state.GetQueryState(queryID)
		if err != nil || state == nil {
			h.closeStream(conn)
			return
		}
		if state.Status == last.Status && state.Progress == last.Progress {
			continue
		}
		last = state

		if err := conn.WriteJSON(eventFor(state)); err != nil {
			return
		}
		if state.Status.IsTerminal() {
			h.closeStream(conn)
			return
		}
	}
}

func (h *StreamHandler) closeStream(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

// eventFor derives the push message from a state record.
func eventFor(state *types.QueryState) StreamEvent {
	ev := StreamEvent{
		Type:     "progress",
		Status:   state.Status,
		Progress: state.Progress,
	}
	switch state.Status {
	case types.QueryStatusCompleted:
		ev.Type = "result"
		ev.Result = state.Result
	case types.QueryStatusFailed:
		ev.Type = "error"
		ev.Error = state.Error
	case types.QueryStatusCancelled:
		ev.Type = "cancelled"
	}
	return ev
}
