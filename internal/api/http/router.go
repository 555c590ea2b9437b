package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cedricziel/errata/internal/compaction"
	"github.com/cedricziel/errata/internal/querystate"
	"github.com/cedricziel/errata/internal/store"
	"github.com/cedricziel/errata/internal/tasks"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Writer    *store.Writer
	State     *querystate.Store
	Enqueuer  tasks.Enqueuer
	Compactor *compaction.Compactor
}

// NewRouter builds the full v1 route table with the default middleware
// chain applied.
func NewRouter(deps Deps) http.Handler {
	queries := NewQueriesHandler(deps.State, deps.Enqueuer)

	r := mux.NewRouter()
	r.Handle("/v1/events", NewEventsHandler(deps.Writer)).Methods(http.MethodPost)
	r.HandleFunc("/v1/queries", queries.Submit).Methods(http.MethodPost)
	r.HandleFunc("/v1/queries/{id}", queries.Get).Methods(http.MethodGet)
	r.HandleFunc("/v1/queries/{id}/cancel", queries.Cancel).Methods(http.MethodPost)
	r.Handle("/v1/queries/{id}/stream", NewStreamHandler(deps.State)).Methods(http.MethodGet)
	r.Handle("/v1/compact", NewCompactHandler(deps.Compactor)).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	chain := ChainMiddleware(RecoveryMiddleware, RequestIDMiddleware)
	return chain(r)
}
