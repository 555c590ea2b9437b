// Package app wires the errata services together and manages their
// lifecycle.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	httpapi "github.com/cedricziel/errata/internal/api/http"
	"github.com/cedricziel/errata/internal/compaction"
	"github.com/cedricziel/errata/internal/config"
	"github.com/cedricziel/errata/internal/facet"
	"github.com/cedricziel/errata/internal/query"
	"github.com/cedricziel/errata/internal/querystate"
	"github.com/cedricziel/errata/internal/server"
	"github.com/cedricziel/errata/internal/storage"
	"github.com/cedricziel/errata/internal/store"
	"github.com/cedricziel/errata/internal/tasks"
)

// App manages the errata service lifecycle.
type App struct {
	cfg *config.Config

	// Shared resources
	storage  storage.ObjectStorage
	state    *querystate.Store
	journal  *compaction.Journal
	shutdown *server.ShutdownManager

	// Components
	writer     *store.Writer
	reader     *store.Reader
	compactor  *compaction.Compactor
	dispatcher *tasks.Dispatcher
	daemon     *compaction.Daemon
	httpServer *http.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// Start initializes shared resources and starts the API server, task
// dispatcher, and compaction daemon.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	a.startDispatcher()

	if a.cfg.Compaction.Enabled {
		a.daemon = compaction.NewDaemon(compaction.DaemonConfig{
			CurrentDayInterval:  a.cfg.Compaction.CurrentDayInterval,
			PreviousDayInterval: a.cfg.Compaction.PreviousDayInterval,
		}, &dispatchEnqueuer{dispatcher: a.dispatcher})
		if err := a.daemon.Start(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start compaction daemon: %w", err)
		}
	}

	a.startHTTPServer()

	log.Printf("app: errata started in %s mode on %s", a.cfg.Mode, a.cfg.HTTP.Addr)
	return nil
}

// initSharedResources initializes storage, the compactor, and the query
// store.
func (a *App) initSharedResources(ctx context.Context) error {
	if err := a.initStorage(ctx); err != nil {
		return err
	}

	var err error
	a.state, err = querystate.Open(querystate.Config{
		Path:     a.cfg.QueryStore.Path,
		InMemory: a.cfg.QueryStore.InMemory,
		TTL:      a.cfg.QueryStore.TTL,
	})
	if err != nil {
		return fmt.Errorf("failed to open query store: %w", err)
	}
	log.Printf("app: query store opened: %s", a.cfg.QueryStore.Path)

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{})
	return nil
}

// initStorage sets up the object storage backend, the writer/reader pair,
// and the journaled compactor.
func (a *App) initStorage(ctx context.Context) error {
	var err error

	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, storage.S3Config{
			Region:       a.cfg.Storage.S3.Region,
			Endpoint:     a.cfg.Storage.S3.Endpoint,
			UsePathStyle: a.cfg.Storage.S3.UsePathStyle,
		})
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("app: storage initialized: type=%s", a.cfg.Storage.Type)

	a.writer = store.NewWriter(a.storage)
	a.reader = store.NewReader(a.storage)

	a.compactor = compaction.NewCompactor(a.storage, compaction.NewLockManager())
	if a.cfg.Compaction.JournalPath != "" {
		a.journal, err = compaction.OpenJournal(a.cfg.Compaction.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open compaction journal: %w", err)
		}
		a.compactor = a.compactor.WithJournal(a.journal)
	}
	return nil
}

// startDispatcher registers the task handlers and starts the worker pool.
func (a *App) startDispatcher() {
	a.dispatcher = tasks.NewDispatcher(a.cfg.Tasks.Workers, a.cfg.Tasks.QueueSize)

	batchDispatcher := facet.NewDispatcher(a.dispatcher)
	executor := query.NewExecutor(a.reader, a.state, batchDispatcher, facet.PriorityAttributes())
	worker := facet.NewWorker(a.reader, a.state)

	a.dispatcher.Register(tasks.KindExecuteQuery, func(ctx context.Context, payload json.RawMessage) error {
		var p tasks.ExecuteQueryPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return executor.Execute(ctx, p.QueryID, p.Request)
	})
	a.dispatcher.Register(tasks.KindComputeFacetBatch, func(ctx context.Context, payload json.RawMessage) error {
		var p tasks.ComputeFacetBatchPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return worker.Compute(ctx, p)
	})
	a.dispatcher.Register(tasks.KindCompactPartition, func(ctx context.Context, payload json.RawMessage) error {
		var p tasks.CompactPartitionPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		summary, err := a.compactor.Compact(ctx, compaction.Filters{Date: p.Date}, false)
		if err != nil {
			return err
		}
		if !summary.IsEmpty() {
			log.Printf("app: compacted %d/%d partitions for %s (%d events)",
				summary.PartitionsCompacted, summary.PartitionsFound, p.Date, summary.TotalEvents)
		}
		return nil
	})

	a.dispatcher.Start()
}

// startHTTPServer builds the route table and serves it.
func (a *App) startHTTPServer() {
	handler := httpapi.NewRouter(httpapi.Deps{
		Writer:    a.writer,
		State:     a.state,
		Enqueuer:  a.dispatcher,
		Compactor: a.compactor,
	})
	handler = server.ShutdownMiddleware(a.shutdown)(handler)

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("app: HTTP server listening on %s", a.cfg.HTTP.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("app: HTTP server error: %v", err)
		}
	}()
}

// RunCompaction performs one synchronous compaction pass across all
// partitions and releases its resources. Used by compact mode.
func (a *App) RunCompaction(ctx context.Context, dryRun bool) (*compaction.CompactionSummary, error) {
	if a.compactor == nil {
		if err := a.initStorage(ctx); err != nil {
			return nil, err
		}
		defer a.cleanup()
	}
	return a.compactor.Compact(ctx, compaction.Filters{}, dryRun)
}

// Stop gracefully stops all services and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("app: initiating graceful shutdown")

	if a.cancel != nil {
		a.cancel()
	}
	if a.daemon != nil {
		a.daemon.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("app: HTTP server shutdown error: %v", err)
		}
	}
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("app: shutdown timeout, some goroutines may not have finished")
	}

	a.cleanup()
	log.Printf("app: errata stopped")
	return nil
}

// cleanup releases shared resources.
func (a *App) cleanup() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			log.Printf("app: journal close error: %v", err)
		}
		a.journal = nil
	}
	if a.state != nil {
		if err := a.state.Close(); err != nil {
			log.Printf("app: query store close error: %v", err)
		}
		a.state = nil
	}
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

// dispatchEnqueuer adapts the task dispatcher to the compaction daemon's
// enqueue contract.
type dispatchEnqueuer struct {
	dispatcher *tasks.Dispatcher
}

func (e *dispatchEnqueuer) EnqueueCompactPartition(ctx context.Context, date string) error {
	task, err := tasks.NewTask(tasks.KindCompactPartition, tasks.CompactPartitionPayload{Date: date})
	if err != nil {
		return err
	}
	return e.dispatcher.Enqueue(ctx, task)
}
