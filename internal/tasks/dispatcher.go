package tasks

import (
	"context"
	"log"
	"sync"

	errs "github.com/cedricziel/errata/internal/errors"
)

// Dispatcher is the in-process task runtime: a bounded queue drained by a
// fixed worker pool. A panicking handler loses its task but never a worker.
type Dispatcher struct {
	handlers map[Kind]Handler
	queue    chan Task
	workers  int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given pool size and queue
// capacity. Non-positive values fall back to sane defaults.
func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		handlers: make(map[Kind]Handler),
		queue:    make(chan Task, queueSize),
		workers:  workers,
	}
}

// Register binds a handler to a task kind. Must be called before Start.
func (d *Dispatcher) Register(kind Kind, h Handler) {
	d.handlers[kind] = h
}

// Start launches the worker pool. Starting twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	log.Printf("tasks: dispatcher started with %d workers", d.workers)
}

// Stop cancels in-flight handlers and waits for the pool to drain.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	log.Printf("tasks: dispatcher stopped")
}

// Enqueue queues a task for execution. Blocks while the queue is full
// until the context expires.
func (d *Dispatcher) Enqueue(ctx context.Context, task Task) error {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		return errs.NewInternalError("dispatcher not running", nil)
	}

	select {
	case d.queue <- task:
		return nil
	case <-ctx.Done():
		return errs.NewInternalError("enqueue task", ctx.Err())
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-d.queue:
			d.execute(ctx, task)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("tasks: handler for %s panicked: %v", task.Kind, r)
		}
	}()

	h, ok := d.handlers[task.Kind]
	if !ok {
		log.Printf("tasks: no handler registered for kind %s", task.Kind)
		return
	}
	if err := h(ctx, task.Payload); err != nil {
		log.Printf("tasks: %s failed: %v", task.Kind, err)
	}
}
