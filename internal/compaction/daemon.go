package compaction

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cedricziel/errata/internal/partition"
)

// TaskEnqueuer hands a "compact partition" task to the dispatch runtime.
type TaskEnqueuer interface {
	EnqueueCompactPartition(ctx context.Context, date string) error
}

// DaemonConfig holds scheduling intervals for the compaction daemon.
type DaemonConfig struct {
	// CurrentDayInterval is how often today's partitions are enqueued.
	CurrentDayInterval time.Duration

	// PreviousDayInterval is how often yesterday's partitions are enqueued.
	// Late-arriving events keep trickling into the previous day for a while.
	PreviousDayInterval time.Duration
}

// DefaultDaemonConfig returns the default daemon schedule.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		CurrentDayInterval:  5 * time.Minute,
		PreviousDayInterval: time.Hour,
	}
}

// Daemon periodically enqueues "compact partition" tasks: the current day
// frequently, the previous day less often. What happens once a task is
// received is the Compactor's job.
type Daemon struct {
	config   DaemonConfig
	enqueuer TaskEnqueuer
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a compaction scheduling daemon.
func NewDaemon(config DaemonConfig, enqueuer TaskEnqueuer) *Daemon {
	if config.CurrentDayInterval <= 0 {
		config.CurrentDayInterval = DefaultDaemonConfig().CurrentDayInterval
	}
	if config.PreviousDayInterval <= 0 {
		config.PreviousDayInterval = DefaultDaemonConfig().PreviousDayInterval
	}
	return &Daemon{
		config:   config,
		enqueuer: enqueuer,
		now:      time.Now,
	}
}

// Start begins the scheduling loop. It runs until the context is cancelled
// or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("compaction: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop gracefully stops the daemon.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	d.cancel()
	<-d.done
	d.running = false
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	// Enqueue the current day immediately on start.
	d.enqueueDay(ctx, 0)

	current := time.NewTicker(d.config.CurrentDayInterval)
	defer current.Stop()
	previous := time.NewTicker(d.config.PreviousDayInterval)
	defer previous.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-current.C:
			d.enqueueDay(ctx, 0)
		case <-previous.C:
			d.enqueueDay(ctx, -1)
		}
	}
}

// enqueueDay enqueues one compact-partition task for today+offset days.
func (d *Daemon) enqueueDay(ctx context.Context, offsetDays int) {
	if ctx.Err() != nil {
		return
	}

	date := partition.DateOf(d.now().AddDate(0, 0, offsetDays).UnixMilli())
	if err := d.enqueuer.EnqueueCompactPartition(ctx, date); err != nil {
		log.Printf("compaction: failed to enqueue compact task for %s: %v", date, err)
	}
}
