package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driving"
	"github.com/custodia-labs/catalog-sync/internal/logger"
)

// Ensure QueueWorker implements the interface.
var _ driving.Worker = (*QueueWorker)(nil)

// DefaultPollInterval is how often an idle worker checks the queue.
const DefaultPollInterval = time.Second

// QueueWorker claims due tasks, runs them through the batch processor and
// submits their successors. Tasks are acknowledged only after the successor
// has been scheduled, so a crash between the two redelivers the task.
type QueueWorker struct {
	source     driven.TaskSource
	processor  driving.BatchProcessor
	dispatcher *Dispatcher
	interval   time.Duration
	now        func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewQueueWorker creates a worker. A non-positive interval uses DefaultPollInterval.
func NewQueueWorker(
	source driven.TaskSource,
	processor driving.BatchProcessor,
	dispatcher *Dispatcher,
	interval time.Duration,
) *QueueWorker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &QueueWorker{
		source:     source,
		processor:  processor,
		dispatcher: dispatcher,
		interval:   interval,
		now:        time.Now,
	}
}

// Run polls the queue until the context is cancelled or Stop is called.
func (w *QueueWorker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // Already running
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	logger.L().Info("queue worker started", "poll_interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			logger.Warn("worker: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop ends Run and waits for the in-flight task to finish.
func (w *QueueWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	return nil
}

// RunOnce processes tasks until none is due and returns how many ran.
func (w *QueueWorker) RunOnce(ctx context.Context) (int, error) {
	ran := 0
	for {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		qt, err := w.source.Claim(ctx, w.now())
		if err != nil {
			return ran, fmt.Errorf("claim task: %w", err)
		}
		if qt == nil {
			return ran, nil
		}
		if err := w.handle(ctx, qt); err != nil {
			return ran, err
		}
		ran++
	}
}

func (w *QueueWorker) handle(ctx context.Context, qt *domain.QueuedTask) error {
	log := logger.ForSession(qt.Task.SessionID, qt.Task.Scope)

	var step domain.Step
	switch qt.Task.Kind {
	case domain.TaskTick:
		step = w.processor.ProcessTick(ctx, qt.Task)
	case domain.TaskStock:
		step = w.processor.ProcessStockPhase(ctx, qt.Task)
	default:
		log.Warn("discarding task of unknown kind", "kind", qt.Task.Kind, "task", qt.ID)
		return w.source.Ack(ctx, qt.ID)
	}

	if err := w.dispatcher.Apply(ctx, qt.Task, step); err != nil {
		// Left unacknowledged; the queue redelivers it after its visibility timeout.
		log.Error("scheduling successor failed", "task", qt.ID, "error", err)
		return err
	}
	if err := w.source.Ack(ctx, qt.ID); err != nil {
		return fmt.Errorf("ack task %s: %w", qt.ID, err)
	}
	return nil
}
