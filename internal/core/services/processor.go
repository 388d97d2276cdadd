package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driving"
	"github.com/custodia-labs/catalog-sync/internal/logger"
	"github.com/custodia-labs/catalog-sync/internal/telemetry"
)

// Ensure BatchProcessor implements the interface.
var _ driving.BatchProcessor = (*BatchProcessor)(nil)

// ProcessorDeps are the collaborators of a BatchProcessor.
// Ledger, Profiles, Notifier and Metrics may be nil.
type ProcessorDeps struct {
	State       *SessionState
	Ledger      *HistoryLedger
	Catalog     driven.CatalogClient
	Transformer driven.Transformer
	Products    driven.ProductStore
	Profiles    driven.ProfileStore
	Notifier    driven.Notifier
	Metrics     *telemetry.SyncMetrics
}

// BatchProcessor runs the sync state machine one tick at a time.
// Every tick loads its session from the state store and persists it before
// returning; nothing is carried in memory between ticks.
type BatchProcessor struct {
	state       *SessionState
	ledger      *HistoryLedger
	catalog     driven.CatalogClient
	transformer driven.Transformer
	products    driven.ProductStore
	profiles    driven.ProfileStore
	notifier    driven.Notifier
	metrics     *telemetry.SyncMetrics
	settings    domain.SyncSettings
	now         func() time.Time
}

// NewBatchProcessor creates a processor.
func NewBatchProcessor(deps ProcessorDeps, settings domain.SyncSettings) *BatchProcessor {
	ledger := deps.Ledger
	if ledger == nil {
		ledger = NewHistoryLedger(nil)
	}
	return &BatchProcessor{
		state:       deps.State,
		ledger:      ledger,
		catalog:     deps.Catalog,
		transformer: deps.Transformer,
		products:    deps.Products,
		profiles:    deps.Profiles,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		settings:    settings,
		now:         time.Now,
	}
}

// ProcessTick runs one product-phase tick and returns what should happen next.
//
//nolint:gocyclo // the tick is a linear sequence of guarded steps
func (p *BatchProcessor) ProcessTick(ctx context.Context, task domain.Task) (step domain.Step) {
	started := p.now()
	log := logger.ForSession(task.SessionID, task.Scope)
	var sess *domain.Session

	defer func() {
		if r := recover(); r != nil {
			log.Error("tick panicked", "panic", r)
			step = p.recoverFrom(ctx, sess, task, fmt.Errorf("panic: %v", r))
		}
		p.metrics.RecordTick(ctx, task.Scope, domain.StepName(step), p.now().Sub(started))
		log.Debug("tick finished", "page", task.Page, "offset", task.Offset, "step", domain.StepName(step))
	}()

	// 1. Drop ticks that do not belong to the live session
	var err error
	sess, err = p.state.Load(ctx, task.Scope)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NoOp{Reason: "no session record"}
	}
	if err != nil {
		log.Warn("loading session failed, retrying tick", "error", err)
		return domain.ScheduleTick{Page: task.Page, Offset: task.Offset, Delay: p.settings.RetryDelay}
	}
	if sess.ID != task.SessionID || sess.Status != domain.StatusRunning {
		log.Debug("dropping stale tick", "live_session", sess.ID, "status", sess.Status)
		return domain.NoOp{Reason: "stale tick"}
	}
	if !atCursor(sess, task) {
		log.Debug("dropping duplicate tick", "cursor_page", sess.Page, "cursor_offset", sess.Offset)
		return domain.NoOp{Reason: "duplicate tick"}
	}

	if err := p.state.ExtendLease(ctx, sess.Scope, sess.ID, p.settings.LeaseTimeout, false); err != nil {
		log.Warn("lease heartbeat failed", "error", err)
	}

	// 2. Limit already met
	if sess.LimitReached() {
		return p.enterStock(ctx, sess, "limit reached")
	}

	// 3. Cooperative cancellation
	if p.flag(ctx, sess.Scope, FlagStop, log) {
		return p.finish(ctx, sess, domain.StatusStopped, "stopped by operator", nil)
	}
	if p.flag(ctx, sess.Scope, FlagPause, log) {
		return p.suspend(ctx, sess, task)
	}

	if task.Page >= p.settings.MaxPages {
		log.Warn("page ceiling reached", "page", task.Page, "max_pages", p.settings.MaxPages)
		return p.enterStock(ctx, sess, "page ceiling reached")
	}

	// 4. Ledger bootstrap on the first tick
	if !sess.HistoryCreated {
		p.bootstrap(ctx, sess, log)
	}

	profile, err := p.profile(ctx, sess.Scope)
	if errors.Is(err, domain.ErrNotFound) {
		return p.finish(ctx, sess, domain.StatusFailed, fmt.Sprintf("unknown scope %q", sess.Scope), nil)
	}
	if err != nil {
		return p.handleFailure(ctx, sess, task, fmt.Errorf("load profile: %w", err))
	}

	// 5. Category tree before any product of the session
	if task.Page == 0 && task.Offset == 0 {
		p.syncCategories(ctx, log)
	}

	// 6. Lookup cache for this tick
	cache := NewLookupCache(p.products)
	if err := cache.Warm(ctx); err != nil {
		return p.handleFailure(ctx, sess, task, fmt.Errorf("warm lookup cache: %w", err))
	}

	// 7. Fetch at the fixed page size
	filter := domain.PageFilter{Filters: profile.Filters, ModifiedSince: sess.Since}
	records, err := p.catalog.FetchPage(ctx, task.Page, p.settings.PageSize, filter)
	if err != nil {
		return p.handleFailure(ctx, sess, task, fmt.Errorf("fetch page %d: %w", task.Page, err))
	}

	// 8. An empty page ends the product phase
	if len(records) == 0 {
		return p.enterStock(ctx, sess, "empty page")
	}

	// 9. Sub-batch, or page boundary when the offset is past the end
	if task.Offset >= len(records) {
		return p.commit(ctx, sess, task, len(records), 0, domain.BatchResult{})
	}
	batchSize := max(sess.BatchSize, p.settings.MinBatchSize)
	end := min(task.Offset+batchSize, len(records))
	batch := records[task.Offset:end]

	// 10. Never exceed the record limit
	if remaining := sess.Remaining(); remaining >= 0 && len(batch) > remaining {
		batch = batch[:remaining]
	}

	// 11. Transform and upsert
	result, err := p.transformer.TransformBatch(ctx, batch, *profile, cache)
	if err != nil {
		return p.handleFailure(ctx, sess, task, fmt.Errorf("transform batch: %w", err))
	}
	p.metrics.RecordBatch(ctx, sess.Scope, result)
	for _, msg := range result.Errors {
		log.Debug("record rejected", "reason", msg)
	}

	// 12-15. Persist progress and decide the successor
	return p.commit(ctx, sess, task, len(records), len(batch), result)
}

// commit persists the outcome of a tick that processed n records and
// returns its successor.
func (p *BatchProcessor) commit(
	ctx context.Context,
	sess *domain.Session,
	task domain.Task,
	pageLen, n int,
	result domain.BatchResult,
) domain.Step {
	log := logger.ForSession(sess.ID, sess.Scope)
	nextOffset := task.Offset + n

	var step domain.Step
	recovered := false
	updated, err := p.state.Mutate(ctx, sess.Scope, sess.ID, func(s *domain.Session) error {
		if s.Status != domain.StatusRunning || !atCursor(s, task) {
			return domain.ErrStaleSession
		}
		s.Counters.Add(n, result)
		if s.ConsecutiveFailures > 0 {
			s.ConsecutiveFailures = 0
			s.Error = ""
			recovered = true
		}
		step = decideNext(s, task.Page, nextOffset, pageLen, p.settings)
		switch next := step.(type) {
		case domain.ScheduleTick:
			s.Page, s.Offset = next.Page, next.Offset
		case domain.ScheduleStock:
			s.Page, s.Offset = task.Page, nextOffset
			s.Status = domain.StatusSyncingStock
		}
		return nil
	})
	if errors.Is(err, domain.ErrStaleSession) || errors.Is(err, domain.ErrNotFound) {
		log.Info("session changed during tick, dropping successor")
		return domain.NoOp{Reason: "session superseded during tick"}
	}
	if err != nil {
		return p.handleFailure(ctx, sess, task, fmt.Errorf("persist progress: %w", err))
	}

	if err := p.ledger.Progress(ctx, updated); err != nil {
		log.Warn("history progress not recorded", "error", err)
	}
	if recovered {
		log.Info("batch succeeded after failures", "batch_size", updated.BatchSize)
	}

	if n > 0 {
		log.Info("sub-batch processed",
			"page", task.Page,
			"offset", task.Offset,
			"records", n,
			"created", result.Created,
			"updated", result.Updated,
			"failed", result.Failed,
			"processed_total", updated.Processed,
		)
	}
	if st, ok := step.(domain.ScheduleStock); ok {
		log.Info("product phase finished", "reason", st.Reason, "processed", updated.Processed)
	}
	return step
}

// enterStock ends the product phase.
func (p *BatchProcessor) enterStock(ctx context.Context, sess *domain.Session, reason string) domain.Step {
	log := logger.ForSession(sess.ID, sess.Scope)
	updated, err := p.state.Mutate(ctx, sess.Scope, sess.ID, func(s *domain.Session) error {
		if s.Status != domain.StatusRunning {
			return domain.ErrStaleSession
		}
		s.Status = domain.StatusSyncingStock
		return nil
	})
	if err != nil {
		log.Warn("entering stock phase failed", "error", err)
		return domain.NoOp{Reason: "session superseded"}
	}
	if err := p.ledger.Progress(ctx, updated); err != nil {
		log.Warn("history progress not recorded", "error", err)
	}
	log.Info("product phase finished", "reason", reason, "processed", updated.Processed)
	return domain.ScheduleStock{Delay: p.settings.StockDelay, Reason: reason}
}

// suspend pauses the session at the tick's cursor. The lease is extended
// and marked paused rather than released.
func (p *BatchProcessor) suspend(ctx context.Context, sess *domain.Session, task domain.Task) domain.Step {
	log := logger.ForSession(sess.ID, sess.Scope)
	updated, err := p.state.Mutate(ctx, sess.Scope, sess.ID, func(s *domain.Session) error {
		if s.Status != domain.StatusRunning || !atCursor(s, task) {
			return domain.ErrStaleSession
		}
		s.Status = domain.StatusPaused
		s.PausedAt = p.now()
		s.Page = task.Page
		s.Offset = task.Offset
		return nil
	})
	if err != nil {
		log.Warn("pausing session failed", "error", err)
		return domain.NoOp{Reason: "session superseded"}
	}
	if err := p.state.ExtendLease(ctx, sess.Scope, sess.ID, p.settings.PausedLeaseTimeout, true); err != nil {
		log.Warn("extending paused lease failed", "error", err)
	}
	if err := p.ledger.Pause(ctx, updated); err != nil {
		log.Warn("history pause not recorded", "error", err)
	}
	log.Info("sync paused", "page", task.Page, "processed", updated.Processed)
	return domain.Suspend{Page: task.Page}
}

// handleFailure shrinks the batch and retries the same cursor, or fails the
// session when retries are exhausted.
func (p *BatchProcessor) handleFailure(
	ctx context.Context,
	sess *domain.Session,
	task domain.Task,
	cause error,
) domain.Step {
	log := logger.ForSession(sess.ID, sess.Scope)
	size, failures, giveUp := adaptOnFailure(sess.BatchSize, sess.ConsecutiveFailures, p.settings)

	if giveUp {
		log.Error("batch failed, giving up",
			"error", cause,
			"batch_size", sess.BatchSize,
			"failures", failures,
		)
		return p.finish(ctx, sess, domain.StatusFailed, cause.Error(), func(s *domain.Session) error {
			if s.Status != domain.StatusRunning || !atCursor(s, task) {
				return domain.ErrStaleSession
			}
			s.ConsecutiveFailures = failures
			s.ErrorCount++
			return nil
		})
	}

	updated, err := p.state.Mutate(ctx, sess.Scope, sess.ID, func(s *domain.Session) error {
		if s.Status != domain.StatusRunning || !atCursor(s, task) {
			return domain.ErrStaleSession
		}
		s.BatchSize = size
		s.ConsecutiveFailures = failures
		s.ErrorCount++
		s.Error = cause.Error()
		return nil
	})
	if errors.Is(err, domain.ErrStaleSession) || errors.Is(err, domain.ErrNotFound) {
		return domain.NoOp{Reason: "session superseded during tick"}
	}
	if err != nil {
		log.Warn("persisting failure state failed", "error", err)
	} else if err := p.ledger.Progress(ctx, updated); err != nil {
		log.Warn("history progress not recorded", "error", err)
	}

	p.metrics.RecordBatchSize(ctx, sess.Scope, size)
	log.Warn("batch failed, retrying with smaller batch",
		"error", cause,
		"page", task.Page,
		"offset", task.Offset,
		"batch_size", size,
		"failures", failures,
	)
	return domain.ScheduleTick{Page: task.Page, Offset: task.Offset, Delay: p.settings.RetryDelay}
}

// recoverFrom routes a panic to failure handling when the session is known.
func (p *BatchProcessor) recoverFrom(
	ctx context.Context,
	sess *domain.Session,
	task domain.Task,
	cause error,
) domain.Step {
	if sess == nil || sess.ID != task.SessionID || sess.Status != domain.StatusRunning {
		return domain.NoOp{Reason: cause.Error()}
	}
	return p.handleFailure(ctx, sess, task, cause)
}

// finish moves the session to a terminal status, closes its ledger row and
// releases its lease. A failed session triggers a notification.
func (p *BatchProcessor) finish(
	ctx context.Context,
	sess *domain.Session,
	status domain.SessionStatus,
	reason string,
	mutate func(*domain.Session) error,
) domain.Step {
	log := logger.ForSession(sess.ID, sess.Scope)
	now := p.now()

	updated, err := p.state.Mutate(ctx, sess.Scope, sess.ID, func(s *domain.Session) error {
		if s.Status.IsTerminal() {
			return domain.ErrStaleSession
		}
		if mutate != nil {
			if err := mutate(s); err != nil {
				return err
			}
		}
		s.Status = status
		s.CompletedAt = now
		if status == domain.StatusFailed {
			s.Error = reason
		}
		return nil
	})
	if err != nil {
		log.Warn("finalising session failed", "status", status, "error", err)
		return domain.NoOp{Reason: "session superseded"}
	}

	switch {
	case status != domain.StatusCompleted:
	case updated.Skipped:
		log.Info("last sync watermark kept, records were skipped on resume")
	default:
		if err := p.state.SetWatermark(ctx, sess.Scope, updated.StartedAt); err != nil {
			log.Warn("last sync watermark not updated", "error", err)
		}
	}
	if status == domain.StatusStopped {
		p.clearFlags(ctx, sess.Scope, log)
	}

	var ledgerErr error
	switch status {
	case domain.StatusCompleted:
		ledgerErr = p.ledger.Complete(ctx, updated)
	case domain.StatusFailed:
		ledgerErr = p.ledger.Fail(ctx, updated)
	case domain.StatusStopped:
		ledgerErr = p.ledger.Stop(ctx, updated)
	}
	if ledgerErr != nil {
		log.Warn("history transition not recorded", "status", status, "error", ledgerErr)
	}

	if _, err := p.state.ReleaseLease(ctx, sess.Scope, sess.ID); err != nil {
		log.Warn("releasing lease failed", "error", err)
	}
	p.metrics.RecordSession(ctx, sess.Scope, status)

	attrs := []any{
		"status", status,
		"processed", updated.Processed,
		"created", updated.Created,
		"updated", updated.Updated,
		"failed", updated.Failed,
		"duration", now.Sub(updated.StartedAt).Round(time.Second),
	}
	if status == domain.StatusFailed {
		log.Error("sync failed", append(attrs, "reason", reason)...)
		if p.notifier != nil {
			if err := p.notifier.NotifyFailure(ctx, *updated); err != nil {
				log.Warn("failure notification not sent", "error", err)
			}
		}
	} else {
		log.Info("sync finished", append(attrs, "reason", reason)...)
	}

	return domain.Finalize{Outcome: status, Reason: reason}
}

// bootstrap creates the ledger row on the first tick of a session.
func (p *BatchProcessor) bootstrap(ctx context.Context, sess *domain.Session, log *slog.Logger) {
	created := p.ledger.Create(ctx, sess.ID, sess.Type, sess.Scope)
	if _, err := p.state.Mutate(ctx, sess.Scope, sess.ID, func(s *domain.Session) error {
		s.HistoryCreated = true
		return nil
	}); err != nil {
		log.Warn("marking history bootstrap failed", "error", err)
	}
	sess.HistoryCreated = true

	switch {
	case sess.Page > 0:
		log.Info("resuming sync", "page", sess.Page, "history", created)
	case sess.Type == domain.SessionIncremental:
		log.Info("starting incremental sync", "since", sess.Since.Format(time.RFC3339), "limit", sess.Limit, "history", created)
	default:
		log.Info("starting full sync", "limit", sess.Limit, "history", created)
	}
}

// syncCategories imports the category tree. Failures only degrade category mapping.
func (p *BatchProcessor) syncCategories(ctx context.Context, log *slog.Logger) {
	categories, err := p.catalog.FetchCategoryTree(ctx)
	if err != nil {
		log.Warn("category sync skipped", "error", err)
		return
	}
	n, err := p.products.SaveCategories(ctx, categories)
	if err != nil {
		log.Warn("category sync incomplete", "saved", n, "error", err)
		return
	}
	log.Info("categories synced", "count", n)
}

func (p *BatchProcessor) profile(ctx context.Context, scope string) (*domain.Profile, error) {
	if p.profiles == nil {
		profile := domain.DefaultProfile()
		profile.ID = scope
		return &profile, nil
	}
	return p.profiles.Get(ctx, scope)
}

func (p *BatchProcessor) flag(ctx context.Context, scope, name string, log *slog.Logger) bool {
	set, err := p.state.FlagSet(ctx, scope, name)
	if err != nil {
		log.Warn("reading flag failed", "flag", name, "error", err)
		return false
	}
	return set
}

func (p *BatchProcessor) clearFlags(ctx context.Context, scope string, log *slog.Logger) {
	for _, f := range []string{FlagStop, FlagPause} {
		if err := p.state.ClearFlag(ctx, scope, f); err != nil {
			log.Warn("clearing flag failed", "flag", f, "error", err)
		}
	}
}

// atCursor reports whether task is the tick the session expects next.
// Redelivered copies of a tick that already ran no longer match.
func atCursor(s *domain.Session, task domain.Task) bool {
	return s.Page == task.Page && s.Offset == task.Offset
}
