package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driving"
	"github.com/custodia-labs/catalog-sync/internal/logger"
)

// Ensure Launcher implements the interface.
var _ driving.SessionLauncher = (*Launcher)(nil)

// Launcher starts and controls sync sessions.
type Launcher struct {
	state    *SessionState
	ledger   *HistoryLedger
	queue    driven.TaskQueue
	pending  driven.TaskSource
	settings domain.SyncSettings
	now      func() time.Time
	newID    func() string
}

// NewLauncher creates a launcher. ledger may be nil.
func NewLauncher(
	state *SessionState,
	ledger *HistoryLedger,
	queue driven.TaskQueue,
	settings domain.SyncSettings,
) *Launcher {
	if ledger == nil {
		ledger = NewHistoryLedger(nil)
	}
	l := &Launcher{
		state:    state,
		ledger:   ledger,
		queue:    queue,
		settings: settings,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	if src, ok := queue.(driven.TaskSource); ok {
		l.pending = src
	}
	return l
}

// Start launches a full session.
func (l *Launcher) Start(ctx context.Context, limit int, scope string) (string, error) {
	return l.launch(ctx, domain.SessionFull, time.Time{}, limit, scope)
}

// StartIncremental launches an incremental session. Without an explicit
// since and without a watermark it falls back to a full session.
func (l *Launcher) StartIncremental(ctx context.Context, since *time.Time, scope string) (string, error) {
	if since != nil {
		return l.launch(ctx, domain.SessionIncremental, *since, 0, scope)
	}
	watermark, err := l.state.Watermark(ctx, scope)
	if errors.Is(err, domain.ErrNotFound) {
		logger.With("scope", domain.ScopeName(scope)).Info("no previous sync, starting full sync")
		return l.launch(ctx, domain.SessionFull, time.Time{}, 0, scope)
	}
	if err != nil {
		return "", fmt.Errorf("read watermark: %w", err)
	}
	return l.launch(ctx, domain.SessionIncremental, watermark, 0, scope)
}

func (l *Launcher) launch(
	ctx context.Context,
	typ domain.SessionType,
	since time.Time,
	limit int,
	scope string,
) (string, error) {
	if limit < 0 {
		return "", fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidInput)
	}

	// The ledger is authoritative when the status record was lost.
	if err := l.checkLedger(ctx, scope); err != nil {
		return "", err
	}

	id := l.newID()
	log := logger.ForSession(id, scope)

	superseded, err := l.state.AcquireLease(ctx, scope, id, l.settings.LeaseTimeout)
	if err != nil {
		return "", err
	}
	if superseded != nil {
		l.closeSuperseded(ctx, scope, superseded.SessionID)
	} else if prev, err := l.state.Load(ctx, scope); err == nil && !prev.Status.IsTerminal() {
		// The previous session's lease expired without it finishing.
		if err := l.ledger.Fail(ctx, prev); err != nil {
			logger.ForSession(prev.ID, scope).Warn("history fail of abandoned session not recorded", "error", err)
		}
		logger.ForSession(prev.ID, scope).Warn("abandoned session replaced", "status", prev.Status)
	}

	now := l.now()
	sess := &domain.Session{
		ID:        id,
		Scope:     scope,
		Type:      typ,
		Status:    domain.StatusRunning,
		Since:     since,
		BatchSize: l.settings.BatchSize,
		Limit:     limit,
		StartedAt: now,
	}
	if err := l.state.Save(ctx, sess); err != nil {
		l.releaseAfterError(ctx, scope, id)
		return "", fmt.Errorf("save session: %w", err)
	}
	for _, f := range []string{FlagStop, FlagPause} {
		if err := l.state.ClearFlag(ctx, scope, f); err != nil {
			log.Warn("clearing flag failed", "flag", f, "error", err)
		}
	}

	task := domain.Task{Kind: domain.TaskTick, SessionID: id, Scope: scope, Since: since}
	if err := l.queue.Schedule(ctx, task, now.Add(l.settings.StartDelay)); err != nil {
		l.releaseAfterError(ctx, scope, id)
		_ = l.state.Delete(ctx, scope)
		return "", fmt.Errorf("schedule first tick: %w", err)
	}

	log.Info("sync session launched", "type", typ, "limit", limit)
	return id, nil
}

// checkLedger refuses to start while the ledger shows a fresh running row
// whose status record is gone, and fails rows that went stale.
func (l *Launcher) checkLedger(ctx context.Context, scope string) error {
	rec, err := l.ledger.RunningRecord(ctx, scope)
	if err != nil {
		logger.With("scope", domain.ScopeName(scope)).Warn("history check skipped", "error", err)
		return nil
	}
	if rec == nil {
		return nil
	}

	sess, err := l.state.Load(ctx, scope)
	if err == nil && sess.ID == rec.SessionID {
		// The status record and lease speak for this session.
		return nil
	}

	if l.now().Sub(rec.UpdatedAt) <= l.settings.LeaseTimeout {
		return &domain.SessionInProgressError{Scope: scope, SessionID: rec.SessionID}
	}
	if err := l.ledger.MarkAbandoned(ctx, rec); err != nil {
		logger.ForSession(rec.SessionID, scope).Warn("marking abandoned session failed", "error", err)
	}
	return nil
}

// closeSuperseded stops a paused session whose lease was taken over.
func (l *Launcher) closeSuperseded(ctx context.Context, scope, sessionID string) {
	log := logger.ForSession(sessionID, scope)
	sess, err := l.state.Load(ctx, scope)
	if err != nil || sess.ID != sessionID {
		sess = &domain.Session{ID: sessionID, Scope: scope}
	}
	sess.Status = domain.StatusStopped
	if err := l.ledger.Stop(ctx, sess); err != nil {
		log.Warn("history stop of superseded session not recorded", "error", err)
	}
	log.Info("paused session superseded by new start")
}

func (l *Launcher) releaseAfterError(ctx context.Context, scope, id string) {
	if _, err := l.state.ReleaseLease(ctx, scope, id); err != nil {
		logger.ForSession(id, scope).Warn("releasing lease failed", "error", err)
	}
}

// Resume continues a paused session. A page that was partly processed when
// the session paused is not repeated.
func (l *Launcher) Resume(ctx context.Context, scope string) (string, error) {
	sess, err := l.state.Load(ctx, scope)
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.ErrNotPaused
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if sess.Status != domain.StatusPaused {
		return "", fmt.Errorf("%w: session %s is %s", domain.ErrNotPaused, sess.ID, sess.Status)
	}
	log := logger.ForSession(sess.ID, scope)

	if _, err := l.state.AcquireLease(ctx, scope, sess.ID, l.settings.LeaseTimeout); err != nil {
		return "", err
	}
	if err := l.state.ClearFlag(ctx, scope, FlagPause); err != nil {
		log.Warn("clearing pause flag failed", "error", err)
	}

	// A pause at offset zero came before the page was fetched, so that page
	// is still owed. Otherwise the page in flight is not repeated.
	nextPage := sess.Page
	if sess.Offset > 0 {
		nextPage++
	}
	updated, err := l.state.Mutate(ctx, scope, sess.ID, func(s *domain.Session) error {
		if s.Status != domain.StatusPaused {
			return domain.ErrNotPaused
		}
		if s.Offset > 0 {
			s.Skipped = true
		}
		s.Status = domain.StatusRunning
		s.PausedAt = time.Time{}
		s.Page = nextPage
		s.Offset = 0
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("resume session: %w", err)
	}
	if err := l.ledger.Resume(ctx, updated); err != nil {
		log.Warn("history resume not recorded", "error", err)
	}

	task := domain.Task{
		Kind:      domain.TaskTick,
		SessionID: sess.ID,
		Scope:     scope,
		Page:      nextPage,
		Since:     sess.Since,
	}
	if err := l.queue.Schedule(ctx, task, l.now()); err != nil {
		return "", fmt.Errorf("schedule resume tick: %w", err)
	}

	log.Info("sync resumed", "page", nextPage, "processed", updated.Processed)
	return sess.ID, nil
}

// Pause raises the pause flag for the running session.
func (l *Launcher) Pause(ctx context.Context, scope string) (string, error) {
	sess, err := l.activeSession(ctx, scope)
	if err != nil {
		return "", err
	}
	if sess.Status != domain.StatusRunning {
		return "", fmt.Errorf("%w: session %s is %s", domain.ErrNotRunning, sess.ID, sess.Status)
	}
	if err := l.state.SetFlag(ctx, scope, FlagPause); err != nil {
		return "", fmt.Errorf("set pause flag: %w", err)
	}
	logger.ForSession(sess.ID, scope).Info("pause requested")
	return sess.ID, nil
}

// Stop raises the stop flag for the running session, or stops a paused
// session immediately.
func (l *Launcher) Stop(ctx context.Context, scope string) (string, error) {
	sess, err := l.state.Load(ctx, scope)
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.ErrNotRunning
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	log := logger.ForSession(sess.ID, scope)

	switch {
	case sess.Status == domain.StatusPaused:
		return sess.ID, l.stopPaused(ctx, sess)
	case sess.Status.IsActive():
		if err := l.state.SetFlag(ctx, scope, FlagStop); err != nil {
			return "", fmt.Errorf("set stop flag: %w", err)
		}
		log.Info("stop requested")
		return sess.ID, nil
	default:
		return "", fmt.Errorf("%w: session %s is %s", domain.ErrNotRunning, sess.ID, sess.Status)
	}
}

func (l *Launcher) stopPaused(ctx context.Context, sess *domain.Session) error {
	log := logger.ForSession(sess.ID, sess.Scope)
	updated, err := l.state.Mutate(ctx, sess.Scope, sess.ID, func(s *domain.Session) error {
		if s.Status != domain.StatusPaused {
			return domain.ErrStaleSession
		}
		s.Status = domain.StatusStopped
		s.CompletedAt = l.now()
		return nil
	})
	if err != nil {
		return fmt.Errorf("stop paused session: %w", err)
	}
	if err := l.ledger.Stop(ctx, updated); err != nil {
		log.Warn("history stop not recorded", "error", err)
	}
	if _, err := l.state.ReleaseLease(ctx, sess.Scope, sess.ID); err != nil {
		log.Warn("releasing lease failed", "error", err)
	}
	for _, f := range []string{FlagStop, FlagPause} {
		_ = l.state.ClearFlag(ctx, sess.Scope, f)
	}
	log.Info("paused sync stopped")
	return nil
}

// ForceClear removes every trace of the scope's live session: lease, status
// record, flags and pending ticks. The ledger row, if running, is stopped.
func (l *Launcher) ForceClear(ctx context.Context, scope string) error {
	log := logger.With("scope", domain.ScopeName(scope))

	sess, err := l.state.Load(ctx, scope)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load session: %w", err)
	}

	if err := l.state.ClearLease(ctx, scope); err != nil {
		return fmt.Errorf("clear lease: %w", err)
	}
	if err := l.state.Delete(ctx, scope); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	for _, f := range []string{FlagStop, FlagPause} {
		if err := l.state.ClearFlag(ctx, scope, f); err != nil {
			return fmt.Errorf("clear %s flag: %w", f, err)
		}
	}
	purged, err := l.queue.Purge(ctx, scope)
	if err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}

	if sess != nil && !sess.Status.IsTerminal() {
		if err := l.ledger.Stop(ctx, sess); err != nil {
			log.Warn("history stop not recorded", "session", sess.ID, "error", err)
		}
	}
	log.Warn("sync state force-cleared", "purged_tasks", purged)
	return nil
}

// ReleaseLease drops the scope's lease regardless of owner.
func (l *Launcher) ReleaseLease(ctx context.Context, scope string) error {
	if err := l.state.ClearLease(ctx, scope); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// IsRunning reports whether a session is actively syncing the scope.
func (l *Launcher) IsRunning(ctx context.Context, scope string) (bool, error) {
	id, err := l.RunningSessionID(ctx, scope)
	return id != "", err
}

// IsPaused reports whether the scope's session is paused.
func (l *Launcher) IsPaused(ctx context.Context, scope string) (bool, error) {
	sess, err := l.state.Load(ctx, scope)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sess.Status == domain.StatusPaused, nil
}

// RunningSessionID reconciles the status record with the ledger.
//
// A status record that has not been refreshed within the lease timeout is
// treated as abandoned. When the status record does not show a running
// session, a fresh running ledger row does; a stale one is marked failed.
func (l *Launcher) RunningSessionID(ctx context.Context, scope string) (string, error) {
	now := l.now()

	sess, err := l.state.Load(ctx, scope)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if err == nil && sess.Status.IsActive() && sess.Fresh(now, l.settings.LeaseTimeout) {
		return sess.ID, nil
	}

	rec, err := l.ledger.RunningRecord(ctx, scope)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	if now.Sub(rec.UpdatedAt) <= l.settings.LeaseTimeout {
		return rec.SessionID, nil
	}
	if err := l.ledger.MarkAbandoned(ctx, rec); err != nil {
		logger.ForSession(rec.SessionID, scope).Warn("marking abandoned session failed", "error", err)
	}
	return "", nil
}

// Status returns the live state of a scope.
func (l *Launcher) Status(ctx context.Context, scope string) (*driving.SyncStatus, error) {
	status := &driving.SyncStatus{Scope: scope}

	sess, err := l.state.Load(ctx, scope)
	switch {
	case err == nil:
		status.Session = sess
		status.Paused = sess.Status == domain.StatusPaused
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load session: %w", err)
	}

	lease, err := l.state.Lease(ctx, scope)
	switch {
	case err == nil:
		status.Lease = lease
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load lease: %w", err)
	}

	if status.Running, err = l.IsRunning(ctx, scope); err != nil {
		return nil, err
	}

	if watermark, err := l.state.Watermark(ctx, scope); err == nil {
		status.LastSync = watermark
	}

	if l.pending != nil {
		if n, err := l.pending.Pending(ctx, scope); err == nil {
			status.PendingTasks = n
		}
	}
	return status, nil
}

func (l *Launcher) activeSession(ctx context.Context, scope string) (*domain.Session, error) {
	sess, err := l.state.Load(ctx, scope)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotRunning
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}
