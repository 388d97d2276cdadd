package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// Cooperative flags checked at the top of every tick.
const (
	FlagStop  = "stop"
	FlagPause = "pause"
)

const keyPrefix = "catalogsync/"

func stateKey(scope, name string) string {
	return keyPrefix + domain.ScopeName(scope) + "/" + name
}

// SessionState is the typed view of the key-value store holding a scope's
// live session record, lease, cooperative flags and last-sync watermark.
type SessionState struct {
	kv  driven.KVStore
	now func() time.Time
}

// NewSessionState wraps a key-value store.
func NewSessionState(kv driven.KVStore) *SessionState {
	return &SessionState{kv: kv, now: time.Now}
}

// ==================== Session record ====================

// Load returns the scope's session record or domain.ErrNotFound.
func (s *SessionState) Load(ctx context.Context, scope string) (*domain.Session, error) {
	data, err := s.kv.Get(ctx, stateKey(scope, "status"))
	if err != nil {
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// Save replaces the scope's session record.
func (s *SessionState) Save(ctx context.Context, sess *domain.Session) error {
	sess.UpdatedAt = s.now()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.kv.Set(ctx, stateKey(sess.Scope, "status"), data)
}

// Mutate atomically applies fn to the scope's session record, provided the
// record still belongs to sessionID. It returns domain.ErrStaleSession when
// another session owns the record and domain.ErrNotFound when there is none.
func (s *SessionState) Mutate(
	ctx context.Context,
	scope, sessionID string,
	fn func(*domain.Session) error,
) (*domain.Session, error) {
	var out domain.Session
	_, err := s.kv.Update(ctx, stateKey(scope, "status"), func(cur []byte, exists bool) ([]byte, bool, error) {
		if !exists {
			return nil, false, domain.ErrNotFound
		}
		var sess domain.Session
		if err := json.Unmarshal(cur, &sess); err != nil {
			return nil, false, fmt.Errorf("decode session: %w", err)
		}
		if sess.ID != sessionID {
			return nil, false, domain.ErrStaleSession
		}
		if err := fn(&sess); err != nil {
			return nil, false, err
		}
		sess.UpdatedAt = s.now()
		next, err := json.Marshal(&sess)
		if err != nil {
			return nil, false, fmt.Errorf("encode session: %w", err)
		}
		out = sess
		return next, true, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the scope's session record.
func (s *SessionState) Delete(ctx context.Context, scope string) error {
	return s.kv.Delete(ctx, stateKey(scope, "status"))
}

// ==================== Lease ====================

// Lease returns the scope's lease or domain.ErrNotFound.
func (s *SessionState) Lease(ctx context.Context, scope string) (*domain.Lease, error) {
	data, err := s.kv.Get(ctx, stateKey(scope, "lease"))
	if err != nil {
		return nil, err
	}
	var lease domain.Lease
	if err := json.Unmarshal(data, &lease); err != nil {
		return nil, fmt.Errorf("decode lease: %w", err)
	}
	return &lease, nil
}

// AcquireLease claims the scope for sessionID until now+ttl.
//
// The claim succeeds when there is no lease, the lease has expired, the
// lease already belongs to sessionID, or the holder is paused. A paused
// holder is returned as superseded so the caller can close it out. An
// unexpired running holder yields *domain.SessionInProgressError.
func (s *SessionState) AcquireLease(
	ctx context.Context,
	scope, sessionID string,
	ttl time.Duration,
) (superseded *domain.Lease, err error) {
	now := s.now()
	_, err = s.kv.Update(ctx, stateKey(scope, "lease"), func(cur []byte, exists bool) ([]byte, bool, error) {
		superseded = nil
		acquiredAt := now
		if exists {
			var held domain.Lease
			if jsonErr := json.Unmarshal(cur, &held); jsonErr == nil && !held.Expired(now) {
				switch {
				case held.SessionID == sessionID:
					acquiredAt = held.AcquiredAt
				case held.Paused:
					superseded = &held
				default:
					return nil, false, &domain.SessionInProgressError{Scope: scope, SessionID: held.SessionID}
				}
			}
		}
		next, jsonErr := json.Marshal(domain.Lease{
			Scope:      scope,
			SessionID:  sessionID,
			AcquiredAt: acquiredAt,
			ExpiresAt:  now.Add(ttl),
		})
		if jsonErr != nil {
			return nil, false, fmt.Errorf("encode lease: %w", jsonErr)
		}
		return next, true, nil
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

// ExtendLease pushes the expiry of a lease owned by sessionID to now+ttl and
// sets its paused mark. It returns domain.ErrStaleSession when the lease is
// missing or owned by another session.
func (s *SessionState) ExtendLease(
	ctx context.Context,
	scope, sessionID string,
	ttl time.Duration,
	paused bool,
) error {
	now := s.now()
	_, err := s.kv.Update(ctx, stateKey(scope, "lease"), func(cur []byte, exists bool) ([]byte, bool, error) {
		if !exists {
			return nil, false, domain.ErrStaleSession
		}
		var held domain.Lease
		if err := json.Unmarshal(cur, &held); err != nil {
			return nil, false, fmt.Errorf("decode lease: %w", err)
		}
		if held.SessionID != sessionID {
			return nil, false, domain.ErrStaleSession
		}
		held.ExpiresAt = now.Add(ttl)
		held.Paused = paused
		next, err := json.Marshal(held)
		if err != nil {
			return nil, false, fmt.Errorf("encode lease: %w", err)
		}
		return next, true, nil
	})
	return err
}

// ReleaseLease deletes the scope's lease if sessionID owns it.
// It reports whether a lease was deleted.
func (s *SessionState) ReleaseLease(ctx context.Context, scope, sessionID string) (bool, error) {
	return s.kv.Update(ctx, stateKey(scope, "lease"), func(cur []byte, exists bool) ([]byte, bool, error) {
		if !exists {
			return nil, false, nil
		}
		var held domain.Lease
		if err := json.Unmarshal(cur, &held); err == nil && held.SessionID != sessionID {
			return nil, false, nil
		}
		return nil, true, nil
	})
}

// ClearLease deletes the scope's lease regardless of owner.
func (s *SessionState) ClearLease(ctx context.Context, scope string) error {
	return s.kv.Delete(ctx, stateKey(scope, "lease"))
}

// ==================== Flags ====================

// SetFlag raises a cooperative flag for the scope.
func (s *SessionState) SetFlag(ctx context.Context, scope, flag string) error {
	return s.kv.Set(ctx, stateKey(scope, flag), []byte("1"))
}

// ClearFlag lowers a cooperative flag.
func (s *SessionState) ClearFlag(ctx context.Context, scope, flag string) error {
	return s.kv.Delete(ctx, stateKey(scope, flag))
}

// FlagSet reports whether a cooperative flag is raised.
func (s *SessionState) FlagSet(ctx context.Context, scope, flag string) (bool, error) {
	_, err := s.kv.Get(ctx, stateKey(scope, flag))
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ==================== Watermark ====================

// Watermark returns the start time of the scope's last completed session,
// or domain.ErrNotFound when it never completed one.
func (s *SessionState) Watermark(ctx context.Context, scope string) (time.Time, error) {
	data, err := s.kv.Get(ctx, stateKey(scope, "last_sync"))
	if err != nil {
		return time.Time{}, err
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return time.Time{}, fmt.Errorf("decode watermark: %w", err)
	}
	return t, nil
}

// SetWatermark records the scope's last successful sync.
func (s *SessionState) SetWatermark(ctx context.Context, scope string, t time.Time) error {
	data, err := json.Marshal(t.UTC())
	if err != nil {
		return fmt.Errorf("encode watermark: %w", err)
	}
	return s.kv.Set(ctx, stateKey(scope, "last_sync"), data)
}
