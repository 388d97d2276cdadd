package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/catalog-sync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

func newTestState(now time.Time) *SessionState {
	st := NewSessionState(memory.NewKVStore())
	st.now = func() time.Time { return now }
	return st
}

func TestSessionState_SaveLoadMutate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := newTestState(now)
	ctx := context.Background()

	_, err := st.Load(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, st.Save(ctx, &domain.Session{ID: "s1", Status: domain.StatusRunning}))
	sess, err := st.Load(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, now, sess.UpdatedAt)

	updated, err := st.Mutate(ctx, "", "s1", func(s *domain.Session) error {
		s.Processed = 42
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, updated.Processed)

	_, err = st.Mutate(ctx, "", "s2", func(*domain.Session) error { return nil })
	assert.ErrorIs(t, err, domain.ErrStaleSession)

	_, err = st.Mutate(ctx, "eu", "s1", func(*domain.Session) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, st.Delete(ctx, ""))
	_, err = st.Load(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionState_ScopesAreIsolated(t *testing.T) {
	st := newTestState(time.Now())
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, &domain.Session{ID: "a"}))
	require.NoError(t, st.Save(ctx, &domain.Session{ID: "b", Scope: "eu"}))
	require.NoError(t, st.SetFlag(ctx, "eu", FlagStop))

	a, err := st.Load(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "a", a.ID)

	set, err := st.FlagSet(ctx, "", FlagStop)
	require.NoError(t, err)
	assert.False(t, set)
	set, err = st.FlagSet(ctx, "eu", FlagStop)
	require.NoError(t, err)
	assert.True(t, set)
}

func TestSessionState_LeaseLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := newTestState(now)
	ctx := context.Background()

	superseded, err := st.AcquireLease(ctx, "", "s1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, superseded)

	_, err = st.AcquireLease(ctx, "", "s2", time.Minute)
	var inProgress *domain.SessionInProgressError
	require.ErrorAs(t, err, &inProgress)
	assert.Equal(t, "s1", inProgress.SessionID)

	// Re-acquiring by the owner keeps the original acquisition time
	st.now = func() time.Time { return now.Add(30 * time.Second) }
	_, err = st.AcquireLease(ctx, "", "s1", time.Minute)
	require.NoError(t, err)
	lease, err := st.Lease(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, now, lease.AcquiredAt)
	assert.Equal(t, now.Add(90*time.Second), lease.ExpiresAt)

	assert.ErrorIs(t, st.ExtendLease(ctx, "", "s2", time.Minute, false), domain.ErrStaleSession)
	require.NoError(t, st.ExtendLease(ctx, "", "s1", time.Hour, true))

	// A paused holder is superseded
	superseded, err = st.AcquireLease(ctx, "", "s3", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, superseded)
	assert.Equal(t, "s1", superseded.SessionID)

	released, err := st.ReleaseLease(ctx, "", "s1")
	require.NoError(t, err)
	assert.False(t, released, "only the owner releases")

	released, err = st.ReleaseLease(ctx, "", "s3")
	require.NoError(t, err)
	assert.True(t, released)
	assert.ErrorIs(t, st.ExtendLease(ctx, "", "s3", time.Minute, false), domain.ErrStaleSession)
}

func TestSessionState_ExpiredLeaseIsReclaimed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := newTestState(now)
	ctx := context.Background()

	_, err := st.AcquireLease(ctx, "", "s1", time.Minute)
	require.NoError(t, err)

	st.now = func() time.Time { return now.Add(time.Minute) }
	superseded, err := st.AcquireLease(ctx, "", "s2", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, superseded)

	lease, err := st.Lease(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "s2", lease.SessionID)
}

func TestSessionState_Watermark(t *testing.T) {
	st := newTestState(time.Now())
	ctx := context.Background()

	_, err := st.Watermark(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mark := time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("CET", 3600))
	require.NoError(t, st.SetWatermark(ctx, "", mark))
	got, err := st.Watermark(ctx, "")
	require.NoError(t, err)
	assert.True(t, got.Equal(mark))
}
