package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/catalog-sync/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir := t.TempDir()

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
	}

	return store, cleanup
}

// ==================== Store Tests ====================

func TestNewStore_CreatesDatabase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, filepath.Join(dir, DatabaseFile), store.Path())
	_, err = os.Stat(store.Path())
	assert.NoError(t, err)
}

func TestNewStore_RunsMigrationsOnce(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening must not re-apply the initial migration
	store, err = NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStore_MigrateAppliesOnlyNewVersions(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	// Version 1 is already applied, so its broken body must not run
	err := store.migrate([]migrations.Migration{
		{Version: 1, Name: "001_initial.up.sql", SQL: "NOT SQL"},
		{Version: 2, Name: "002_rates.up.sql", SQL: "CREATE TABLE rates (code TEXT PRIMARY KEY);"},
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)
	_, err = store.db.Exec("INSERT INTO rates (code) VALUES ('EUR')")
	assert.NoError(t, err)
}

func TestNewStore_UsesWAL(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	var mode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

// ==================== KVStore Tests ====================

func TestKVStore_GetSetDelete(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	kv := store.KVStore()

	_, err := kv.Get(ctx, "catalogsync/default/status")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, kv.Set(ctx, "catalogsync/default/status", []byte(`{"id":"a"}`)))
	value, err := kv.Get(ctx, "catalogsync/default/status")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a"}`, string(value))

	require.NoError(t, kv.Set(ctx, "catalogsync/default/status", []byte(`{"id":"b"}`)))
	value, err = kv.Get(ctx, "catalogsync/default/status")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"b"}`, string(value))

	require.NoError(t, kv.Delete(ctx, "catalogsync/default/status"))
	_, err = kv.Get(ctx, "catalogsync/default/status")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Deleting a missing key is not an error
	assert.NoError(t, kv.Delete(ctx, "missing"))
}

func TestKVStore_Update(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	kv := store.KVStore()

	wrote, err := kv.Update(ctx, "lease", func(cur []byte, exists bool) ([]byte, bool, error) {
		assert.False(t, exists)
		assert.Nil(t, cur)
		return []byte("owner-1"), true, nil
	})
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = kv.Update(ctx, "lease", func(cur []byte, exists bool) ([]byte, bool, error) {
		assert.True(t, exists)
		assert.Equal(t, "owner-1", string(cur))
		return nil, false, nil
	})
	require.NoError(t, err)
	assert.False(t, wrote)

	boom := errors.New("held")
	wrote, err = kv.Update(ctx, "lease", func([]byte, bool) ([]byte, bool, error) {
		return []byte("owner-2"), true, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, wrote)

	value, err := kv.Get(ctx, "lease")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", string(value))

	// nil next deletes the key
	wrote, err = kv.Update(ctx, "lease", func([]byte, bool) ([]byte, bool, error) {
		return nil, true, nil
	})
	require.NoError(t, err)
	assert.True(t, wrote)
	_, err = kv.Get(ctx, "lease")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestKVStore_UpdateIsAtomic(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	kv := store.KVStore()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wrote, err := kv.Update(ctx, "lease", func(_ []byte, exists bool) ([]byte, bool, error) {
				if exists {
					return nil, false, nil
				}
				return []byte("mine"), true, nil
			})
			if err == nil && wrote {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
}

// ==================== HistoryStore Tests ====================

func historyRow(id, scope string, status domain.SessionStatus, started time.Time) *domain.HistoryRecord {
	return &domain.HistoryRecord{
		SessionID: id,
		Scope:     scope,
		Type:      domain.SessionFull,
		Status:    status,
		StartedAt: started,
	}
}

func TestHistoryStore_InsertAndGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	history := store.HistoryStore()

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := historyRow("s1", "", domain.StatusRunning, started)
	rec.Processed = 4
	require.NoError(t, history.Insert(ctx, rec))

	got, err := history.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.Equal(t, domain.SessionFull, got.Type)
	assert.Equal(t, 4, got.Processed)
	assert.True(t, started.Equal(got.StartedAt))
	assert.True(t, got.CompletedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())

	_, err = history.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, history.Insert(ctx, nil), domain.ErrInvalidInput)
	assert.ErrorIs(t, history.Insert(ctx, &domain.HistoryRecord{}), domain.ErrInvalidInput)
	assert.Error(t, history.Insert(ctx, rec))
}

func TestHistoryStore_Update(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	history := store.HistoryStore()

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, history.Insert(ctx, historyRow("s1", "", domain.StatusRunning, started)))

	completed := started.Add(90 * time.Second)
	require.NoError(t, history.Update(ctx, "s1", map[string]any{
		domain.FieldStatus:      domain.StatusCompleted,
		domain.FieldProcessed:   250,
		domain.FieldCreated:     200,
		domain.FieldUpdated:     50,
		domain.FieldCompletedAt: completed,
		domain.FieldDurationMS:  int64(90000),
	}))

	got, err := history.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 250, got.Processed)
	assert.Equal(t, 200, got.Created)
	assert.Equal(t, 50, got.Updated)
	assert.True(t, completed.Equal(got.CompletedAt))
	assert.Equal(t, 90*time.Second, got.Duration)

	err = history.Update(ctx, "s1", map[string]any{"scope": "other"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = history.Update(ctx, "s1", map[string]any{domain.FieldProcessed: "many"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = history.Update(ctx, "missing", map[string]any{domain.FieldErrors: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHistoryStore_RecentAndRunning(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	history := store.HistoryStore()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, history.Insert(ctx, historyRow("s1", "", domain.StatusCompleted, base)))
	require.NoError(t, history.Insert(ctx, historyRow("s2", "", domain.StatusRunning, base.Add(time.Hour))))
	require.NoError(t, history.Insert(ctx, historyRow("s3", "eu", domain.StatusRunning, base.Add(2*time.Hour))))

	recent, err := history.Recent(ctx, domain.HistoryQuery{Scope: ""})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "s2", recent[0].SessionID)
	assert.Equal(t, "s1", recent[1].SessionID)

	all, err := history.Recent(ctx, domain.HistoryQuery{AllScopes: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "s3", all[0].SessionID)

	running, err := history.Running(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, running)
	assert.Equal(t, "s2", running.SessionID)

	running, err = history.Running(ctx, "us")
	require.NoError(t, err)
	assert.Nil(t, running)
}

func TestHistoryStore_Stats(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	history := store.HistoryStore()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rows := []struct {
		id       string
		status   domain.SessionStatus
		duration time.Duration
		done     time.Time
	}{
		{"s1", domain.StatusCompleted, 10 * time.Second, base.Add(time.Minute)},
		{"s2", domain.StatusCompleted, 30 * time.Second, base.Add(3 * time.Hour)},
		{"s3", domain.StatusFailed, 20 * time.Second, base.Add(2 * time.Hour)},
		{"s4", domain.StatusSyncingStock, 0, time.Time{}},
		{"s5", domain.StatusPaused, 0, time.Time{}},
	}
	for i, r := range rows {
		rec := historyRow(r.id, "", r.status, base.Add(time.Duration(i)*time.Hour))
		rec.Processed = 10
		rec.Created = 4
		rec.Duration = r.duration
		rec.CompletedAt = r.done
		require.NoError(t, history.Insert(ctx, rec))
	}

	stats, err := history.Stats(ctx, domain.HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Paused)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Stopped)
	assert.Equal(t, 50, stats.Records.Processed)
	assert.Equal(t, 20, stats.Records.Created)
	assert.Equal(t, 20*time.Second, stats.AverageDuration)
	assert.True(t, base.Add(3*time.Hour).Equal(stats.LastCompleted))

	empty, err := history.Stats(ctx, domain.HistoryQuery{Scope: "eu"})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)
	assert.True(t, empty.LastCompleted.IsZero())
}

func TestHistoryStore_Prune(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	history := store.HistoryStore()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"s1", "s2", "s3", "s4"} {
		require.NoError(t, history.Insert(ctx, historyRow(id, "", domain.StatusCompleted, base.Add(time.Duration(i)*time.Hour))))
	}

	removed, err := history.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	recent, err := history.Recent(ctx, domain.HistoryQuery{AllScopes: true})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "s4", recent[0].SessionID)
	assert.Equal(t, "s3", recent[1].SessionID)
}

// ==================== TaskQueue Tests ====================

func TestTaskQueue_ClaimOrder(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	queue := store.TaskQueue(time.Minute)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, queue.Schedule(ctx, domain.Task{Kind: domain.TaskTick, SessionID: "s", Page: 2}, now.Add(time.Second)))
	require.NoError(t, queue.Schedule(ctx, domain.Task{Kind: domain.TaskTick, SessionID: "s", Page: 0}, now))
	require.NoError(t, queue.Schedule(ctx, domain.Task{Kind: domain.TaskStock, SessionID: "s", Page: 1}, now))

	first, err := queue.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 0, first.Task.Page)
	assert.Equal(t, domain.TaskTick, first.Task.Kind)
	assert.Equal(t, 1, first.Attempts)

	second, err := queue.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, domain.TaskStock, second.Task.Kind)

	none, err := queue.Claim(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, none)

	third, err := queue.Claim(ctx, now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, 2, third.Task.Page)
}

func TestTaskQueue_RedeliversUnacked(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	queue := store.TaskQueue(time.Minute)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	since := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, queue.Schedule(ctx, domain.Task{Kind: domain.TaskTick, SessionID: "s", Scope: "eu", Since: since}, now))

	claimed, err := queue.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.True(t, since.Equal(claimed.Task.Since))

	hidden, err := queue.Claim(ctx, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Nil(t, hidden)

	again, err := queue.Claim(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, claimed.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)

	require.NoError(t, queue.Ack(ctx, again.ID))
	pending, err := queue.Pending(ctx, "eu")
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestTaskQueue_PendingAndPurge(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	queue := store.TaskQueue(0)
	now := time.Now()

	require.NoError(t, queue.Schedule(ctx, domain.Task{Kind: domain.TaskTick, Scope: "eu"}, now))
	require.NoError(t, queue.Schedule(ctx, domain.Task{Kind: domain.TaskTick, Scope: "eu"}, now))
	require.NoError(t, queue.Schedule(ctx, domain.Task{Kind: domain.TaskTick, Scope: "us"}, now))

	pending, err := queue.Pending(ctx, "eu")
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	removed, err := queue.Purge(ctx, "eu")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	pending, err = queue.Pending(ctx, "us")
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

// ==================== ProductStore Tests ====================

func TestProductStore_SaveAndGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	products := store.ProductStore()

	p := &domain.Product{
		SKU:        "SKU-1",
		Reference:  "A100/RED",
		Name:       "Shirt",
		Price:      19.5,
		Currency:   "EUR",
		Stock:      3,
		Categories: []string{"c1", "c2"},
		Attributes: map[string]string{"color": "red"},
	}
	id, created, err := products.SaveProduct(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Positive(t, id)

	got, err := products.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "SKU-1", got.SKU)
	assert.Equal(t, 19.5, got.Price)
	assert.Equal(t, []string{"c1", "c2"}, got.Categories)
	assert.Nil(t, got.Images)
	assert.Equal(t, "red", got.Attributes["color"])

	got.Name = "Red shirt"
	sameID, created, err := products.SaveProduct(ctx, got)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, sameID)

	got, err = products.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Red shirt", got.Name)

	_, _, err = products.SaveProduct(ctx, &domain.Product{ID: 999, SKU: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = products.GetProduct(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	count, err := products.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProductStore_UpdateStock(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	products := store.ProductStore()

	id, _, err := products.SaveProduct(ctx, &domain.Product{SKU: "SKU-1"})
	require.NoError(t, err)

	require.NoError(t, products.UpdateStock(ctx, id, 42))
	got, err := products.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Stock)

	assert.ErrorIs(t, products.UpdateStock(ctx, 999, 1), domain.ErrNotFound)
}

func TestProductStore_Indexes(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	products := store.ProductStore()

	parentID, _, err := products.SaveProduct(ctx, &domain.Product{SKU: "A100#parent", Reference: "A100#parent"})
	require.NoError(t, err)
	redID, _, err := products.SaveProduct(ctx, &domain.Product{SKU: "SKU-RED", Reference: "A100/RED", ParentID: parentID})
	require.NoError(t, err)
	loneID, _, err := products.SaveProduct(ctx, &domain.Product{Reference: "B200"})
	require.NoError(t, err)

	skus, err := products.SKUIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.IndexEntry{{Key: "A100#parent", ID: parentID}, {Key: "SKU-RED", ID: redID}}, skus)

	refs, err := products.ReferenceIndex(ctx)
	require.NoError(t, err)
	assert.Len(t, refs, 3)

	groups, err := products.GroupingIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.IndexEntry{{Key: "A100#parent", ID: parentID}, {Key: "B200", ID: loneID}}, groups)
}

func TestProductStore_SaveCategories(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	products := store.ProductStore()

	n, err := products.SaveCategories(ctx, []domain.Category{
		{ExternalID: "c1", Name: "Shirts"},
		{ExternalID: "c2", ParentID: "c1", Name: "Polos", Position: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = products.SaveCategories(ctx, []domain.Category{{ExternalID: "c1", Name: "Tops"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var name string
	var count int
	require.NoError(t, store.db.QueryRow("SELECT name FROM categories WHERE external_id = 'c1'").Scan(&name))
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM categories").Scan(&count))
	assert.Equal(t, "Tops", name)
	assert.Equal(t, 2, count)
}
