package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/catalog-sync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// --- Fakes shared by the service tests ---

var errCatalogDown = errors.New("catalog unavailable")

// fakeCatalog serves a fixed record list page by page.
type fakeCatalog struct {
	mu            sync.Mutex
	records       []domain.RawRecord
	categories    []domain.Category
	stock         map[string]int
	fetchFailures int
	pages         []int
	filters       []domain.PageFilter
	categoryCalls int
	stockCalls    [][]string
}

func newFakeCatalog(n int) *fakeCatalog {
	c := &fakeCatalog{stock: make(map[string]int)}
	for i := 0; i < n; i++ {
		sku := fmt.Sprintf("SKU-%04d", i)
		c.records = append(c.records, domain.RawRecord{"sku": sku, "reference": fmt.Sprintf("REF-%04d", i)})
		c.stock[sku] = i % 7
	}
	c.categories = []domain.Category{{ExternalID: "1", Name: "Root"}}
	return c
}

func (c *fakeCatalog) FetchPage(_ context.Context, page, pageSize int, filter domain.PageFilter) ([]domain.RawRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = append(c.pages, page)
	c.filters = append(c.filters, filter)
	if c.fetchFailures > 0 {
		c.fetchFailures--
		return nil, errCatalogDown
	}
	start := page * pageSize
	if start >= len(c.records) {
		return nil, nil
	}
	return c.records[start:min(start+pageSize, len(c.records))], nil
}

func (c *fakeCatalog) FetchCategoryTree(_ context.Context) ([]domain.Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categoryCalls++
	return c.categories, nil
}

func (c *fakeCatalog) FetchStock(_ context.Context, skus []string) (map[string]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stockCalls = append(c.stockCalls, append([]string(nil), skus...))
	out := make(map[string]int, len(skus))
	for _, s := range skus {
		if q, ok := c.stock[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

// fakeTransformer upserts records by SKU through the lookup index.
type fakeTransformer struct {
	mu       sync.Mutex
	products driven.ProductStore
	failures int
	panics   bool
	sizes    []int
}

func (f *fakeTransformer) TransformBatch(
	ctx context.Context,
	records []domain.RawRecord,
	_ domain.Profile,
	index driven.LookupIndex,
) (domain.BatchResult, error) {
	f.mu.Lock()
	f.sizes = append(f.sizes, len(records))
	fail := f.failures != 0
	if f.failures > 0 {
		f.failures--
	}
	panics := f.panics
	f.mu.Unlock()

	if panics {
		panic("transformer exploded")
	}
	if fail {
		return domain.BatchResult{}, errors.New("upstream timeout")
	}

	var res domain.BatchResult
	for _, r := range records {
		sku, _ := r["sku"].(string)
		ref, _ := r["reference"].(string)
		if sku == "" {
			res.Failed++
			res.Errors = append(res.Errors, "missing sku")
			continue
		}
		p := &domain.Product{SKU: sku, Reference: ref}
		if id, ok := index.FindBySKU(sku); ok {
			p.ID = id
		}
		id, created, err := f.products.SaveProduct(ctx, p)
		if err != nil {
			return res, err
		}
		index.Record(id, sku, ref, domain.ReferenceBase(ref))
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

func (f *fakeTransformer) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.sizes...)
}

// fakeNotifier records failure notifications.
type fakeNotifier struct {
	mu       sync.Mutex
	sessions []domain.Session
}

func (n *fakeNotifier) NotifyFailure(_ context.Context, sess domain.Session) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions = append(n.sessions, sess)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sessions)
}

// --- Harness ---

// testSettings returns settings with every delay zeroed so successors are
// due as soon as they are scheduled.
func testSettings() domain.SyncSettings {
	st := domain.DefaultSyncSettings()
	st.StartDelay = 0
	st.SubBatchDelay = 0
	st.PageDelay = 0
	st.RetryDelay = 0
	st.StockDelay = 0
	return st
}

type harness struct {
	kv          *memory.KVStore
	state       *SessionState
	history     *memory.HistoryStore
	ledger      *HistoryLedger
	queue       *memory.TaskQueue
	products    *memory.ProductStore
	catalog     *fakeCatalog
	transformer *fakeTransformer
	notifier    *fakeNotifier
	launcher    *Launcher
	processor   *BatchProcessor
	worker      *QueueWorker
	settings    domain.SyncSettings
}

func newHarness(t *testing.T, records int, tweak ...func(*domain.SyncSettings)) *harness {
	t.Helper()
	st := testSettings()
	for _, fn := range tweak {
		fn(&st)
	}

	h := &harness{
		kv:       memory.NewKVStore(),
		history:  memory.NewHistoryStore(),
		queue:    memory.NewTaskQueue(0),
		products: memory.NewProductStore(),
		catalog:  newFakeCatalog(records),
		notifier: &fakeNotifier{},
		settings: st,
	}
	h.state = NewSessionState(h.kv)
	h.ledger = NewHistoryLedger(h.history)
	h.transformer = &fakeTransformer{products: h.products}
	h.launcher = NewLauncher(h.state, h.ledger, h.queue, st)
	h.processor = NewBatchProcessor(ProcessorDeps{
		State:       h.state,
		Ledger:      h.ledger,
		Catalog:     h.catalog,
		Transformer: h.transformer,
		Products:    h.products,
		Notifier:    h.notifier,
	}, st)
	h.worker = NewQueueWorker(h.queue, h.processor, NewDispatcher(h.queue), time.Millisecond)
	return h
}

// drain runs queued tasks until the queue is idle.
func (h *harness) drain(t *testing.T) int {
	t.Helper()
	n, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	return n
}

// runTasks claims and runs exactly n due tasks.
func (h *harness) runTasks(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		qt, err := h.queue.Claim(ctx, time.Now())
		require.NoError(t, err)
		require.NotNil(t, qt, "expected a due task at step %d", i)
		require.NoError(t, h.worker.handle(ctx, qt))
	}
}

func (h *harness) session(t *testing.T, scope string) *domain.Session {
	t.Helper()
	sess, err := h.state.Load(context.Background(), scope)
	require.NoError(t, err)
	return sess
}

func (h *harness) record(t *testing.T, id string) *domain.HistoryRecord {
	t.Helper()
	rec, err := h.history.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (h *harness) productCount(t *testing.T) int {
	t.Helper()
	n, err := h.products.CountProducts(context.Background())
	require.NoError(t, err)
	return n
}
