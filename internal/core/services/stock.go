package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/logger"
)

// ProcessStockPhase reconciles stock levels and completes the session.
// A failed stock pass is logged and never fails the session.
func (p *BatchProcessor) ProcessStockPhase(ctx context.Context, task domain.Task) (step domain.Step) {
	started := p.now()
	log := logger.ForSession(task.SessionID, task.Scope)
	var sess *domain.Session

	defer func() {
		if r := recover(); r != nil {
			log.Error("stock phase panicked", "panic", r)
			step = domain.NoOp{Reason: fmt.Sprintf("panic: %v", r)}
			if sess != nil && sess.ID == task.SessionID && sess.Status == domain.StatusSyncingStock {
				step = p.finish(ctx, sess, domain.StatusCompleted, "stock sync aborted", nil)
			}
		}
		p.metrics.RecordTick(ctx, task.Scope, domain.StepName(step), p.now().Sub(started))
	}()

	var err error
	sess, err = p.state.Load(ctx, task.Scope)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NoOp{Reason: "no session record"}
	}
	if err != nil {
		log.Warn("loading session failed, retrying stock phase", "error", err)
		return domain.ScheduleStock{Delay: p.settings.RetryDelay, Reason: "retry"}
	}
	if sess.ID != task.SessionID || sess.Status != domain.StatusSyncingStock {
		log.Debug("dropping stale stock task", "live_session", sess.ID, "status", sess.Status)
		return domain.NoOp{Reason: "stale tick"}
	}

	cache := NewLookupCache(p.products)
	if err := cache.Warm(ctx); err != nil {
		log.Warn("stock sync skipped", "error", err)
	} else {
		updated, err := p.syncStock(ctx, cache)
		if err != nil {
			log.Warn("stock sync incomplete", "updated", updated, "error", err)
		} else {
			log.Info("stock synced", "updated", updated)
		}
	}

	return p.finish(ctx, sess, domain.StatusCompleted, "completed", nil)
}

// syncStock fetches stock levels for every cached SKU in page-sized chunks.
func (p *BatchProcessor) syncStock(ctx context.Context, cache *LookupCache) (int, error) {
	skus := make([]string, 0, cache.Stats().SKUs)
	for _, sku := range cache.SKUs() {
		if !strings.Contains(sku, domain.SyntheticSuffix) {
			skus = append(skus, sku)
		}
	}

	updated := 0
	for start := 0; start < len(skus); start += p.settings.PageSize {
		chunk := skus[start:min(start+p.settings.PageSize, len(skus))]
		levels, err := p.catalog.FetchStock(ctx, chunk)
		if err != nil {
			return updated, fmt.Errorf("fetch stock: %w", err)
		}
		for _, sku := range chunk {
			qty, ok := levels[sku]
			if !ok {
				continue
			}
			id, ok := cache.FindBySKU(sku)
			if !ok {
				continue
			}
			if err := p.products.UpdateStock(ctx, id, qty); err != nil {
				return updated, fmt.Errorf("update stock for %s: %w", sku, err)
			}
			updated++
		}
	}
	return updated, nil
}
