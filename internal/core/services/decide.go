package services

import (
	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// decideNext picks the successor of a tick that processed records up to
// nextOffset of a page holding pageLen records.
//
// A page shorter than the page size is not treated as the last one; only an
// empty page ends the product phase.
func decideNext(sess *domain.Session, page, nextOffset, pageLen int, st domain.SyncSettings) domain.Step {
	switch {
	case sess.LimitReached():
		return domain.ScheduleStock{Delay: st.StockDelay, Reason: "limit reached"}
	case nextOffset < pageLen:
		return domain.ScheduleTick{Page: page, Offset: nextOffset, Delay: st.SubBatchDelay}
	case page+1 >= st.MaxPages:
		return domain.ScheduleStock{Delay: st.StockDelay, Reason: "page ceiling reached"}
	default:
		return domain.ScheduleTick{Page: page + 1, Offset: 0, Delay: st.PageDelay}
	}
}

// adaptOnFailure halves the batch size (rounding up, never below the
// minimum) and counts the failure. giveUp is set when the batch was already
// at the minimum or the failure count reached the maximum.
func adaptOnFailure(size, failures int, st domain.SyncSettings) (newSize, newFailures int, giveUp bool) {
	newFailures = failures + 1
	if size <= st.MinBatchSize {
		return size, newFailures, true
	}
	newSize = max((size+1)/2, st.MinBatchSize)
	return newSize, newFailures, newFailures >= st.MaxFailures
}
