package rooms

import (
	"context"
	"time"
)

// RunReconciler periodically reconciles every room with live subscribers
// against durable membership, dropping subscriptions whose user was removed
// while the removal notice was lost. It blocks until ctx is cancelled.
func (e *Engine) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reconcileAll(ctx)
		}
	}
}

func (e *Engine) reconcileAll(ctx context.Context) {
	var total int
	for _, roomID := range e.index.Rooms() {
		if ctx.Err() != nil {
			return
		}
		dropped, err := e.Reconcile(ctx, roomID)
		if err != nil {
			e.logger.Warn(ctx, "Failed to reconcile room %d: %v", roomID, err)
			continue
		}
		total += dropped
	}
	if total > 0 {
		e.logger.Info(ctx, "Reconciliation dropped %d ghost subscriptions", total)
	}
}
