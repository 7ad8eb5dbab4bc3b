package scheduler

import (
	"context"
	"time"

	"github.com/courseclub/CourseClub/internal/pkg/payments"
	"github.com/gofiber/fiber/v2/log"
)

// ReconcileRunner is the periodic pull path of payment reconciliation: it
// asks the gateways for the status of payments that have been pending
// longer than the grace period and applies the usual transitions.
type ReconcileRunner struct {
	Payments    *payments.Service
	GracePeriod time.Duration
	BatchSize   int
}

// RunOnce pulls status for one batch of stale pending payments.
func (r *ReconcileRunner) RunOnce(ctx context.Context) error {
	grace := r.GracePeriod
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	settled, err := r.Payments.ReconcilePending(ctx, time.Now().UTC().Add(-grace), batch)
	if err != nil {
		return err
	}
	if settled > 0 {
		log.Infof("[Reconcile] Settled %d pending payment(s)", settled)
	}
	return nil
}
