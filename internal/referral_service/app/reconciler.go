package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
)

// Resync recomputes a user's aggregates from the ledger of record (completed
// records only) and overwrites the stats row, creating it when absent. The
// operation is idempotent: running it twice in a row yields the same stats.
func (e *Engine) Resync(ctx context.Context, userID uuid.UUID) (*domain.ReferralStats, error) {
	timer := prometheus.NewTimer(engineDurationHist.WithLabelValues("resync"))
	defer timer.ObserveDuration()

	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}

	stats, err := e.commissions.AggregateCompleted(ctx, userID)
	if err != nil {
		engineErrorsCounter.WithLabelValues("resync").Inc()
		return nil, fmt.Errorf("failed to aggregate ledger: %w", err)
	}
	if err := e.stats.Replace(ctx, stats); err != nil {
		engineErrorsCounter.WithLabelValues("resync").Inc()
		return nil, fmt.Errorf("failed to write reconciled stats: %w", err)
	}

	statsResyncsCounter.Inc()
	e.logger.InfoContext(ctx, "referral stats reconciled",
		"user", userID, "total_earnings", stats.TotalEarnings, "referred_users", stats.ReferredUsers)
	return stats, nil
}
