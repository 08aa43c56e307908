package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
)

// errRollbackLost signals that a concurrent rollback already transitioned
// the record; the loser skips its compensating delta.
var errRollbackLost = errors.New("commission no longer completed")

// OnPurchaseRolledBack reverses the commissions of a canceled source
// purchase: every completed record for the source key moves to rolled_back
// and its amount is subtracted from the beneficiary's earnings, floored at
// zero. Generation counts are left untouched because the referral
// relationship outlives the reversed commission. Records already rolled
// back, pending or failed are skipped.
func (e *Engine) OnPurchaseRolledBack(ctx context.Context, sourceTransactionID, sourceModel, reason string) (int, error) {
	timer := prometheus.NewTimer(engineDurationHist.WithLabelValues("purchase_rolled_back"))
	defer timer.ObserveDuration()

	if sourceTransactionID == "" {
		return 0, fmt.Errorf("%w: source transaction id is required", domain.ErrInvalidInput)
	}
	if sourceModel == "" {
		return 0, fmt.Errorf("%w: source transaction model is required", domain.ErrInvalidInput)
	}

	records, err := e.commissions.ListCompletedBySource(ctx, sourceTransactionID, sourceModel)
	if err != nil {
		engineErrorsCounter.WithLabelValues("purchase_rolled_back").Inc()
		return 0, fmt.Errorf("failed to list commissions for rollback: %w", err)
	}

	rolledBack := 0
	now := time.Now().UTC()

	for _, rec := range records {
		rec := rec
		txErr := pgx.BeginFunc(ctx, e.db, func(tx pgx.Tx) error {
			updated, err := e.commissions.MarkRolledBack(ctx, tx, rec.ID, reason, now)
			if err != nil {
				return err
			}
			if !updated {
				return errRollbackLost
			}
			return e.stats.ApplyRollbackDelta(ctx, tx, rec.Beneficiary, rec.Generation, rec.Amount)
		})
		if txErr != nil {
			if errors.Is(txErr, errRollbackLost) {
				continue
			}
			engineErrorsCounter.WithLabelValues("purchase_rolled_back").Inc()
			return rolledBack, fmt.Errorf("failed to roll back commission %s: %w", rec.ID, txErr)
		}

		rolledBack++
		commissionRollbacksCounter.WithLabelValues(strconv.Itoa(rec.Generation)).Inc()
		e.publish(ctx, SubjectCommissionRolledBack, CommissionRolledBackEvent{
			CommissionID:      rec.ID,
			Beneficiary:       rec.Beneficiary,
			SourceTransaction: rec.SourceTransaction,
			Generation:        rec.Generation,
			Amount:            rec.Amount,
			Reason:            reason,
			RolledBackAt:      now,
		})
	}

	e.logger.InfoContext(ctx, "purchase rolled back",
		"source_transaction", sourceTransactionID, "source_model", sourceModel,
		"rolled_back", rolledBack)
	return rolledBack, nil
}
