package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
)

// OnUserRegistered bumps per-generation referral counts when a referred user
// first signs up, before any purchase. Earnings are untouched; a count is
// only added when no commission record already ties the new user to that
// ancestor at that generation.
func (e *Engine) OnUserRegistered(ctx context.Context, userID uuid.UUID) error {
	timer := prometheus.NewTimer(engineDurationHist.WithLabelValues("user_registered"))
	defer timer.ObserveDuration()

	if userID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
		}
		engineErrorsCounter.WithLabelValues("user_registered").Inc()
		return fmt.Errorf("failed to look up new user: %w", err)
	}
	if user.ReferredByCode == "" {
		return nil
	}

	ancestors, err := e.chain.Resolve(ctx, user)
	if err != nil {
		engineErrorsCounter.WithLabelValues("user_registered").Inc()
		return err
	}

	for i, ancestor := range ancestors {
		generation := i + 1
		credited, err := e.commissions.HasCompletedForReferrer(ctx, ancestor.ID, user.ID, generation)
		if err != nil {
			engineErrorsCounter.WithLabelValues("user_registered").Inc()
			return fmt.Errorf("failed to check prior commissions: %w", err)
		}
		if credited {
			continue
		}
		if err := e.stats.IncrementCount(ctx, ancestor.ID, generation); err != nil {
			engineErrorsCounter.WithLabelValues("user_registered").Inc()
			return fmt.Errorf("failed to increment generation %d count: %w", generation, err)
		}
	}

	e.logger.InfoContext(ctx, "registration counted for ancestors",
		"user", user.ID, "ancestors", len(ancestors))
	return nil
}
