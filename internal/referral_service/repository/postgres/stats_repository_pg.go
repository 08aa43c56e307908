package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
	"github.com/sharevest/referral-service/internal/referral_service/repository"
)

type pgStatsRepository struct {
	db     repository.Querier
	logger *slog.Logger
}

// NewPgStatsRepository creates the PostgreSQL aggregate store.
func NewPgStatsRepository(db repository.Querier, logger *slog.Logger) repository.StatsRepository {
	return &pgStatsRepository{db: db, logger: logger}
}

// genColumn maps a validated generation to its column prefix. Callers must
// pass 1..3.
func genColumn(generation int) (string, error) {
	switch generation {
	case 1:
		return "g1", nil
	case 2:
		return "g2", nil
	case 3:
		return "g3", nil
	}
	return "", fmt.Errorf("generation out of range: %d", generation)
}

func (r *pgStatsRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.ReferralStats, error) {
	query := `
		SELECT user_id, referred_users, total_earnings,
		       g1_count, g1_earnings, g2_count, g2_earnings, g3_count, g3_earnings, updated_at
		FROM referral_stats WHERE user_id = $1
	`
	stats := &domain.ReferralStats{}
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&stats.UserID, &stats.ReferredUsers, &stats.TotalEarnings,
		&stats.Generation1.Count, &stats.Generation1.Earnings,
		&stats.Generation2.Count, &stats.Generation2.Earnings,
		&stats.Generation3.Count, &stats.Generation3.Earnings,
		&stats.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A user with no referral activity has all-zero stats.
			return &domain.ReferralStats{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get referral stats: %w", err)
	}
	return stats, nil
}

func (r *pgStatsRepository) ensureRow(ctx context.Context, q repository.Querier, userID uuid.UUID) error {
	_, err := q.Exec(ctx, `INSERT INTO referral_stats (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("failed to ensure referral stats row: %w", err)
	}
	return nil
}

func (r *pgStatsRepository) ApplyCommissionDelta(ctx context.Context, q repository.Querier, userID uuid.UUID, generation int, amount float64, firstForReferrer bool) error {
	col, err := genColumn(generation)
	if err != nil {
		return err
	}
	if err := r.ensureRow(ctx, q, userID); err != nil {
		return err
	}

	countDelta := 0
	if firstForReferrer {
		countDelta = 1
	}
	// Field-wise increments so concurrent commissions for the same
	// beneficiary compose.
	query := fmt.Sprintf(`
		UPDATE referral_stats
		SET %[1]s_earnings = %[1]s_earnings + $2,
		    total_earnings = total_earnings + $2,
		    %[1]s_count = %[1]s_count + $3,
		    updated_at = now()
		WHERE user_id = $1
	`, col)
	if _, err := q.Exec(ctx, query, userID, amount, countDelta); err != nil {
		return fmt.Errorf("failed to apply commission delta: %w", err)
	}
	return nil
}

func (r *pgStatsRepository) RecomputeReferredUsers(ctx context.Context, q repository.Querier, userID uuid.UUID) error {
	query := `
		UPDATE referral_stats
		SET referred_users = (
			SELECT COUNT(DISTINCT referred_user) FROM commission_records
			WHERE beneficiary = $1 AND generation = 1 AND status = $2
		),
		    updated_at = now()
		WHERE user_id = $1
	`
	if _, err := q.Exec(ctx, query, userID, domain.CommissionStatusCompleted); err != nil {
		return fmt.Errorf("failed to recompute referred users: %w", err)
	}
	return nil
}

func (r *pgStatsRepository) ApplyRollbackDelta(ctx context.Context, q repository.Querier, userID uuid.UUID, generation int, amount float64) error {
	col, err := genColumn(generation)
	if err != nil {
		return err
	}
	// Earnings floor at zero; counts reflect the referral relationship and
	// are never decremented.
	query := fmt.Sprintf(`
		UPDATE referral_stats
		SET %[1]s_earnings = GREATEST(0, %[1]s_earnings - $2),
		    total_earnings = GREATEST(0, total_earnings - $2),
		    updated_at = now()
		WHERE user_id = $1
	`, col)
	if _, err := q.Exec(ctx, query, userID, amount); err != nil {
		return fmt.Errorf("failed to apply rollback delta: %w", err)
	}
	return nil
}

func (r *pgStatsRepository) IncrementCount(ctx context.Context, userID uuid.UUID, generation int) error {
	col, err := genColumn(generation)
	if err != nil {
		return err
	}
	if err := r.ensureRow(ctx, r.db, userID); err != nil {
		return err
	}

	referredDelta := 0
	if generation == 1 {
		referredDelta = 1
	}
	query := fmt.Sprintf(`
		UPDATE referral_stats
		SET %[1]s_count = %[1]s_count + 1,
		    referred_users = referred_users + $2,
		    updated_at = now()
		WHERE user_id = $1
	`, col)
	if _, err := r.db.Exec(ctx, query, userID, referredDelta); err != nil {
		return fmt.Errorf("failed to increment referral count: %w", err)
	}
	return nil
}

func (r *pgStatsRepository) Replace(ctx context.Context, stats *domain.ReferralStats) error {
	query := `
		INSERT INTO referral_stats (user_id, referred_users, total_earnings,
		                            g1_count, g1_earnings, g2_count, g2_earnings, g3_count, g3_earnings, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (user_id) DO UPDATE
		SET referred_users = EXCLUDED.referred_users,
		    total_earnings = EXCLUDED.total_earnings,
		    g1_count = EXCLUDED.g1_count, g1_earnings = EXCLUDED.g1_earnings,
		    g2_count = EXCLUDED.g2_count, g2_earnings = EXCLUDED.g2_earnings,
		    g3_count = EXCLUDED.g3_count, g3_earnings = EXCLUDED.g3_earnings,
		    updated_at = now()
	`
	_, err := r.db.Exec(ctx, query,
		stats.UserID, stats.ReferredUsers, stats.TotalEarnings,
		stats.Generation1.Count, stats.Generation1.Earnings,
		stats.Generation2.Count, stats.Generation2.Earnings,
		stats.Generation3.Count, stats.Generation3.Earnings,
	)
	if err != nil {
		return fmt.Errorf("failed to replace referral stats: %w", err)
	}
	return nil
}
