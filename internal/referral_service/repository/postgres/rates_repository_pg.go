package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
	"github.com/sharevest/referral-service/internal/referral_service/repository"
)

type pgRatesRepository struct {
	db     repository.Querier
	logger *slog.Logger
}

// NewPgRatesRepository creates the PostgreSQL commission configuration
// provider.
func NewPgRatesRepository(db repository.Querier, logger *slog.Logger) repository.RatesRepository {
	return &pgRatesRepository{db: db, logger: logger}
}

// Get returns the configuration row, writing the defaults first when it is
// missing. The insert-then-select pair is race-free: concurrent first reads
// both land on the single row.
func (r *pgRatesRepository) Get(ctx context.Context) (*domain.CommissionRates, error) {
	defaults := domain.DefaultRates()
	seed := `
		INSERT INTO referral_config (id, g1_percent, g2_percent, g3_percent, cofounder_ratio)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, seed, defaults.Generation1, defaults.Generation2, defaults.Generation3, defaults.CoFounderRatio); err != nil {
		return nil, fmt.Errorf("failed to seed commission config: %w", err)
	}

	query := `
		SELECT g1_percent, g2_percent, g3_percent, cofounder_ratio, updated_at
		FROM referral_config WHERE id = 1
	`
	rates := &domain.CommissionRates{}
	err := r.db.QueryRow(ctx, query).Scan(
		&rates.Generation1, &rates.Generation2, &rates.Generation3, &rates.CoFounderRatio, &rates.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read commission config: %w", err)
	}
	return rates, nil
}

func (r *pgRatesRepository) Update(ctx context.Context, rates *domain.CommissionRates) error {
	query := `
		INSERT INTO referral_config (id, g1_percent, g2_percent, g3_percent, cofounder_ratio, updated_at)
		VALUES (1, $1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET g1_percent = EXCLUDED.g1_percent,
		    g2_percent = EXCLUDED.g2_percent,
		    g3_percent = EXCLUDED.g3_percent,
		    cofounder_ratio = EXCLUDED.cofounder_ratio,
		    updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query, rates.Generation1, rates.Generation2, rates.Generation3, rates.CoFounderRatio); err != nil {
		return fmt.Errorf("failed to update commission config: %w", err)
	}
	return nil
}
