package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
	"github.com/sharevest/referral-service/internal/referral_service/repository"
)

const pgUniqueViolation = "23505"

const commissionColumns = `id, beneficiary, referred_user, source_transaction, source_transaction_model,
	       generation, purchase_type, currency, amount, status, base_amount, rate, calculated_at,
	       cofounder_shares, equivalent_regular_shares, share_to_regular_ratio,
	       rolled_back_at, rollback_reason, created_at`

type pgCommissionRepository struct {
	db     repository.Querier
	logger *slog.Logger
}

// NewPgCommissionRepository creates the PostgreSQL commission ledger.
func NewPgCommissionRepository(db repository.Querier, logger *slog.Logger) repository.CommissionRepository {
	return &pgCommissionRepository{db: db, logger: logger}
}

func (r *pgCommissionRepository) Insert(ctx context.Context, q repository.Querier, rec *domain.CommissionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var shares, equivalent, ratio *int
	if rec.Metadata != nil {
		shares = &rec.Metadata.CoFounderShares
		equivalent = &rec.Metadata.EquivalentRegularShares
		ratio = &rec.Metadata.ShareToRegularRatio
	}

	query := `
		INSERT INTO commission_records (id, beneficiary, referred_user, source_transaction,
		                                source_transaction_model, generation, purchase_type, currency,
		                                amount, status, base_amount, rate, calculated_at,
		                                cofounder_shares, equivalent_regular_shares, share_to_regular_ratio,
		                                created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := q.Exec(ctx, query,
		rec.ID, rec.Beneficiary, rec.ReferredUser, rec.SourceTransaction,
		rec.SourceTransactionModel, rec.Generation, rec.PurchaseType, rec.Currency,
		rec.Amount, rec.Status, rec.Details.BaseAmount, rec.Details.Rate, rec.Details.CalculatedAt,
		shares, equivalent, ratio,
		rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrDuplicateCommission
		}
		return fmt.Errorf("failed to insert commission record: %w", err)
	}
	return nil
}

func (r *pgCommissionRepository) HasCompletedSource(ctx context.Context, sourceTransaction, sourceModel string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM commission_records
			WHERE source_transaction = $1 AND source_transaction_model = $2 AND status = $3
		)
	`
	var exists bool
	err := r.db.QueryRow(ctx, query, sourceTransaction, sourceModel, domain.CommissionStatusCompleted).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check completed source: %w", err)
	}
	return exists, nil
}

func (r *pgCommissionRepository) CountCompletedForReferrer(ctx context.Context, q repository.Querier, beneficiary, referredUser uuid.UUID, generation int) (int, error) {
	query := `
		SELECT COUNT(*) FROM commission_records
		WHERE beneficiary = $1 AND referred_user = $2 AND generation = $3 AND status = $4
	`
	var count int
	err := q.QueryRow(ctx, query, beneficiary, referredUser, generation, domain.CommissionStatusCompleted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed commissions for referrer: %w", err)
	}
	return count, nil
}

func (r *pgCommissionRepository) ListCompletedBySource(ctx context.Context, sourceTransaction, sourceModel string) ([]domain.CommissionRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM commission_records
		WHERE source_transaction = $1 AND source_transaction_model = $2 AND status = $3
		ORDER BY generation
	`, commissionColumns)

	rows, err := r.db.Query(ctx, query, sourceTransaction, sourceModel, domain.CommissionStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions by source: %w", err)
	}
	defer rows.Close()
	return scanCommissions(rows)
}

func (r *pgCommissionRepository) MarkRolledBack(ctx context.Context, q repository.Querier, id uuid.UUID, reason string, at time.Time) (bool, error) {
	// Guarded on status so a concurrent rollback of the same record is a
	// no-op for the loser.
	query := `
		UPDATE commission_records
		SET status = $1, rolled_back_at = $2, rollback_reason = $3
		WHERE id = $4 AND status = $5
	`
	tag, err := q.Exec(ctx, query, domain.CommissionStatusRolledBack, at, reason, id, domain.CommissionStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to mark commission rolled back: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgCommissionRepository) AggregateCompleted(ctx context.Context, beneficiary uuid.UUID) (*domain.ReferralStats, error) {
	query := `
		SELECT generation, COALESCE(SUM(amount), 0), COUNT(DISTINCT referred_user)
		FROM commission_records
		WHERE beneficiary = $1 AND status = $2
		GROUP BY generation
	`
	rows, err := r.db.Query(ctx, query, beneficiary, domain.CommissionStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate completed commissions: %w", err)
	}
	defer rows.Close()

	stats := &domain.ReferralStats{UserID: beneficiary}
	for rows.Next() {
		var generation, count int
		var earnings float64
		if err := rows.Scan(&generation, &earnings, &count); err != nil {
			return nil, fmt.Errorf("failed to scan commission aggregate: %w", err)
		}
		gen := stats.Generation(generation)
		if gen == nil {
			continue
		}
		gen.Earnings = earnings
		gen.Count = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.TotalEarnings = stats.Generation1.Earnings + stats.Generation2.Earnings + stats.Generation3.Earnings
	stats.ReferredUsers = stats.Generation1.Count
	return stats, nil
}

func (r *pgCommissionRepository) HasCompletedForReferrer(ctx context.Context, beneficiary, referredUser uuid.UUID, generation int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM commission_records
			WHERE beneficiary = $1 AND referred_user = $2 AND generation = $3 AND status = $4
		)
	`
	var exists bool
	err := r.db.QueryRow(ctx, query, beneficiary, referredUser, generation, domain.CommissionStatusCompleted).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check commissions for referrer: %w", err)
	}
	return exists, nil
}

func (r *pgCommissionRepository) ListByBeneficiary(ctx context.Context, beneficiary uuid.UUID, limit, offset int) ([]domain.CommissionRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM commission_records
		WHERE beneficiary = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, commissionColumns)

	rows, err := r.db.Query(ctx, query, beneficiary, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions by beneficiary: %w", err)
	}
	defer rows.Close()
	return scanCommissions(rows)
}

func scanCommissions(rows pgx.Rows) ([]domain.CommissionRecord, error) {
	var records []domain.CommissionRecord
	for rows.Next() {
		var rec domain.CommissionRecord
		var shares, equivalent, ratio *int
		err := rows.Scan(
			&rec.ID, &rec.Beneficiary, &rec.ReferredUser, &rec.SourceTransaction, &rec.SourceTransactionModel,
			&rec.Generation, &rec.PurchaseType, &rec.Currency, &rec.Amount, &rec.Status,
			&rec.Details.BaseAmount, &rec.Details.Rate, &rec.Details.CalculatedAt,
			&shares, &equivalent, &ratio,
			&rec.RolledBackAt, &rec.RollbackReason, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commission record: %w", err)
		}
		if shares != nil {
			rec.Metadata = &domain.CoFounderMetadata{
				CoFounderShares:         *shares,
				EquivalentRegularShares: derefInt(equivalent),
				ShareToRegularRatio:     derefInt(ratio),
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
