package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
)

// Querier is the subset of pgx execution methods shared by *pgxpool.Pool and
// pgx.Tx. Repository methods that must join an engine-level transaction take
// one explicitly.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CommissionRepository is the append-only commission ledger.
type CommissionRepository interface {
	// Insert writes a new record. It returns domain.ErrDuplicateCommission
	// when the (beneficiary, sourceTransaction, generation) unique index
	// rejects the row; that constraint, not this method's callers, is the
	// authoritative duplicate guard.
	Insert(ctx context.Context, q Querier, rec *domain.CommissionRecord) error

	// HasCompletedSource reports whether any completed record exists for the
	// source transaction. Used as a fast-path duplicate pre-check only.
	HasCompletedSource(ctx context.Context, sourceTransaction, sourceModel string) (bool, error)

	// CountCompletedForReferrer counts completed records crediting the
	// beneficiary for this referred user at this generation.
	CountCompletedForReferrer(ctx context.Context, q Querier, beneficiary, referredUser uuid.UUID, generation int) (int, error)

	// ListCompletedBySource returns the completed records for a source
	// transaction, for the rollback coordinator.
	ListCompletedBySource(ctx context.Context, sourceTransaction, sourceModel string) ([]domain.CommissionRecord, error)

	// MarkRolledBack transitions a completed record to rolled_back. It
	// reports false when the record was no longer completed (e.g. a
	// concurrent rollback won).
	MarkRolledBack(ctx context.Context, q Querier, id uuid.UUID, reason string, at time.Time) (bool, error)

	// AggregateCompleted recomputes a user's stats from completed records
	// only; this is the reconciler's source query.
	AggregateCompleted(ctx context.Context, beneficiary uuid.UUID) (*domain.ReferralStats, error)

	// HasCompletedForReferrer reports whether any completed record ties the
	// referred user to the beneficiary at the generation; used by the
	// registrar hook to avoid double-counting.
	HasCompletedForReferrer(ctx context.Context, beneficiary, referredUser uuid.UUID, generation int) (bool, error)

	// ListByBeneficiary pages a beneficiary's ledger, newest first.
	ListByBeneficiary(ctx context.Context, beneficiary uuid.UUID, limit, offset int) ([]domain.CommissionRecord, error)
}

// StatsRepository maintains the per-user aggregates as field-wise deltas so
// concurrent commissions for the same beneficiary compose.
type StatsRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.ReferralStats, error)

	// ApplyCommissionDelta adds amount to the generation's earnings and the
	// total, incrementing the generation count when this is the first
	// completed commission from that referred user.
	ApplyCommissionDelta(ctx context.Context, q Querier, userID uuid.UUID, generation int, amount float64, firstForReferrer bool) error

	// RecomputeReferredUsers refreshes referred_users as the distinct count
	// of purchasers credited at generation 1.
	RecomputeReferredUsers(ctx context.Context, q Querier, userID uuid.UUID) error

	// ApplyRollbackDelta subtracts amount from the generation's earnings and
	// the total, flooring at zero. Counts are never decremented.
	ApplyRollbackDelta(ctx context.Context, q Querier, userID uuid.UUID, generation int, amount float64) error

	// IncrementCount bumps the generation count (and referred_users for
	// generation 1) without touching earnings; used by the registrar hook.
	IncrementCount(ctx context.Context, userID uuid.UUID, generation int) error

	// Replace overwrites the stats row with reconciled values, creating it
	// if absent.
	Replace(ctx context.Context, stats *domain.ReferralStats) error
}

// RatesRepository provides the commission configuration row.
type RatesRepository interface {
	// Get returns the current rates, writing the defaults atomically when
	// the row or any field is missing.
	Get(ctx context.Context) (*domain.CommissionRates, error)
	Update(ctx context.Context, rates *domain.CommissionRates) error
}

// UserDirectory is the read-only view of the platform's user directory.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByUserName(ctx context.Context, userName string) (*domain.User, error)
	// ListReferredBy returns the users whose referredByCode equals the given
	// userName; this is the reverse lookup behind the referral tree.
	ListReferredBy(ctx context.Context, userName string) ([]domain.User, error)
}
