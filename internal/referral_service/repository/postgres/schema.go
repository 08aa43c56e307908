package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sharevest/referral-service/internal/referral_service/repository"
)

// Schema statements are idempotent so the service can apply them at startup.
// The users table is owned by the account subsystem; it is created here only
// so a standalone deployment has somewhere to read the directory from.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		user_name TEXT UNIQUE NOT NULL,
		referred_by_code TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS commission_records (
		id UUID PRIMARY KEY,
		beneficiary UUID NOT NULL,
		referred_user UUID NOT NULL,
		source_transaction TEXT NOT NULL,
		source_transaction_model TEXT NOT NULL,
		generation SMALLINT NOT NULL CHECK (generation BETWEEN 1 AND 3),
		purchase_type TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL CHECK (amount >= 0),
		status TEXT NOT NULL CHECK (status IN ('pending','completed','failed','rolled_back')),
		base_amount DOUBLE PRECISION NOT NULL,
		rate DOUBLE PRECISION NOT NULL,
		calculated_at TIMESTAMPTZ NOT NULL,
		cofounder_shares INTEGER,
		equivalent_regular_shares INTEGER,
		share_to_regular_ratio INTEGER,
		rolled_back_at TIMESTAMPTZ,
		rollback_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	// The composite unique index is the authoritative duplicate guard for
	// concurrent retries of the same purchase event.
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_commission_beneficiary_source_gen
		ON commission_records (beneficiary, source_transaction, generation)`,
	`CREATE INDEX IF NOT EXISTS idx_commission_beneficiary_status
		ON commission_records (beneficiary, status)`,
	`CREATE INDEX IF NOT EXISTS idx_commission_beneficiary_gen_status
		ON commission_records (beneficiary, generation, status)`,
	`CREATE INDEX IF NOT EXISTS idx_commission_source
		ON commission_records (source_transaction, source_transaction_model)`,
	`CREATE INDEX IF NOT EXISTS idx_commission_created_at
		ON commission_records (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS referral_stats (
		user_id UUID PRIMARY KEY,
		referred_users INTEGER NOT NULL DEFAULT 0,
		total_earnings DOUBLE PRECISION NOT NULL DEFAULT 0,
		g1_count INTEGER NOT NULL DEFAULT 0,
		g1_earnings DOUBLE PRECISION NOT NULL DEFAULT 0,
		g2_count INTEGER NOT NULL DEFAULT 0,
		g2_earnings DOUBLE PRECISION NOT NULL DEFAULT 0,
		g3_count INTEGER NOT NULL DEFAULT 0,
		g3_earnings DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS referral_config (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		g1_percent DOUBLE PRECISION NOT NULL,
		g2_percent DOUBLE PRECISION NOT NULL,
		g3_percent DOUBLE PRECISION NOT NULL,
		cofounder_ratio INTEGER NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// CreateSchema applies the referral schema and indexes.
func CreateSchema(ctx context.Context, db repository.Querier, logger *slog.Logger) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	logger.InfoContext(ctx, "referral schema ready")
	return nil
}
