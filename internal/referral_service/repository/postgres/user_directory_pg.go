package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
	"github.com/sharevest/referral-service/internal/referral_service/repository"
)

type pgUserDirectory struct {
	db     repository.Querier
	logger *slog.Logger
}

// NewPgUserDirectory creates a read-only view over the platform's users
// table. The referral engine never writes to it.
func NewPgUserDirectory(db repository.Querier, logger *slog.Logger) repository.UserDirectory {
	return &pgUserDirectory{db: db, logger: logger}
}

const userColumns = `id, user_name, referred_by_code, created_at`

func (d *pgUserDirectory) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return d.scanUser(d.db.QueryRow(ctx, query, id))
}

func (d *pgUserDirectory) GetByUserName(ctx context.Context, userName string) (*domain.User, error) {
	// userName matching is case-sensitive by contract; TEXT equality in
	// Postgres already is.
	query := fmt.Sprintf(`SELECT %s FROM users WHERE user_name = $1`, userColumns)
	return d.scanUser(d.db.QueryRow(ctx, query, userName))
}

func (d *pgUserDirectory) ListReferredBy(ctx context.Context, userName string) ([]domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE referred_by_code = $1 ORDER BY created_at`, userColumns)
	rows, err := d.db.Query(ctx, query, userName)
	if err != nil {
		return nil, fmt.Errorf("failed to list referred users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var code sql.NullString
		if err := rows.Scan(&u.ID, &u.UserName, &code, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.ReferredByCode = code.String
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (d *pgUserDirectory) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var code sql.NullString
	err := row.Scan(&u.ID, &u.UserName, &code, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.ReferredByCode = code.String
	return &u, nil
}
