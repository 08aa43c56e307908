package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
	"github.com/sharevest/referral-service/internal/referral_service/repository"
)

func setupRatesTest(t *testing.T) (repository.RatesRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewPgRatesRepository(mockPool, logger)
	return repo, mockPool
}

func TestPgRatesRepository_Get_SeedsDefaultsOnFirstRead(t *testing.T) {
	repo, mockPool := setupRatesTest(t)
	defer mockPool.Close()

	mockPool.ExpectExec("INSERT INTO referral_config").
		WithArgs(domain.DefaultRateGen1, domain.DefaultRateGen2, domain.DefaultRateGen3, domain.DefaultCoFounderRatio).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectQuery("SELECT g1_percent").
		WillReturnRows(mockPool.NewRows([]string{"g1_percent", "g2_percent", "g3_percent", "cofounder_ratio", "updated_at"}).
			AddRow(15.0, 3.0, 2.0, 29, time.Now()))

	rates, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15.0, rates.Generation1)
	assert.Equal(t, 3.0, rates.Generation2)
	assert.Equal(t, 2.0, rates.Generation3)
	assert.Equal(t, 29, rates.CoFounderRatio)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgRatesRepository_Get_ExistingRowWins(t *testing.T) {
	repo, mockPool := setupRatesTest(t)
	defer mockPool.Close()

	// The seed insert hits the conflict clause; the stored values survive.
	mockPool.ExpectExec("INSERT INTO referral_config").
		WithArgs(domain.DefaultRateGen1, domain.DefaultRateGen2, domain.DefaultRateGen3, domain.DefaultCoFounderRatio).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mockPool.ExpectQuery("SELECT g1_percent").
		WillReturnRows(mockPool.NewRows([]string{"g1_percent", "g2_percent", "g3_percent", "cofounder_ratio", "updated_at"}).
			AddRow(10.0, 2.0, 1.0, 30, time.Now()))

	rates, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, rates.Generation1)
	assert.Equal(t, 30, rates.CoFounderRatio)
}

func TestPgRatesRepository_Update(t *testing.T) {
	repo, mockPool := setupRatesTest(t)
	defer mockPool.Close()

	mockPool.ExpectExec("INSERT INTO referral_config").
		WithArgs(12.0, 2.5, 1.5, 25).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Update(context.Background(), &domain.CommissionRates{
		Generation1: 12.0, Generation2: 2.5, Generation3: 1.5, CoFounderRatio: 25,
	})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
