package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
	"github.com/sharevest/referral-service/internal/referral_service/repository"
)

// --- Mocks ---

type MockCommissionRepository struct {
	mock.Mock
}

func (m *MockCommissionRepository) Insert(ctx context.Context, q repository.Querier, rec *domain.CommissionRecord) error {
	args := m.Called(ctx, q, rec)
	return args.Error(0)
}

func (m *MockCommissionRepository) HasCompletedSource(ctx context.Context, sourceTransaction, sourceModel string) (bool, error) {
	args := m.Called(ctx, sourceTransaction, sourceModel)
	return args.Bool(0), args.Error(1)
}

func (m *MockCommissionRepository) CountCompletedForReferrer(ctx context.Context, q repository.Querier, beneficiary, referredUser uuid.UUID, generation int) (int, error) {
	args := m.Called(ctx, q, beneficiary, referredUser, generation)
	return args.Int(0), args.Error(1)
}

func (m *MockCommissionRepository) ListCompletedBySource(ctx context.Context, sourceTransaction, sourceModel string) ([]domain.CommissionRecord, error) {
	args := m.Called(ctx, sourceTransaction, sourceModel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CommissionRecord), args.Error(1)
}

func (m *MockCommissionRepository) MarkRolledBack(ctx context.Context, q repository.Querier, id uuid.UUID, reason string, at time.Time) (bool, error) {
	args := m.Called(ctx, q, id, reason, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockCommissionRepository) AggregateCompleted(ctx context.Context, beneficiary uuid.UUID) (*domain.ReferralStats, error) {
	args := m.Called(ctx, beneficiary)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReferralStats), args.Error(1)
}

func (m *MockCommissionRepository) HasCompletedForReferrer(ctx context.Context, beneficiary, referredUser uuid.UUID, generation int) (bool, error) {
	args := m.Called(ctx, beneficiary, referredUser, generation)
	return args.Bool(0), args.Error(1)
}

func (m *MockCommissionRepository) ListByBeneficiary(ctx context.Context, beneficiary uuid.UUID, limit, offset int) ([]domain.CommissionRecord, error) {
	args := m.Called(ctx, beneficiary, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CommissionRecord), args.Error(1)
}

type MockStatsRepository struct {
	mock.Mock
}

func (m *MockStatsRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.ReferralStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReferralStats), args.Error(1)
}

func (m *MockStatsRepository) ApplyCommissionDelta(ctx context.Context, q repository.Querier, userID uuid.UUID, generation int, amount float64, firstForReferrer bool) error {
	args := m.Called(ctx, q, userID, generation, amount, firstForReferrer)
	return args.Error(0)
}

func (m *MockStatsRepository) RecomputeReferredUsers(ctx context.Context, q repository.Querier, userID uuid.UUID) error {
	args := m.Called(ctx, q, userID)
	return args.Error(0)
}

func (m *MockStatsRepository) ApplyRollbackDelta(ctx context.Context, q repository.Querier, userID uuid.UUID, generation int, amount float64) error {
	args := m.Called(ctx, q, userID, generation, amount)
	return args.Error(0)
}

func (m *MockStatsRepository) IncrementCount(ctx context.Context, userID uuid.UUID, generation int) error {
	args := m.Called(ctx, userID, generation)
	return args.Error(0)
}

func (m *MockStatsRepository) Replace(ctx context.Context, stats *domain.ReferralStats) error {
	args := m.Called(ctx, stats)
	return args.Error(0)
}

type MockRatesRepository struct {
	mock.Mock
}

func (m *MockRatesRepository) Get(ctx context.Context) (*domain.CommissionRates, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CommissionRates), args.Error(1)
}

func (m *MockRatesRepository) Update(ctx context.Context, rates *domain.CommissionRates) error {
	args := m.Called(ctx, rates)
	return args.Error(0)
}

type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserDirectory) GetByUserName(ctx context.Context, userName string) (*domain.User, error) {
	args := m.Called(ctx, userName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserDirectory) ListReferredBy(ctx context.Context, userName string) ([]domain.User, error) {
	args := m.Called(ctx, userName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.User), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

// fakeTx satisfies pgx.Tx for the transaction-scoped calls the engine makes;
// Commit and Rollback are no-ops so pgx.BeginFunc drives the callback without
// a live connection.
type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(ctx context.Context) error   { return nil }
func (fakeTx) Rollback(ctx context.Context) error { return nil }

type fakeDB struct{}

func (fakeDB) Begin(ctx context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

// --- Test Setup ---

type engineTestComponents struct {
	engine          *Engine
	mockCommissions *MockCommissionRepository
	mockStats       *MockStatsRepository
	mockRates       *MockRatesRepository
	mockUsers       *MockUserDirectory
}

func setupEngineTest(t *testing.T) engineTestComponents {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockCommissions := new(MockCommissionRepository)
	mockStats := new(MockStatsRepository)
	mockRates := new(MockRatesRepository)
	mockUsers := new(MockUserDirectory)

	engine := NewEngine(mockCommissions, mockStats, mockRates, mockUsers, fakeDB{}, nil, logger)
	return engineTestComponents{
		engine:          engine,
		mockCommissions: mockCommissions,
		mockStats:       mockStats,
		mockRates:       mockRates,
		mockUsers:       mockUsers,
	}
}

func defaultTestRates() *domain.CommissionRates {
	rates := domain.DefaultRates()
	return &rates
}

// referralChain builds users dave -> carol -> bob -> alice, each referred by
// the next, and registers the directory lookups for walking it.
func referralChain(comps engineTestComponents) (dave, carol, bob, alice *domain.User) {
	alice = &domain.User{ID: uuid.New(), UserName: "alice"}
	bob = &domain.User{ID: uuid.New(), UserName: "bob", ReferredByCode: "alice"}
	carol = &domain.User{ID: uuid.New(), UserName: "carol", ReferredByCode: "bob"}
	dave = &domain.User{ID: uuid.New(), UserName: "dave", ReferredByCode: "carol"}

	comps.mockUsers.On("GetByUserName", mock.Anything, "carol").Return(carol, nil)
	comps.mockUsers.On("GetByUserName", mock.Anything, "bob").Return(bob, nil)
	comps.mockUsers.On("GetByUserName", mock.Anything, "alice").Return(alice, nil)
	return dave, carol, bob, alice
}

// --- Tests ---

func TestEngine_OnPurchaseCompleted_ThreeGenerations(t *testing.T) {
	comps := setupEngineTest(t)
	dave, carol, bob, alice := referralChain(comps)

	comps.mockUsers.On("GetByID", mock.Anything, dave.ID).Return(dave, nil).Once()
	comps.mockRates.On("Get", mock.Anything).Return(defaultTestRates(), nil).Once()
	comps.mockCommissions.On("HasCompletedSource", mock.Anything, "share-tx-1", domain.SourceModelUserShare).
		Return(false, nil).Once()

	for _, tc := range []struct {
		beneficiary *domain.User
		generation  int
		amount      float64
	}{
		{carol, 1, 150.0},
		{bob, 2, 30.0},
		{alice, 3, 20.0},
	} {
		tc := tc
		comps.mockCommissions.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(rec *domain.CommissionRecord) bool {
			return rec.Beneficiary == tc.beneficiary.ID &&
				rec.ReferredUser == dave.ID &&
				rec.Generation == tc.generation &&
				rec.Amount == tc.amount &&
				rec.Currency == domain.CurrencyNaira &&
				rec.Status == domain.CommissionStatusCompleted &&
				rec.Details.BaseAmount == 1000.0
		})).Return(nil).Once()
		comps.mockCommissions.On("CountCompletedForReferrer", mock.Anything, mock.Anything, tc.beneficiary.ID, dave.ID, tc.generation).
			Return(1, nil).Once()
		comps.mockStats.On("ApplyCommissionDelta", mock.Anything, mock.Anything, tc.beneficiary.ID, tc.generation, tc.amount, true).
			Return(nil).Once()
	}
	comps.mockStats.On("RecomputeReferredUsers", mock.Anything, mock.Anything, carol.ID).Return(nil).Once()

	result, err := comps.engine.OnPurchaseCompleted(context.Background(), domain.PurchaseEvent{
		PurchaserID:         dave.ID,
		BaseAmount:          1000.0,
		PurchaseType:        domain.PurchaseTypeShare,
		SourceTransactionID: "share-tx-1",
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.ResultOK, result.Status)
	assert.Equal(t, 3, result.CommissionsCreated)
	require.Len(t, result.Commissions, 3)
	assert.Equal(t, 150.0, result.Commissions[0].Amount)
	assert.Equal(t, 30.0, result.Commissions[1].Amount)
	assert.Equal(t, 20.0, result.Commissions[2].Amount)

	comps.mockCommissions.AssertExpectations(t)
	comps.mockStats.AssertExpectations(t)
}

func TestEngine_OnPurchaseCompleted_CoFounderPurchase(t *testing.T) {
	comps := setupEngineTest(t)
	referrer := &domain.User{ID: uuid.New(), UserName: "referrer"}
	buyer := &domain.User{ID: uuid.New(), UserName: "buyer", ReferredByCode: "referrer"}

	comps.mockUsers.On("GetByID", mock.Anything, buyer.ID).Return(buyer, nil).Once()
	comps.mockUsers.On("GetByUserName", mock.Anything, "referrer").Return(referrer, nil).Once()
	comps.mockRates.On("Get", mock.Anything).Return(defaultTestRates(), nil).Once()
	comps.mockCommissions.On("HasCompletedSource", mock.Anything, "pay-77", domain.SourceModelPaymentTransaction).
		Return(false, nil).Once()

	comps.mockCommissions.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(rec *domain.CommissionRecord) bool {
		return rec.Amount == 435.0 &&
			rec.Currency == domain.CurrencyUSDT &&
			rec.SourceTransactionModel == domain.SourceModelPaymentTransaction &&
			rec.Metadata != nil &&
			rec.Metadata.CoFounderShares == 10 &&
			rec.Metadata.EquivalentRegularShares == 290 &&
			rec.Metadata.ShareToRegularRatio == 29
	})).Return(nil).Once()
	comps.mockCommissions.On("CountCompletedForReferrer", mock.Anything, mock.Anything, referrer.ID, buyer.ID, 1).
		Return(1, nil).Once()
	comps.mockStats.On("ApplyCommissionDelta", mock.Anything, mock.Anything, referrer.ID, 1, 435.0, true).
		Return(nil).Once()
	comps.mockStats.On("RecomputeReferredUsers", mock.Anything, mock.Anything, referrer.ID).Return(nil).Once()

	result, err := comps.engine.OnPurchaseCompleted(context.Background(), domain.PurchaseEvent{
		PurchaserID:         buyer.ID,
		BaseAmount:          2900.0,
		PurchaseType:        domain.PurchaseTypeCoFounder,
		SourceTransactionID: "pay-77",
		CoFounderShares:     10,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ResultOK, result.Status)
	assert.Equal(t, 1, result.CommissionsCreated)
	comps.mockCommissions.AssertExpectations(t)
}

func TestEngine_OnPurchaseCompleted_NoReferrer(t *testing.T) {
	comps := setupEngineTest(t)
	loner := &domain.User{ID: uuid.New(), UserName: "loner"}

	comps.mockUsers.On("GetByID", mock.Anything, loner.ID).Return(loner, nil).Once()

	result, err := comps.engine.OnPurchaseCompleted(context.Background(), domain.PurchaseEvent{
		PurchaserID:         loner.ID,
		BaseAmount:          1000.0,
		PurchaseType:        domain.PurchaseTypeShare,
		SourceTransactionID: "share-tx-2",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ResultOK, result.Status)
	assert.Zero(t, result.CommissionsCreated)
	comps.mockRates.AssertNotCalled(t, "Get", mock.Anything)
	comps.mockCommissions.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_OnPurchaseCompleted_AlreadyProcessed(t *testing.T) {
	comps := setupEngineTest(t)
	buyer := &domain.User{ID: uuid.New(), UserName: "buyer", ReferredByCode: "referrer"}

	comps.mockUsers.On("GetByID", mock.Anything, buyer.ID).Return(buyer, nil).Once()
	comps.mockRates.On("Get", mock.Anything).Return(defaultTestRates(), nil).Once()
	comps.mockCommissions.On("HasCompletedSource", mock.Anything, "share-tx-3", domain.SourceModelUserShare).
		Return(true, nil).Once()

	result, err := comps.engine.OnPurchaseCompleted(context.Background(), domain.PurchaseEvent{
		PurchaserID:         buyer.ID,
		BaseAmount:          500.0,
		PurchaseType:        domain.PurchaseTypeShare,
		SourceTransactionID: "share-tx-3",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ResultAlreadyProcessed, result.Status)
	assert.Zero(t, result.CommissionsCreated)
	comps.mockCommissions.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_OnPurchaseCompleted_DuplicateGenerationSkipped(t *testing.T) {
	comps := setupEngineTest(t)
	referrer1 := &domain.User{ID: uuid.New(), UserName: "gen1", ReferredByCode: "gen2"}
	referrer2 := &domain.User{ID: uuid.New(), UserName: "gen2"}
	buyer := &domain.User{ID: uuid.New(), UserName: "buyer", ReferredByCode: "gen1"}

	comps.mockUsers.On("GetByID", mock.Anything, buyer.ID).Return(buyer, nil).Once()
	comps.mockUsers.On("GetByUserName", mock.Anything, "gen1").Return(referrer1, nil).Once()
	comps.mockUsers.On("GetByUserName", mock.Anything, "gen2").Return(referrer2, nil).Once()
	comps.mockRates.On("Get", mock.Anything).Return(defaultTestRates(), nil).Once()
	comps.mockCommissions.On("HasCompletedSource", mock.Anything, "share-tx-4", domain.SourceModelUserShare).
		Return(false, nil).Once()

	// A concurrent invocation already credited generation 1.
	comps.mockCommissions.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(rec *domain.CommissionRecord) bool {
		return rec.Generation == 1
	})).Return(domain.ErrDuplicateCommission).Once()

	comps.mockCommissions.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(rec *domain.CommissionRecord) bool {
		return rec.Generation == 2
	})).Return(nil).Once()
	comps.mockCommissions.On("CountCompletedForReferrer", mock.Anything, mock.Anything, referrer2.ID, buyer.ID, 2).
		Return(1, nil).Once()
	comps.mockStats.On("ApplyCommissionDelta", mock.Anything, mock.Anything, referrer2.ID, 2, 30.0, true).
		Return(nil).Once()

	result, err := comps.engine.OnPurchaseCompleted(context.Background(), domain.PurchaseEvent{
		PurchaserID:         buyer.ID,
		BaseAmount:          1000.0,
		PurchaseType:        domain.PurchaseTypeShare,
		SourceTransactionID: "share-tx-4",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ResultOK, result.Status)
	assert.Equal(t, 1, result.CommissionsCreated)
	require.Len(t, result.Commissions, 1)
	assert.Equal(t, 2, result.Commissions[0].Generation)
	comps.mockCommissions.AssertExpectations(t)
}

func TestEngine_OnPurchaseCompleted_PartialWrite(t *testing.T) {
	comps := setupEngineTest(t)
	referrer1 := &domain.User{ID: uuid.New(), UserName: "gen1", ReferredByCode: "gen2"}
	referrer2 := &domain.User{ID: uuid.New(), UserName: "gen2"}
	buyer := &domain.User{ID: uuid.New(), UserName: "buyer", ReferredByCode: "gen1"}

	comps.mockUsers.On("GetByID", mock.Anything, buyer.ID).Return(buyer, nil).Once()
	comps.mockUsers.On("GetByUserName", mock.Anything, "gen1").Return(referrer1, nil).Once()
	comps.mockUsers.On("GetByUserName", mock.Anything, "gen2").Return(referrer2, nil).Once()
	comps.mockRates.On("Get", mock.Anything).Return(defaultTestRates(), nil).Once()
	comps.mockCommissions.On("HasCompletedSource", mock.Anything, "share-tx-5", domain.SourceModelUserShare).
		Return(false, nil).Once()

	comps.mockCommissions.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(rec *domain.CommissionRecord) bool {
		return rec.Generation == 1
	})).Return(nil).Once()
	comps.mockCommissions.On("CountCompletedForReferrer", mock.Anything, mock.Anything, referrer1.ID, buyer.ID, 1).
		Return(1, nil).Once()
	comps.mockStats.On("ApplyCommissionDelta", mock.Anything, mock.Anything, referrer1.ID, 1, 150.0, true).
		Return(nil).Once()
	comps.mockStats.On("RecomputeReferredUsers", mock.Anything, mock.Anything, referrer1.ID).Return(nil).Once()

	comps.mockCommissions.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(rec *domain.CommissionRecord) bool {
		return rec.Generation == 2
	})).Return(errors.New("connection reset")).Once()

	result, err := comps.engine.OnPurchaseCompleted(context.Background(), domain.PurchaseEvent{
		PurchaserID:         buyer.ID,
		BaseAmount:          1000.0,
		PurchaseType:        domain.PurchaseTypeShare,
		SourceTransactionID: "share-tx-5",
	})

	// The generation 1 record stands; the caller learns the run was cut short.
	require.NoError(t, err)
	assert.Equal(t, domain.ResultPartial, result.Status)
	assert.Equal(t, 1, result.CommissionsCreated)
	assert.Contains(t, result.FailureReason, "connection reset")
	comps.mockCommissions.AssertExpectations(t)
}

func TestEngine_OnPurchaseCompleted_FirstGenerationFails(t *testing.T) {
	comps := setupEngineTest(t)
	referrer := &domain.User{ID: uuid.New(), UserName: "referrer"}
	buyer := &domain.User{ID: uuid.New(), UserName: "buyer", ReferredByCode: "referrer"}

	comps.mockUsers.On("GetByID", mock.Anything, buyer.ID).Return(buyer, nil).Once()
	comps.mockUsers.On("GetByUserName", mock.Anything, "referrer").Return(referrer, nil).Once()
	comps.mockRates.On("Get", mock.Anything).Return(defaultTestRates(), nil).Once()
	comps.mockCommissions.On("HasCompletedSource", mock.Anything, "share-tx-6", domain.SourceModelUserShare).
		Return(false, nil).Once()
	comps.mockCommissions.On("Insert", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("disk full")).Once()

	result, err := comps.engine.OnPurchaseCompleted(context.Background(), domain.PurchaseEvent{
		PurchaserID:         buyer.ID,
		BaseAmount:          1000.0,
		PurchaseType:        domain.PurchaseTypeShare,
		SourceTransactionID: "share-tx-6",
	})

	require.Error(t, err)
	assert.Nil(t, result)
}

func TestEngine_OnPurchaseCompleted_PurchaserNotFound(t *testing.T) {
	comps := setupEngineTest(t)
	unknown := uuid.New()
	comps.mockUsers.On("GetByID", mock.Anything, unknown).Return(nil, domain.ErrUserNotFound).Once()

	result, err := comps.engine.OnPurchaseCompleted(context.Background(), domain.PurchaseEvent{
		PurchaserID:         unknown,
		BaseAmount:          100.0,
		PurchaseType:        domain.PurchaseTypeShare,
		SourceTransactionID: "share-tx-7",
	})

	require.ErrorIs(t, err, domain.ErrPurchaserNotFound)
	assert.Nil(t, result)
}

func TestEngine_OnPurchaseCompleted_Validation(t *testing.T) {
	comps := setupEngineTest(t)

	tests := []struct {
		name string
		ev   domain.PurchaseEvent
	}{
		{"missing purchaser", domain.PurchaseEvent{BaseAmount: 100, PurchaseType: domain.PurchaseTypeShare, SourceTransactionID: "t"}},
		{"negative amount", domain.PurchaseEvent{PurchaserID: uuid.New(), BaseAmount: -1, PurchaseType: domain.PurchaseTypeShare, SourceTransactionID: "t"}},
		{"bad purchase type", domain.PurchaseEvent{PurchaserID: uuid.New(), BaseAmount: 100, PurchaseType: "equity", SourceTransactionID: "t"}},
		{"missing source id", domain.PurchaseEvent{PurchaserID: uuid.New(), BaseAmount: 100, PurchaseType: domain.PurchaseTypeShare}},
		{"bad currency", domain.PurchaseEvent{PurchaserID: uuid.New(), BaseAmount: 100, PurchaseType: domain.PurchaseTypeShare, SourceTransactionID: "t", Currency: "eur"}},
		{"negative cofounder shares", domain.PurchaseEvent{PurchaserID: uuid.New(), BaseAmount: 100, PurchaseType: domain.PurchaseTypeCoFounder, SourceTransactionID: "t", CoFounderShares: -2}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := comps.engine.OnPurchaseCompleted(context.Background(), tc.ev)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Nil(t, result)
		})
	}
	comps.mockUsers.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestEngine_OnPurchaseCompleted_ZeroAmountCreatesNothing(t *testing.T) {
	comps := setupEngineTest(t)
	referrer := &domain.User{ID: uuid.New(), UserName: "referrer"}
	buyer := &domain.User{ID: uuid.New(), UserName: "buyer", ReferredByCode: "referrer"}

	comps.mockUsers.On("GetByID", mock.Anything, buyer.ID).Return(buyer, nil).Once()
	comps.mockUsers.On("GetByUserName", mock.Anything, "referrer").Return(referrer, nil).Once()
	comps.mockRates.On("Get", mock.Anything).Return(defaultTestRates(), nil).Once()
	comps.mockCommissions.On("HasCompletedSource", mock.Anything, "share-tx-8", domain.SourceModelUserShare).
		Return(false, nil).Once()

	result, err := comps.engine.OnPurchaseCompleted(context.Background(), domain.PurchaseEvent{
		PurchaserID:         buyer.ID,
		BaseAmount:          0,
		PurchaseType:        domain.PurchaseTypeShare,
		SourceTransactionID: "share-tx-8",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ResultOK, result.Status)
	assert.Zero(t, result.CommissionsCreated)
	comps.mockCommissions.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_OnPurchaseCompleted_RepeatReferrerKeepsCount(t *testing.T) {
	comps := setupEngineTest(t)
	referrer := &domain.User{ID: uuid.New(), UserName: "referrer"}
	buyer := &domain.User{ID: uuid.New(), UserName: "buyer", ReferredByCode: "referrer"}

	comps.mockUsers.On("GetByID", mock.Anything, buyer.ID).Return(buyer, nil).Once()
	comps.mockUsers.On("GetByUserName", mock.Anything, "referrer").Return(referrer, nil).Once()
	comps.mockRates.On("Get", mock.Anything).Return(defaultTestRates(), nil).Once()
	comps.mockCommissions.On("HasCompletedSource", mock.Anything, "share-tx-9", domain.SourceModelUserShare).
		Return(false, nil).Once()
	comps.mockCommissions.On("Insert", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	// Second completed purchase from the same referred user: earnings grow,
	// the count does not.
	comps.mockCommissions.On("CountCompletedForReferrer", mock.Anything, mock.Anything, referrer.ID, buyer.ID, 1).
		Return(2, nil).Once()
	comps.mockStats.On("ApplyCommissionDelta", mock.Anything, mock.Anything, referrer.ID, 1, 75.0, false).
		Return(nil).Once()
	comps.mockStats.On("RecomputeReferredUsers", mock.Anything, mock.Anything, referrer.ID).Return(nil).Once()

	result, err := comps.engine.OnPurchaseCompleted(context.Background(), domain.PurchaseEvent{
		PurchaserID:         buyer.ID,
		BaseAmount:          500.0,
		PurchaseType:        domain.PurchaseTypeShare,
		SourceTransactionID: "share-tx-9",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.CommissionsCreated)
	comps.mockStats.AssertExpectations(t)
}

func TestEngine_OnPurchaseCompleted_PublishesEvent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockCommissions := new(MockCommissionRepository)
	mockStats := new(MockStatsRepository)
	mockRates := new(MockRatesRepository)
	mockUsers := new(MockUserDirectory)
	mockPublisher := new(MockPublisher)
	engine := NewEngine(mockCommissions, mockStats, mockRates, mockUsers, fakeDB{}, mockPublisher, logger)

	referrer := &domain.User{ID: uuid.New(), UserName: "referrer"}
	buyer := &domain.User{ID: uuid.New(), UserName: "buyer", ReferredByCode: "referrer"}

	mockUsers.On("GetByID", mock.Anything, buyer.ID).Return(buyer, nil).Once()
	mockUsers.On("GetByUserName", mock.Anything, "referrer").Return(referrer, nil).Once()
	mockRates.On("Get", mock.Anything).Return(defaultTestRates(), nil).Once()
	mockCommissions.On("HasCompletedSource", mock.Anything, "share-tx-10", domain.SourceModelUserShare).
		Return(false, nil).Once()
	mockCommissions.On("Insert", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	mockCommissions.On("CountCompletedForReferrer", mock.Anything, mock.Anything, referrer.ID, buyer.ID, 1).
		Return(1, nil).Once()
	mockStats.On("ApplyCommissionDelta", mock.Anything, mock.Anything, referrer.ID, 1, 150.0, true).Return(nil).Once()
	mockStats.On("RecomputeReferredUsers", mock.Anything, mock.Anything, referrer.ID).Return(nil).Once()
	mockPublisher.On("Publish", mock.Anything, SubjectCommissionCreated, mock.Anything).Return(nil).Once()

	_, err := engine.OnPurchaseCompleted(context.Background(), domain.PurchaseEvent{
		PurchaserID:         buyer.ID,
		BaseAmount:          1000.0,
		PurchaseType:        domain.PurchaseTypeShare,
		SourceTransactionID: "share-tx-10",
	})

	require.NoError(t, err)
	mockPublisher.AssertExpectations(t)
}
