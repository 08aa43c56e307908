package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
	"github.com/sharevest/referral-service/internal/referral_service/repository"
)

// TxBeginner starts database transactions; satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Engine orchestrates the multi-generation commission flow: it resolves the
// referral chain, writes idempotent ledger records, and keeps the per-user
// aggregates consistent with the ledger.
type Engine struct {
	commissions repository.CommissionRepository
	stats       repository.StatsRepository
	rates       repository.RatesRepository
	users       repository.UserDirectory
	chain       *ChainResolver
	db          TxBeginner
	publisher   Publisher
	logger      *slog.Logger
}

// NewEngine wires the commission engine. publisher may be nil to disable
// notification intents.
func NewEngine(
	commissions repository.CommissionRepository,
	stats repository.StatsRepository,
	rates repository.RatesRepository,
	users repository.UserDirectory,
	db TxBeginner,
	publisher Publisher,
	logger *slog.Logger,
) *Engine {
	logger = logger.With("service", "referral_engine")
	return &Engine{
		commissions: commissions,
		stats:       stats,
		rates:       rates,
		users:       users,
		chain:       NewChainResolver(users, logger),
		db:          db,
		publisher:   publisher,
		logger:      logger,
	}
}

func validatePurchaseEvent(ev domain.PurchaseEvent) error {
	switch {
	case ev.PurchaserID == uuid.Nil:
		return fmt.Errorf("%w: purchaser id is required", domain.ErrInvalidInput)
	case ev.BaseAmount < 0:
		return fmt.Errorf("%w: base amount must be non-negative", domain.ErrInvalidInput)
	case !ev.PurchaseType.Valid():
		return fmt.Errorf("%w: unrecognized purchase type %q", domain.ErrInvalidInput, ev.PurchaseType)
	case ev.SourceTransactionID == "":
		return fmt.Errorf("%w: source transaction id is required", domain.ErrInvalidInput)
	case ev.Currency != "" && !ev.Currency.Valid():
		return fmt.Errorf("%w: unrecognized currency %q", domain.ErrInvalidInput, ev.Currency)
	case ev.CoFounderShares < 0:
		return fmt.Errorf("%w: co-founder shares must be non-negative", domain.ErrInvalidInput)
	}
	return nil
}

// OnPurchaseCompleted attributes a completed purchase to up to three
// ancestors and credits each one. Callers must only invoke it after the
// source purchase reached completed state in its originating subsystem; the
// composite unique index on (beneficiary, sourceTransaction, generation)
// makes concurrent retries safe.
func (e *Engine) OnPurchaseCompleted(ctx context.Context, ev domain.PurchaseEvent) (*domain.EngineResult, error) {
	timer := prometheus.NewTimer(engineDurationHist.WithLabelValues("purchase_completed"))
	defer timer.ObserveDuration()

	if err := validatePurchaseEvent(ev); err != nil {
		return nil, err
	}

	purchaser, err := e.users.GetByID(ctx, ev.PurchaserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPurchaserNotFound, ev.PurchaserID)
		}
		engineErrorsCounter.WithLabelValues("purchase_completed").Inc()
		return nil, fmt.Errorf("failed to look up purchaser: %w", err)
	}

	// A purchaser without a referrer is a normal outcome, not an error.
	if purchaser.ReferredByCode == "" {
		return &domain.EngineResult{Status: domain.ResultOK}, nil
	}

	// Rates are read once per invocation; every record carries the rate it
	// was computed with.
	rates, err := e.rates.Get(ctx)
	if err != nil {
		engineErrorsCounter.WithLabelValues("purchase_completed").Inc()
		return nil, fmt.Errorf("failed to read commission rates: %w", err)
	}

	currency := ev.Currency
	if currency == "" {
		currency = domain.DefaultCurrency(ev.PurchaseType)
	}
	sourceModel := ev.PurchaseType.SourceModel()

	var metadata *domain.CoFounderMetadata
	if ev.PurchaseType == domain.PurchaseTypeCoFounder {
		metadata = &domain.CoFounderMetadata{
			CoFounderShares:         ev.CoFounderShares,
			EquivalentRegularShares: ev.CoFounderShares * rates.CoFounderRatio,
			ShareToRegularRatio:     rates.CoFounderRatio,
		}
	}

	// Fast-path duplicate guard. The unique index remains the authoritative
	// check; this only short-circuits the common retry.
	processed, err := e.commissions.HasCompletedSource(ctx, ev.SourceTransactionID, sourceModel)
	if err != nil {
		engineErrorsCounter.WithLabelValues("purchase_completed").Inc()
		return nil, fmt.Errorf("failed duplicate check: %w", err)
	}
	if processed {
		e.logger.InfoContext(ctx, "purchase already processed",
			"source_transaction", ev.SourceTransactionID, "source_model", sourceModel)
		return &domain.EngineResult{Status: domain.ResultAlreadyProcessed}, nil
	}

	ancestors, err := e.chain.Resolve(ctx, purchaser)
	if err != nil {
		engineErrorsCounter.WithLabelValues("purchase_completed").Inc()
		return nil, err
	}

	result := &domain.EngineResult{Status: domain.ResultOK}
	calculatedAt := time.Now().UTC()

	for i, ancestor := range ancestors {
		generation := i + 1
		rate := rates.ForGeneration(generation)
		if rate <= 0 {
			continue
		}
		amount := domain.CommissionAmount(ev.BaseAmount, rate)
		if amount <= 0 {
			continue
		}

		rec := &domain.CommissionRecord{
			Beneficiary:            ancestor.ID,
			ReferredUser:           purchaser.ID,
			SourceTransaction:      ev.SourceTransactionID,
			SourceTransactionModel: sourceModel,
			Generation:             generation,
			PurchaseType:           ev.PurchaseType,
			Currency:               currency,
			Amount:                 amount,
			Status:                 domain.CommissionStatusCompleted,
			Details: domain.CommissionDetails{
				BaseAmount:   ev.BaseAmount,
				Rate:         rate,
				CalculatedAt: calculatedAt,
			},
			Metadata: metadata,
		}

		txErr := pgx.BeginFunc(ctx, e.db, func(tx pgx.Tx) error {
			if err := e.commissions.Insert(ctx, tx, rec); err != nil {
				return err
			}
			inserted, err := e.commissions.CountCompletedForReferrer(ctx, tx, ancestor.ID, purchaser.ID, generation)
			if err != nil {
				return err
			}
			firstForReferrer := inserted == 1
			if err := e.stats.ApplyCommissionDelta(ctx, tx, ancestor.ID, generation, amount, firstForReferrer); err != nil {
				return err
			}
			if generation == 1 {
				return e.stats.RecomputeReferredUsers(ctx, tx, ancestor.ID)
			}
			return nil
		})

		if txErr != nil {
			if errors.Is(txErr, domain.ErrDuplicateCommission) {
				// Another invocation already credited this ancestor for this
				// purchase; carry on with the remaining generations.
				e.logger.InfoContext(ctx, "commission already credited",
					"beneficiary", ancestor.ID, "source_transaction", ev.SourceTransactionID,
					"generation", generation)
				continue
			}
			engineErrorsCounter.WithLabelValues("purchase_completed").Inc()
			if result.CommissionsCreated > 0 {
				// Already-persisted records are legal completed commissions;
				// never roll them back here. The reconciler is the repair
				// path and a retry is idempotent.
				e.logger.ErrorContext(ctx, "partial commission write",
					"source_transaction", ev.SourceTransactionID, "generation", generation, "error", txErr)
				result.Status = domain.ResultPartial
				result.FailureReason = txErr.Error()
				return result, nil
			}
			return nil, fmt.Errorf("failed to persist generation %d commission: %w", generation, txErr)
		}

		result.CommissionsCreated++
		result.Commissions = append(result.Commissions, domain.CreatedCommission{
			ID:          rec.ID,
			Beneficiary: rec.Beneficiary,
			Generation:  rec.Generation,
			Amount:      rec.Amount,
			Currency:    rec.Currency,
		})
		commissionsCreatedCounter.WithLabelValues(strconv.Itoa(generation), string(ev.PurchaseType)).Inc()
		e.publish(ctx, SubjectCommissionCreated, CommissionCreatedEvent{
			CommissionID:      rec.ID,
			Beneficiary:       rec.Beneficiary,
			ReferredUser:      rec.ReferredUser,
			SourceTransaction: rec.SourceTransaction,
			Generation:        rec.Generation,
			Amount:            rec.Amount,
			Currency:          rec.Currency,
			PurchaseType:      rec.PurchaseType,
			CreatedAt:         rec.CreatedAt,
		})
	}

	e.logger.InfoContext(ctx, "purchase commissions processed",
		"purchaser", purchaser.ID, "source_transaction", ev.SourceTransactionID,
		"commissions_created", result.CommissionsCreated)
	return result, nil
}
