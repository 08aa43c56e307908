package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// PurchaseType identifies the kind of equity purchase that triggered a
// commission.
type PurchaseType string

const (
	PurchaseTypeShare     PurchaseType = "share"
	PurchaseTypeCoFounder PurchaseType = "cofounder"
	PurchaseTypeOther     PurchaseType = "other"
)

// Valid reports whether t is a recognized purchase type.
func (t PurchaseType) Valid() bool {
	switch t {
	case PurchaseTypeShare, PurchaseTypeCoFounder, PurchaseTypeOther:
		return true
	}
	return false
}

// SourceModel returns the source-transaction model tag for this purchase
// type. Regular share purchases originate from the share ledger, co-founder
// purchases from the payment record.
func (t PurchaseType) SourceModel() string {
	switch t {
	case PurchaseTypeShare:
		return SourceModelUserShare
	case PurchaseTypeCoFounder:
		return SourceModelPaymentTransaction
	default:
		return SourceModelOtherPurchase
	}
}

// Source transaction model tags.
const (
	SourceModelUserShare          = "UserShare"
	SourceModelPaymentTransaction = "PaymentTransaction"
	SourceModelOtherPurchase      = "OtherPurchase"
)

// Currency is one of the recognized denominations. Amounts are recorded
// verbatim in the currency of the source purchase and never converted.
type Currency string

const (
	CurrencyNaira Currency = "naira"
	CurrencyUSDT  Currency = "usdt"
	CurrencyUSD   Currency = "USD"
)

// Valid reports whether c belongs to the closed currency set.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyNaira, CurrencyUSDT, CurrencyUSD:
		return true
	}
	return false
}

// DefaultCurrency is the denomination of the originating subsystem for a
// purchase type, used when the triggering event does not carry one.
func DefaultCurrency(t PurchaseType) Currency {
	if t == PurchaseTypeCoFounder {
		return CurrencyUSDT
	}
	return CurrencyNaira
}

// CommissionStatus is the lifecycle state of a commission record.
type CommissionStatus string

const (
	CommissionStatusPending    CommissionStatus = "pending"
	CommissionStatusCompleted  CommissionStatus = "completed"
	CommissionStatusFailed     CommissionStatus = "failed"
	CommissionStatusRolledBack CommissionStatus = "rolled_back"
)

// CommissionDetails records the inputs of the commission calculation so the
// amount stays auditable after rates change.
type CommissionDetails struct {
	BaseAmount   float64   `json:"base_amount"`
	Rate         float64   `json:"rate"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// CoFounderMetadata carries the share-equivalence data attached to
// commissions from co-founder purchases.
type CoFounderMetadata struct {
	CoFounderShares         int `json:"co_founder_shares"`
	EquivalentRegularShares int `json:"equivalent_regular_shares"`
	ShareToRegularRatio     int `json:"share_to_regular_ratio"`
}

// CommissionRecord is one append-only ledger row crediting one ancestor for
// one source purchase at one generation. (Beneficiary, SourceTransaction,
// Generation) is unique; ReferredUser is always the original purchaser.
type CommissionRecord struct {
	ID                     uuid.UUID          `json:"id"`
	Beneficiary            uuid.UUID          `json:"beneficiary"`
	ReferredUser           uuid.UUID          `json:"referred_user"`
	SourceTransaction      string             `json:"source_transaction"`
	SourceTransactionModel string             `json:"source_transaction_model"`
	Generation             int                `json:"generation"`
	PurchaseType           PurchaseType       `json:"purchase_type"`
	Currency               Currency           `json:"currency"`
	Amount                 float64            `json:"amount"`
	Status                 CommissionStatus   `json:"status"`
	Details                CommissionDetails  `json:"commission_details"`
	Metadata               *CoFounderMetadata `json:"metadata,omitempty"`
	RolledBackAt           *time.Time         `json:"rolled_back_at,omitempty"`
	RollbackReason         *string            `json:"rollback_reason,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
}

// CommissionAmount computes baseAmount at the given percentage rate, rounded
// to two decimal places.
func CommissionAmount(baseAmount, rate float64) float64 {
	return math.Round(baseAmount*rate) / 100
}
