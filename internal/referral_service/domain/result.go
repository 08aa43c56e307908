package domain

import "github.com/google/uuid"

// PurchaseEvent is the input to the commission engine: a purchase that has
// reached completed state in its originating subsystem.
type PurchaseEvent struct {
	PurchaserID         uuid.UUID
	BaseAmount          float64
	PurchaseType        PurchaseType
	Currency            Currency // optional; derived from PurchaseType when empty
	SourceTransactionID string
	// CoFounderShares is the number of co-founder shares the purchase
	// represents; only meaningful for cofounder purchases.
	CoFounderShares int
}

// ResultStatus describes the outcome of an engine invocation.
type ResultStatus string

const (
	// ResultOK means the invocation ran to completion (possibly creating
	// zero commissions, e.g. a purchaser without a referrer).
	ResultOK ResultStatus = "ok"
	// ResultAlreadyProcessed means commissions for this source transaction
	// already exist; nothing was written. Idempotent success.
	ResultAlreadyProcessed ResultStatus = "already_processed"
	// ResultPartial means some generations persisted before a transient
	// failure; the persisted records are valid and a retry is safe.
	ResultPartial ResultStatus = "partial_write"
)

// CreatedCommission summarizes one persisted ledger row in an engine result.
type CreatedCommission struct {
	ID          uuid.UUID `json:"id"`
	Beneficiary uuid.UUID `json:"beneficiary"`
	Generation  int       `json:"generation"`
	Amount      float64   `json:"amount"`
	Currency    Currency  `json:"currency"`
}

// EngineResult is the outcome of OnPurchaseCompleted.
type EngineResult struct {
	Status             ResultStatus        `json:"status"`
	CommissionsCreated int                 `json:"commissions_created"`
	Commissions        []CreatedCommission `json:"commissions"`
	// FailureReason is set when Status is ResultPartial.
	FailureReason string `json:"failure_reason,omitempty"`
}
