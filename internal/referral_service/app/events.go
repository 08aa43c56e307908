package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
)

// NATS subjects for notification intents. Downstream consumers (email,
// dashboards) subscribe to these; the engine never waits on them.
const (
	SubjectCommissionCreated    = "referral.commission.created"
	SubjectCommissionRolledBack = "referral.commission.rolled_back"
)

// Publisher is the outbound messaging dependency. A nil Publisher disables
// notification intents entirely.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// CommissionCreatedEvent is emitted after a commission record persists.
type CommissionCreatedEvent struct {
	CommissionID      uuid.UUID           `json:"commission_id"`
	Beneficiary       uuid.UUID           `json:"beneficiary"`
	ReferredUser      uuid.UUID           `json:"referred_user"`
	SourceTransaction string              `json:"source_transaction"`
	Generation        int                 `json:"generation"`
	Amount            float64             `json:"amount"`
	Currency          domain.Currency     `json:"currency"`
	PurchaseType      domain.PurchaseType `json:"purchase_type"`
	CreatedAt         time.Time           `json:"created_at"`
}

// CommissionRolledBackEvent is emitted after a commission transitions to
// rolled_back.
type CommissionRolledBackEvent struct {
	CommissionID      uuid.UUID `json:"commission_id"`
	Beneficiary       uuid.UUID `json:"beneficiary"`
	SourceTransaction string    `json:"source_transaction"`
	Generation        int       `json:"generation"`
	Amount            float64   `json:"amount"`
	Reason            string    `json:"reason,omitempty"`
	RolledBackAt      time.Time `json:"rolled_back_at"`
}

// publish marshals and sends a notification intent. Publish failures are
// logged and swallowed: the ledger write already succeeded and must not be
// failed retroactively by a messaging hiccup.
func (e *Engine) publish(ctx context.Context, subject string, event any) {
	if e.publisher == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to marshal notification intent", "subject", subject, "error", err)
		return
	}
	if err := e.publisher.Publish(ctx, subject, data); err != nil {
		e.logger.WarnContext(ctx, "failed to publish notification intent", "subject", subject, "error", err)
	}
}
