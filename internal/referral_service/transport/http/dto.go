package http

import (
	"time"

	"github.com/google/uuid"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
)

// PurchaseCompletedRequest DTO for POST /referral/engine/purchase-completed
type PurchaseCompletedRequest struct {
	PurchaserID         uuid.UUID `json:"purchaser_id" validate:"required"`
	BaseAmount          float64   `json:"base_amount" validate:"gte=0"`
	PurchaseType        string    `json:"purchase_type" validate:"required,oneof=share cofounder other"`
	Currency            string    `json:"currency,omitempty" validate:"omitempty,oneof=naira usdt USD"`
	SourceTransactionID string    `json:"source_transaction_id" validate:"required"`
	CoFounderShares     int       `json:"cofounder_shares,omitempty" validate:"gte=0"`
}

// PurchaseRolledBackRequest DTO for POST /referral/engine/purchase-rolled-back
type PurchaseRolledBackRequest struct {
	SourceTransactionID    string `json:"source_transaction_id" validate:"required"`
	SourceTransactionModel string `json:"source_transaction_model" validate:"required"`
	Reason                 string `json:"reason,omitempty"`
}

// UserRegisteredRequest DTO for POST /referral/engine/user-registered
type UserRegisteredRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

// RatesUpdateRequest DTO for PUT /referral/config/rates
type RatesUpdateRequest struct {
	Generation1    float64 `json:"generation_1_percent" validate:"gte=0"`
	Generation2    float64 `json:"generation_2_percent" validate:"gte=0"`
	Generation3    float64 `json:"generation_3_percent" validate:"gte=0"`
	CoFounderRatio int     `json:"cofounder_ratio" validate:"gte=1"`
}

// CreatedCommissionResponse is one entry in an engine response.
type CreatedCommissionResponse struct {
	CommissionID uuid.UUID `json:"commission_id"`
	Beneficiary  uuid.UUID `json:"beneficiary"`
	Generation   int       `json:"generation"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"`
}

// PurchaseCompletedResponse DTO
type PurchaseCompletedResponse struct {
	Status             string                      `json:"status"`
	CommissionsCreated int                         `json:"commissions_created"`
	Commissions        []CreatedCommissionResponse `json:"commissions,omitempty"`
	FailureReason      string                      `json:"failure_reason,omitempty"`
}

// PurchaseRolledBackResponse DTO
type PurchaseRolledBackResponse struct {
	CommissionsRolledBack int `json:"commissions_rolled_back"`
}

// GenerationStatsResponse is one generation's slice of the aggregates.
type GenerationStatsResponse struct {
	Count    int     `json:"count"`
	Earnings float64 `json:"earnings"`
}

// StatsResponse DTO for GET /referral/stats/{userID}
type StatsResponse struct {
	UserID        uuid.UUID               `json:"user_id"`
	ReferralCode  string                  `json:"referral_code"`
	ReferralLink  string                  `json:"referral_link"`
	ReferredUsers int                     `json:"referred_users"`
	TotalEarnings float64                 `json:"total_earnings"`
	Generation1   GenerationStatsResponse `json:"generation_1"`
	Generation2   GenerationStatsResponse `json:"generation_2"`
	Generation3   GenerationStatsResponse `json:"generation_3"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// TreeNodeResponse is one referred user in the tree.
type TreeNodeResponse struct {
	UserID   uuid.UUID `json:"user_id"`
	UserName string    `json:"user_name"`
	JoinedAt time.Time `json:"joined_at"`
}

// TreeResponse DTO for GET /referral/tree/{userID}
type TreeResponse struct {
	UserID      uuid.UUID            `json:"user_id"`
	UserName    string               `json:"user_name"`
	Generations [][]TreeNodeResponse `json:"generations"`
}

// CommissionResponse is one ledger record in a listing.
type CommissionResponse struct {
	ID                     uuid.UUID  `json:"id"`
	Beneficiary            uuid.UUID  `json:"beneficiary"`
	ReferredUser           uuid.UUID  `json:"referred_user"`
	SourceTransaction      string     `json:"source_transaction"`
	SourceTransactionModel string     `json:"source_transaction_model"`
	Generation             int        `json:"generation"`
	PurchaseType           string     `json:"purchase_type"`
	Currency               string     `json:"currency"`
	Amount                 float64    `json:"amount"`
	Status                 string     `json:"status"`
	BaseAmount             float64    `json:"base_amount"`
	Rate                   float64    `json:"rate"`
	CreatedAt              time.Time  `json:"created_at"`
	RolledBackAt           *time.Time `json:"rolled_back_at,omitempty"`
	RollbackReason         *string    `json:"rollback_reason,omitempty"`
}

// CommissionListResponse DTO for GET /referral/commissions/{userID}
type CommissionListResponse struct {
	Commissions []CommissionResponse `json:"commissions"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

// RatesResponse DTO
type RatesResponse struct {
	Generation1    float64   `json:"generation_1_percent"`
	Generation2    float64   `json:"generation_2_percent"`
	Generation3    float64   `json:"generation_3_percent"`
	CoFounderRatio int       `json:"cofounder_ratio"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GenericErrorResponse is the error envelope for every non-2xx response.
type GenericErrorResponse struct {
	Error string `json:"error"`
}

func toStatsResponse(stats *domain.ReferralStats, user *domain.User, link string) StatsResponse {
	return StatsResponse{
		UserID:        stats.UserID,
		ReferralCode:  user.UserName,
		ReferralLink:  link,
		ReferredUsers: stats.ReferredUsers,
		TotalEarnings: stats.TotalEarnings,
		Generation1:   GenerationStatsResponse{Count: stats.Generation1.Count, Earnings: stats.Generation1.Earnings},
		Generation2:   GenerationStatsResponse{Count: stats.Generation2.Count, Earnings: stats.Generation2.Earnings},
		Generation3:   GenerationStatsResponse{Count: stats.Generation3.Count, Earnings: stats.Generation3.Earnings},
		UpdatedAt:     stats.UpdatedAt,
	}
}

func toCommissionResponse(rec domain.CommissionRecord) CommissionResponse {
	return CommissionResponse{
		ID:                     rec.ID,
		Beneficiary:            rec.Beneficiary,
		ReferredUser:           rec.ReferredUser,
		SourceTransaction:      rec.SourceTransaction,
		SourceTransactionModel: rec.SourceTransactionModel,
		Generation:             rec.Generation,
		PurchaseType:           string(rec.PurchaseType),
		Currency:               string(rec.Currency),
		Amount:                 rec.Amount,
		Status:                 string(rec.Status),
		BaseAmount:             rec.Details.BaseAmount,
		Rate:                   rec.Details.Rate,
		CreatedAt:              rec.CreatedAt,
		RolledBackAt:           rec.RolledBackAt,
		RollbackReason:         rec.RollbackReason,
	}
}
