package domain

import (
	"time"

	"github.com/google/uuid"
)

// GenerationStats summarizes one generation of a user's referral activity.
type GenerationStats struct {
	Count    int     `json:"count"`
	Earnings float64 `json:"earnings"`
}

// ReferralStats is the per-user materialized view over the commission
// ledger. The ledger is the source of truth; this view is reproducible by
// the reconciler at any time.
type ReferralStats struct {
	UserID        uuid.UUID       `json:"user_id"`
	ReferredUsers int             `json:"referred_users"`
	TotalEarnings float64         `json:"total_earnings"`
	Generation1   GenerationStats `json:"generation1"`
	Generation2   GenerationStats `json:"generation2"`
	Generation3   GenerationStats `json:"generation3"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Generation returns a pointer to the stats bucket for generation 1..3, or
// nil for any other value.
func (s *ReferralStats) Generation(gen int) *GenerationStats {
	switch gen {
	case 1:
		return &s.Generation1
	case 2:
		return &s.Generation2
	case 3:
		return &s.Generation3
	}
	return nil
}

// MaxGenerations is the depth of the referral chain that earns commissions.
const MaxGenerations = 3
