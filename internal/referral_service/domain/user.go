package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the read-only projection of the platform user directory that the
// engine needs: identity, the unique case-sensitive userName that doubles as
// a referral code, and the userName of the referrer (empty when the user
// signed up without one).
type User struct {
	ID             uuid.UUID `json:"id"`
	UserName       string    `json:"user_name"`
	ReferredByCode string    `json:"referred_by_code,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReferralTree lists a user's downstream referrals grouped by generation,
// up to MaxGenerations deep.
type ReferralTree struct {
	UserID      uuid.UUID    `json:"user_id"`
	UserName    string       `json:"user_name"`
	Generations [][]TreeNode `json:"generations"`
}

// TreeNode is one downstream user in the referral tree.
type TreeNode struct {
	UserID   uuid.UUID `json:"user_id"`
	UserName string    `json:"user_name"`
	JoinedAt time.Time `json:"joined_at"`
}
