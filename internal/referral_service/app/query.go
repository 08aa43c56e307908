package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
)

// Stats returns a user's current aggregates together with the directory
// entry, from which the transport layer derives the referral code and
// shareable link.
func (e *Engine) Stats(ctx context.Context, userID uuid.UUID) (*domain.ReferralStats, *domain.User, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	stats, err := e.stats.Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return stats, user, nil
}

// Tree returns the user's downstream referrals grouped by generation, depth
// domain.MaxGenerations, via reverse lookup of referredByCode.
func (e *Engine) Tree(ctx context.Context, userID uuid.UUID) (*domain.ReferralTree, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	tree := &domain.ReferralTree{UserID: user.ID, UserName: user.UserName}
	frontier := []string{user.UserName}

	for depth := 0; depth < domain.MaxGenerations && len(frontier) > 0; depth++ {
		var level []domain.TreeNode
		var next []string
		for _, code := range frontier {
			children, err := e.users.ListReferredBy(ctx, code)
			if err != nil {
				return nil, fmt.Errorf("failed to expand referral tree: %w", err)
			}
			for _, child := range children {
				level = append(level, domain.TreeNode{
					UserID:   child.ID,
					UserName: child.UserName,
					JoinedAt: child.CreatedAt,
				})
				next = append(next, child.UserName)
			}
		}
		tree.Generations = append(tree.Generations, level)
		frontier = next
	}

	return tree, nil
}

// ListCommissions pages a beneficiary's ledger, newest first.
func (e *Engine) ListCommissions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.CommissionRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return e.commissions.ListByBeneficiary(ctx, userID, limit, offset)
}

// UpdateRates applies an admin change to the commission configuration.
// Already-written ledger records keep the rate they were computed with.
func (e *Engine) UpdateRates(ctx context.Context, rates domain.CommissionRates) (*domain.CommissionRates, error) {
	if rates.Generation1 < 0 || rates.Generation2 < 0 || rates.Generation3 < 0 {
		return nil, fmt.Errorf("%w: rates must be non-negative", domain.ErrInvalidInput)
	}
	if rates.CoFounderRatio < 1 {
		return nil, fmt.Errorf("%w: co-founder ratio must be at least 1", domain.ErrInvalidInput)
	}
	if err := e.rates.Update(ctx, &rates); err != nil {
		return nil, err
	}
	return e.rates.Get(ctx)
}
