package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sharevest/referral-service/internal/referral_service/domain"
	"github.com/sharevest/referral-service/internal/referral_service/repository"
)

// ChainResolver walks a purchaser's referral chain upward, following
// referredByCode -> userName links.
type ChainResolver struct {
	users  repository.UserDirectory
	logger *slog.Logger
}

// NewChainResolver creates a resolver over the given user directory.
func NewChainResolver(users repository.UserDirectory, logger *slog.Logger) *ChainResolver {
	return &ChainResolver{users: users, logger: logger.With("component", "chain_resolver")}
}

// Resolve returns the purchaser's ancestors in generation order, at most
// domain.MaxGenerations deep.
//
// A referredByCode that matches no user stops the walk at the current depth:
// ancestors above an unreachable link are not credited. A cycle (including
// self-referral) also stops the walk; the directory is supposed to prevent
// cycles at signup, but the resolver must terminate regardless.
func (r *ChainResolver) Resolve(ctx context.Context, purchaser *domain.User) ([]domain.User, error) {
	visited := map[uuid.UUID]struct{}{purchaser.ID: {}}
	ancestors := make([]domain.User, 0, domain.MaxGenerations)

	current := purchaser
	for len(ancestors) < domain.MaxGenerations {
		code := current.ReferredByCode
		if code == "" {
			break
		}

		next, err := r.users.GetByUserName(ctx, code)
		if err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				r.logger.DebugContext(ctx, "referral chain stopped at unreachable ancestor",
					"user", current.UserName, "referred_by_code", code)
				break
			}
			return nil, fmt.Errorf("failed to resolve ancestor %q: %w", code, err)
		}

		if _, seen := visited[next.ID]; seen {
			r.logger.WarnContext(ctx, "referral chain contains a cycle, stopping",
				"user", current.UserName, "ancestor", next.UserName)
			break
		}
		visited[next.ID] = struct{}{}

		ancestors = append(ancestors, *next)
		current = next
	}

	return ancestors, nil
}
