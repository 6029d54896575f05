package middleware

import (
	"context"

	"github.com/google/uuid"
)

// Request-scoped identities set by Auth and the membership guards. Each key
// is its own type so no other package can collide with it.
type (
	userKey     struct{}
	groupKey    struct{}
	proposalKey struct{}
)

func valueOf[T any](ctx context.Context, key any) T {
	var zero T
	if ctx == nil {
		return zero
	}
	if v, ok := ctx.Value(key).(T); ok {
		return v
	}
	return zero
}

func with(ctx context.Context, key, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

// UserIDFromContext returns the token subject, or "" outside Auth.
func UserIDFromContext(ctx context.Context) string { return valueOf[string](ctx, userKey{}) }

func GroupIDFromContext(ctx context.Context) uuid.UUID { return valueOf[uuid.UUID](ctx, groupKey{}) }

func ProposalIDFromContext(ctx context.Context) uuid.UUID {
	return valueOf[uuid.UUID](ctx, proposalKey{})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return with(ctx, userKey{}, userID)
}

func WithGroupID(ctx context.Context, groupID uuid.UUID) context.Context {
	return with(ctx, groupKey{}, groupID)
}

func WithProposalID(ctx context.Context, proposalID uuid.UUID) context.Context {
	return with(ctx, proposalKey{}, proposalID)
}
