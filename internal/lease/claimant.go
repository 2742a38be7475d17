package lease

import (
	"context"
	"strings"
)

type claimantKey struct{}

// WithClaimant attaches the caller's claimant id, as resolved by the
// transport from its authenticated session.
func WithClaimant(ctx context.Context, claimantID string) context.Context {
	return context.WithValue(ctx, claimantKey{}, strings.TrimSpace(claimantID))
}

func ClaimantFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(claimantKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
