package auth

import (
	"context"

	"github.com/krobus00/price-stream-service/internal/entity"
)

type principalKey struct{}

type userIDKey struct{}

func WithPrincipal(ctx context.Context, principal entity.Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, principal)
	return context.WithValue(ctx, userIDKey{}, principal.UserID)
}

func PrincipalFromContext(ctx context.Context) (entity.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(entity.Principal)
	return principal, ok
}

func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}
