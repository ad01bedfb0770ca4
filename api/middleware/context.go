package middleware

import (
	"context"

	pkgauth "github.com/angelmondragon/ledgerd/pkg/auth"
)

type contextKey string

const (
	ctxOperatorID contextKey = "operator_id"
	ctxClaims     contextKey = "operator_claims"
)

func OperatorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxOperatorID).(string); ok {
		return v
	}
	return ""
}

func ClaimsFromContext(ctx context.Context) *pkgauth.OperatorClaims {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxClaims).(*pkgauth.OperatorClaims); ok {
		return v
	}
	return nil
}

// WithClaims injects operator claims into the context.
func WithClaims(ctx context.Context, claims *pkgauth.OperatorClaims) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if claims == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, ctxClaims, claims)
	return context.WithValue(ctx, ctxOperatorID, claims.Subject)
}
