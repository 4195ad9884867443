package httpserver

import (
	"context"

	"github.com/and161185/arena-auth/internal/model"
	"github.com/gin-gonic/gin"
)

type ctxKey string

const principalKey ctxKey = "arena.principal"

// Principal is the verified caller attached by a guard.
type Principal struct {
	Claims model.Claims
	User   model.PublicUser
}

// WithPrincipal stores the verified caller in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the verified caller from context.
func PrincipalFromCtx(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func principal(c *gin.Context) (Principal, bool) {
	return PrincipalFromCtx(c.Request.Context())
}
