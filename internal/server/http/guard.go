package httpserver

import (
	"context"
	"errors"
	"strings"

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/metrics"
	"github.com/and161185/arena-auth/internal/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Guard modes, also used as metric labels.
const (
	ModeRequired = "required"
	ModeAdmin    = "admin"
	ModeOptional = "optional"
)

const outcomeAnonymous = "anonymous"

var errNoBearer = errors.New("no bearer token")

// Authenticator verifies an access token against the directory.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*model.User, error)
}

// Guard builds the access middlewares.
type Guard struct {
	auth    Authenticator
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewGuard returns a Guard. m may be nil.
func NewGuard(auth Authenticator, m *metrics.Metrics, log *zap.Logger) *Guard {
	return &Guard{auth: auth, metrics: m, log: log}
}

// Required rejects the request with 401 unless a valid token of an active user is presented.
func (g *Guard) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := g.authenticate(c, ModeRequired); ok {
			c.Next()
		}
	}
}

// Admin is Required plus 403 unless the live directory role is admin.
func (g *Guard) Admin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := g.authenticate(c, ModeAdmin)
		if !ok {
			return
		}
		if !p.Claims.IsAdmin() {
			g.metrics.Guard(ModeAdmin, errs.KindForbidden.Code())
			fail(c, g.log, errs.E(errs.KindForbidden, "guard", nil))
			return
		}
		c.Next()
	}
}

// Optional never rejects. A valid token attaches the caller; anything else
// continues anonymously.
func (g *Guard) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearer(c.GetHeader("Authorization"))
		if err != nil {
			g.metrics.Guard(ModeOptional, outcomeAnonymous)
			c.Next()
			return
		}
		u, err := g.auth.Authenticate(c.Request.Context(), raw)
		if err != nil {
			if errs.KindOf(err).IsTransient() {
				g.log.Warn("optional guard: directory unavailable", zap.Error(err))
			}
			g.metrics.Guard(ModeOptional, outcomeAnonymous)
			c.Next()
			return
		}
		g.attach(c, u)
		g.metrics.Guard(ModeOptional, metrics.OutcomeOK)
		c.Next()
	}
}

// authenticate runs the Required checks and writes the failure response itself.
func (g *Guard) authenticate(c *gin.Context, mode string) (Principal, bool) {
	raw, err := bearer(c.GetHeader("Authorization"))
	if err != nil {
		err = errs.E(errs.KindMalformed, "guard", err)
		g.metrics.Guard(mode, metrics.Outcome(err))
		c.Header("WWW-Authenticate", `Bearer realm="arena"`)
		fail(c, g.log, err)
		return Principal{}, false
	}
	u, err := g.auth.Authenticate(c.Request.Context(), raw)
	if err != nil {
		g.metrics.Guard(mode, metrics.Outcome(err))
		if errs.KindOf(err) != errs.KindDirectory {
			c.Header("WWW-Authenticate", `Bearer realm="arena", error="invalid_token"`)
		}
		fail(c, g.log, err)
		return Principal{}, false
	}
	p := g.attach(c, u)
	if mode == ModeRequired || p.Claims.IsAdmin() {
		g.metrics.Guard(mode, metrics.OutcomeOK)
	}
	return p, true
}

func (g *Guard) attach(c *gin.Context, u *model.User) Principal {
	p := Principal{
		Claims: model.Claims{UserID: u.ID, Email: u.Email, Role: u.Role},
		User:   u.Public(),
	}
	c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
	return p
}

// bearer extracts the token from "Authorization: Bearer <token>".
func bearer(h string) (string, error) {
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", errNoBearer
	}
	tok := strings.TrimSpace(h[7:])
	if tok == "" {
		return "", errNoBearer
	}
	return tok, nil
}
