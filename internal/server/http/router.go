// Package httpserver exposes the auth API over HTTP with gin.
package httpserver

import (
	"net/http"

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/metrics"
	"github.com/and161185/arena-auth/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the router collaborators. Metrics and Gatherer may be nil.
type Deps struct {
	Auth     service.AuthService
	Verifier Authenticator
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

// NewRouter wires middlewares, guards and handlers.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r := gin.New()
	r.Use(Recover(d.Log), Logging(d.Log))
	r.HandleMethodNotAllowed = true

	h := &Handler{auth: d.Auth, log: d.Log}
	g := NewGuard(d.Verifier, d.Metrics, d.Log)

	auth := r.Group("/auth")
	{
		auth.POST("/register", h.register)
		auth.POST("/login", h.login)
		auth.POST("/refresh", h.refresh)
		auth.GET("/me", g.Required(), h.me)
		auth.GET("/session", g.Optional(), h.session)
	}
	r.GET("/admin/users/:id", g.Admin(), h.adminUser)

	r.GET("/healthz", h.healthz)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, envelope{Message: "not found", Error: errs.KindUnknown.Code()})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, envelope{Message: "method not allowed", Error: errs.KindUnknown.Code()})
	})
	return r
}
