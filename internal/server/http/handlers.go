package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/model"
	"github.com/and161185/arena-auth/internal/service"
	"github.com/and161185/arena-auth/internal/validate"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

var errBadBody = errors.New("malformed request body")

// Handler serves the auth routes.
type Handler struct {
	auth service.AuthService
	log  *zap.Logger
}

// sessionData is the data of register, login and refresh responses.
type sessionData struct {
	User         model.PublicUser `json:"user"`
	Token        string           `json:"token"`
	RefreshToken string           `json:"refreshToken"`
	ExpiresIn    int64            `json:"expiresIn"`
	ExpiresAt    time.Time        `json:"expiresAt"`
}

func toSessionData(r service.Result) sessionData {
	return sessionData{
		User:         r.User,
		Token:        r.Tokens.AccessToken,
		RefreshToken: r.Tokens.RefreshToken,
		ExpiresIn:    int64(r.Tokens.ExpiresIn / time.Second),
		ExpiresAt:    r.Tokens.ExpiresAt.UTC(),
	}
}

type userData struct {
	User model.PublicUser `json:"user"`
}

type sessionStatus struct {
	Authenticated bool              `json:"authenticated"`
	User          *model.PublicUser `json:"user,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, h.log, errs.Validation("decode", map[string]string{"body": errBadBody.Error()}))
		return false
	}
	return true
}

func (h *Handler) register(c *gin.Context) {
	var in validate.RegisterInput
	if !h.bind(c, &in) {
		return
	}
	res, err := h.auth.Register(c.Request.Context(), in)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusCreated, toSessionData(res))
}

func (h *Handler) login(c *gin.Context) {
	var in validate.LoginInput
	if !h.bind(c, &in) {
		return
	}
	res, err := h.auth.Login(c.Request.Context(), in)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, toSessionData(res))
}

func (h *Handler) refresh(c *gin.Context) {
	var in refreshRequest
	if !h.bind(c, &in) {
		return
	}
	if in.RefreshToken == "" {
		fail(c, h.log, errs.Validation("refresh", map[string]string{"refreshToken": "cannot be blank"}))
		return
	}
	res, err := h.auth.Refresh(c.Request.Context(), in.RefreshToken)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, toSessionData(res))
}

func (h *Handler) me(c *gin.Context) {
	p, found := principal(c)
	if !found {
		fail(c, h.log, errs.E(errs.KindInternal, "me", errors.New("guard did not attach principal")))
		return
	}
	ok(c, http.StatusOK, userData{User: p.User})
}

func (h *Handler) session(c *gin.Context) {
	p, found := principal(c)
	if !found {
		ok(c, http.StatusOK, sessionStatus{})
		return
	}
	u := p.User
	ok(c, http.StatusOK, sessionStatus{Authenticated: true, User: &u})
}

func (h *Handler) adminUser(c *gin.Context) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		fail(c, h.log, errs.Validation("admin.user", map[string]string{"id": "must be a valid UUID"}))
		return
	}
	u, err := h.auth.User(c.Request.Context(), id)
	if errs.KindOf(err) == errs.KindUserNotFound {
		failStatus(c, h.log, err, http.StatusNotFound)
		return
	}
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, userData{User: u})
}

func (h *Handler) healthz(c *gin.Context) {
	if err := h.auth.Ping(c.Request.Context()); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
