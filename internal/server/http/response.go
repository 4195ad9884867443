package httpserver

import (
	"net/http"

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	msgInternal    = "internal error"
	msgCredentials = "invalid email or password"
)

// envelope is the body of every auth response.
type envelope struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// statusOf maps an error kind to its HTTP status.
func statusOf(k errs.Kind) int {
	switch k {
	case errs.KindValidation, errs.KindDuplicateEmail, errs.KindDuplicateUsername:
		return http.StatusBadRequest
	case errs.KindCredential, errs.KindMalformed, errs.KindExpired, errs.KindSignatureInvalid,
		errs.KindUserNotFound, errs.KindUserInactive, errs.KindRefreshReused:
		return http.StatusUnauthorized
	case errs.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func messageOf(k errs.Kind) string {
	switch k {
	case errs.KindValidation:
		return "validation failed"
	case errs.KindDuplicateEmail:
		return "email already registered"
	case errs.KindDuplicateUsername:
		return "username already taken"
	case errs.KindCredential:
		return msgCredentials
	case errs.KindExpired:
		return "token expired"
	case errs.KindMalformed, errs.KindSignatureInvalid:
		return "invalid token"
	case errs.KindUserNotFound:
		return "user not found"
	case errs.KindUserInactive:
		return "account is disabled"
	case errs.KindRefreshReused:
		return "refresh token already used"
	case errs.KindForbidden:
		return "insufficient role"
	default:
		return msgInternal
	}
}

// fail writes err as an envelope. Server-side failures are logged with context
// and reduced to a generic message; expected failures are not logged.
func fail(c *gin.Context, log *zap.Logger, err error) {
	failStatus(c, log, err, 0)
}

func failStatus(c *gin.Context, log *zap.Logger, err error, status int) {
	k := errs.KindOf(err)
	if status == 0 {
		status = statusOf(k)
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("kind", k.Code()),
			zap.Error(err),
		)
		if k == errs.KindUnknown {
			k = errs.KindInternal
		}
	}
	c.AbortWithStatusJSON(status, envelope{
		Message: messageOf(k),
		Error:   k.Code(),
		Fields:  errs.FieldsOf(err),
	})
}
