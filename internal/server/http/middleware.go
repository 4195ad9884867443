package httpserver

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logging logs one line per request. Bodies and headers are never logged.
func Logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", c.ClientIP()),
		)
	}
}

// Recover turns a handler panic into a generic 500.
func Recover(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", c.Request.Method),
					zap.String("route", c.FullPath()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, envelope{
					Message: msgInternal,
					Error:   errs.KindInternal.Code(),
				})
			}
		}()
		c.Next()
	}
}
