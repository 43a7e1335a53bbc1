package middleware

import (
	"net/http"
	"time"

	"PRelay/global"
	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessLog writes one line per request. Probe paths are logged at debug.
func AccessLog(quiet ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if _, ok := skip[c.FullPath()]; ok {
			logger.Debug("[http] request", fields...)
			return
		}
		logger.Info("[http] request", fields...)
	}
}

// Recovery turns a handler panic into a 500 with the usual envelope.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, r any) {
		logger.Error("[http] panic", zap.String("path", c.Request.URL.Path), zap.Any("panic", r), zap.Stack("stack"))
		c.AbortWithStatusJSON(http.StatusInternalServerError, global.Fail(&errs.ErrInternalServer))
	})
}
