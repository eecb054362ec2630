// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file covers request correlation and panic recovery:
//
//   - RequestID() assigns or propagates an X-Request-ID and attaches a
//     request-scoped zerolog.Logger carrying that id to the Gin context.
//   - Recovery() turns panics into JSON 500 responses without losing the
//     correlation id, and logs the stack.
//   - LoggerFrom() hands the request-scoped logger to handlers and
//     services. RedactingLogger (redact_logger.go) is the access logger
//     and composes after RequestID.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// RequestID reuses the caller's X-Request-ID when present (header lookup
// is case-insensitive) and generates a UUIDv4 otherwise. The id is echoed
// on the response, stored in the context, and baked into a request-scoped
// logger under the "logger" key. Install this first so everything
// downstream is correlated.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)

		l := log.With().Str("request_id", rid).Logger()
		c.Set(loggerKey, &l)

		c.Next()
	}
}

// Recovery logs recovered panics with a stack trace and replies with the
// standard JSON error envelope when nothing has been written yet. When the
// handler already wrote part of a response, only the status is aborted; a
// JSON body appended to a partial response would corrupt it.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := c.GetString(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header("Content-Type", "application/json")
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger attached by RequestID, or
// the global logger when the middleware is not installed. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}
