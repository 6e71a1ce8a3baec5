package log

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

// GinMiddleware returns a Gin middleware that tags every request with a
// request ID, stores a child logger in the request context and logs the
// completed request together with the authenticated actor, if any.
//
// Requests for skipPaths (health checks) are tagged but not logged.
// Websocket upgrades finish only when the live connection closes, so they
// are reported as connection lifetimes instead of request latencies.
func GinMiddleware(logger zerolog.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}

		child := logger.With().
			Str(FieldRequestID, reqID).
			Str(FieldMethod, c.Request.Method).
			Str(FieldPath, c.Request.URL.Path).
			Str(FieldClientIP, c.ClientIP()).
			Logger()

		c.Header(headerRequestID, reqID)
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), child))

		c.Next()

		if _, ok := skip[c.Request.URL.Path]; ok {
			return
		}

		var evt *zerolog.Event
		msg := "request completed"
		switch {
		case isUpgrade(c):
			evt = child.Debug().Dur("lifetime", time.Since(start))
			msg = "live connection ended"
		case c.Writer.Status() >= 500:
			evt = child.Error()
		default:
			evt = child.Info()
		}
		evt = evt.
			Int(FieldStatus, c.Writer.Status()).
			Float64(FieldLatency, float64(time.Since(start).Milliseconds()))

		// Actor info is set by the auth middleware, so it is only visible after c.Next().
		if userID := c.GetString(FieldUserID); userID != "" {
			evt = evt.Str(FieldUserID, userID)
		}
		if username := c.GetString(FieldUsername); username != "" {
			evt = evt.Str(FieldUsername, username)
		}

		evt.Msg(msg)
	}
}

func isUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}
