package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/protofire/proteus-shield/go-dev-proxy/proxy"
)

// requestLogger writes one line per request. Proxied requests carry the rule
// and upstream URL.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		path := ctx.Request.URL.Path
		query := ctx.Request.URL.RawQuery

		ctx.Next()

		status := ctx.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Warn()
		case status == proxy.StatusClientClosedRequest:
			event = logger.Debug()
		default:
			event = logger.Info()
		}

		event = event.
			Str("method", ctx.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", ctx.ClientIP()).
			Int("bytes", ctx.Writer.Size())
		if query != "" {
			event = event.Str("query", query)
		}
		if rule := ctx.GetString(proxy.RuleKey); rule != "" {
			event = event.Str("rule", rule).Str("upstream", ctx.GetString(proxy.UpstreamKey))
		}
		event.Msg("request")
	}
}

func recovery(logger zerolog.Logger) gin.RecoveryFunc {
	return func(ctx *gin.Context, err any) {
		logger.Error().
			Interface("panic", err).
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Msg("recovered from panic")
		ctx.AbortWithStatus(http.StatusInternalServerError)
	}
}
