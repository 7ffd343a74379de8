package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/protofire/proteus-shield/go-dev-proxy/models"
)

// Context keys set on the gin context for proxied requests.
const (
	RuleKey     = "devproxy.rule"
	UpstreamKey = "devproxy.upstream"
)

// Evaluator matches requests against the rule table and forwards claimed
// requests upstream. It holds no mutable state after construction and is
// safe for concurrent use.
type Evaluator struct {
	table    *Table
	forwards map[*Rule]*httputil.ReverseProxy
	logger   zerolog.Logger
}

func NewEvaluator(configs []models.ProxyRule, logger zerolog.Logger) (*Evaluator, error) {
	rules := make([]*Rule, 0, len(configs))
	for _, config := range configs {
		rule, err := NewRule(config)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	evaluator := &Evaluator{
		table:    NewTable(rules...),
		forwards: make(map[*Rule]*httputil.ReverseProxy, len(rules)),
		logger:   logger,
	}
	for _, rule := range rules {
		evaluator.forwards[rule] = evaluator.newReverseProxy(rule)
		logger.Info().
			Str("match", rule.Name()).
			Str("target", rule.Target().String()).
			Bool("change_origin", rule.ChangeOrigin()).
			Msg("proxy rule registered")
	}

	return evaluator, nil
}

func (e *Evaluator) Lookup(req *http.Request) *Rule {
	return e.table.Lookup(req)
}

func (e *Evaluator) Len() int {
	return e.table.Len()
}

// Serve forwards req to the rule's upstream and streams the response back.
// It returns the upstream URL, or nil when the rewrite failed. Upstream
// failures are reported to the client and never retried.
func (e *Evaluator) Serve(w http.ResponseWriter, req *http.Request, rule *Rule) *url.URL {
	upstream, err := rule.Upstream(req.URL)
	if err != nil {
		e.logger.Error().Err(err).Str("rule", rule.Name()).Str("path", req.URL.Path).Msg("http proxy rewrite error")
		WriteError(w, err)
		return nil
	}

	outreq := req.WithContext(req.Context())
	outreq.URL = upstream

	e.forwards[rule].ServeHTTP(w, outreq)
	return upstream
}

// Middleware proxies requests claimed by a rule and aborts the chain. Other
// requests continue to the next handler untouched.
func (e *Evaluator) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rule := e.Lookup(ctx.Request)
		if rule == nil {
			ctx.Next()
			return
		}

		ctx.Set(RuleKey, rule.Name())
		if upstream := e.Serve(ctx.Writer, ctx.Request, rule); upstream != nil {
			ctx.Set(UpstreamKey, upstream.String())
		}
		ctx.Abort()
	}
}

func (e *Evaluator) newReverseProxy(rule *Rule) *httputil.ReverseProxy {
	logger := e.logger.With().Str("rule", rule.Name()).Logger()
	target := rule.Target()

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			// Rewrite mode drops query parameters url.ParseQuery rejects.
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			// Rewrite mode strips the forwarding headers; inbound ones are
			// passed through verbatim.
			for _, name := range forwardingHeaders {
				if values, ok := pr.In.Header[name]; ok {
					pr.Out.Header[name] = values
				}
			}
			if rule.config.XFwd {
				pr.SetXForwarded()
			}
			if rule.ChangeOrigin() {
				pr.Out.Host = target.Host
			}
			for name, values := range rule.headers {
				pr.Out.Header[name] = append([]string(nil), values...)
			}
		},
		Transport:     newTransport(rule.Timeout(), rule.config.Secure),
		FlushInterval: -1,
		ErrorLog:      log.New(logger, "", 0),
		ErrorHandler: func(rw http.ResponseWriter, r *http.Request, err error) {
			err = Classify(err)
			if errors.Is(err, context.Canceled) {
				logger.Debug().Err(err).Str("upstream", r.URL.String()).Msg("client closed request")
			} else {
				logger.Error().Err(err).Str("upstream", r.URL.String()).Msg("http proxy error")
			}
			WriteError(rw, fmt.Errorf("%s %s: %w", r.Method, r.URL.Redacted(), err))
		},
	}
}

var forwardingHeaders = []string{
	"Forwarded",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
}
