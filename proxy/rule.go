package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/protofire/proteus-shield/go-dev-proxy/models"
)

// Rule is a compiled, immutable models.ProxyRule.
type Rule struct {
	config  models.ProxyRule
	target  *url.URL
	pattern *regexp.Regexp
	rewrite *regexp.Regexp
	headers http.Header
	timeout time.Duration
}

func NewRule(config models.ProxyRule) (*Rule, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("proxy rule %q: %w", config.Match, err)
	}

	target, err := url.Parse(config.Target)
	if err != nil {
		return nil, err
	}

	rule := &Rule{
		config:  config,
		target:  target,
		headers: make(http.Header, len(config.Headers)),
		timeout: config.Timeout,
	}

	if config.IsPattern() {
		rule.pattern = regexp.MustCompile(config.Match)
	}
	if config.Rewrite != nil && config.Rewrite.Pattern != "" {
		rule.rewrite = regexp.MustCompile(config.Rewrite.Pattern)
	}
	for name, value := range config.Headers {
		rule.headers.Set(name, value)
	}

	return rule, nil
}

// Name is the configured match string.
func (rule *Rule) Name() string {
	return rule.config.Match
}

func (rule *Rule) Target() *url.URL {
	u := *rule.target
	return &u
}

func (rule *Rule) ChangeOrigin() bool {
	return rule.config.ChangeOrigin
}

func (rule *Rule) IsPattern() bool {
	return rule.pattern != nil
}

func (rule *Rule) Timeout() time.Duration {
	return rule.timeout
}

// MatchPath reports whether the raw request path is claimed by the rule.
func (rule *Rule) MatchPath(path string) bool {
	if rule.pattern != nil {
		return rule.pattern.MatchString(path)
	}
	return strings.HasPrefix(path, rule.config.Match)
}

// Match reports whether the rule applies to the request. Websocket upgrades
// are only claimed by rules with ws enabled.
func (rule *Rule) Match(req *http.Request) bool {
	if !rule.MatchPath(req.URL.EscapedPath()) {
		return false
	}
	if isWebSocketUpgrade(req.Header) {
		return rule.config.WS
	}
	return true
}

// RewritePath applies the rule's rewrite to path. The result always starts
// with "/"; anything else is ErrMalformedRewrite.
func (rule *Rule) RewritePath(path string) (string, error) {
	rewritten := path

	switch {
	case rule.rewrite != nil:
		loc := rule.rewrite.FindStringSubmatchIndex(path)
		if loc != nil {
			replacement := rule.rewrite.ExpandString(nil, rule.config.Rewrite.Replace, path, loc)
			rewritten = path[:loc[0]] + string(replacement) + path[loc[1]:]
		}
	case rule.config.Rewrite != nil && rule.config.Rewrite.StripPrefix:
		rewritten = strings.TrimPrefix(path, rule.config.Match)
		if rewritten == "" {
			rewritten = "/"
		}
	}

	if !strings.HasPrefix(rewritten, "/") {
		return "", fmt.Errorf("%w: rule %q rewrote %q to %q", ErrMalformedRewrite, rule.Name(), path, rewritten)
	}

	return rewritten, nil
}

// Upstream returns the URL a request for in is forwarded to: the target
// origin and base path, the rewritten path, and the request query string.
func (rule *Rule) Upstream(in *url.URL) (*url.URL, error) {
	rawPath, err := rule.RewritePath(in.EscapedPath())
	if err != nil {
		return nil, err
	}

	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %q produced %q: %w", ErrMalformedRewrite, rule.Name(), rawPath, err)
	}

	out := rule.Target()
	out.Path = strings.TrimSuffix(rule.target.Path, "/") + path
	out.RawPath = strings.TrimSuffix(rule.target.EscapedPath(), "/") + rawPath
	out.Fragment = ""

	switch {
	case rule.target.RawQuery == "":
		out.RawQuery = in.RawQuery
	case in.RawQuery != "":
		out.RawQuery = rule.target.RawQuery + "&" + in.RawQuery
	}

	return out, nil
}
