package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Rewrite describes how a matched request path is transformed before it is
// forwarded. Pattern is a regular expression whose first match is replaced by
// Replace ($1-style group references are expanded). StripPrefix removes the
// rule's literal match prefix instead.
type Rewrite struct {
	Pattern     string `yaml:"pattern"`
	Replace     string `yaml:"replace"`
	StripPrefix bool   `yaml:"strip_prefix"`
}

type ProxyRule struct {
	Match        string            `yaml:"match"`
	Target       string            `yaml:"target"`
	ChangeOrigin bool              `yaml:"change_origin"`
	Rewrite      *Rewrite          `yaml:"rewrite"`
	WS           bool              `yaml:"ws"`
	Secure       bool              `yaml:"secure" default:"true"`
	XFwd         bool              `yaml:"xfwd"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout" default:"30s"`
}

// NewProxyRule returns a rule for match -> target with every default applied.
// It panics if the default tags on ProxyRule are invalid.
func NewProxyRule(match, target string) ProxyRule {
	var rule ProxyRule
	if err := defaults.Set(&rule); err != nil {
		panic(err)
	}
	rule.Match = match
	rule.Target = target
	return rule
}

// IsPattern reports whether Match is a regular expression rather than a
// literal path prefix.
func (rule ProxyRule) IsPattern() bool {
	return strings.HasPrefix(rule.Match, "^")
}

// A rule is either a mapping or a bare target string.
func (rule *ProxyRule) UnmarshalYAML(value *yaml.Node) error {
	if err := defaults.Set(rule); err != nil {
		return err
	}

	if value.Kind == yaml.ScalarNode {
		return value.Decode(&rule.Target)
	}

	type plain ProxyRule
	if err := value.Decode((*plain)(rule)); err != nil {
		return err
	}

	return nil
}

// ProxyRules keeps rules in the order they are declared. In YAML it is
// either a mapping from match prefix to rule or a sequence of rules that
// carry their own match.
type ProxyRules []ProxyRule

func (rules *ProxyRules) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		decoded := make(ProxyRules, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			key, node := value.Content[i], value.Content[i+1]

			var rule ProxyRule
			if err := node.Decode(&rule); err != nil {
				return fmt.Errorf("proxy %q: %w", key.Value, err)
			}
			if rule.Match == "" {
				rule.Match = key.Value
			}
			decoded = append(decoded, rule)
		}
		*rules = decoded
	case yaml.SequenceNode:
		var decoded []ProxyRule
		if err := value.Decode(&decoded); err != nil {
			return err
		}
		*rules = decoded
	default:
		return fmt.Errorf("line %d: proxy must be a mapping or a sequence", value.Line)
	}

	return nil
}

type RouterConfig struct {
	Listen    string     `yaml:"listen" default:":5173"`
	StaticDir string     `yaml:"static_dir"`
	Proxy     ProxyRules `yaml:"proxy"`
}
