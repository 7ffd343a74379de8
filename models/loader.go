package models

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/creasty/defaults"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// LoadRouterConfig reads, decodes and validates the YAML router config at
// path. An empty file yields a config with defaults and no rules. Every
// invalid rule is reported in the returned error, not only the first.
func LoadRouterConfig(path string) (*RouterConfig, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read router config: %w", err)
	}

	return ParseRouterConfig(file)
}

func ParseRouterConfig(data []byte) (*RouterConfig, error) {
	var config RouterConfig
	if err := defaults.Set(&config); err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return &config, nil
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse router config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (config *RouterConfig) Validate() error {
	var err error

	if strings.TrimSpace(config.Listen) == "" {
		err = multierr.Append(err, errors.New("listen: required field missing"))
	}

	seen := make(map[string]struct{}, len(config.Proxy))
	for i, rule := range config.Proxy {
		if _, dup := seen[rule.Match]; rule.Match != "" && dup {
			err = multierr.Append(err, fmt.Errorf("proxy[%d].match: duplicate rule %q", i, rule.Match))
		}
		seen[rule.Match] = struct{}{}

		for _, ruleErr := range multierr.Errors(rule.Validate()) {
			err = multierr.Append(err, fmt.Errorf("proxy[%d]: %w", i, ruleErr))
		}
	}

	return err
}

func (rule ProxyRule) Validate() error {
	var err error

	switch {
	case rule.Match == "":
		err = multierr.Append(err, errors.New("match: required field missing"))
	case rule.IsPattern():
		if _, compileErr := regexp.Compile(rule.Match); compileErr != nil {
			err = multierr.Append(err, fmt.Errorf("match: %w", compileErr))
		}
	case !strings.HasPrefix(rule.Match, "/"):
		err = multierr.Append(err, fmt.Errorf("match: prefix %q must start with /", rule.Match))
	}

	err = multierr.Append(err, validateTarget(rule.Target))

	if rule.Rewrite != nil {
		switch {
		case rule.Rewrite.StripPrefix && rule.Rewrite.Pattern != "":
			err = multierr.Append(err, errors.New("rewrite: pattern and strip_prefix are mutually exclusive"))
		case rule.Rewrite.StripPrefix && rule.IsPattern():
			err = multierr.Append(err, errors.New("rewrite: strip_prefix needs a literal match prefix"))
		case rule.Rewrite.Pattern != "":
			if _, compileErr := regexp.Compile(rule.Rewrite.Pattern); compileErr != nil {
				err = multierr.Append(err, fmt.Errorf("rewrite.pattern: %w", compileErr))
			}
		case !rule.Rewrite.StripPrefix:
			err = multierr.Append(err, errors.New("rewrite: pattern or strip_prefix required"))
		}
	}

	if rule.Timeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("timeout: must be positive, got %s", rule.Timeout))
	}

	for name := range rule.Headers {
		if strings.TrimSpace(name) == "" {
			err = multierr.Append(err, errors.New("headers: empty header name"))
		}
	}

	return err
}

func validateTarget(target string) error {
	if strings.TrimSpace(target) == "" {
		return errors.New("target: required field missing")
	}

	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("target: %q has no host", target)
	}

	return nil
}
