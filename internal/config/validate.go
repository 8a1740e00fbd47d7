package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/jaxxstorm/dnsaudit/internal/model"
)

// ConfigError describes one invalid configuration field.
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every ConfigError found in one pass.
type ValidationError struct {
	Errors []ConfigError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		parts = append(parts, err.Error())
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, ConfigError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) empty() bool {
	return len(e.Errors) == 0
}

// Validate checks the configuration before any probe is dispatched.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if len(c.Resolvers) == 0 {
		verr.add("resolvers", "at least one resolver is required")
	}
	names := map[string]int{}
	for i, r := range c.Resolvers {
		field := fmt.Sprintf("resolvers[%d]", i)
		validateTarget(verr, field, r)
		if first, ok := names[r.Name()]; ok {
			verr.add(field, "duplicate resolver %q, also resolvers[%d]", r.Name(), first)
			continue
		}
		names[r.Name()] = i
	}
	for i, r := range c.SecureDNS {
		field := fmt.Sprintf("secure_dns[%d]", i)
		validateTarget(verr, field, r)
		if r.Transport != "" && !r.Transport.Encrypted() {
			verr.add(field+".transport", "secure_dns endpoints must use dot or doh, got %q", r.Transport)
		}
	}

	if len(c.Run.Categories) == 0 {
		verr.add("run.categories", "no categories enabled")
	}
	for _, name := range c.Run.Categories {
		if !model.KnownCategory(model.CategoryName(strings.TrimSpace(name))) {
			verr.add("run.categories", "unknown category %q", name)
		}
	}
	if c.Run.Concurrency < 0 {
		verr.add("run.concurrency", "must not be negative")
	}
	if c.Run.PerResolverConcurrency < 0 {
		verr.add("run.per_resolver_concurrency", "must not be negative")
	}
	if c.Run.PerResolverQPS < 0 {
		verr.add("run.per_resolver_qps", "must not be negative")
	}
	if c.Run.ProbeTimeout.Duration <= 0 {
		verr.add("run.probe_timeout", "must be positive")
	}
	if c.Run.Deadline.Duration <= 0 {
		verr.add("run.deadline", "must be positive")
	}
	for name, n := range c.Run.Retries {
		if !model.KnownCategory(model.CategoryName(name)) {
			verr.add("run.retries."+name, "unknown category")
		}
		if n < 0 {
			verr.add("run.retries."+name, "must not be negative")
		}
	}

	if c.Domains.Neutral == "" {
		verr.add("domains.neutral", "required")
	}
	if c.Domains.PerformanceSamples < 1 {
		verr.add("domains.performance_samples", "must be at least 1")
	}

	switch c.Blocking.Aggregation {
	case AggregationPrimary, AggregationAny, AggregationAll:
	default:
		verr.add("blocking.aggregation", "must be one of primary, any, all; got %q", c.Blocking.Aggregation)
	}
	for _, entry := range c.Blocking.Sinkholes {
		if _, err := ParseSinkhole(entry); err != nil {
			verr.add("blocking.sinkholes", "%v", err)
		}
	}

	for i, ep := range c.CaptivePortal {
		u, err := url.Parse(ep.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			verr.add(fmt.Sprintf("captive_portal[%d].url", i), "must be an http(s) URL, got %q", ep.URL)
		}
	}

	for _, name := range model.Categories {
		t, ok := c.Thresholds[string(name)]
		if !ok {
			verr.add("thresholds."+string(name), "missing threshold table")
			continue
		}
		validateThreshold(verr, "thresholds."+string(name), t)
	}
	for name := range c.Thresholds {
		if !model.KnownCategory(model.CategoryName(name)) {
			verr.add("thresholds."+name, "unknown category")
		}
	}

	if verr.empty() {
		return nil
	}
	return verr
}

func validateTarget(verr *ValidationError, field string, r model.ResolverTarget) {
	if strings.TrimSpace(r.Address) == "" {
		verr.add(field+".address", "required")
	}
	switch r.Transport {
	case "", model.TransportUDP, model.TransportTCP, model.TransportAuto, model.TransportDoT:
	case model.TransportDoH:
		if !strings.HasPrefix(r.Address, "https://") {
			verr.add(field+".address", "doh endpoints must be https URLs")
		}
	default:
		verr.add(field+".transport", "unknown transport %q", r.Transport)
	}
}

func validateThreshold(verr *ValidationError, field string, t Threshold) {
	if t.Metric == "" {
		verr.add(field+".metric", "required")
	}
	switch t.Direction {
	case DirectionHigher:
		if t.Excellent < t.Good || t.Good < t.Warning {
			verr.add(field, "higher-is-better bounds must satisfy excellent >= good >= warning")
		}
	case DirectionLower:
		if t.Excellent > t.Good || t.Good > t.Warning {
			verr.add(field, "lower-is-better bounds must satisfy excellent <= good <= warning")
		}
	default:
		verr.add(field+".direction", "must be higher or lower, got %q", t.Direction)
	}
}

// ParseSinkhole parses a sinkhole entry given as an IP or a CIDR.
func ParseSinkhole(entry string) (net.IPNet, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, ipnet, err := net.ParseCIDR(entry)
		if err != nil {
			return net.IPNet{}, fmt.Errorf("invalid sinkhole %q: %w", entry, err)
		}
		return *ipnet, nil
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return net.IPNet{}, fmt.Errorf("invalid sinkhole %q", entry)
	}
	if v4 := ip.To4(); v4 != nil {
		return net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}, nil
	}
	return net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}
