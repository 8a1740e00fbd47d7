package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jaxxstorm/dnsaudit/internal/model"
)

const (
	DirectionHigher = "higher"
	DirectionLower  = "lower"

	AggregationPrimary = "primary"
	AggregationAny     = "any"
	AggregationAll     = "all"

	// MaxWorkers caps the automatic worker count.
	MaxWorkers = 16
)

// ThreatOrder is the stable ordering of the built-in threat sub-lists.
var ThreatOrder = []string{"malware", "phishing", "ads", "tracking"}

type Config struct {
	Run           RunOptions             `toml:"run"`
	Resolvers     []model.ResolverTarget `toml:"resolvers"`
	Domains       Domains                `toml:"domains"`
	Blocking      Blocking               `toml:"blocking"`
	Consistency   Consistency            `toml:"consistency"`
	Interception  Interception           `toml:"interception"`
	CaptivePortal []CaptiveEndpoint      `toml:"captive_portal"`
	SecureDNS     []model.ResolverTarget `toml:"secure_dns"`
	Thresholds    map[string]Threshold   `toml:"thresholds"`
}

type RunOptions struct {
	Environment            string         `toml:"environment"`
	Categories             []string       `toml:"categories"`
	Concurrency            int            `toml:"concurrency"`
	PerResolverConcurrency int            `toml:"per_resolver_concurrency"`
	PerResolverQPS         float64        `toml:"per_resolver_qps"`
	ProbeTimeout           Duration       `toml:"probe_timeout"`
	Deadline               Duration       `toml:"deadline"`
	FailOnCritical         bool           `toml:"fail_on_critical"`
	Retries                map[string]int `toml:"retries"`
}

type Domains struct {
	Baseline           []string            `toml:"baseline"`
	Poisoning          []string            `toml:"poisoning"`
	Threats            map[string][]string `toml:"threats"`
	Neutral            string              `toml:"neutral"`
	PerformanceSamples int                 `toml:"performance_samples"`
}

type Blocking struct {
	Sinkholes   []string `toml:"sinkholes"`
	Aggregation string   `toml:"aggregation"`
}

type Consistency struct {
	GeoVariance []string `toml:"geo_variance"`
}

type Interception struct {
	Hosts           []string            `toml:"hosts"`
	ExpectedIssuers map[string][]string `toml:"expected_issuers"`
	WellKnownCAs    []string            `toml:"well_known_cas"`
	VendorMarkers   []string            `toml:"vendor_markers"`
}

type CaptiveEndpoint struct {
	URL          string `toml:"url"`
	ExpectStatus int    `toml:"expect_status"`
	ExpectBody   string `toml:"expect_body"`
}

type Threshold struct {
	Metric    string  `toml:"metric"`
	Direction string  `toml:"direction"`
	Excellent float64 `toml:"excellent"`
	Good      float64 `toml:"good"`
	Warning   float64 `toml:"warning"`
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads a TOML file over the defaults. Keys the decoder does not
// recognize are reported as configuration errors. A threat or expected
// issuer table in the file replaces the default one wholesale, and a
// threshold table only overrides the fields it sets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		verr := &ValidationError{}
		for _, key := range undecoded {
			verr.add(key.String(), "unknown configuration key")
		}
		return nil, verr
	}

	var tables struct {
		Domains struct {
			Threats map[string][]string `toml:"threats"`
		} `toml:"domains"`
		Interception struct {
			ExpectedIssuers map[string][]string `toml:"expected_issuers"`
		} `toml:"interception"`
	}
	if _, err := toml.Decode(string(data), &tables); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if meta.IsDefined("domains", "threats") {
		cfg.Domains.Threats = orEmpty(tables.Domains.Threats)
	}
	if meta.IsDefined("interception", "expected_issuers") {
		cfg.Interception.ExpectedIssuers = orEmpty(tables.Interception.ExpectedIssuers)
	}
	mergeThresholds(cfg.Thresholds, meta)
	return cfg, nil
}

func orEmpty(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}
	return m
}

// mergeThresholds fills the fields a file left out of a threshold table
// from the built-in table of the same name.
func mergeThresholds(thresholds map[string]Threshold, meta toml.MetaData) {
	defaults := DefaultThresholds()
	for name, t := range thresholds {
		base, ok := defaults[name]
		if !ok || !meta.IsDefined("thresholds", name) {
			continue
		}
		if meta.IsDefined("thresholds", name, "metric") {
			base.Metric = t.Metric
		}
		if meta.IsDefined("thresholds", name, "direction") {
			base.Direction = t.Direction
		}
		if meta.IsDefined("thresholds", name, "excellent") {
			base.Excellent = t.Excellent
		}
		if meta.IsDefined("thresholds", name, "good") {
			base.Good = t.Good
		}
		if meta.IsDefined("thresholds", name, "warning") {
			base.Warning = t.Warning
		}
		thresholds[name] = base
	}
}

// Enabled returns the selected categories in catalog order.
func (c *Config) Enabled() []model.CategoryName {
	selected := map[model.CategoryName]bool{}
	for _, name := range c.Run.Categories {
		selected[model.CategoryName(strings.TrimSpace(name))] = true
	}
	out := []model.CategoryName{}
	for _, name := range model.Categories {
		if selected[name] {
			out = append(out, name)
		}
	}
	return out
}

// PrimaryResolver returns the resolver flagged primary, else the first one.
func (c *Config) PrimaryResolver() (model.ResolverTarget, bool) {
	if len(c.Resolvers) == 0 {
		return model.ResolverTarget{}, false
	}
	for _, r := range c.Resolvers {
		if r.Primary {
			return r, true
		}
	}
	return c.Resolvers[0], true
}

// ThreatCategories returns the configured threat sub-lists, built-in names
// first and any extra names sorted after them.
func (c *Config) ThreatCategories() []string {
	out := []string{}
	seen := map[string]bool{}
	for _, name := range ThreatOrder {
		if _, ok := c.Domains.Threats[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	extra := []string{}
	for name := range c.Domains.Threats {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// Retries returns the retry count configured for a category.
func (c *Config) Retries(category model.CategoryName) int {
	return c.Run.Retries[string(category)]
}

// Workers returns the pool size for n probes.
func (c *Config) Workers(n int) int {
	workers := c.Run.Concurrency
	if workers <= 0 {
		workers = n
		if workers > MaxWorkers {
			workers = MaxWorkers
		}
	}
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
