// Package catalog holds the static registry of test categories. Each
// category knows how to expand configuration into probes and how to turn
// its probe results into a score.
package catalog

import (
	"errors"
	"fmt"

	"github.com/jaxxstorm/dnsaudit/internal/config"
	"github.com/jaxxstorm/dnsaudit/internal/model"
)

// Skip reasons.
const (
	ReasonInsufficientResolvers = "insufficient_resolvers"
	ReasonNoTargets             = "no_targets"
	ReasonProtocolUnsupported   = "protocol_unsupported"
	ReasonNoComparableAnswers   = "no_comparable_answers"
	ReasonNoResults             = "no_results"
)

// SkipError marks a category that cannot execute. It is reported in the
// bundle, never as a run failure.
type SkipError struct {
	Category model.CategoryName
	Reason   string
	Detail   string
}

func (e *SkipError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s skipped: %s", e.Category, e.Reason)
	}
	return fmt.Sprintf("%s skipped: %s (%s)", e.Category, e.Reason, e.Detail)
}

func skip(category model.CategoryName, reason, detail string) *SkipError {
	return &SkipError{Category: category, Reason: reason, Detail: detail}
}

// AsSkip unwraps a SkipError.
func AsSkip(err error) (*SkipError, bool) {
	var s *SkipError
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

// Inputs is what a category sees when evaluating.
type Inputs struct {
	Config *config.Config
	// Results holds this category's results in probe ID order.
	Results []model.ProbeResult
	// Consistency holds findings computed across all compared categories.
	Consistency []model.ConsistencyFinding
}

// Outcome is the evaluation of one category.
type Outcome struct {
	Score        model.CategoryScore
	Blocking     []model.BlockingAssessment
	Interception []model.InterceptionFinding
}

type Category interface {
	Name() model.CategoryName
	// Precondition returns a *SkipError when the category cannot run
	// under cfg.
	Precondition(cfg *config.Config) error
	// Expand returns the category's probes without IDs, in a stable order.
	Expand(cfg *config.Config) []model.ProbeSpec
	// Evaluate scores results. A *SkipError means the category ran but
	// produced nothing scorable.
	Evaluate(in Inputs) (Outcome, error)
	// Compared reports whether the category's DNS answers feed the
	// consistency analyzer.
	Compared() bool
}

var registry = []Category{
	baseline{},
	maliciousBlocking{},
	dnsPoisoning{},
	httpsInterception{},
	captivePortal{},
	secureDNS{},
	performance{},
}

// All returns every registered category in catalog order.
func All() []Category {
	return append([]Category{}, registry...)
}

// Lookup returns the category registered under name.
func Lookup(name model.CategoryName) (Category, bool) {
	for _, c := range registry {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Plan is the expansion of a category selection.
type Plan struct {
	Categories []Category
	Specs      []model.ProbeSpec
	Skipped    map[model.CategoryName]*SkipError
}

// Build expands the selected categories into probes. The result depends
// only on its arguments; IDs are assigned sequentially in catalog order.
func Build(categories []model.CategoryName, cfg *config.Config) (Plan, error) {
	selected := map[model.CategoryName]bool{}
	for _, name := range categories {
		if _, ok := Lookup(name); !ok {
			return Plan{}, fmt.Errorf("unknown category %q", name)
		}
		selected[name] = true
	}

	plan := Plan{Skipped: map[model.CategoryName]*SkipError{}}
	for _, c := range registry {
		if !selected[c.Name()] {
			continue
		}
		plan.Categories = append(plan.Categories, c)
		if err := c.Precondition(cfg); err != nil {
			s, ok := AsSkip(err)
			if !ok {
				return Plan{}, err
			}
			plan.Skipped[c.Name()] = s
			continue
		}
		for _, spec := range c.Expand(cfg) {
			spec.ID = len(plan.Specs)
			spec.Category = c.Name()
			plan.Specs = append(plan.Specs, spec)
		}
	}
	return plan, nil
}

// Expand returns only the probe list of Build.
func Expand(categories []model.CategoryName, cfg *config.Config) ([]model.ProbeSpec, error) {
	plan, err := Build(categories, cfg)
	if err != nil {
		return nil, err
	}
	return plan.Specs, nil
}
