// Package scoring maps category metrics onto tiers using configured
// threshold tables.
package scoring

import (
	"fmt"

	"github.com/jaxxstorm/dnsaudit/internal/config"
	"github.com/jaxxstorm/dnsaudit/internal/model"
)

type Direction string

const (
	HigherIsBetter Direction = config.DirectionHigher
	LowerIsBetter  Direction = config.DirectionLower
)

// Band is one (bound, tier) pair of a threshold table.
type Band struct {
	Bound float64
	Tier  model.Tier
}

// Table is an ordered threshold table, best tier first. A metric that
// satisfies no band scores critical.
type Table struct {
	Metric    string
	Direction Direction
	Bands     []Band
}

// TableFor builds the table for a threshold config entry.
func TableFor(t config.Threshold) Table {
	return Table{
		Metric:    t.Metric,
		Direction: Direction(t.Direction),
		Bands: []Band{
			{Bound: t.Excellent, Tier: model.TierExcellent},
			{Bound: t.Good, Tier: model.TierGood},
			{Bound: t.Warning, Tier: model.TierWarning},
		},
	}
}

// Tier evaluates value against the table, highest tier first.
func (t Table) Tier(value float64) model.Tier {
	for _, band := range t.Bands {
		if t.satisfies(value, band.Bound) {
			return band.Tier
		}
	}
	return model.TierCritical
}

func (t Table) satisfies(value, bound float64) bool {
	if t.Direction == LowerIsBetter {
		return value <= bound
	}
	return value >= bound
}

// Score produces the CategoryScore for a metric value. Tier is always
// derived here.
func Score(category model.CategoryName, value float64, table Table, raw map[string]float64) model.CategoryScore {
	return model.CategoryScore{
		Category: category,
		Status:   model.ScoreScored,
		Metric:   table.Metric,
		Value:    value,
		Tier:     table.Tier(value),
		Raw:      raw,
	}
}

// ScoreFromConfig looks up the category's table and scores value with it.
func ScoreFromConfig(cfg *config.Config, category model.CategoryName, value float64, raw map[string]float64) (model.CategoryScore, error) {
	threshold, ok := cfg.Thresholds[string(category)]
	if !ok {
		return model.CategoryScore{}, fmt.Errorf("no threshold table for category %s", category)
	}
	return Score(category, value, TableFor(threshold), raw), nil
}

// Skip records a category that could not execute.
func Skip(category model.CategoryName, reason string) model.CategoryScore {
	return model.CategoryScore{
		Category:   category,
		Status:     model.ScoreSkipped,
		SkipReason: reason,
	}
}

// Percent returns part/whole as a percentage, 0 when whole is 0.
func Percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// Overall derives a run status from category scores. Skipped categories do
// not contribute.
func Overall(scores []model.CategoryScore, failOnCritical bool) model.RunStatus {
	critical := false
	degraded := false
	for _, s := range scores {
		if s.Skipped() {
			continue
		}
		switch s.Tier {
		case model.TierCritical:
			critical = true
			degraded = true
		case model.TierWarning:
			degraded = true
		}
	}
	switch {
	case critical && failOnCritical:
		return model.RunCritical
	case degraded:
		return model.RunDegraded
	default:
		return model.RunHealthy
	}
}
