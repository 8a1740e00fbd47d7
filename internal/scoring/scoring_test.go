package scoring

import (
	"math/rand"
	"testing"

	"github.com/jaxxstorm/dnsaudit/internal/config"
	"github.com/jaxxstorm/dnsaudit/internal/model"
)

func TestSuccessRateTiers(t *testing.T) {
	table := TableFor(config.Threshold{Metric: "success_rate", Direction: config.DirectionHigher, Excellent: 95, Good: 90, Warning: 80})
	cases := map[float64]model.Tier{
		100:  model.TierExcellent,
		95:   model.TierExcellent,
		94.9: model.TierGood,
		90:   model.TierGood,
		85:   model.TierWarning,
		80:   model.TierWarning,
		79.9: model.TierCritical,
		0:    model.TierCritical,
	}
	for value, want := range cases {
		if got := table.Tier(value); got != want {
			t.Fatalf("Tier(%v) = %s, want %s", value, got, want)
		}
	}
}

func TestLatencyInvertsDirection(t *testing.T) {
	table := TableFor(config.Threshold{Metric: "avg_latency_ms", Direction: config.DirectionLower, Excellent: 50, Good: 100, Warning: 250})
	if got := table.Tier(20); got != model.TierExcellent {
		t.Fatalf("expected excellent, got %s", got)
	}
	if got := table.Tier(100); got != model.TierGood {
		t.Fatalf("expected good, got %s", got)
	}
	if got := table.Tier(300); got != model.TierCritical {
		t.Fatalf("expected critical, got %s", got)
	}
}

func TestTierMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		bounds := []float64{rng.Float64() * 100, rng.Float64() * 100, rng.Float64() * 100}
		for _, dir := range []string{config.DirectionHigher, config.DirectionLower} {
			table := TableFor(config.Threshold{Metric: "m", Direction: dir, Excellent: bounds[0], Good: bounds[1], Warning: bounds[2]})
			prev := -1
			for v := 0.0; v <= 100; v += 0.5 {
				rank := table.Tier(v).Rank()
				if dir == config.DirectionLower {
					rank = table.Tier(100 - v).Rank()
				}
				if prev >= 0 && rank < prev {
					t.Fatalf("tier decreased at %v for %s table %v", v, dir, bounds)
				}
				prev = rank
			}
		}
	}
}

func TestScoreDerivesTier(t *testing.T) {
	cfg := config.Default()
	score, err := ScoreFromConfig(cfg, model.CategoryBaseline, 92, map[string]float64{"tested": 100})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score.Tier != model.TierGood || score.Metric != "success_rate" || score.Status != model.ScoreScored {
		t.Fatalf("unexpected score: %#v", score)
	}
}

func TestOverall(t *testing.T) {
	critical := model.CategoryScore{Status: model.ScoreScored, Tier: model.TierCritical}
	warning := model.CategoryScore{Status: model.ScoreScored, Tier: model.TierWarning}
	good := model.CategoryScore{Status: model.ScoreScored, Tier: model.TierGood}
	skipped := Skip(model.CategoryDNSPoisoning, "insufficient_resolvers")

	if got := Overall([]model.CategoryScore{good, critical}, true); got != model.RunCritical {
		t.Fatalf("expected critical, got %s", got)
	}
	if got := Overall([]model.CategoryScore{good, critical}, false); got != model.RunDegraded {
		t.Fatalf("expected degraded without fail_on_critical, got %s", got)
	}
	if got := Overall([]model.CategoryScore{good, warning}, true); got != model.RunDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}
	if got := Overall([]model.CategoryScore{good, skipped}, true); got != model.RunHealthy {
		t.Fatalf("expected healthy, got %s", got)
	}
}
