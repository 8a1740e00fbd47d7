package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jaxxstorm/dnsaudit/internal/model"
)

func sampleBundle() model.ResultBundle {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return model.ResultBundle{
		Run: model.TestRun{
			ID:         "run-1",
			StartedAt:  start,
			FinishedAt: start.Add(1500 * time.Millisecond),
			Status:     model.RunDegraded,
			Summary:    model.RunSummary{Categories: 2, Passed: 1, Skipped: 1, Probes: 4, CompletedProbes: 4},
		},
		Scores: []model.CategoryScore{
			{Category: model.CategoryPerformance, Status: model.ScoreScored, Metric: "avg_latency_ms", Value: 42.126, Tier: model.TierExcellent},
			{Category: model.CategoryDNSPoisoning, Status: model.ScoreSkipped, SkipReason: "insufficient_resolvers"},
		},
		Blocking: []model.BlockingAssessment{
			{SubCategory: "malware", Aggregation: "primary", Tested: 2, Blocked: 1, Leaked: []string{"bad.test"}},
		},
		Interception: []model.InterceptionFinding{
			{Host: "example.com", IssuerMismatch: true, ObservedIssuer: "Corp Proxy", Confidence: model.ConfidenceLow},
		},
	}
}

func TestRenderJSON(t *testing.T) {
	out, err := RenderJSON(sampleBundle())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	for _, key := range []string{"run", "partial", "scores", "consistency", "blocking", "interception", "results"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing key %s", key)
		}
	}
}

func TestRenderPretty(t *testing.T) {
	out := RenderPretty(sampleBundle())
	for _, want := range []string{"dnsaudit", "performance avg_latency_ms=42.1", "dns_poisoning skipped: insufficient_resolvers", "leaked=bad.test", "Corp Proxy", "DEGRADED"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestScalars(t *testing.T) {
	s := Scalars(sampleBundle())
	cases := map[string]string{
		"status":                     "degraded",
		"performance_avg_latency_ms": "42.13",
		"performance_tier":           "excellent",
		"dns_poisoning_tier":         "skipped",
		"interception_detected":      "true",
		"partial":                    "false",
	}
	for key, want := range cases {
		if s[key] != want {
			t.Fatalf("%s: expected %q, got %q", key, want, s[key])
		}
	}
}

func TestRenderEnvSortedAndPrefixed(t *testing.T) {
	lines := strings.Split(RenderEnv(sampleBundle()), "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "DNSAUDIT_") {
			t.Fatalf("unprefixed line %q", line)
		}
		if i > 0 && lines[i-1] > line {
			t.Fatalf("lines not sorted: %q before %q", lines[i-1], line)
		}
	}
	if !strings.Contains(strings.Join(lines, "\n"), "DNSAUDIT_RUN_ID=run-1") {
		t.Fatalf("missing run id")
	}
}
