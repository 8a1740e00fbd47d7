package analyze

import (
	"strings"
	"testing"

	"github.com/jaxxstorm/dnsaudit/internal/model"
)

func TestRecommendBelowGood(t *testing.T) {
	bundle := model.ResultBundle{Scores: []model.CategoryScore{
		{Category: model.CategoryBaseline, Status: model.ScoreScored, Metric: "success_rate", Value: 100, Tier: model.TierExcellent},
		{Category: model.CategoryPerformance, Status: model.ScoreScored, Metric: "avg_latency_ms", Value: 180, Tier: model.TierWarning},
		{Category: model.CategorySecureDNS, Status: model.ScoreScored, Metric: "success_rate", Value: 0, Tier: model.TierCritical},
		{Category: model.CategoryDNSPoisoning, Status: model.ScoreSkipped, SkipReason: "insufficient_resolvers"},
	}}
	recs := Recommend(bundle)
	if len(recs) != 3 {
		t.Fatalf("expected 3 recommendations, got %d", len(recs))
	}
	if recs[0].Category != model.CategoryPerformance || recs[0].Severity != SeverityWarning {
		t.Fatalf("unexpected first recommendation: %+v", recs[0])
	}
	if recs[1].Severity != SeverityCritical {
		t.Fatalf("expected critical secure_dns advice, got %s", recs[1].Severity)
	}
	if recs[2].Severity != SeverityInfo || !strings.Contains(recs[2].Message, "insufficient_resolvers") {
		t.Fatalf("expected skip note, got %+v", recs[2])
	}
}

func TestRecommendFindings(t *testing.T) {
	bundle := model.ResultBundle{
		Partial: true,
		Run:     model.TestRun{Summary: model.RunSummary{Probes: 10, OutstandingProbes: 2}},
		Blocking: []model.BlockingAssessment{
			{SubCategory: "malware", Leaked: []string{"b.test", "a.test"}},
			{SubCategory: "overall", Leaked: []string{"b.test", "a.test"}},
		},
		Interception: []model.InterceptionFinding{
			{Host: "example.com", IssuerMismatch: true, ObservedIssuer: "FortiGate CA", Confidence: model.ConfidenceHigh},
			{Host: "example.org", ObservedIssuer: "DigiCert"},
		},
	}
	recs := Recommend(bundle)
	if len(recs) != 3 {
		t.Fatalf("expected 3 recommendations, got %d", len(recs))
	}
	if !strings.Contains(recs[0].Message, "a.test, b.test") {
		t.Fatalf("expected sorted leak list, got %q", recs[0].Message)
	}
	if recs[1].Severity != SeverityCritical {
		t.Fatalf("expected high confidence interception to be critical")
	}
	if !strings.Contains(recs[2].Message, "2 of 10") {
		t.Fatalf("expected outstanding counts, got %q", recs[2].Message)
	}
}
