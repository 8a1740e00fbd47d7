package catalog

import (
	"fmt"
	"strings"

	"github.com/jaxxstorm/dnsaudit/internal/config"
	"github.com/jaxxstorm/dnsaudit/internal/interception"
	"github.com/jaxxstorm/dnsaudit/internal/model"
	"github.com/jaxxstorm/dnsaudit/internal/scoring"
)

type httpsInterception struct{}

func (httpsInterception) Name() model.CategoryName { return model.CategoryHTTPSInterception }
func (httpsInterception) Compared() bool           { return false }

func (httpsInterception) Precondition(cfg *config.Config) error {
	if len(cfg.Interception.Hosts) == 0 {
		return skip(model.CategoryHTTPSInterception, ReasonNoTargets, "no interception hosts configured")
	}
	return nil
}

func (httpsInterception) Expand(cfg *config.Config) []model.ProbeSpec {
	specs := []model.ProbeSpec{}
	for _, host := range cfg.Interception.Hosts {
		specs = append(specs, model.ProbeSpec{
			Kind:        model.ProbeTLS,
			QueryName:   host,
			Expectation: "certificate issued by an expected CA",
		})
	}
	return specs
}

// Evaluate scores the share of probed hosts with a clean certificate.
// Hosts whose handshake failed count as not clean.
func (httpsInterception) Evaluate(in Inputs) (Outcome, error) {
	if len(in.Results) == 0 {
		return Outcome{}, skip(model.CategoryHTTPSInterception, ReasonNoResults, "")
	}
	detector := interception.NewDetector(interception.Options{
		ExpectedIssuers: in.Config.Interception.ExpectedIssuers,
		WellKnownCAs:    in.Config.Interception.WellKnownCAs,
		VendorMarkers:   in.Config.Interception.VendorMarkers,
	})
	findings := detector.Detect(in.Results)

	raw := map[string]float64{
		"hosts":              float64(len(in.Results)),
		"handshake_failures": float64(len(in.Results) - len(findings)),
	}
	clean := 0
	for _, f := range findings {
		switch {
		case !f.IssuerMismatch:
			clean++
		case f.Confidence == model.ConfidenceHigh:
			raw["high_confidence"]++
		default:
			raw["low_confidence"]++
		}
	}
	if interception.Detected(findings) {
		raw["detected"] = 1
	} else {
		raw["detected"] = 0
	}
	score, err := scoring.ScoreFromConfig(in.Config, model.CategoryHTTPSInterception, scoring.Percent(clean, len(in.Results)), raw)
	return Outcome{Score: score, Interception: findings}, err
}

type captivePortal struct{}

func (captivePortal) Name() model.CategoryName { return model.CategoryCaptivePortal }
func (captivePortal) Compared() bool           { return false }

func (captivePortal) Precondition(cfg *config.Config) error {
	if len(cfg.CaptivePortal) == 0 {
		return skip(model.CategoryCaptivePortal, ReasonNoTargets, "no connectivity-check endpoints configured")
	}
	return nil
}

func (captivePortal) Expand(cfg *config.Config) []model.ProbeSpec {
	specs := []model.ProbeSpec{}
	for _, ep := range cfg.CaptivePortal {
		expectation := fmt.Sprintf("status %d", ep.ExpectStatus)
		if ep.ExpectBody != "" {
			expectation += fmt.Sprintf(" with body containing %q", ep.ExpectBody)
		}
		specs = append(specs, model.ProbeSpec{
			Kind:        model.ProbeReachability,
			QueryName:   ep.URL,
			Expectation: expectation,
		})
	}
	return specs
}

// Evaluate scores the share of endpoints answering as expected. Any miss,
// a redirect in particular, suggests a captive portal.
func (captivePortal) Evaluate(in Inputs) (Outcome, error) {
	if len(in.Results) == 0 {
		return Outcome{}, skip(model.CategoryCaptivePortal, ReasonNoResults, "")
	}
	endpoints := map[string]config.CaptiveEndpoint{}
	for _, ep := range in.Config.CaptivePortal {
		endpoints[ep.URL] = ep
	}
	raw := map[string]float64{"endpoints": float64(len(in.Results))}
	reachable := 0
	for _, r := range in.Results {
		if !r.Succeeded() || r.HTTP == nil {
			raw["unreachable"]++
			continue
		}
		if r.HTTP.StatusCode >= 300 && r.HTTP.StatusCode < 400 {
			raw["redirects"]++
			continue
		}
		if expected(endpoints[r.Spec.QueryName], r.HTTP) {
			reachable++
		} else {
			raw["unexpected"]++
		}
	}
	raw["reachable"] = float64(reachable)
	if raw["redirects"] > 0 || raw["unexpected"] > 0 {
		raw["portal_suspected"] = 1
	}
	score, err := scoring.ScoreFromConfig(in.Config, model.CategoryCaptivePortal, scoring.Percent(reachable, len(in.Results)), raw)
	return Outcome{Score: score}, err
}

func expected(ep config.CaptiveEndpoint, answer *model.HTTPAnswer) bool {
	status := ep.ExpectStatus
	if status == 0 {
		status = 200
	}
	if answer.StatusCode != status {
		return false
	}
	return ep.ExpectBody == "" || strings.Contains(answer.Body, ep.ExpectBody)
}
