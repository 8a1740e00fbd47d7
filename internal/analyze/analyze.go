// Package analyze turns scores and findings into operator-facing advice.
package analyze

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jaxxstorm/dnsaudit/internal/blocking"
	"github.com/jaxxstorm/dnsaudit/internal/model"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

var advice = map[model.CategoryName]string{
	model.CategoryBaseline:          "resolvers fail to answer ordinary lookups; check upstream reachability and resolver health",
	model.CategoryMaliciousBlocking: "known-bad domains resolve; enable a filtering resolver or threat feed",
	model.CategoryDNSPoisoning:      "resolvers disagree on answers outside any expected geo variance; investigate tampering on the path",
	model.CategoryHTTPSInterception: "TLS certificates are not issued by expected authorities; traffic may be decrypted by a middlebox",
	model.CategoryCaptivePortal:     "connectivity checks do not return their expected answers; a captive portal or proxy may be in the path",
	model.CategorySecureDNS:         "encrypted DNS endpoints are unreachable; DoT or DoH may be blocked on this network",
	model.CategoryPerformance:       "resolution latency is high; consider a closer or less loaded resolver",
}

// Recommend returns advice for every category below the good tier or
// skipped, plus notes drawn from the findings. Output order is stable.
func Recommend(bundle model.ResultBundle) []model.Recommendation {
	out := []model.Recommendation{}
	for _, s := range bundle.Scores {
		if s.Skipped() {
			out = append(out, model.Recommendation{
				Category: s.Category,
				Severity: SeverityInfo,
				Message:  fmt.Sprintf("%s was not assessed (%s)", s.Category, s.SkipReason),
			})
			continue
		}
		var severity string
		switch s.Tier {
		case model.TierCritical:
			severity = SeverityCritical
		case model.TierWarning:
			severity = SeverityWarning
		default:
			continue
		}
		out = append(out, model.Recommendation{
			Category: s.Category,
			Severity: severity,
			Message:  fmt.Sprintf("%s (%s %.1f): %s", s.Category, s.Metric, s.Value, advice[s.Category]),
		})
	}

	for _, a := range bundle.Blocking {
		if a.SubCategory == blocking.Overall || len(a.Leaked) == 0 {
			continue
		}
		leaked := append([]string{}, a.Leaked...)
		sort.Strings(leaked)
		out = append(out, model.Recommendation{
			Category: model.CategoryMaliciousBlocking,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("%s domains not blocked: %s", a.SubCategory, strings.Join(leaked, ", ")),
		})
	}

	for _, f := range bundle.Interception {
		if !f.IssuerMismatch {
			continue
		}
		severity := SeverityWarning
		if f.Confidence == model.ConfidenceHigh {
			severity = SeverityCritical
		}
		out = append(out, model.Recommendation{
			Category: model.CategoryHTTPSInterception,
			Severity: severity,
			Message:  fmt.Sprintf("%s presented a certificate from %q (%s confidence)", f.Host, f.ObservedIssuer, f.Confidence),
		})
	}

	if bundle.Partial {
		out = append(out, model.Recommendation{
			Severity: SeverityInfo,
			Message: fmt.Sprintf("run hit its deadline with %d of %d probes outstanding; raise the deadline or lower the probe count",
				bundle.Run.Summary.OutstandingProbes, bundle.Run.Summary.Probes),
		})
	}
	return out
}
