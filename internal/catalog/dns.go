package catalog

import (
	"fmt"
	"math"
	"sort"

	"github.com/jaxxstorm/dnsaudit/internal/blocking"
	"github.com/jaxxstorm/dnsaudit/internal/config"
	"github.com/jaxxstorm/dnsaudit/internal/consistency"
	"github.com/jaxxstorm/dnsaudit/internal/model"
	"github.com/jaxxstorm/dnsaudit/internal/scoring"
)

const blockExpectation = "should resolve to block sentinel or fail"

func dnsSpec(resolver model.ResolverTarget, name, group, expectation string) model.ProbeSpec {
	return model.ProbeSpec{
		Kind:        model.ProbeDNS,
		Resolver:    resolver,
		QueryName:   name,
		RecordType:  "A",
		Group:       group,
		Expectation: expectation,
	}
}

// answered reports whether a DNS probe returned addresses with NOERROR.
func answered(r model.ProbeResult) bool {
	return r.Succeeded() && r.Rcode == "NOERROR" && len(r.Answers) > 0
}

func countOutcomes(results []model.ProbeResult, ok func(model.ProbeResult) bool) map[string]float64 {
	raw := map[string]float64{"tested": float64(len(results))}
	for _, r := range results {
		switch {
		case ok(r):
			raw["succeeded"]++
		case r.Outstanding:
			raw["outstanding"]++
		case r.Status == model.StatusTimeout:
			raw["timeouts"]++
		default:
			raw["failed"]++
		}
	}
	return raw
}

type baseline struct{}

func (baseline) Name() model.CategoryName { return model.CategoryBaseline }
func (baseline) Compared() bool           { return true }

func (baseline) Precondition(cfg *config.Config) error {
	if len(cfg.Domains.Baseline) == 0 {
		return skip(model.CategoryBaseline, ReasonNoTargets, "no baseline domains configured")
	}
	return nil
}

func (baseline) Expand(cfg *config.Config) []model.ProbeSpec {
	specs := []model.ProbeSpec{}
	for _, domain := range cfg.Domains.Baseline {
		for _, resolver := range cfg.Resolvers {
			specs = append(specs, dnsSpec(resolver, domain, "", "should resolve"))
		}
	}
	return specs
}

func (baseline) Evaluate(in Inputs) (Outcome, error) {
	if len(in.Results) == 0 {
		return Outcome{}, skip(model.CategoryBaseline, ReasonNoResults, "")
	}
	raw := countOutcomes(in.Results, answered)
	perResolver := map[string][2]int{}
	for _, r := range in.Results {
		counts := perResolver[r.Spec.Resolver.Name()]
		counts[1]++
		if answered(r) {
			counts[0]++
		}
		perResolver[r.Spec.Resolver.Name()] = counts
	}
	for name, counts := range perResolver {
		raw["resolver."+name+".success_rate"] = scoring.Percent(counts[0], counts[1])
	}
	score, err := scoring.ScoreFromConfig(in.Config, model.CategoryBaseline, scoring.Percent(int(raw["succeeded"]), len(in.Results)), raw)
	return Outcome{Score: score}, err
}

type maliciousBlocking struct{}

func (maliciousBlocking) Name() model.CategoryName { return model.CategoryMaliciousBlocking }
func (maliciousBlocking) Compared() bool           { return true }

func (maliciousBlocking) Precondition(cfg *config.Config) error {
	for _, domains := range cfg.Domains.Threats {
		if len(domains) > 0 {
			return nil
		}
	}
	return skip(model.CategoryMaliciousBlocking, ReasonNoTargets, "no threat domains configured")
}

func (maliciousBlocking) Expand(cfg *config.Config) []model.ProbeSpec {
	specs := []model.ProbeSpec{}
	for _, sub := range cfg.ThreatCategories() {
		for _, domain := range cfg.Domains.Threats[sub] {
			for _, resolver := range cfg.Resolvers {
				specs = append(specs, dnsSpec(resolver, domain, sub, blockExpectation))
			}
		}
	}
	return specs
}

func (maliciousBlocking) Evaluate(in Inputs) (Outcome, error) {
	sinkholes, err := blocking.NewSinkholes(in.Config.Blocking.Sinkholes)
	if err != nil {
		return Outcome{}, err
	}
	primary, _ := in.Config.PrimaryResolver()
	evaluator := blocking.NewEvaluator(blocking.Options{
		Sinkholes:     sinkholes,
		Aggregation:   in.Config.Blocking.Aggregation,
		Primary:       primary.Name(),
		SubCategories: in.Config.ThreatCategories(),
		Divergent:     consistency.DivergentNames(in.Consistency),
	})
	assessments := evaluator.Evaluate(in.Results)
	if len(assessments) == 0 {
		return Outcome{}, skip(model.CategoryMaliciousBlocking, ReasonNoResults, "")
	}

	overall := assessments[len(assessments)-1]
	raw := map[string]float64{
		"tested":  float64(overall.Tested),
		"blocked": float64(overall.Blocked),
		"leaked":  float64(len(overall.Leaked)),
	}
	for _, a := range assessments[:len(assessments)-1] {
		raw[a.SubCategory+".effectiveness"] = a.Effectiveness * 100
	}
	score, err := scoring.ScoreFromConfig(in.Config, model.CategoryMaliciousBlocking, overall.Effectiveness*100, raw)
	return Outcome{Score: score, Blocking: assessments}, err
}

type dnsPoisoning struct{}

func (dnsPoisoning) Name() model.CategoryName { return model.CategoryDNSPoisoning }
func (dnsPoisoning) Compared() bool           { return true }

func (dnsPoisoning) Precondition(cfg *config.Config) error {
	if len(cfg.Resolvers) < 2 {
		return skip(model.CategoryDNSPoisoning, ReasonInsufficientResolvers, fmt.Sprintf("need at least 2 resolvers, have %d", len(cfg.Resolvers)))
	}
	if len(cfg.Domains.Poisoning) == 0 {
		return skip(model.CategoryDNSPoisoning, ReasonNoTargets, "no poisoning domains configured")
	}
	return nil
}

func (dnsPoisoning) Expand(cfg *config.Config) []model.ProbeSpec {
	specs := []model.ProbeSpec{}
	for _, domain := range cfg.Domains.Poisoning {
		for _, resolver := range cfg.Resolvers {
			specs = append(specs, dnsSpec(resolver, domain, consistency.Normalize(domain), "same answer from every resolver"))
		}
	}
	return specs
}

// Evaluate scores the share of poisoning domains whose answers agree.
// Domains without two definite answers are left out, unless one of their
// probes was cut by the run deadline; those count as failures.
func (dnsPoisoning) Evaluate(in Inputs) (Outcome, error) {
	findings := map[string]model.ConsistencyFinding{}
	for _, f := range in.Consistency {
		findings[f.QueryName] = f
	}
	outstanding := map[string]bool{}
	domains := []string{}
	seen := map[string]bool{}
	for _, r := range in.Results {
		name := consistency.Normalize(r.Spec.QueryName)
		if !seen[name] {
			seen[name] = true
			domains = append(domains, name)
		}
		if r.Outstanding {
			outstanding[name] = true
		}
	}

	raw := map[string]float64{"domains": float64(len(domains))}
	denominator := 0
	consistent := 0
	for _, name := range domains {
		f, ok := findings[name]
		switch {
		case ok:
			denominator++
			raw["compared"]++
			if f.Divergent {
				raw["divergent"]++
			} else {
				consistent++
				if f.ExpectedVariance {
					raw["expected_variance"]++
				}
			}
		case outstanding[name]:
			denominator++
			raw["outstanding"]++
		default:
			raw["inconclusive"]++
		}
	}
	if denominator == 0 {
		return Outcome{}, skip(model.CategoryDNSPoisoning, ReasonNoComparableAnswers, "no domain was answered by at least two resolvers")
	}
	score, err := scoring.ScoreFromConfig(in.Config, model.CategoryDNSPoisoning, scoring.Percent(consistent, denominator), raw)
	return Outcome{Score: score}, err
}

type secureDNS struct{}

func (secureDNS) Name() model.CategoryName { return model.CategorySecureDNS }
func (secureDNS) Compared() bool           { return false }

func (secureDNS) Precondition(cfg *config.Config) error {
	if len(cfg.SecureDNS) == 0 {
		return skip(model.CategorySecureDNS, ReasonNoTargets, "no DoH/DoT endpoints configured")
	}
	return nil
}

func (secureDNS) Expand(cfg *config.Config) []model.ProbeSpec {
	specs := []model.ProbeSpec{}
	for _, endpoint := range cfg.SecureDNS {
		specs = append(specs, dnsSpec(endpoint, cfg.Domains.Neutral, string(endpoint.Transport), "should resolve over encrypted transport"))
	}
	return specs
}

func (secureDNS) Evaluate(in Inputs) (Outcome, error) {
	if len(in.Results) == 0 {
		return Outcome{}, skip(model.CategorySecureDNS, ReasonNoResults, "")
	}
	unsupported := 0
	for _, r := range in.Results {
		if r.ErrorKind == model.ErrorProtocolUnsupported {
			unsupported++
		}
	}
	if unsupported == len(in.Results) {
		return Outcome{}, skip(model.CategorySecureDNS, ReasonProtocolUnsupported, "no endpoint offered its encrypted transport")
	}

	raw := countOutcomes(in.Results, answered)
	raw["unsupported"] = float64(unsupported)
	byTransport := map[model.Transport][2]int{}
	for _, r := range in.Results {
		counts := byTransport[r.Spec.Resolver.Transport]
		counts[1]++
		if answered(r) {
			counts[0]++
		}
		byTransport[r.Spec.Resolver.Transport] = counts
	}
	for transport, counts := range byTransport {
		raw[string(transport)+".success_rate"] = scoring.Percent(counts[0], counts[1])
	}
	score, err := scoring.ScoreFromConfig(in.Config, model.CategorySecureDNS, scoring.Percent(int(raw["succeeded"]), len(in.Results)), raw)
	return Outcome{Score: score}, err
}

type performance struct{}

func (performance) Name() model.CategoryName { return model.CategoryPerformance }
func (performance) Compared() bool           { return false }

func (performance) Precondition(cfg *config.Config) error {
	if cfg.Domains.Neutral == "" || cfg.Domains.PerformanceSamples < 1 {
		return skip(model.CategoryPerformance, ReasonNoTargets, "no neutral domain or samples configured")
	}
	return nil
}

func (performance) Expand(cfg *config.Config) []model.ProbeSpec {
	specs := []model.ProbeSpec{}
	for _, resolver := range cfg.Resolvers {
		for i := 0; i < cfg.Domains.PerformanceSamples; i++ {
			spec := dnsSpec(resolver, cfg.Domains.Neutral, "latency", "")
			spec.Sequence = i
			specs = append(specs, spec)
		}
	}
	return specs
}

// Evaluate averages latency over all samples. A failed sample contributes
// the probe timeout as its latency.
func (performance) Evaluate(in Inputs) (Outcome, error) {
	if len(in.Results) == 0 {
		return Outcome{}, skip(model.CategoryPerformance, ReasonNoResults, "")
	}
	penalty := float64(in.Config.Run.ProbeTimeout.Milliseconds())
	samples := make([]float64, 0, len(in.Results))
	succeeded := 0
	for _, r := range in.Results {
		if r.Succeeded() && r.Rcode == "NOERROR" {
			succeeded++
			samples = append(samples, r.Latency.Milliseconds())
			continue
		}
		samples = append(samples, penalty)
	}
	sort.Float64s(samples)
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	avg := sum / float64(len(samples))
	raw := map[string]float64{
		"samples":      float64(len(samples)),
		"succeeded":    float64(succeeded),
		"success_rate": scoring.Percent(succeeded, len(samples)),
		"min_ms":       samples[0],
		"max_ms":       samples[len(samples)-1],
		"p95_ms":       percentile(samples, 95),
		"avg_ms":       avg,
	}
	score, err := scoring.ScoreFromConfig(in.Config, model.CategoryPerformance, avg, raw)
	return Outcome{Score: score}, err
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
