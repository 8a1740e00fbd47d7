// Package consistency compares answers returned by different resolvers for
// the same query and flags divergence.
package consistency

import (
	"sort"
	"strings"

	"github.com/jaxxstorm/dnsaudit/internal/model"
	"github.com/miekg/dns"
)

type Options struct {
	// GeoVariance lists domains (and their subdomains) whose answers are
	// expected to differ between resolvers.
	GeoVariance []string
}

type Analyzer struct {
	opts Options
}

func NewAnalyzer(opts Options) *Analyzer {
	return &Analyzer{opts: opts}
}

type group struct {
	name       string
	rrtype     string
	resolvers  []string
	answers    map[string]map[string]struct{}
	seen       map[string]bool
	categories map[model.CategoryName]struct{}
}

// Analyze groups DNS results by query and emits one finding per query
// answered definitively by at least two resolvers. Results without a
// definite answer are excluded from comparison.
func (a *Analyzer) Analyze(results []model.ProbeResult) []model.ConsistencyFinding {
	groups := map[string]*group{}
	keys := []string{}
	for _, r := range results {
		if r.Spec.Kind != model.ProbeDNS {
			continue
		}
		name := Normalize(r.Spec.QueryName)
		rrtype := strings.ToUpper(r.Spec.RecordType)
		if rrtype == "" {
			rrtype = "A"
		}
		key := name + "/" + rrtype
		g, ok := groups[key]
		if !ok {
			g = &group{
				name:       name,
				rrtype:     rrtype,
				answers:    map[string]map[string]struct{}{},
				seen:       map[string]bool{},
				categories: map[model.CategoryName]struct{}{},
			}
			groups[key] = g
			keys = append(keys, key)
		}
		resolver := r.Spec.Resolver.Name()
		if !g.seen[resolver] {
			g.seen[resolver] = true
			g.resolvers = append(g.resolvers, resolver)
		}
		g.categories[r.Spec.Category] = struct{}{}

		values, ok := definite(r)
		if !ok {
			continue
		}
		set, ok := g.answers[resolver]
		if !ok {
			set = map[string]struct{}{}
			g.answers[resolver] = set
		}
		for _, v := range values {
			set[v] = struct{}{}
		}
	}

	sort.Strings(keys)
	findings := []model.ConsistencyFinding{}
	for _, key := range keys {
		g := groups[key]
		if len(g.answers) < 2 {
			continue
		}
		findings = append(findings, a.compare(g))
	}
	return findings
}

func (a *Analyzer) compare(g *group) model.ConsistencyFinding {
	finding := model.ConsistencyFinding{
		QueryName:  g.name,
		RecordType: g.rrtype,
		AnswerSets: []model.ResolverAnswer{},
		Resolvers:  []string{},
	}
	distinct := map[string]struct{}{}
	for _, resolver := range g.resolvers {
		set, ok := g.answers[resolver]
		if !ok {
			finding.Excluded = append(finding.Excluded, resolver)
			continue
		}
		values := sortedSet(set)
		distinct[strings.Join(values, ",")] = struct{}{}
		finding.Resolvers = append(finding.Resolvers, resolver)
		finding.AnswerSets = append(finding.AnswerSets, model.ResolverAnswer{Resolver: resolver, Answers: values})
	}
	for c := range g.categories {
		finding.Categories = append(finding.Categories, c)
	}
	sort.Slice(finding.Categories, func(i, j int) bool { return finding.Categories[i] < finding.Categories[j] })

	if len(distinct) > 1 {
		if a.expectedVariance(g.name) {
			finding.ExpectedVariance = true
		} else {
			finding.Divergent = true
		}
	}
	return finding
}

func (a *Analyzer) expectedVariance(name string) bool {
	for _, entry := range a.opts.GeoVariance {
		entry = Normalize(entry)
		if entry == "" {
			continue
		}
		if name == entry || strings.HasSuffix(name, "."+entry) {
			return true
		}
	}
	return false
}

// definite returns the normalized answer values of r, or false when r did
// not produce a definite answer.
func definite(r model.ProbeResult) ([]string, bool) {
	if !r.Succeeded() {
		return nil, false
	}
	switch r.Rcode {
	case dns.RcodeToString[dns.RcodeSuccess]:
		if len(r.Answers) == 0 {
			return []string{"rcode:NODATA"}, true
		}
		values := make([]string, 0, len(r.Answers))
		for _, v := range r.Answers {
			values = append(values, strings.ToLower(strings.TrimSpace(v)))
		}
		return values, true
	case dns.RcodeToString[dns.RcodeNameError]:
		return []string{"rcode:NXDOMAIN"}, true
	default:
		return nil, false
	}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Normalize lower-cases a query name and strips the trailing dot.
func Normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// DivergentNames returns the query names of divergent findings.
func DivergentNames(findings []model.ConsistencyFinding) map[string]bool {
	out := map[string]bool{}
	for _, f := range findings {
		if f.Divergent {
			out[f.QueryName] = true
		}
	}
	return out
}
