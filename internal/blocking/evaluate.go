// Package blocking decides whether threat-labeled domains were blocked and
// computes blocking effectiveness.
package blocking

import (
	"github.com/jaxxstorm/dnsaudit/internal/config"
	"github.com/jaxxstorm/dnsaudit/internal/consistency"
	"github.com/jaxxstorm/dnsaudit/internal/model"
	"github.com/miekg/dns"
)

// Overall is the sub-category name of the combined assessment.
const Overall = "overall"

type Options struct {
	Sinkholes *Sinkholes
	// Aggregation is one of config.AggregationPrimary, Any or All.
	Aggregation string
	// Primary names the resolver whose verdict counts under primary
	// aggregation.
	Primary string
	// SubCategories fixes the output order.
	SubCategories []string
	// Divergent holds query names flagged by the consistency analyzer.
	Divergent map[string]bool
}

type Evaluator struct {
	opts Options
}

func NewEvaluator(opts Options) *Evaluator {
	if opts.Aggregation == "" {
		opts.Aggregation = config.AggregationPrimary
	}
	if opts.Divergent == nil {
		opts.Divergent = map[string]bool{}
	}
	return &Evaluator{opts: opts}
}

// Blocked reports whether a single resolver blocked the query. Probes cut
// short by the run deadline never count as blocked.
func (e *Evaluator) Blocked(r model.ProbeResult) bool {
	if r.Outstanding {
		return false
	}
	if !r.Succeeded() {
		return true
	}
	switch r.Rcode {
	case dns.RcodeToString[dns.RcodeNameError],
		dns.RcodeToString[dns.RcodeRefused],
		dns.RcodeToString[dns.RcodeServerFailure]:
		return true
	case dns.RcodeToString[dns.RcodeSuccess]:
		if len(r.Answers) == 0 {
			return true
		}
	}
	if e.opts.Sinkholes != nil {
		for _, v := range r.Answers {
			if e.opts.Sinkholes.Contains(v) {
				return true
			}
		}
	}
	return false
}

type domainVerdicts struct {
	domain    string
	resolvers []string
	blocked   map[string]bool
}

// Evaluate returns one assessment per sub-category in configured order,
// followed by the overall assessment.
func (e *Evaluator) Evaluate(results []model.ProbeResult) []model.BlockingAssessment {
	bySub := map[string][]*domainVerdicts{}
	index := map[string]*domainVerdicts{}
	resolverOrder := []string{}
	seenResolver := map[string]bool{}

	for _, r := range results {
		if r.Spec.Category != model.CategoryMaliciousBlocking {
			continue
		}
		sub := r.Spec.Group
		domain := consistency.Normalize(r.Spec.QueryName)
		key := sub + "/" + domain
		v, ok := index[key]
		if !ok {
			v = &domainVerdicts{domain: domain, blocked: map[string]bool{}}
			index[key] = v
			bySub[sub] = append(bySub[sub], v)
		}
		resolver := r.Spec.Resolver.Name()
		if _, ok := v.blocked[resolver]; !ok {
			v.resolvers = append(v.resolvers, resolver)
		}
		// A resolver counts as blocking when every one of its attempts did.
		prev, ok := v.blocked[resolver]
		v.blocked[resolver] = e.Blocked(r) && (!ok || prev)
		if !seenResolver[resolver] {
			seenResolver[resolver] = true
			resolverOrder = append(resolverOrder, resolver)
		}
	}

	subs := e.opts.SubCategories
	if len(subs) == 0 {
		for sub := range bySub {
			subs = append(subs, sub)
		}
	}

	out := []model.BlockingAssessment{}
	all := []*domainVerdicts{}
	for _, sub := range subs {
		verdicts, ok := bySub[sub]
		if !ok {
			continue
		}
		out = append(out, e.assess(sub, verdicts, resolverOrder))
		all = append(all, verdicts...)
	}
	if len(out) > 0 {
		out = append(out, e.assess(Overall, all, resolverOrder))
	}
	return out
}

func (e *Evaluator) assess(sub string, verdicts []*domainVerdicts, resolverOrder []string) model.BlockingAssessment {
	a := model.BlockingAssessment{
		SubCategory: sub,
		Aggregation: e.opts.Aggregation,
		Leaked:      []string{},
	}
	perResolver := map[string]*model.ResolverBlocking{}
	for _, v := range verdicts {
		a.Tested++
		if e.aggregate(v) {
			a.Blocked++
			if e.opts.Divergent[v.domain] {
				a.Divergent = append(a.Divergent, v.domain)
			}
		} else {
			a.Leaked = append(a.Leaked, v.domain)
		}
		for _, resolver := range v.resolvers {
			rb, ok := perResolver[resolver]
			if !ok {
				rb = &model.ResolverBlocking{Resolver: resolver}
				perResolver[resolver] = rb
			}
			rb.Tested++
			if v.blocked[resolver] {
				rb.Blocked++
			}
		}
	}
	if a.Tested > 0 {
		a.Effectiveness = float64(a.Blocked) / float64(a.Tested)
	}
	for _, resolver := range resolverOrder {
		if rb, ok := perResolver[resolver]; ok {
			a.PerResolver = append(a.PerResolver, *rb)
		}
	}
	return a
}

func (e *Evaluator) aggregate(v *domainVerdicts) bool {
	switch e.opts.Aggregation {
	case config.AggregationAny:
		for _, resolver := range v.resolvers {
			if v.blocked[resolver] {
				return true
			}
		}
		return false
	case config.AggregationAll:
		if len(v.resolvers) == 0 {
			return false
		}
		for _, resolver := range v.resolvers {
			if !v.blocked[resolver] {
				return false
			}
		}
		return true
	default:
		if blocked, ok := v.blocked[e.opts.Primary]; ok {
			return blocked
		}
		// No verdict from the primary resolver; fall back to the first one seen.
		if len(v.resolvers) > 0 && e.opts.Primary == "" {
			return v.blocked[v.resolvers[0]]
		}
		return false
	}
}
