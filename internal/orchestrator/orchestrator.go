// Package orchestrator runs an assessment end to end: it plans probes from
// the catalog, dispatches them through a bounded worker pool under the run
// deadline, and assembles the result bundle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jaxxstorm/dnsaudit/internal/analyze"
	"github.com/jaxxstorm/dnsaudit/internal/catalog"
	"github.com/jaxxstorm/dnsaudit/internal/config"
	"github.com/jaxxstorm/dnsaudit/internal/consistency"
	"github.com/jaxxstorm/dnsaudit/internal/model"
	"github.com/jaxxstorm/dnsaudit/internal/scoring"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Prober executes a single probe. Implementations must return within
// timeout, or sooner once ctx is done.
type Prober interface {
	Execute(ctx context.Context, spec model.ProbeSpec, timeout time.Duration) model.ProbeResult
}

// Observer receives probe results as they complete and the final bundle.
type Observer interface {
	ObserveProbe(result model.ProbeResult)
	ObserveBundle(bundle model.ResultBundle)
}

type Options struct {
	Prober   Prober
	Logger   *zap.Logger
	Observer Observer
	// Now defaults to time.Now.
	Now func() time.Time
}

// RunContext carries what every stage of one run shares.
type RunContext struct {
	ID       string
	Config   *config.Config
	Logger   *zap.Logger
	Started  time.Time
	Deadline time.Time
}

type Orchestrator struct {
	prober   Prober
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		prober:   opts.Prober,
		logger:   opts.Logger,
		observer: opts.Observer,
		now:      opts.Now,
	}
}

// Run executes the categories enabled in cfg. Configuration errors are
// returned before any probe is dispatched. Reaching the run deadline is not
// an error: the bundle is returned with Partial set and unfinished probes
// marked outstanding.
func (o *Orchestrator) Run(ctx context.Context, cfg *config.Config) (model.ResultBundle, error) {
	if o.prober == nil {
		return model.ResultBundle{}, errors.New("orchestrator: no prober configured")
	}
	if err := cfg.Validate(); err != nil {
		return model.ResultBundle{}, err
	}
	plan, err := catalog.Build(cfg.Enabled(), cfg)
	if err != nil {
		return model.ResultBundle{}, err
	}

	started := o.now()
	rc := &RunContext{
		ID:       uuid.NewString(),
		Config:   cfg,
		Started:  started,
		Deadline: started.Add(cfg.Run.Deadline.Duration),
	}
	rc.Logger = o.logger.With(zap.String("run_id", rc.ID))
	rc.Logger.Info("starting run",
		zap.Int("categories", len(plan.Categories)),
		zap.Int("probes", len(plan.Specs)),
		zap.Duration("deadline", cfg.Run.Deadline.Duration),
	)

	results := o.dispatch(ctx, rc, plan.Specs)

	bundle, err := o.assemble(rc, plan, results)
	if err != nil {
		return model.ResultBundle{}, err
	}
	rc.Logger.Info("run finished",
		zap.String("status", string(bundle.Run.Status)),
		zap.Bool("partial", bundle.Partial),
		zap.Int("outstanding", bundle.Run.Summary.OutstandingProbes),
	)
	if o.observer != nil {
		o.observer.ObserveBundle(bundle)
	}
	return bundle, nil
}

// dispatch runs every spec and returns one result per spec, ordered by ID.
func (o *Orchestrator) dispatch(ctx context.Context, rc *RunContext, specs []model.ProbeSpec) []model.ProbeResult {
	runCtx, cancel := context.WithDeadline(ctx, rc.Deadline)
	defer cancel()

	limits := newTargetLimits(rc.Config)
	out := make(chan model.ProbeResult, len(specs))

	g := new(errgroup.Group)
	g.SetLimit(rc.Config.Workers(len(specs)))
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			result := o.probe(runCtx, rc, limits, spec)
			if o.observer != nil {
				o.observer.ObserveProbe(result)
			}
			out <- result
			return nil
		})
	}
	_ = g.Wait()
	close(out)

	results := make([]model.ProbeResult, len(specs))
	filled := make([]bool, len(specs))
	for r := range out {
		results[r.Spec.ID] = r
		filled[r.Spec.ID] = true
	}
	for i, spec := range specs {
		if !filled[i] {
			results[i] = o.outstanding(spec)
		}
	}
	return results
}

func (o *Orchestrator) probe(ctx context.Context, rc *RunContext, limits *targetLimits, spec model.ProbeSpec) model.ProbeResult {
	if ctx.Err() != nil {
		return o.outstanding(spec)
	}
	release, err := limits.acquire(ctx, spec)
	if err != nil {
		return o.outstanding(spec)
	}
	defer release()

	retries := rc.Config.Retries(spec.Category)
	timeout := rc.Config.Run.ProbeTimeout.Duration
	var result model.ProbeResult
	attempts := 0
	for {
		result = o.prober.Execute(ctx, spec, timeout)
		attempts++
		if result.Succeeded() || !result.ErrorKind.Transient() || attempts > retries || ctx.Err() != nil {
			break
		}
		rc.Logger.Debug("retrying probe",
			zap.Int("id", spec.ID),
			zap.String("category", string(spec.Category)),
			zap.String("error_kind", string(result.ErrorKind)),
		)
	}
	result.Spec = spec
	result.Attempts = attempts
	if result.Status == model.StatusTimeout && ctx.Err() != nil {
		result.Outstanding = true
	}
	return result
}

func (o *Orchestrator) outstanding(spec model.ProbeSpec) model.ProbeResult {
	return model.ProbeResult{
		Spec:        spec,
		Status:      model.StatusTimeout,
		ErrorKind:   model.ErrorTimeout,
		Error:       "run deadline reached before the probe completed",
		Outstanding: true,
		Timestamp:   o.now(),
	}
}

func (o *Orchestrator) assemble(rc *RunContext, plan catalog.Plan, results []model.ProbeResult) (model.ResultBundle, error) {
	byCategory := map[model.CategoryName][]model.ProbeResult{}
	compared := []model.ProbeResult{}
	comparedCategories := map[model.CategoryName]bool{}
	for _, c := range plan.Categories {
		comparedCategories[c.Name()] = c.Compared()
	}
	for _, r := range results {
		byCategory[r.Spec.Category] = append(byCategory[r.Spec.Category], r)
		if comparedCategories[r.Spec.Category] && r.Spec.Kind == model.ProbeDNS {
			compared = append(compared, r)
		}
	}

	findings := consistency.NewAnalyzer(consistency.Options{
		GeoVariance: rc.Config.Consistency.GeoVariance,
	}).Analyze(compared)

	bundle := model.ResultBundle{
		Consistency:  findings,
		Blocking:     []model.BlockingAssessment{},
		Interception: []model.InterceptionFinding{},
		Results:      results,
	}
	categories := []model.CategoryName{}
	for _, c := range plan.Categories {
		name := c.Name()
		categories = append(categories, name)
		if s, ok := plan.Skipped[name]; ok {
			bundle.Scores = append(bundle.Scores, scoring.Skip(name, skipReason(s)))
			rc.Logger.Debug("category skipped", zap.String("category", string(name)), zap.String("reason", s.Reason))
			continue
		}
		outcome, err := c.Evaluate(catalog.Inputs{
			Config:      rc.Config,
			Results:     byCategory[name],
			Consistency: findings,
		})
		if err != nil {
			s, ok := catalog.AsSkip(err)
			if !ok {
				return model.ResultBundle{}, fmt.Errorf("evaluate %s: %w", name, err)
			}
			bundle.Scores = append(bundle.Scores, scoring.Skip(name, skipReason(s)))
			rc.Logger.Debug("category skipped", zap.String("category", string(name)), zap.String("reason", s.Reason))
			continue
		}
		bundle.Scores = append(bundle.Scores, outcome.Score)
		rc.Logger.Info("category scored",
			zap.String("category", string(name)),
			zap.String("metric", outcome.Score.Metric),
			zap.Float64("value", outcome.Score.Value),
			zap.String("tier", string(outcome.Score.Tier)),
		)
		bundle.Blocking = append(bundle.Blocking, outcome.Blocking...)
		bundle.Interception = append(bundle.Interception, outcome.Interception...)
	}

	summary := summarize(bundle.Scores, results)
	bundle.Partial = summary.OutstandingProbes > 0
	bundle.Run = model.TestRun{
		ID:          rc.ID,
		Environment: rc.Config.Run.Environment,
		Categories:  categories,
		StartedAt:   rc.Started,
		FinishedAt:  o.now(),
		Status:      scoring.Overall(bundle.Scores, rc.Config.Run.FailOnCritical),
		Summary:     summary,
	}
	bundle.Recommendations = analyze.Recommend(bundle)
	return bundle, nil
}

func skipReason(s *catalog.SkipError) string {
	if s.Detail == "" {
		return s.Reason
	}
	return s.Reason + ": " + s.Detail
}

func summarize(scores []model.CategoryScore, results []model.ProbeResult) model.RunSummary {
	summary := model.RunSummary{Categories: len(scores), Probes: len(results)}
	for _, s := range scores {
		switch {
		case s.Skipped():
			summary.Skipped++
		case s.Tier == model.TierCritical:
			summary.Failed++
		case s.Tier == model.TierWarning:
			summary.Warnings++
		default:
			summary.Passed++
		}
	}
	for _, r := range results {
		if r.Outstanding {
			summary.OutstandingProbes++
		} else {
			summary.CompletedProbes++
		}
	}
	return summary
}
