package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaxxstorm/dnsaudit/internal/config"
	"github.com/jaxxstorm/dnsaudit/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	calls   atomic.Int64
	respond func(ctx context.Context, spec model.ProbeSpec) model.ProbeResult
}

func (f *fakeProber) Execute(ctx context.Context, spec model.ProbeSpec, timeout time.Duration) model.ProbeResult {
	f.calls.Add(1)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return f.respond(ctx, spec)
}

func answer(spec model.ProbeSpec, values ...string) model.ProbeResult {
	return model.ProbeResult{Spec: spec, Status: model.StatusSuccess, Rcode: "NOERROR", Answers: values, Attempts: 1}
}

func baseConfig(categories ...model.CategoryName) *config.Config {
	cfg := config.Default()
	cfg.Resolvers = []model.ResolverTarget{
		{Address: "10.0.0.1", Transport: model.TransportUDP, Primary: true},
		{Address: "8.8.8.8", Transport: model.TransportUDP},
	}
	names := []string{}
	for _, c := range categories {
		names = append(names, string(c))
	}
	cfg.Run.Categories = names
	return cfg
}

func TestPartialRunKeepsCompletedResults(t *testing.T) {
	cfg := baseConfig(model.CategoryBaseline)
	cfg.Resolvers = cfg.Resolvers[:1]
	cfg.Domains.Baseline = nil
	for i := 0; i < 10; i++ {
		cfg.Domains.Baseline = append(cfg.Domains.Baseline, fmt.Sprintf("d%d.test", i))
	}
	cfg.Run.ProbeTimeout = config.Duration{Duration: 10 * time.Second}
	cfg.Run.Deadline = config.Duration{Duration: 200 * time.Millisecond}

	prober := &fakeProber{respond: func(ctx context.Context, spec model.ProbeSpec) model.ProbeResult {
		if spec.QueryName == "d3.test" || spec.QueryName == "d7.test" {
			<-ctx.Done()
			return model.ProbeResult{Spec: spec, Status: model.StatusTimeout, ErrorKind: model.ErrorTimeout}
		}
		return answer(spec, "192.0.2.1")
	}}

	bundle, err := New(Options{Prober: prober}).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, bundle.Partial)
	require.Len(t, bundle.Results, 10)
	for i, r := range bundle.Results {
		assert.Equal(t, i, r.Spec.ID)
		if r.Spec.QueryName == "d3.test" || r.Spec.QueryName == "d7.test" {
			assert.True(t, r.Outstanding)
			assert.Equal(t, model.StatusTimeout, r.Status)
			continue
		}
		assert.False(t, r.Outstanding)
		assert.Equal(t, []string{"192.0.2.1"}, r.Answers)
	}
	assert.Equal(t, 8, bundle.Run.Summary.CompletedProbes)
	assert.Equal(t, 2, bundle.Run.Summary.OutstandingProbes)

	score, ok := bundle.Score(model.CategoryBaseline)
	require.True(t, ok)
	assert.InDelta(t, 80, score.Value, 1e-9)
	assert.Equal(t, float64(10), score.Raw["tested"])
}

func TestBlockingEndToEnd(t *testing.T) {
	cfg := baseConfig(model.CategoryMaliciousBlocking)
	cfg.Domains.Threats = map[string][]string{"malware": {"malware.test"}}

	prober := &fakeProber{respond: func(_ context.Context, spec model.ProbeSpec) model.ProbeResult {
		if spec.Resolver.Address == "10.0.0.1" {
			return answer(spec, "0.0.0.0")
		}
		return answer(spec, "203.0.113.10")
	}}

	bundle, err := New(Options{Prober: prober}).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, bundle.Partial)

	require.NotEmpty(t, bundle.Blocking)
	malware := bundle.Blocking[0]
	assert.Equal(t, "malware", malware.SubCategory)
	assert.Equal(t, 1, malware.Tested)
	assert.Equal(t, 1, malware.Blocked)

	score, ok := bundle.Score(model.CategoryMaliciousBlocking)
	require.True(t, ok)
	assert.InDelta(t, 100, score.Value, 1e-9)
	assert.Equal(t, model.TierExcellent, score.Tier)

	require.Len(t, bundle.Consistency, 1)
	assert.True(t, bundle.Consistency[0].Divergent)
	assert.Equal(t, model.RunHealthy, bundle.Run.Status)
	assert.NotEmpty(t, bundle.Run.ID)
}

func TestConfigErrorBeforeDispatch(t *testing.T) {
	cfg := baseConfig(model.CategoryBaseline)
	cfg.Resolvers = nil
	prober := &fakeProber{respond: func(_ context.Context, spec model.ProbeSpec) model.ProbeResult {
		return answer(spec, "192.0.2.1")
	}}

	_, err := New(Options{Prober: prober}).Run(context.Background(), cfg)
	require.Error(t, err)
	var verr *config.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, int64(0), prober.calls.Load())
}

func TestPoisoningSkippedWithOneResolver(t *testing.T) {
	cfg := baseConfig(model.CategoryBaseline, model.CategoryDNSPoisoning)
	cfg.Resolvers = cfg.Resolvers[:1]
	prober := &fakeProber{respond: func(_ context.Context, spec model.ProbeSpec) model.ProbeResult {
		return answer(spec, "192.0.2.1")
	}}

	bundle, err := New(Options{Prober: prober}).Run(context.Background(), cfg)
	require.NoError(t, err)

	score, ok := bundle.Score(model.CategoryDNSPoisoning)
	require.True(t, ok)
	assert.True(t, score.Skipped())
	assert.True(t, strings.HasPrefix(score.SkipReason, "insufficient_resolvers"))
	for _, r := range bundle.Results {
		assert.NotEqual(t, model.CategoryDNSPoisoning, r.Spec.Category)
	}
	assert.Equal(t, 1, bundle.Run.Summary.Skipped)
	assert.Equal(t, model.RunHealthy, bundle.Run.Status)
}

func TestSameAddressDifferentTransportsCompared(t *testing.T) {
	cfg := baseConfig(model.CategoryDNSPoisoning)
	cfg.Resolvers = []model.ResolverTarget{
		{Address: "1.1.1.1", Transport: model.TransportUDP, Primary: true},
		{Address: "1.1.1.1", Transport: model.TransportDoT},
	}
	cfg.Domains.Poisoning = []string{"example.org"}

	prober := &fakeProber{respond: func(_ context.Context, spec model.ProbeSpec) model.ProbeResult {
		if spec.Resolver.Transport == model.TransportUDP {
			return answer(spec, "6.6.6.6")
		}
		return answer(spec, "93.184.216.34")
	}}

	bundle, err := New(Options{Prober: prober}).Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, bundle.Consistency, 1)
	finding := bundle.Consistency[0]
	assert.True(t, finding.Divergent)
	assert.ElementsMatch(t, []string{"udp://1.1.1.1", "dot://1.1.1.1"}, finding.Resolvers)

	score, ok := bundle.Score(model.CategoryDNSPoisoning)
	require.True(t, ok)
	assert.False(t, score.Skipped())
	assert.InDelta(t, 0, score.Value, 1e-9)
	assert.Equal(t, float64(1), score.Raw["divergent"])
}

func TestTransientFailuresRetried(t *testing.T) {
	cfg := baseConfig(model.CategoryBaseline)
	cfg.Resolvers = cfg.Resolvers[:1]
	cfg.Domains.Baseline = []string{"flaky.test"}
	cfg.Run.Retries = map[string]int{"baseline": 2}

	var mu sync.Mutex
	seen := 0
	prober := &fakeProber{respond: func(_ context.Context, spec model.ProbeSpec) model.ProbeResult {
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen < 3 {
			return model.ProbeResult{Spec: spec, Status: model.StatusError, ErrorKind: model.ErrorNetworkUnreachable}
		}
		return answer(spec, "192.0.2.1")
	}}

	bundle, err := New(Options{Prober: prober}).Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, bundle.Results, 1)
	assert.True(t, bundle.Results[0].Succeeded())
	assert.Equal(t, 3, bundle.Results[0].Attempts)
}

func TestPermanentFailureNotRetried(t *testing.T) {
	cfg := baseConfig(model.CategoryBaseline)
	cfg.Resolvers = cfg.Resolvers[:1]
	cfg.Domains.Baseline = []string{"broken.test"}
	cfg.Run.Retries = map[string]int{"baseline": 3}

	prober := &fakeProber{respond: func(_ context.Context, spec model.ProbeSpec) model.ProbeResult {
		return model.ProbeResult{Spec: spec, Status: model.StatusError, ErrorKind: model.ErrorMalformedResponse}
	}}

	bundle, err := New(Options{Prober: prober}).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), prober.calls.Load())
	assert.Equal(t, 1, bundle.Results[0].Attempts)
	assert.Equal(t, model.RunCritical, bundle.Run.Status)
}

func TestPerResolverConcurrencyBound(t *testing.T) {
	cfg := baseConfig(model.CategoryBaseline)
	cfg.Resolvers = cfg.Resolvers[:1]
	cfg.Domains.Baseline = nil
	for i := 0; i < 12; i++ {
		cfg.Domains.Baseline = append(cfg.Domains.Baseline, fmt.Sprintf("n%d.test", i))
	}
	cfg.Run.PerResolverConcurrency = 2

	var inflight, peak atomic.Int64
	prober := &fakeProber{respond: func(_ context.Context, spec model.ProbeSpec) model.ProbeResult {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return answer(spec, "192.0.2.1")
	}}

	_, err := New(Options{Prober: prober}).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

type recordingObserver struct {
	mu      sync.Mutex
	probes  int
	bundles int
}

func (r *recordingObserver) ObserveProbe(model.ProbeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes++
}

func (r *recordingObserver) ObserveBundle(model.ResultBundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles++
}

func TestObserverSeesEveryProbe(t *testing.T) {
	cfg := baseConfig(model.CategoryBaseline)
	cfg.Domains.Baseline = []string{"a.test", "b.test"}
	observer := &recordingObserver{}
	prober := &fakeProber{respond: func(_ context.Context, spec model.ProbeSpec) model.ProbeResult {
		return answer(spec, "192.0.2.1")
	}}

	bundle, err := New(Options{Prober: prober, Observer: observer}).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, len(bundle.Results), observer.probes)
	assert.Equal(t, 1, observer.bundles)
}
