package orchestrator

import (
	"context"
	"net"
	"net/url"
	"sync"

	"github.com/jaxxstorm/dnsaudit/internal/config"
	"github.com/jaxxstorm/dnsaudit/internal/model"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// targetLimits caps concurrent and per-second probes against each target,
// so that rate-limited upstreams do not turn into false failures.
type targetLimits struct {
	mu         sync.Mutex
	concurrent int64
	qps        float64
	sems       map[string]*semaphore.Weighted
	limiters   map[string]*rate.Limiter
}

func newTargetLimits(cfg *config.Config) *targetLimits {
	return &targetLimits{
		concurrent: int64(cfg.Run.PerResolverConcurrency),
		qps:        cfg.Run.PerResolverQPS,
		sems:       map[string]*semaphore.Weighted{},
		limiters:   map[string]*rate.Limiter{},
	}
}

// acquire blocks until spec may run against its target. The returned
// release func must be called once the probe is done.
func (l *targetLimits) acquire(ctx context.Context, spec model.ProbeSpec) (func(), error) {
	key := targetKey(spec)
	sem, limiter := l.get(key)
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	release := func() {
		if sem != nil {
			sem.Release(1)
		}
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			release()
			return nil, err
		}
	}
	return release, nil
}

func (l *targetLimits) get(key string) (*semaphore.Weighted, *rate.Limiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sem *semaphore.Weighted
	if l.concurrent > 0 {
		sem = l.sems[key]
		if sem == nil {
			sem = semaphore.NewWeighted(l.concurrent)
			l.sems[key] = sem
		}
	}
	var limiter *rate.Limiter
	if l.qps > 0 {
		limiter = l.limiters[key]
		if limiter == nil {
			limiter = rate.NewLimiter(rate.Limit(l.qps), 1)
			l.limiters[key] = limiter
		}
	}
	return sem, limiter
}

// targetKey identifies the remote end of a probe: the resolver for DNS
// probes, the host for TLS and HTTP probes.
func targetKey(spec model.ProbeSpec) string {
	switch spec.Kind {
	case model.ProbeDNS:
		return string(spec.Resolver.Transport) + "://" + spec.Resolver.Address
	case model.ProbeReachability:
		if u, err := url.Parse(spec.QueryName); err == nil {
			return u.Host
		}
	case model.ProbeTLS:
		if host, _, err := net.SplitHostPort(spec.QueryName); err == nil {
			return host
		}
	}
	return spec.QueryName
}
