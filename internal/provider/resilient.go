package provider

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/metrics"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resilience"
)

// DefaultTimeout bounds a single provider request.
const DefaultTimeout = 10 * time.Second

// ResilientConfig configures NewResilient. Zero values take defaults; a
// nil Breaker disables circuit breaking.
type ResilientConfig struct {
	Timeout time.Duration
	Retry   resilience.RetryConfig
	Breaker *resilience.CircuitBreaker
	Metrics *metrics.Metrics
	Clock   clockwork.Clock
}

// Resilient bounds each search with a timeout, retries transient failures,
// and stops calling a provider whose circuit is open.
type Resilient struct {
	next Provider
	cfg  ResilientConfig
}

// NewResilient decorates p.
func NewResilient(p Provider, cfg ResilientConfig) *Resilient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewUnregistered()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger(string(p.Source()))
	}
	return &Resilient{next: p, cfg: cfg}
}

// Source implements Provider.
func (r *Resilient) Source() model.Source { return r.next.Source() }

// Search implements Provider.
func (r *Resilient) Search(ctx context.Context, query, locationHint string, limit int) ([]RawCandidate, error) {
	name := string(r.next.Source())
	start := r.cfg.Clock.Now()

	attempt := func(ctx context.Context) ([]RawCandidate, error) {
		return resilience.DoVal(ctx, r.cfg.Retry, func(ctx context.Context) ([]RawCandidate, error) {
			cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
			return r.next.Search(cctx, query, locationHint, limit)
		})
	}

	var (
		out []RawCandidate
		err error
	)
	if r.cfg.Breaker != nil {
		out, err = resilience.ExecuteVal(ctx, r.cfg.Breaker, attempt)
	} else {
		out, err = attempt(ctx)
	}

	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
	case len(out) == 0:
		outcome = metrics.OutcomeEmpty
	}
	r.cfg.Metrics.ProviderRequests.WithLabelValues(name, outcome).Inc()
	r.cfg.Metrics.ProviderDuration.WithLabelValues(name).Observe(r.cfg.Clock.Since(start).Seconds())

	if err != nil {
		zap.L().Debug("provider: search failed",
			zap.String("provider", name),
			zap.Error(err),
		)
	}
	return out, err
}
