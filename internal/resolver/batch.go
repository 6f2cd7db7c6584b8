package resolver

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/place-resolver/internal/model"
)

// CanceledError is the Error recorded on queries never started because the
// context ended.
const CanceledError = "canceled"

// ResolvePlaces resolves qs in fixed-size batches. Queries within a batch
// run concurrently; batches are separated by the configured delay. Output
// order matches input order. One query failing never stops the rest.
//
// If ctx ends, no further batch starts: the returned slice is still full
// length, unstarted slots carry CanceledError, and the context error is
// returned alongside.
func (r *Resolver) ResolvePlaces(ctx context.Context, qs []model.UnresolvedPlace, opts ...ResolveOption) ([]model.PlaceResolutionResult, error) {
	out := make([]model.PlaceResolutionResult, len(qs))
	if len(qs) == 0 {
		return out, nil
	}

	batchID := uuid.NewString()
	log := zap.L().With(zap.String("batch_id", batchID), zap.Int("queries", len(qs)))
	log.Debug("resolver: batch started", zap.Int("batch_size", r.batchSize))

	start := r.clock.Now()
	defer func() {
		r.metrics.BatchDuration.Observe(r.clock.Since(start).Seconds())
		r.metrics.BatchSize.Observe(float64(len(qs)))
	}()

	for lo := 0; lo < len(qs); lo += r.batchSize {
		if lo > 0 && r.batchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-r.clock.After(r.batchDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			markCanceled(out[lo:], qs[lo:])
			log.Warn("resolver: batch canceled", zap.Int("completed", lo), zap.Error(err))
			return out, err
		}

		hi := min(lo+r.batchSize, len(qs))
		var g errgroup.Group
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				res, err := r.ResolvePlace(ctx, qs[i], opts...)
				if err != nil {
					res = model.PlaceResolutionResult{
						Original:     qs[i],
						Alternatives: []model.ResolvedPlace{},
						Error:        err.Error(),
						Provider:     model.ProviderNone,
					}
				}
				out[i] = res
				return nil
			})
		}
		_ = g.Wait()
	}

	resolved := 0
	for _, res := range out {
		if res.Found() {
			resolved++
		}
	}
	log.Info("resolver: batch complete", zap.Int("resolved", resolved))
	return out, nil
}

func markCanceled(out []model.PlaceResolutionResult, qs []model.UnresolvedPlace) {
	for i := range out {
		out[i] = model.PlaceResolutionResult{
			Original:     qs[i],
			Alternatives: []model.ResolvedPlace{},
			Error:        CanceledError,
			Provider:     model.ProviderNone,
		}
	}
}
