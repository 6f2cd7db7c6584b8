package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/metrics"
	"github.com/sells-group/place-resolver/internal/model"
)

// ModeReader reports whether live provider calls are currently forbidden.
type ModeReader interface {
	Offline() bool
}

// Guard refuses every search while the mode is offline. A refused search
// returns no candidates and no error.
type Guard struct {
	next    Provider
	mode    ModeReader
	metrics *metrics.Metrics
}

// NewGuard decorates p.
func NewGuard(p Provider, mode ModeReader, m *metrics.Metrics) *Guard {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Guard{next: p, mode: mode, metrics: m}
}

// Source implements Provider.
func (g *Guard) Source() model.Source { return g.next.Source() }

// Search implements Provider.
func (g *Guard) Search(ctx context.Context, query, locationHint string, limit int) ([]RawCandidate, error) {
	if g.mode.Offline() {
		g.metrics.OfflineRefusals.WithLabelValues(string(g.next.Source())).Inc()
		zap.L().Warn("provider: live call refused in offline mode",
			zap.String("provider", string(g.next.Source())),
			zap.String("query", query),
		)
		return nil, nil
	}
	return g.next.Search(ctx, query, locationHint, limit)
}
