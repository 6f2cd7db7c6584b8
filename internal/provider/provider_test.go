package provider

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/place-resolver/internal/metrics"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resilience"
	"github.com/sells-group/place-resolver/pkg/foursquare"
	"github.com/sells-group/place-resolver/pkg/google"
	"github.com/sells-group/place-resolver/pkg/google/mocks"
	"github.com/sells-group/place-resolver/pkg/nominatim"
)

// fakeProvider returns errs in order, then candidates.
type fakeProvider struct {
	source model.Source
	errs   []error
	cands  []RawCandidate
	calls  atomic.Int32
}

func (f *fakeProvider) Source() model.Source { return f.source }

func (f *fakeProvider) Search(context.Context, string, string, int) ([]RawCandidate, error) {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) {
		return nil, f.errs[n]
	}
	return f.cands, nil
}

type staticMode bool

func (m staticMode) Offline() bool { return bool(m) }

func TestRegistry_RegisterGetList(t *testing.T) {
	t.Parallel()

	r := NewRegistry(&fakeProvider{source: model.SourceNominatim})
	r.Register(&fakeProvider{source: model.SourceGoogle})

	assert.NotNil(t, r.Get(model.SourceGoogle))
	assert.Nil(t, r.Get(model.SourceFoursquare))
	assert.Equal(t, []model.Source{model.SourceGoogle, model.SourceNominatim}, r.List())
}

func TestRegistry_Wrap(t *testing.T) {
	t.Parallel()

	r := NewRegistry(&fakeProvider{source: model.SourceGoogle})
	r.Wrap(func(p Provider) Provider { return NewGuard(p, staticMode(true), nil) })

	_, ok := r.Get(model.SourceGoogle).(*Guard)
	assert.True(t, ok)
}

func TestOrdering_Candidates(t *testing.T) {
	t.Parallel()
	o := DefaultOrdering()

	tests := []struct {
		name     string
		category string
		allow    []model.Source
		skip     bool
		want     []model.Source
	}{
		{
			name:     "category list",
			category: "Restaurant",
			want:     []model.Source{model.SourceFoursquare, model.SourceGoogle, model.SourceNominatim},
		},
		{
			name:     "alias",
			category: " dining ",
			want:     []model.Source{model.SourceFoursquare, model.SourceGoogle, model.SourceNominatim},
		},
		{
			name:     "unknown category falls back to default",
			category: "spa",
			want:     []model.Source{model.SourceGoogle, model.SourceFoursquare, model.SourceNominatim},
		},
		{
			name:     "allow list keeps ordering order",
			category: "museum",
			allow:    []model.Source{model.SourceFoursquare, model.SourceGoogle},
			want:     []model.Source{model.SourceGoogle, model.SourceFoursquare},
		},
		{
			name:     "skip expensive",
			category: "museum",
			skip:     true,
			want:     []model.Source{model.SourceNominatim},
		},
		{
			name:     "skip expensive with nothing free",
			category: "bar",
			skip:     true,
			want:     []model.Source{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, o.Candidates(tt.category, tt.allow, tt.skip))
		})
	}
}

func TestLoadOrdering_MergesOverDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ordering.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ordering:
  providers:
    foursquare:
      tier: 0
  categories:
    Ramen: [foursquare]
  aliases:
    noodles: ramen
`), 0o600))

	o, err := LoadOrdering(path)
	require.NoError(t, err)

	assert.False(t, o.Expensive(model.SourceFoursquare))
	assert.True(t, o.Expensive(model.SourceGoogle))
	assert.Equal(t, []model.Source{model.SourceFoursquare}, o.Candidates("noodles", nil, true))
	assert.Equal(t, DefaultOrdering().Default, o.Default)
	assert.Contains(t, o.Categories, "museum")
}

func TestLoadOrdering_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := LoadOrdering(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("ordering:\n  default: [google, yelp]\n"), 0o600))
	_, err = LoadOrdering(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yelp")

	garbled := filepath.Join(dir, "garbled.yaml")
	require.NoError(t, os.WriteFile(garbled, []byte("ordering: [\n"), 0o600))
	_, err = LoadOrdering(garbled)
	assert.Error(t, err)
}

func TestGoogle_Search(t *testing.T) {
	t.Parallel()

	mc := mocks.NewMockClient(t)
	mc.On("TextSearch", mock.Anything, google.TextSearchRequest{
		TextQuery:      "Fushimi Inari, Kyoto, Japan",
		MaxResultCount: 5,
	}).Return(&google.TextSearchResponse{
		Places: []google.Place{{ID: "g1", DisplayName: google.DisplayName{Text: "Fushimi Inari Taisha"}}},
	}, nil)

	got, err := NewGoogle(mc).Search(context.Background(), "Fushimi Inari", "Kyoto, Japan", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	gc, ok := got[0].(GoogleCandidate)
	require.True(t, ok)
	assert.Equal(t, "g1", gc.Place.ID)
	assert.Equal(t, model.SourceGoogle, gc.Source())
}

func TestGoogle_SearchError(t *testing.T) {
	t.Parallel()

	mc := mocks.NewMockClient(t)
	mc.On("TextSearch", mock.Anything, mock.Anything).Return(nil, eris.New("quota"))

	_, err := NewGoogle(mc).Search(context.Background(), "x", "", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google search")
}

type fakeFoursquare struct {
	got foursquare.SearchRequest
}

func (f *fakeFoursquare) Search(_ context.Context, req foursquare.SearchRequest) (*foursquare.SearchResponse, error) {
	f.got = req
	return &foursquare.SearchResponse{Results: []foursquare.Place{{FsqID: "f1"}}}, nil
}

func TestFoursquare_SearchUsesNear(t *testing.T) {
	t.Parallel()

	fc := &fakeFoursquare{}
	got, err := NewFoursquare(fc).Search(context.Background(), "Ichiran", "Shibuya, Tokyo, Japan", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.SourceFoursquare, got[0].Source())
	assert.Equal(t, foursquare.SearchRequest{Query: "Ichiran", Near: "Shibuya, Tokyo, Japan", Limit: 3}, fc.got)
}

type fakeNominatim struct {
	got nominatim.SearchRequest
}

func (f *fakeNominatim) Search(_ context.Context, req nominatim.SearchRequest) ([]nominatim.Place, error) {
	f.got = req
	return []nominatim.Place{{PlaceID: 9}}, nil
}

func TestNominatim_Search(t *testing.T) {
	t.Parallel()

	nc := &fakeNominatim{}
	got, err := NewNominatim(nc).Search(context.Background(), " Tower Bridge ", "London, UK", 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Tower Bridge, London, UK", nc.got.Query)
	assert.Equal(t, int64(9), got[0].(NominatimCandidate).Place.PlaceID)
}

func TestResilient_RetriesTransient(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		source: model.SourceGoogle,
		errs:   []error{resilience.NewTransientError(eris.New("503"), 503)},
		cands:  []RawCandidate{GoogleCandidate{}},
	}
	m := metrics.NewUnregistered()
	r := NewResilient(p, ResilientConfig{
		Retry:   resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond},
		Metrics: m,
	})

	got, err := r.Search(context.Background(), "q", "", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), p.calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("google", metrics.OutcomeSuccess)), 0)
}

func TestResilient_DoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{source: model.SourceGoogle, errs: []error{eris.New("bad key")}}
	m := metrics.NewUnregistered()
	r := NewResilient(p, ResilientConfig{Metrics: m})

	_, err := r.Search(context.Background(), "q", "", 5)
	require.Error(t, err)
	assert.Equal(t, int32(1), p.calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("google", metrics.OutcomeError)), 0)
}

func TestResilient_OpenCircuitSkipsCall(t *testing.T) {
	t.Parallel()

	perm := eris.New("down")
	p := &fakeProvider{source: model.SourceFoursquare, errs: []error{perm, perm, perm}}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})
	r := NewResilient(p, ResilientConfig{Breaker: cb})

	for range 2 {
		_, err := r.Search(context.Background(), "q", "", 5)
		require.Error(t, err)
	}
	_, err := r.Search(context.Background(), "q", "", 5)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestResilient_AppliesTimeout(t *testing.T) {
	t.Parallel()

	var deadline time.Time
	var mu sync.Mutex
	p := providerFunc{source: model.SourceNominatim, fn: func(ctx context.Context) ([]RawCandidate, error) {
		mu.Lock()
		deadline, _ = ctx.Deadline()
		mu.Unlock()
		return nil, nil
	}}
	r := NewResilient(p, ResilientConfig{Timeout: time.Minute})

	before := time.Now()
	got, err := r.Search(context.Background(), "q", "", 1)
	require.NoError(t, err)
	assert.Empty(t, got)

	mu.Lock()
	defer mu.Unlock()
	assert.WithinDuration(t, before.Add(time.Minute), deadline, 5*time.Second)
}

type providerFunc struct {
	source model.Source
	fn     func(ctx context.Context) ([]RawCandidate, error)
}

func (p providerFunc) Source() model.Source { return p.source }

func (p providerFunc) Search(ctx context.Context, _, _ string, _ int) ([]RawCandidate, error) {
	return p.fn(ctx)
}

func TestGuard_RefusesOffline(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{source: model.SourceGoogle, cands: []RawCandidate{GoogleCandidate{}}}
	m := metrics.NewUnregistered()
	g := NewGuard(p, staticMode(true), m)

	got, err := g.Search(context.Background(), "q", "", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(0), p.calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(m.OfflineRefusals.WithLabelValues("google")), 0)
}

func TestGuard_PassesThroughLive(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{source: model.SourceGoogle, cands: []RawCandidate{GoogleCandidate{}}}
	g := NewGuard(p, staticMode(false), nil)

	got, err := g.Search(context.Background(), "q", "", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, model.SourceGoogle, g.Source())
}
