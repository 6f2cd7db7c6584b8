package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/place-resolver/internal/cache"
	"github.com/sells-group/place-resolver/internal/itinerary"
	"github.com/sells-group/place-resolver/internal/metrics"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resolver"
	"github.com/sells-group/place-resolver/internal/store"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) ResolvePlace(ctx context.Context, q model.UnresolvedPlace, opts ...resolver.ResolveOption) (model.PlaceResolutionResult, error) {
	args := m.Called(ctx, q, opts)
	return args.Get(0).(model.PlaceResolutionResult), args.Error(1)
}

func (m *mockResolver) ResolvePlaces(ctx context.Context, qs []model.UnresolvedPlace, opts ...resolver.ResolveOption) ([]model.PlaceResolutionResult, error) {
	args := m.Called(ctx, qs, opts)
	return args.Get(0).([]model.PlaceResolutionResult), args.Error(1)
}

func (m *mockResolver) CacheStats(ctx context.Context) (cache.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(cache.Stats), args.Error(1)
}

func (m *mockResolver) Flush(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func optsLen(n int) any {
	return mock.MatchedBy(func(opts []resolver.ResolveOption) bool { return len(opts) == n })
}

func senso() model.UnresolvedPlace {
	return model.UnresolvedPlace{Name: "Senso-ji", Category: "temple", City: "Tokyo", Country: "Japan"}
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	srv := NewServer(&mockResolver{}, resolver.NewMode(false), Options{Gatherer: prometheus.NewRegistry()})
	rr := do(t, srv, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.NewUnregistered()
	require.NoError(t, m.Register(reg))
	m.Resolutions.WithLabelValues("google", metrics.OutcomeResolved).Inc()

	srv := NewServer(&mockResolver{}, resolver.NewMode(false), Options{Gatherer: reg})
	rr := do(t, srv, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "place_resolver_resolutions_total")
}

func TestServer_Resolve(t *testing.T) {
	t.Parallel()

	r := &mockResolver{}
	want := model.PlaceResolutionResult{
		Original:     senso(),
		Resolved:     &model.ResolvedPlace{Name: "Senso-ji", Confidence: 1, Source: model.SourceGoogle, SourceID: "g1"},
		Alternatives: []model.ResolvedPlace{},
		Provider:     "google",
	}
	r.On("ResolvePlace", mock.Anything, senso(), optsLen(2)).Return(want, nil)

	srv := NewServer(r, resolver.NewMode(false), Options{Gatherer: prometheus.NewRegistry()})
	rr := do(t, srv, http.MethodPost, "/v1/places/resolve", map[string]any{
		"place":   senso(),
		"options": map[string]any{"providers": []string{"google"}, "max_alternatives": 1},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	var got model.PlaceResolutionResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.NotNil(t, got.Resolved)
	assert.Equal(t, "g1", got.Resolved.SourceID)
	assert.Equal(t, "google", got.Provider)
	r.AssertExpectations(t)
}

func TestServer_ResolveBadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    any
		wantErr string
	}{
		{
			name:    "malformed json",
			body:    `{"place":`,
			wantErr: "invalid request body",
		},
		{
			name: "unknown provider",
			body: map[string]any{
				"place":   senso(),
				"options": map[string]any{"providers": []string{"yelp"}},
			},
			wantErr: "unknown provider yelp",
		},
		{
			name: "confidence out of range",
			body: map[string]any{
				"place":   senso(),
				"options": map[string]any{"min_confidence": 1.5},
			},
			wantErr: "min_confidence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := NewServer(&mockResolver{}, resolver.NewMode(false), Options{Gatherer: prometheus.NewRegistry()})
			rr := do(t, srv, http.MethodPost, "/v1/places/resolve", tt.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantErr)
		})
	}
}

func TestServer_ResolveInvalidQuery(t *testing.T) {
	t.Parallel()

	r := &mockResolver{}
	q := model.UnresolvedPlace{Name: "Senso-ji", Country: "Japan"}
	r.On("ResolvePlace", mock.Anything, q, optsLen(0)).
		Return(model.PlaceResolutionResult{}, eris.Wrap(model.ErrInvalidQuery, "city is required"))

	srv := NewServer(r, resolver.NewMode(false), Options{Gatherer: prometheus.NewRegistry()})
	rr := do(t, srv, http.MethodPost, "/v1/places/resolve", map[string]any{"place": q})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "city is required")
}

func TestServer_ResolveBatch(t *testing.T) {
	t.Parallel()

	r := &mockResolver{}
	qs := []model.UnresolvedPlace{senso(), {Name: "Nowhere", City: "Tokyo", Country: "Japan"}}
	r.On("ResolvePlaces", mock.Anything, qs, optsLen(0)).Return([]model.PlaceResolutionResult{
		{Original: qs[0], Resolved: &model.ResolvedPlace{Name: "Senso-ji"}, Alternatives: []model.ResolvedPlace{}, Provider: "google"},
		{Original: qs[1], Alternatives: []model.ResolvedPlace{}, Provider: model.ProviderNone, Error: "no match"},
	}, nil)

	srv := NewServer(r, resolver.NewMode(false), Options{Gatherer: prometheus.NewRegistry()})
	rr := do(t, srv, http.MethodPost, "/v1/places/resolve-batch", map[string]any{"places": qs})

	require.Equal(t, http.StatusOK, rr.Code)
	var got BatchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got.Results, 2)
	assert.True(t, got.Results[0].Found())
	assert.False(t, got.Results[1].Found())
	assert.Empty(t, got.Error)
}

func TestServer_ResolveBatchCanceled(t *testing.T) {
	t.Parallel()

	r := &mockResolver{}
	qs := []model.UnresolvedPlace{senso()}
	r.On("ResolvePlaces", mock.Anything, qs, optsLen(0)).Return([]model.PlaceResolutionResult{
		{Original: qs[0], Alternatives: []model.ResolvedPlace{}, Provider: model.ProviderNone, Error: resolver.CanceledError},
	}, context.Canceled)

	srv := NewServer(r, resolver.NewMode(false), Options{Gatherer: prometheus.NewRegistry()})
	rr := do(t, srv, http.MethodPost, "/v1/places/resolve-batch", map[string]any{"places": qs})

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "context canceled")
}

func TestServer_ResolveBatchTooLarge(t *testing.T) {
	t.Parallel()

	qs := make([]model.UnresolvedPlace, MaxBatchPlaces+1)
	for i := range qs {
		qs[i] = senso()
	}
	srv := NewServer(&mockResolver{}, resolver.NewMode(false), Options{Gatherer: prometheus.NewRegistry()})
	rr := do(t, srv, http.MethodPost, "/v1/places/resolve-batch", map[string]any{"places": qs})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServer_CacheStatsAndFlush(t *testing.T) {
	t.Parallel()

	r := &mockResolver{}
	r.On("CacheStats", mock.Anything).Return(cache.Stats{Backend: "file", Entries: 3, TotalHits: 7}, nil)
	r.On("Flush", mock.Anything).Return(nil).Once()
	r.On("Flush", mock.Anything).Return(eris.New("disk full")).Once()

	srv := NewServer(r, resolver.NewMode(false), Options{Gatherer: prometheus.NewRegistry()})

	rr := do(t, srv, http.MethodGet, "/v1/cache/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Entries)
	assert.EqualValues(t, 7, stats.TotalHits)

	rr = do(t, srv, http.MethodPost, "/v1/cache/flush", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, srv, http.MethodPost, "/v1/cache/flush", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "disk full")
}

func TestServer_Mode(t *testing.T) {
	t.Parallel()

	mode := resolver.NewMode(false)
	srv := NewServer(&mockResolver{}, mode, Options{Gatherer: prometheus.NewRegistry()})

	rr := do(t, srv, http.MethodGet, "/v1/mode", nil)
	assert.JSONEq(t, `{"mode":"live"}`, rr.Body.String())

	rr = do(t, srv, http.MethodPut, "/v1/mode", ModeRequest{Override: "offline"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, mode.Offline())

	rr = do(t, srv, http.MethodPut, "/v1/mode", ModeRequest{Override: "turbo"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.True(t, mode.Offline())

	rr = do(t, srv, http.MethodPut, "/v1/mode", ModeRequest{})
	assert.JSONEq(t, `{"mode":"live"}`, rr.Body.String())
}

func TestServer_ResolveItineraryOffline(t *testing.T) {
	t.Parallel()

	persistent := cache.Open(store.NewFile(t.TempDir(), "cache.json"))
	t.Cleanup(func() { persistent.Close(context.Background()) }) //nolint:errcheck

	res := resolver.New(resolver.Config{
		Ephemeral:  cache.NewEphemeral(cache.DefaultEphemeralTTL, cache.DefaultEphemeralMaxEntries, clockwork.NewFakeClock()),
		Persistent: persistent,
		Mode:       resolver.NewMode(true),
		BatchDelay: -1,
	})
	srv := NewServer(res, res.Mode(), Options{Gatherer: prometheus.NewRegistry()})

	it := itinerary.Itinerary{
		ID:      "trip-1",
		City:    "Tokyo",
		Country: "Japan",
		Days: []itinerary.Day{{
			ID: "d1",
			Slots: []itinerary.Slot{{
				ID: "morning",
				Options: []itinerary.Option{
					{ID: "o1", Activity: itinerary.Activity{Name: "Senso-ji", Category: "temple"}},
					{ID: "o2", Activity: itinerary.Activity{Name: "  "}},
				},
			}},
		}},
	}
	rr := do(t, srv, http.MethodPost, "/v1/itineraries/resolve", ItineraryRequest{Itinerary: it})

	require.Equal(t, http.StatusOK, rr.Code)
	var got ItineraryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Applied)
	require.Len(t, got.Results, 1)
	assert.Equal(t, itinerary.PlaceRef{DayID: "d1", SlotID: "morning", OptionID: "o1"}, got.Results[0].Ref)

	place := got.Itinerary.Days[0].Slots[0].Options[0].Activity.Place
	require.NotNil(t, place)
	assert.Equal(t, model.SourceSynthetic, place.Source)
	assert.Nil(t, got.Itinerary.Days[0].Slots[0].Options[1].Activity.Place)
}
