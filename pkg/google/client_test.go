package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/place-resolver/internal/resilience"
)

func newTestClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL), WithLimiter(rate.NewLimiter(rate.Inf, 1)))
}

func TestTextSearch_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.priceLevel")
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.addressComponents")

		var body TextSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Senso-ji Asakusa, Tokyo, Japan", body.TextQuery)
		assert.Equal(t, 5, body.MaxResultCount)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"places":[{
			"id":"ChIJ8T1GpMGOGGARDYGSgpooDWw",
			"displayName":{"text":"Sensō-ji","languageCode":"en"},
			"formattedAddress":"2 Chome-3-1 Asakusa, Taito City, Tokyo 111-0032, Japan",
			"location":{"latitude":35.7148,"longitude":139.7967},
			"rating":4.5,
			"userRatingCount":80123,
			"priceLevel":"PRICE_LEVEL_FREE",
			"currentOpeningHours":{"openNow":true},
			"photos":[{"name":"places/ChIJ8T1/photos/AAA","widthPx":4000}]
		}]}`))
	})

	resp, err := client.TextSearch(context.Background(), TextSearchRequest{
		TextQuery:      "Senso-ji Asakusa, Tokyo, Japan",
		MaxResultCount: 5,
	})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	p := resp.Places[0]
	assert.Equal(t, "ChIJ8T1GpMGOGGARDYGSgpooDWw", p.ID)
	assert.Equal(t, "Sensō-ji", p.DisplayName.Text)
	require.NotNil(t, p.Location)
	assert.InDelta(t, 35.7148, p.Location.Latitude, 1e-6)
	assert.Equal(t, 80123, p.UserRatingCount)
	assert.Equal(t, "PRICE_LEVEL_FREE", p.PriceLevel)
	require.NotNil(t, p.CurrentOpeningHours)
	require.NotNil(t, p.CurrentOpeningHours.OpenNow)
	assert.True(t, *p.CurrentOpeningHours.OpenNow)
	require.Len(t, p.Photos, 1)
}

func TestTextSearch_NoResults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	resp, err := client.TextSearch(context.Background(), TextSearchRequest{TextQuery: "nowhere"})
	require.NoError(t, err)
	assert.Empty(t, resp.Places)
}

func TestTextSearch_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "invalid API key"}`))
	})

	resp, err := client.TextSearch(context.Background(), TextSearchRequest{TextQuery: "x"})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "403")
	assert.False(t, resilience.IsTransient(err))
}

func TestTextSearch_RateLimitedIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.TextSearch(context.Background(), TextSearchRequest{TextQuery: "x"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestTextSearch_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(_ http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.TextSearch(ctx, TextSearchRequest{TextQuery: "x"})
	assert.Error(t, err)
}

func TestPhotoURL(t *testing.T) {
	assert.Equal(t,
		"https://places.googleapis.com/v1/places/abc/photos/p1/media?maxWidthPx=400",
		PhotoURL("places/abc/photos/p1", 400))
	assert.Contains(t, PhotoURL("places/abc/photos/p1", 0), "maxWidthPx=800")
}
