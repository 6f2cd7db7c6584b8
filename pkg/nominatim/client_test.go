package nominatim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/place-resolver/internal/resilience"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBaseURL(srv.URL), WithLimiter(rate.NewLimiter(rate.Inf, 1))}, opts...)
	return NewClient(opts...)
}

func TestSearch_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "Meiji Jingu, Tokyo, Japan", q.Get("q"))
		assert.Equal(t, "jsonv2", q.Get("format"))
		assert.Equal(t, "1", q.Get("addressdetails"))
		assert.Equal(t, "2", q.Get("limit"))
		assert.Equal(t, "trip-planner-test", r.Header.Get("User-Agent"))

		_, _ = w.Write([]byte(`[{
			"place_id":123456,
			"osm_type":"way",
			"osm_id":23609384,
			"lat":"35.6763976",
			"lon":"139.6993259",
			"name":"Meiji Jingu",
			"display_name":"Meiji Jingu, Yoyogi-Kamizonocho, Shibuya, Tokyo, Japan",
			"category":"amenity",
			"type":"place_of_worship",
			"address":{"suburb":"Yoyogi","city":"Shibuya","country_code":"jp"},
			"extratags":{"website":"https://www.meijijingu.or.jp/"}
		}]`))
	}, WithUserAgent("trip-planner-test"))

	places, err := client.Search(context.Background(), SearchRequest{Query: "Meiji Jingu, Tokyo, Japan", Limit: 2})
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, int64(123456), places[0].PlaceID)
	assert.Equal(t, "35.6763976", places[0].Lat)
	assert.Equal(t, "Yoyogi", places[0].Address.Suburb)
	assert.Equal(t, "https://www.meijijingu.or.jp/", places[0].ExtraTags.Website)
}

func TestSearch_DefaultUserAgent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[]`))
	})

	places, err := client.Search(context.Background(), SearchRequest{Query: "x"})
	require.NoError(t, err)
	assert.Empty(t, places)
}

func TestSearch_ServiceUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Search(context.Background(), SearchRequest{Query: "x"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestSearch_CountryCodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "jp", r.URL.Query().Get("countrycodes"))
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := client.Search(context.Background(), SearchRequest{Query: "x", CountryCodes: "jp"})
	require.NoError(t, err)
}
