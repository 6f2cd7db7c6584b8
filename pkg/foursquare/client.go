// Package foursquare is a client for the Foursquare Places API (v3) search.
package foursquare

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/place-resolver/internal/resilience"
)

const defaultBaseURL = "https://api.foursquare.com/v3"

var searchFields = strings.Join([]string{
	"fsq_id", "name", "geocodes", "location", "rating", "stats",
	"photos", "price", "hours", "website", "tel",
}, ",")

// Client performs Foursquare Places operations.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest holds the /places/search query parameters.
type SearchRequest struct {
	Query string
	// Near is a free-text locality such as "Shibuya, Tokyo, Japan".
	Near string
	// LL is an optional "lat,lng" bias; it takes precedence over Near.
	LL    string
	Limit int
}

// SearchResponse is the response from /places/search.
type SearchResponse struct {
	Results []Place `json:"results"`
}

// Place is a Foursquare venue.
type Place struct {
	FsqID    string   `json:"fsq_id"`
	Name     string   `json:"name"`
	Geocodes Geocodes `json:"geocodes"`
	Location Location `json:"location"`
	// Rating is on Foursquare's 0-10 scale.
	Rating  float64 `json:"rating,omitempty"`
	Stats   *Stats  `json:"stats,omitempty"`
	Photos  []Photo `json:"photos,omitempty"`
	Price   int     `json:"price,omitempty"`
	Hours   *Hours  `json:"hours,omitempty"`
	Website string  `json:"website,omitempty"`
	Tel     string  `json:"tel,omitempty"`
}

// Geocodes holds the venue's points.
type Geocodes struct {
	Main Point `json:"main"`
}

// Point is a lat/lng pair.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location is the venue address.
type Location struct {
	FormattedAddress string   `json:"formatted_address"`
	Locality         string   `json:"locality,omitempty"`
	Neighborhood     []string `json:"neighborhood,omitempty"`
	Country          string   `json:"country,omitempty"`
}

// Stats holds engagement counts.
type Stats struct {
	TotalRatings int `json:"total_ratings"`
	TotalTips    int `json:"total_tips"`
}

// Photo is split into a URL prefix and suffix around a size segment.
type Photo struct {
	ID     string `json:"id"`
	Prefix string `json:"prefix"`
	Suffix string `json:"suffix"`
}

// URL returns the photo at its original size.
func (p Photo) URL() string {
	return p.Prefix + "original" + p.Suffix
}

// Hours carries the current open state.
type Hours struct {
	OpenNow *bool `json:"open_now,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL. Empty keeps the default.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the maximum requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithLimiter replaces the rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) {
		c.limiter = l
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Foursquare Places client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(20, 20),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, in SearchRequest) (*SearchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "foursquare: rate limit wait")
	}

	params := url.Values{}
	params.Set("query", in.Query)
	params.Set("fields", searchFields)
	if in.LL != "" {
		params.Set("ll", in.LL)
	} else if in.Near != "" {
		params.Set("near", in.Near)
	}
	if in.Limit > 0 {
		params.Set("limit", strconv.Itoa(in.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/places/search?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "foursquare: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "foursquare: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "foursquare: read response")
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("foursquare: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "foursquare: unmarshal response")
	}
	return &result, nil
}
