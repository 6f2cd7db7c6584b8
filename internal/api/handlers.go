package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/itinerary"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resolver"
)

// MaxBatchPlaces caps the places accepted by one batch request.
const MaxBatchPlaces = 200

// ResolveOptions are the per-request resolution settings. Unset fields
// keep the server defaults.
type ResolveOptions struct {
	Providers       []string `json:"providers,omitempty"`
	MaxAlternatives *int     `json:"max_alternatives,omitempty"`
	MinConfidence   *float64 `json:"min_confidence,omitempty"`
	SkipExpensive   bool     `json:"skip_expensive,omitempty"`
	ForceRefresh    bool     `json:"force_refresh,omitempty"`
}

func (o *ResolveOptions) build() ([]resolver.ResolveOption, error) {
	if o == nil {
		return nil, nil
	}
	var opts []resolver.ResolveOption
	if len(o.Providers) > 0 {
		sources := make([]model.Source, 0, len(o.Providers))
		for _, name := range o.Providers {
			s, ok := model.ParseSource(name)
			if !ok {
				return nil, errors.New("unknown provider " + name)
			}
			sources = append(sources, s)
		}
		opts = append(opts, resolver.WithProviders(sources...))
	}
	if o.MaxAlternatives != nil {
		opts = append(opts, resolver.WithMaxAlternatives(*o.MaxAlternatives))
	}
	if o.MinConfidence != nil {
		if *o.MinConfidence < 0 || *o.MinConfidence > 1 {
			return nil, errors.New("min_confidence must be between 0 and 1")
		}
		opts = append(opts, resolver.WithMinConfidence(*o.MinConfidence))
	}
	if o.SkipExpensive {
		opts = append(opts, resolver.WithSkipExpensive(true))
	}
	if o.ForceRefresh {
		opts = append(opts, resolver.WithForceRefresh(true))
	}
	return opts, nil
}

// ResolveRequest is the body of POST /v1/places/resolve.
type ResolveRequest struct {
	Place   model.UnresolvedPlace `json:"place"`
	Options *ResolveOptions       `json:"options,omitempty"`
}

// BatchRequest is the body of POST /v1/places/resolve-batch.
type BatchRequest struct {
	Places  []model.UnresolvedPlace `json:"places"`
	Options *ResolveOptions         `json:"options,omitempty"`
}

// BatchResponse lists results in request order. Error is set when the
// batch stopped early.
type BatchResponse struct {
	Results []model.PlaceResolutionResult `json:"results"`
	Error   string                        `json:"error,omitempty"`
}

// ItineraryRequest is the body of POST /v1/itineraries/resolve.
type ItineraryRequest struct {
	Itinerary itinerary.Itinerary `json:"itinerary"`
	Options   *ResolveOptions     `json:"options,omitempty"`
}

// ItineraryResult is one activity's resolution.
type ItineraryResult struct {
	Ref    itinerary.PlaceRef          `json:"ref"`
	Result model.PlaceResolutionResult `json:"result"`
}

// ItineraryResponse carries the itinerary with resolved places applied.
type ItineraryResponse struct {
	Itinerary itinerary.Itinerary `json:"itinerary"`
	Applied   int                 `json:"applied"`
	Results   []ItineraryResult   `json:"results"`
	Error     string              `json:"error,omitempty"`
}

// ModeRequest is the body of PUT /v1/mode. An empty override returns to
// the configured mode.
type ModeRequest struct {
	Override string `json:"override"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	opts, err := req.Options.build()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.resolver.ResolvePlace(r.Context(), req.Place, opts...)
	if err != nil {
		if errors.Is(err, model.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		zap.L().Error("api: resolve failed", zap.String("place", req.Place.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResolveBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Places) > MaxBatchPlaces {
		writeError(w, http.StatusBadRequest, "too many places in one batch")
		return
	}
	opts, err := req.Options.build()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.resolver.ResolvePlaces(r.Context(), req.Places, opts...)
	resp := BatchResponse{Results: results}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResolveItinerary(w http.ResponseWriter, r *http.Request) {
	var req ItineraryRequest
	if !decode(w, r, &req) {
		return
	}
	opts, err := req.Options.build()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	it := req.Itinerary
	results, err := itinerary.ResolveItineraryPlaces(r.Context(), s.resolver, it, opts...)
	resp := ItineraryResponse{
		Applied: itinerary.Apply(&it, results),
		Results: []ItineraryResult{},
	}
	resp.Itinerary = it

	_, refs := itinerary.Queries(req.Itinerary)
	for _, ref := range refs {
		if res, ok := results[ref]; ok {
			resp.Results = append(resp.Results, ItineraryResult{Ref: ref, Result: res})
		}
	}

	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.resolver.CacheStats(r.Context())
	if err != nil {
		zap.L().Error("api: cache stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.resolver.Flush(r.Context()); err != nil {
		zap.L().Error("api: cache flush failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache flush failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (s *Server) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"mode": s.mode.String()})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.mode.ApplyOverride(req.Override); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	zap.L().Info("api: mode override applied",
		zap.String("override", strings.TrimSpace(req.Override)),
		zap.String("mode", s.mode.String()),
	)
	writeJSON(w, http.StatusOK, map[string]string{"mode": s.mode.String()})
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
