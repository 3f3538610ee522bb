package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/muesli/gominatim"
	"github.com/rs/zerolog"

	"github.com/rubiojr/travelmate/pkg/apiclient"
	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/logger"
	"github.com/rubiojr/travelmate/pkg/models"
)

// Provider geocodes free-text queries.
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]models.Location, error)
}

// LocationSearcher is the backend endpoint used by BackendProvider.
type LocationSearcher interface {
	SearchLocations(ctx context.Context, query string, limit int) (backend.SearchResults, error)
}

// BackendProvider searches through GET /locations/search.
type BackendProvider struct {
	api LocationSearcher
}

// NewBackendProvider returns a provider backed by the TravelMate API.
func NewBackendProvider(api LocationSearcher) *BackendProvider {
	return &BackendProvider{api: api}
}

// Search implements Provider.
func (p *BackendProvider) Search(ctx context.Context, query string, limit int) ([]models.Location, error) {
	res, err := p.api.SearchLocations(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Location, 0, len(res.Results))
	for _, l := range res.Results {
		l.Source = "backend"
		out = append(out, l)
	}
	return out, nil
}

// GeocodeCache persists Nominatim responses.
type GeocodeCache interface {
	CachedGeocode(ctx context.Context, query string) (string, bool)
	StoreGeocode(ctx context.Context, query, payload string) error
}

// DefaultNominatimServer is the public OSM instance.
const DefaultNominatimServer = "https://nominatim.openstreetmap.org"

// nominatimMinInterval spaces upstream calls per the OSM usage policy.
const nominatimMinInterval = 400 * time.Millisecond

const defaultNominatimTimeout = 15 * time.Second

// gominatim keeps its server in package state.
var gominatimMu sync.Mutex

type lookupFunc func(server, query string, limit int) ([]gominatim.SearchResult, error)

func gominatimLookup(server, query string, limit int) ([]gominatim.SearchResult, error) {
	gominatimMu.Lock()
	defer gominatimMu.Unlock()
	gominatim.SetServer(server)
	q := gominatim.SearchQuery{Q: query, Limit: limit}
	return q.Get()
}

// NominatimProvider queries a Nominatim server directly, throttled and
// backed by a persistent cache. Only successful responses are cached.
type NominatimProvider struct {
	server  string
	cache   GeocodeCache
	retries int
	lookup  lookupFunc
	log     zerolog.Logger

	timeout time.Duration
	limiter *apiclient.RateLimiter

	throttleMu sync.Mutex
	last       time.Time
	interval   time.Duration
}

// NominatimOption configures a NominatimProvider.
type NominatimOption func(*NominatimProvider)

// WithRequestTimeout bounds each upstream lookup.
func WithRequestTimeout(d time.Duration) NominatimOption {
	return func(p *NominatimProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRateLimiter counts upstream lookups against the search category of l,
// the same budget backend searches draw from.
func WithRateLimiter(l *apiclient.RateLimiter) NominatimOption {
	return func(p *NominatimProvider) { p.limiter = l }
}

// NewNominatimProvider returns a provider for server. cache may be nil.
func NewNominatimProvider(server string, cache GeocodeCache, opts ...NominatimOption) *NominatimProvider {
	if strings.TrimSpace(server) == "" {
		server = DefaultNominatimServer
	}
	p := &NominatimProvider{
		server:   strings.TrimRight(server, "/"),
		cache:    cache,
		retries:  1,
		lookup:   gominatimLookup,
		log:      logger.With("nominatim"),
		timeout:  defaultNominatimTimeout,
		interval: nominatimMinInterval,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type cachedHit struct {
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Class       string  `json:"class"`
	Type        string  `json:"type"`
}

func cacheQueryKey(query string, limit int) string {
	return strings.ToLower(strings.TrimSpace(query)) + "|" + strconv.Itoa(limit)
}

// Search implements Provider.
func (p *NominatimProvider) Search(ctx context.Context, query string, limit int) ([]models.Location, error) {
	if limit <= 0 {
		limit = 5
	}
	key := cacheQueryKey(query, limit)
	if p.cache != nil {
		if raw, ok := p.cache.CachedGeocode(ctx, key); ok {
			var hits []cachedHit
			if err := json.Unmarshal([]byte(raw), &hits); err == nil {
				p.log.Debug().Str("query", query).Msg("geocode cache hit")
				return toLocations(hits, limit), nil
			}
			p.log.Error().Str("query", query).Msg("geocode cache entry corrupt, refetching")
		}
	}

	if p.limiter != nil && !p.limiter.Allow(apiclient.CategorySearch) {
		p.log.Warn().Str("query", query).Msg("rate limit exceeded")
		return nil, fmt.Errorf("nominatim search %q: %w", query, apiclient.ErrRateLimitExceeded)
	}
	if err := p.throttle(ctx); err != nil {
		return nil, err
	}
	hits, err := p.fetch(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		if b, err := json.Marshal(hits); err == nil {
			if err := p.cache.StoreGeocode(ctx, key, string(b)); err != nil {
				p.log.Warn().Err(err).Msg("geocode cache store failed")
			}
		}
	}
	return toLocations(hits, limit), nil
}

// throttle waits until nominatimMinInterval has passed since the previous
// upstream call.
func (p *NominatimProvider) throttle(ctx context.Context) error {
	p.throttleMu.Lock()
	defer p.throttleMu.Unlock()
	if wait := p.interval - time.Since(p.last); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	p.last = time.Now()
	return nil
}

type lookupResult struct {
	res []gominatim.SearchResult
	err error
}

// fetch runs the lookup, retrying truncated responses. gominatim has no
// context support, so an abandoned lookup finishes in the background.
func (p *NominatimProvider) fetch(ctx context.Context, query string, limit int) ([]cachedHit, error) {
	attempts := p.retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		r, err := p.lookupOnce(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		if r.err == nil {
			return toHits(r.res, limit, p.log), nil
		}
		lastErr = r.err
		msg := r.err.Error()
		if !strings.Contains(msg, "unexpected end of JSON") && !strings.Contains(msg, "EOF") {
			break
		}
		p.log.Warn().Int("attempt", attempt).Str("query", query).Err(r.err).Msg("transient nominatim error")
	}
	return nil, fmt.Errorf("nominatim search %q: %w", query, lastErr)
}

// lookupOnce runs a single lookup bounded by the request timeout. The
// returned error is set only when the lookup was abandoned.
func (p *NominatimProvider) lookupOnce(ctx context.Context, query string, limit int) (lookupResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ch := make(chan lookupResult, 1)
	go func() {
		res, err := p.lookup(p.server, query, limit)
		ch <- lookupResult{res, err}
	}()
	select {
	case r := <-ch:
		return r, nil
	case <-reqCtx.Done():
		if ctx.Err() != nil {
			return lookupResult{}, ctx.Err()
		}
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return lookupResult{}, fmt.Errorf("nominatim search %q after %s: %w", query, p.timeout, apiclient.ErrRequestTimeout)
		}
		return lookupResult{}, reqCtx.Err()
	}
}

// toHits converts lookup results, skipping hits without usable coordinates.
func toHits(res []gominatim.SearchResult, limit int, log zerolog.Logger) []cachedHit {
	hits := make([]cachedHit, 0, len(res))
	for _, r := range res {
		lat, err := strconv.ParseFloat(strings.TrimSpace(r.Lat), 64)
		if err != nil {
			log.Debug().Str("place", r.DisplayName).Str("lat", r.Lat).Msg("skipping hit with bad latitude")
			continue
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(r.Lon), 64)
		if err != nil {
			log.Debug().Str("place", r.DisplayName).Str("lon", r.Lon).Msg("skipping hit with bad longitude")
			continue
		}
		if err := (models.Coordinate{Latitude: lat, Longitude: lon}).Validate(); err != nil {
			log.Debug().Str("place", r.DisplayName).Err(err).Msg("skipping hit")
			continue
		}
		hits = append(hits, cachedHit{DisplayName: r.DisplayName, Lat: lat, Lon: lon, Class: r.Class, Type: r.Type})
		if len(hits) >= limit {
			break
		}
	}
	return hits
}

func toLocations(hits []cachedHit, limit int) []models.Location {
	out := make([]models.Location, 0, len(hits))
	for _, h := range hits {
		if h.DisplayName == "" {
			continue
		}
		if (models.Coordinate{Latitude: h.Lat, Longitude: h.Lon}).Validate() != nil {
			continue
		}
		name := h.DisplayName
		if i := strings.Index(name, ","); i > 0 {
			name = name[:i]
		}
		out = append(out, models.Location{
			Name:        name,
			DisplayName: h.DisplayName,
			Latitude:    h.Lat,
			Longitude:   h.Lon,
			PlaceType:   h.Type,
			Source:      "nominatim",
		})
		if len(out) >= limit {
			break
		}
	}
	return out
}
