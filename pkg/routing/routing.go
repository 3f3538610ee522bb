// Package routing calculates line routes between two endpoints, either
// directly against an OSRM-compatible service or through the backend's
// /routes/real-route proxy.
package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rubiojr/travelmate/pkg/apiclient"
	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/models"
)

// Transport profiles understood by the routing service.
const (
	ProfileDriving = "driving"
	ProfileCycling = "cycling"
	ProfileWalking = "walking"
)

// Profiles lists the selectable transport profiles.
var Profiles = []string{ProfileDriving, ProfileCycling, ProfileWalking}

var (
	// ErrNoRoute is returned when the service finds no route between the points.
	ErrNoRoute = errors.New("no route found")
	// ErrUnknownProfile is returned for a profile outside Profiles.
	ErrUnknownProfile = errors.New("unknown transport profile")
)

// ValidProfile reports whether p is a known transport profile.
func ValidProfile(p string) bool {
	for _, known := range Profiles {
		if p == known {
			return true
		}
	}
	return false
}

// Router calculates a route between two coordinates.
type Router interface {
	Route(ctx context.Context, start, end models.Coordinate, profile string) (models.RouteResult, error)
}

// Getter performs a GET and decodes the JSON body into out.
type Getter interface {
	Get(ctx context.Context, path string, params url.Values, out interface{}) error
}

// OSRM talks to an OSRM /route/v1 endpoint.
type OSRM struct {
	api  Getter
	base string
}

// NewOSRM returns a router for the OSRM server at baseURL. Requests go
// through api so they share its rate limit, cache and timeout.
func NewOSRM(api Getter, baseURL string) *OSRM {
	return &OSRM{api: api, base: strings.TrimRight(baseURL, "/")}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64           `json:"distance"`
		Duration float64           `json:"duration"`
		Geometry models.LineString `json:"geometry"`
	} `json:"routes"`
}

// Route implements Router.
func (o *OSRM) Route(ctx context.Context, start, end models.Coordinate, profile string) (models.RouteResult, error) {
	if err := checkRequest(start, end, profile); err != nil {
		return models.RouteResult{}, err
	}
	// OSRM takes lon,lat pairs.
	coords := lonLat(start) + ";" + lonLat(end)
	u := fmt.Sprintf("%s/route/v1/%s/%s", o.base, profile, coords)
	params := url.Values{"overview": {"full"}, "geometries": {"geojson"}}

	var resp osrmResponse
	if err := o.api.Get(ctx, u, params, &resp); err != nil {
		return models.RouteResult{}, noRoute(err)
	}
	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		if resp.Message != "" {
			return models.RouteResult{}, fmt.Errorf("%w: %s", ErrNoRoute, resp.Message)
		}
		return models.RouteResult{}, ErrNoRoute
	}
	best := resp.Routes[0]
	path, err := best.Geometry.Path()
	if err != nil {
		return models.RouteResult{}, fmt.Errorf("osrm geometry: %w", err)
	}
	if len(path) == 0 {
		return models.RouteResult{}, ErrNoRoute
	}
	return models.RouteResult{
		Profile:         profile,
		DistanceKm:      best.Distance / 1000,
		DurationMinutes: best.Duration / 60,
		Path:            path,
	}, nil
}

// osrmNoRouteCodes are the OSRM error codes meaning the points cannot be
// connected. OSRM answers them with HTTP 400.
var osrmNoRouteCodes = map[string]bool{"NoRoute": true, "NoSegment": true}

// backendNoRoute is the backend's detail when it finds no route. It may
// arrive wrapped in a 500.
const backendNoRoute = "no route found"

// noRoute converts "no route" HTTP failures to ErrNoRoute; other errors are
// returned unchanged.
func noRoute(err error) error {
	var he *apiclient.HTTPError
	if !errors.As(err, &he) {
		return err
	}
	if (he.Status == http.StatusBadRequest && osrmNoRouteCodes[he.Code]) ||
		strings.Contains(strings.ToLower(he.Detail), backendNoRoute) {
		if he.Detail != "" {
			return fmt.Errorf("%w: %s", ErrNoRoute, he.Detail)
		}
		return ErrNoRoute
	}
	return err
}

func lonLat(c models.Coordinate) string {
	return strconv.FormatFloat(c.Longitude, 'f', -1, 64) + "," + strconv.FormatFloat(c.Latitude, 'f', -1, 64)
}

func checkRequest(start, end models.Coordinate, profile string) error {
	if !ValidProfile(profile) {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	if err := start.Validate(); err != nil {
		return err
	}
	return end.Validate()
}

// RealRouter is the subset of backend.Client used by Backend.
type RealRouter interface {
	RealRoute(ctx context.Context, start, end models.Coordinate, profile string) (backend.ProcessedRoute, error)
}

// Backend routes through the backend's OSRM proxy.
type Backend struct {
	api RealRouter
}

// NewBackend returns a router using the backend proxy.
func NewBackend(api RealRouter) *Backend {
	return &Backend{api: api}
}

// Route implements Router.
func (b *Backend) Route(ctx context.Context, start, end models.Coordinate, profile string) (models.RouteResult, error) {
	if err := checkRequest(start, end, profile); err != nil {
		return models.RouteResult{}, err
	}
	pr, err := b.api.RealRoute(ctx, start, end, profile)
	if err != nil {
		return models.RouteResult{}, noRoute(err)
	}
	if pr.Geometry == nil || len(pr.Geometry.Coordinates) == 0 {
		return models.RouteResult{}, ErrNoRoute
	}
	path, err := pr.Geometry.Path()
	if err != nil {
		return models.RouteResult{}, fmt.Errorf("route geometry: %w", err)
	}
	if pr.Profile != "" {
		profile = pr.Profile
	}
	return models.RouteResult{
		Profile:         profile,
		DistanceKm:      pr.DistanceKm,
		DurationMinutes: pr.DurationMinutes,
		Path:            path,
	}, nil
}
