// Package mapctl is the map interaction controller. It owns the click and
// context-menu state, the add-place mode, the place markers and the route
// being planned, on top of a map widget it does not render itself.
//
// Primary mode is Idle or AddPlace. The context menu and the quick-add modal
// are overlays that can open in either mode. Network calls are made without
// holding the controller lock; results are applied only if no newer request
// of the same kind started and no logout (Reset) happened meanwhile.
package mapctl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/geolocate"
	"github.com/rubiojr/travelmate/pkg/logger"
	"github.com/rubiojr/travelmate/pkg/models"
	"github.com/rubiojr/travelmate/pkg/routing"
	"github.com/rubiojr/travelmate/pkg/task"
)

// Mode is the primary interaction mode.
type Mode string

const (
	ModeIdle     Mode = "idle"
	ModeAddPlace Mode = "add_place"
)

// Overlay is the modal layer shown above the map, if any.
type Overlay string

const (
	OverlayNone        Overlay = ""
	OverlayContextMenu Overlay = "context_menu"
	OverlayQuickAdd    Overlay = "quick_add"
)

// Cursor is the map cursor style.
type Cursor string

const (
	CursorDefault   Cursor = "default"
	CursorCrosshair Cursor = "crosshair"
)

// Level is a status message severity.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

var (
	ErrUnauthenticated    = errors.New("login required")
	ErrInvalidTransition  = errors.New("action not available in the current state")
	ErrNoStagedCoordinate = errors.New("no map position selected")
	ErrMissingEndpoints   = errors.New("start and end points are required")
	ErrMissingDependency  = errors.New("missing dependency")
)

// Widget is the map library.
type Widget interface {
	AddMarker(m Marker) error
	RemoveMarker(id string) error
	DrawPolyline(id string, path []models.Coordinate) error
	RemovePolyline(id string) error
	SetCursor(c Cursor) error
}

// UI is the part of the page around the map.
type UI interface {
	ShowContextMenu(at models.Coordinate)
	HideContextMenu()
	OpenQuickAdd(at models.Coordinate)
	CloseQuickAdd()
	ShowQuickAddError(msg string)
	ShowLoginModal()
	Notify(level Level, msg string)
}

// Session reports whether a user is logged in.
type Session interface {
	Authenticated() bool
}

// PlacesAPI is the backend places endpoints.
type PlacesAPI interface {
	Places(ctx context.Context) ([]models.Place, error)
	PublicPlaces(ctx context.Context) ([]models.Place, error)
	CreatePlace(ctx context.Context, in backend.PlaceInput, photo *backend.Photo) (models.Place, error)
	DeletePlace(ctx context.Context, id int64) error
}

// RoutesAPI persists planned routes.
type RoutesAPI interface {
	CreateRoute(ctx context.Context, in backend.RouteInput) (models.SavedRoute, error)
}

// ErrorHandler turns a failure into the single message shown to the user.
type ErrorHandler interface {
	HandleError(op string, err error) string
}

type plainErrors struct{}

func (plainErrors) HandleError(_ string, err error) string { return err.Error() }

// Deps are the controller collaborators. Errors is optional.
type Deps struct {
	Widget  Widget
	UI      UI
	Session Session
	Places  PlacesAPI
	Routes  RoutesAPI
	Router  routing.Router
	Locator geolocate.Locator
	Errors  ErrorHandler

	// Geolocation used by RouteToPlace; zero means 5s, low accuracy.
	Geolocation geolocate.Options
	// Profile is the initial transport profile; default driving.
	Profile string
}

// Controller is the map interaction state machine.
type Controller struct {
	widget  Widget
	ui      UI
	session Session
	places  PlacesAPI
	routes  RoutesAPI
	router  routing.Router
	locator geolocate.Locator
	errs    ErrorHandler
	geoOpts geolocate.Options
	log     zerolog.Logger

	userLoads   task.Latest
	publicLoads task.Latest
	routeCalcs  task.Latest

	mu      sync.Mutex
	mode    Mode
	overlay Overlay
	staged  *models.Coordinate
	start   *models.RouteEndpoint
	end     *models.RouteEndpoint
	profile string
	route   *models.RouteResult
	// epoch changes on Reset; results started under an older epoch are dropped.
	epoch         uint64
	userMarkers   map[string]Marker
	publicMarkers map[string]Marker
}

// New builds a Controller, failing if a required collaborator is missing.
func New(d Deps) (*Controller, error) {
	missing := []string{}
	if d.Widget == nil {
		missing = append(missing, "Widget")
	}
	if d.UI == nil {
		missing = append(missing, "UI")
	}
	if d.Session == nil {
		missing = append(missing, "Session")
	}
	if d.Places == nil {
		missing = append(missing, "Places")
	}
	if d.Routes == nil {
		missing = append(missing, "Routes")
	}
	if d.Router == nil {
		missing = append(missing, "Router")
	}
	if d.Locator == nil {
		missing = append(missing, "Locator")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("mapctl: %w: %v", ErrMissingDependency, missing)
	}
	if d.Errors == nil {
		d.Errors = plainErrors{}
	}
	if d.Geolocation.Timeout <= 0 {
		d.Geolocation.Timeout = geolocate.DefaultTimeout
	}
	profile := d.Profile
	if profile == "" {
		profile = routing.ProfileDriving
	}
	if !routing.ValidProfile(profile) {
		return nil, fmt.Errorf("mapctl: %w: %q", routing.ErrUnknownProfile, profile)
	}
	return &Controller{
		widget:        d.Widget,
		ui:            d.UI,
		session:       d.Session,
		places:        d.Places,
		routes:        d.Routes,
		router:        d.Router,
		locator:       d.Locator,
		errs:          d.Errors,
		geoOpts:       d.Geolocation,
		log:           logger.With("mapctl"),
		mode:          ModeIdle,
		profile:       profile,
		userMarkers:   make(map[string]Marker),
		publicMarkers: make(map[string]Marker),
	}, nil
}

// State is a point-in-time copy of the controller state.
type State struct {
	Mode          Mode                  `json:"mode"`
	Overlay       Overlay               `json:"overlay,omitempty"`
	Staged        *models.Coordinate    `json:"staged,omitempty"`
	Start         *models.RouteEndpoint `json:"start,omitempty"`
	End           *models.RouteEndpoint `json:"end,omitempty"`
	Profile       string                `json:"profile"`
	Route         *models.RouteResult   `json:"route,omitempty"`
	UserMarkers   []Marker              `json:"user_markers"`
	PublicMarkers []Marker              `json:"public_markers"`
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Mode:          c.mode,
		Overlay:       c.overlay,
		Profile:       c.profile,
		UserMarkers:   sortedMarkers(c.userMarkers),
		PublicMarkers: sortedMarkers(c.publicMarkers),
	}
	if c.staged != nil {
		v := *c.staged
		s.Staged = &v
	}
	if c.start != nil {
		v := *c.start
		s.Start = &v
	}
	if c.end != nil {
		v := *c.end
		s.End = &v
	}
	if c.route != nil {
		v := *c.route
		v.Path = append([]models.Coordinate(nil), c.route.Path...)
		s.Route = &v
	}
	return s
}

func sortedMarkers(m map[string]Marker) []Marker {
	out := make([]Marker, 0, len(m))
	for _, mk := range m {
		out = append(out, mk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset returns the controller to Idle after logout: every marker, the
// planned route and any open overlay are removed, and in-flight results are
// discarded when they arrive. Calling it again is a no-op.
func (c *Controller) Reset() {
	c.userLoads.Cancel()
	c.publicLoads.Cancel()
	c.routeCalcs.Cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++

	for id := range c.userMarkers {
		c.removeMarker(id)
	}
	c.userMarkers = make(map[string]Marker)
	for id := range c.publicMarkers {
		c.removeMarker(id)
	}
	c.publicMarkers = make(map[string]Marker)
	c.clearRouteLocked()

	if c.overlay == OverlayContextMenu {
		c.ui.HideContextMenu()
	}
	if c.overlay == OverlayQuickAdd {
		c.ui.CloseQuickAdd()
	}
	c.overlay = OverlayNone
	c.staged = nil
	if c.mode != ModeIdle {
		c.mode = ModeIdle
		c.setCursor(CursorDefault)
	}
}

// removeMarker removes a marker from the widget, logging failures so bulk
// cleanup always completes.
func (c *Controller) removeMarker(id string) {
	if err := c.widget.RemoveMarker(id); err != nil {
		c.log.Warn().Str("marker", id).Err(err).Msg("remove marker")
	}
}

func (c *Controller) setCursor(cur Cursor) {
	if err := c.widget.SetCursor(cur); err != nil {
		c.log.Warn().Str("cursor", string(cur)).Err(err).Msg("set cursor")
	}
}

// fail surfaces err through the error handler and returns it.
func (c *Controller) fail(op string, err error) error {
	c.ui.Notify(LevelError, c.errs.HandleError(op, err))
	return err
}
