package mapctl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/geolocate"
	"github.com/rubiojr/travelmate/pkg/models"
)

type fakeWidget struct {
	mu        sync.Mutex
	markers   map[string]Marker
	polylines map[string][]models.Coordinate
	cursor    Cursor
	errors    []error
}

func newFakeWidget() *fakeWidget {
	return &fakeWidget{markers: map[string]Marker{}, polylines: map[string][]models.Coordinate{}, cursor: CursorDefault}
}

func (w *fakeWidget) AddMarker(m Marker) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.markers[m.ID]; ok {
		err := fmt.Errorf("marker %s already on map", m.ID)
		w.errors = append(w.errors, err)
		return err
	}
	w.markers[m.ID] = m
	return nil
}

func (w *fakeWidget) RemoveMarker(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.markers[id]; !ok {
		err := fmt.Errorf("marker %s not on map", id)
		w.errors = append(w.errors, err)
		return err
	}
	delete(w.markers, id)
	return nil
}

func (w *fakeWidget) DrawPolyline(id string, path []models.Coordinate) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.polylines[id] = path
	return nil
}

func (w *fakeWidget) RemovePolyline(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.polylines[id]; !ok {
		err := fmt.Errorf("polyline %s not on map", id)
		w.errors = append(w.errors, err)
		return err
	}
	delete(w.polylines, id)
	return nil
}

func (w *fakeWidget) SetCursor(c Cursor) error {
	w.mu.Lock()
	w.cursor = c
	w.mu.Unlock()
	return nil
}

func (w *fakeWidget) markersAt(c models.Coordinate) []Marker {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Marker
	for _, m := range w.markers {
		if m.Coordinate == c {
			out = append(out, m)
		}
	}
	return out
}

func (w *fakeWidget) markerForPlace(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.markers {
		if m.PlaceID == id {
			return true
		}
	}
	return false
}

func (w *fakeWidget) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.markers)
}

type note struct {
	level Level
	msg   string
}

type fakeUI struct {
	mu            sync.Mutex
	menuAt        *models.Coordinate
	quickAddAt    *models.Coordinate
	quickAddError string
	loginShown    int
	notes         []note
}

func (u *fakeUI) ShowContextMenu(at models.Coordinate) { u.mu.Lock(); u.menuAt = &at; u.mu.Unlock() }
func (u *fakeUI) HideContextMenu()                     { u.mu.Lock(); u.menuAt = nil; u.mu.Unlock() }
func (u *fakeUI) OpenQuickAdd(at models.Coordinate) {
	u.mu.Lock()
	u.quickAddAt = &at
	u.quickAddError = ""
	u.mu.Unlock()
}
func (u *fakeUI) CloseQuickAdd()                 { u.mu.Lock(); u.quickAddAt = nil; u.mu.Unlock() }
func (u *fakeUI) ShowQuickAddError(msg string)   { u.mu.Lock(); u.quickAddError = msg; u.mu.Unlock() }
func (u *fakeUI) ShowLoginModal()                { u.mu.Lock(); u.loginShown++; u.mu.Unlock() }
func (u *fakeUI) Notify(level Level, msg string) { u.mu.Lock(); u.notes = append(u.notes, note{level, msg}); u.mu.Unlock() }

func (u *fakeUI) last() note {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.notes) == 0 {
		return note{}
	}
	return u.notes[len(u.notes)-1]
}

type fakeSession struct{ authed atomic.Bool }

func (s *fakeSession) Authenticated() bool { return s.authed.Load() }

type fakePlaces struct {
	mu        sync.Mutex
	calls     int
	places    []models.Place
	public    []models.Place
	err       error
	created   []backend.PlaceInput
	createErr error
	gate      chan struct{}
}

func (f *fakePlaces) wait(ctx context.Context) {
	if f.gate != nil {
		<-f.gate
	}
}

func (f *fakePlaces) Places(ctx context.Context) ([]models.Place, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.wait(ctx)
	return f.places, f.err
}

func (f *fakePlaces) PublicPlaces(ctx context.Context) ([]models.Place, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.public, nil
}

func (f *fakePlaces) CreatePlace(ctx context.Context, in backend.PlaceInput, _ *backend.Photo) (models.Place, error) {
	f.mu.Lock()
	f.calls++
	f.created = append(f.created, in)
	f.mu.Unlock()
	f.wait(ctx)
	if f.createErr != nil {
		return models.Place{}, f.createErr
	}
	return models.Place{ID: int64(100 + len(f.created)), Name: in.Name, Category: in.Category, Latitude: in.Latitude, Longitude: in.Longitude}, nil
}

func (f *fakePlaces) DeletePlace(ctx context.Context, id int64) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil
}

func (f *fakePlaces) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRoutes struct {
	saved []backend.RouteInput
}

func (f *fakeRoutes) CreateRoute(_ context.Context, in backend.RouteInput) (models.SavedRoute, error) {
	f.saved = append(f.saved, in)
	return models.SavedRoute{ID: 1, Name: in.Name, StartName: in.StartPoint.Name, EndName: in.EndPoint.Name}, nil
}

type fakeRouter struct {
	mu       sync.Mutex
	calls    int
	profiles []string
	res      models.RouteResult
	err      error
}

func (r *fakeRouter) Route(_ context.Context, start, end models.Coordinate, profile string) (models.RouteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.profiles = append(r.profiles, profile)
	if r.err != nil {
		return models.RouteResult{}, r.err
	}
	res := r.res
	res.Profile = profile
	if res.Path == nil {
		res.Path = []models.Coordinate{start, end}
	}
	return res, nil
}

func (r *fakeRouter) set(res models.RouteResult, err error) {
	r.mu.Lock()
	r.res, r.err = res, err
	r.mu.Unlock()
}

type fakeLocator struct {
	fix  geolocate.Fix
	err  error
	opts geolocate.Options
}

func (l *fakeLocator) Locate(_ context.Context, opts geolocate.Options) (geolocate.Fix, error) {
	l.opts = opts
	return l.fix, l.err
}

type harness struct {
	ctl     *Controller
	widget  *fakeWidget
	ui      *fakeUI
	session *fakeSession
	places  *fakePlaces
	routes  *fakeRoutes
	router  *fakeRouter
	locator *fakeLocator
}

func newHarness(authed bool, places PlacesAPI) *harness {
	h := &harness{
		widget:  newFakeWidget(),
		ui:      &fakeUI{},
		session: &fakeSession{},
		places:  &fakePlaces{},
		routes:  &fakeRoutes{},
		router:  &fakeRouter{res: models.RouteResult{DistanceKm: 1.2, DurationMinutes: 4}},
		locator: &fakeLocator{},
	}
	h.session.authed.Store(authed)
	if places == nil {
		places = h.places
	}
	ctl, err := New(Deps{
		Widget: h.widget, UI: h.ui, Session: h.session, Places: places,
		Routes: h.routes, Router: h.router, Locator: h.locator,
	})
	if err != nil {
		panic(err)
	}
	h.ctl = ctl
	return h
}
