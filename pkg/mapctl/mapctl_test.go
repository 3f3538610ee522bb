package mapctl

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rubiojr/travelmate/pkg/apiclient"
	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/geolocate"
	"github.com/rubiojr/travelmate/pkg/models"
	"github.com/rubiojr/travelmate/pkg/routing"
	"github.com/rubiojr/travelmate/pkg/task"
)

var (
	belgrade = models.Coordinate{Latitude: 44.8176, Longitude: 20.4633}
	novisad  = models.Coordinate{Latitude: 45.2671, Longitude: 19.8335}
)

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{Widget: newFakeWidget(), UI: &fakeUI{}})
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
	for _, name := range []string{"Session", "Places", "Routes", "Router", "Locator"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}

	h := newHarness(false, nil)
	_, err = New(Deps{
		Widget: h.widget, UI: h.ui, Session: h.session, Places: h.places,
		Routes: h.routes, Router: h.router, Locator: h.locator, Profile: "teleport",
	})
	if !errors.Is(err, routing.ErrUnknownProfile) {
		t.Fatalf("expected ErrUnknownProfile, got %v", err)
	}
}

func TestAddPlaceScenario(t *testing.T) {
	var got backend.PlaceInput
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/profile/places" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":7,"name":"Fortress","category":"attraction","latitude":44.8176,"longitude":20.4633,"is_public":false}`)
	}))
	defer srv.Close()

	api, err := apiclient.New(apiclient.Options{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Tokens:  apiclient.TokenFunc(func() string { return "tok" }),
	})
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(true, backend.New(api))
	ctx := context.Background()

	if mode, err := h.ctl.ToggleAddPlaceMode(); err != nil || mode != ModeAddPlace {
		t.Fatalf("toggle: mode=%s err=%v", mode, err)
	}
	if h.widget.cursor != CursorCrosshair {
		t.Fatalf("cursor = %s, want crosshair", h.widget.cursor)
	}
	if err := h.ctl.Click(belgrade); err != nil {
		t.Fatal(err)
	}
	if s := h.ctl.Snapshot(); s.Overlay != OverlayQuickAdd || s.Staged == nil || *s.Staged != belgrade {
		t.Fatalf("quick-add not open at click: %+v", s)
	}

	place, err := h.ctl.SubmitQuickPlace(ctx, QuickPlace{Name: "Fortress", Category: "attraction"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if place.ID != 7 {
		t.Errorf("place id = %d", place.ID)
	}
	if got.Name != "Fortress" || got.Category != models.CategoryAttraction ||
		got.Latitude != belgrade.Latitude || got.Longitude != belgrade.Longitude {
		t.Errorf("unexpected payload %+v", got)
	}
	if auth != "Bearer tok" {
		t.Errorf("authorization = %q", auth)
	}

	markers := h.widget.markersAt(belgrade)
	if len(markers) != 1 {
		t.Fatalf("expected one marker at the click, got %d", len(markers))
	}
	if markers[0].Icon != IconFor(models.CategoryAttraction) {
		t.Errorf("icon = %s", markers[0].Icon)
	}
	s := h.ctl.Snapshot()
	if s.Mode != ModeIdle || s.Overlay != OverlayNone || s.Staged != nil {
		t.Errorf("controller not back to idle: %+v", s)
	}
	if h.ui.quickAddAt != nil {
		t.Error("quick-add modal still open")
	}
	if h.widget.cursor != CursorDefault {
		t.Errorf("cursor = %s", h.widget.cursor)
	}
	if n := h.ui.last(); n.level != LevelSuccess {
		t.Errorf("last notification %+v", n)
	}
}

func TestQuickAddFailureKeepsModal(t *testing.T) {
	h := newHarness(true, nil)
	h.places.createErr = &apiclient.HTTPError{Method: "POST", URL: "/profile/places", Status: 500}
	h.ctl.ToggleAddPlaceMode()
	h.ctl.Click(belgrade)

	_, err := h.ctl.SubmitQuickPlace(context.Background(), QuickPlace{Name: "Fortress"})
	if apiclient.StatusOf(err) != 500 {
		t.Fatalf("expected 500, got %v", err)
	}
	if h.ui.quickAddAt == nil || h.ui.quickAddError == "" {
		t.Fatal("modal should stay open with an inline error")
	}
	if s := h.ctl.Snapshot(); s.Overlay != OverlayQuickAdd || s.Mode != ModeAddPlace {
		t.Errorf("state changed on failure: %+v", s)
	}
	if h.widget.count() != 0 {
		t.Error("marker added for a failed create")
	}
}

func TestQuickAddValidation(t *testing.T) {
	h := newHarness(true, nil)
	h.ctl.ToggleAddPlaceMode()
	h.ctl.Click(belgrade)

	_, err := h.ctl.SubmitQuickPlace(context.Background(), QuickPlace{Name: "", Website: "not a url"})
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if len(h.places.created) != 0 {
		t.Error("invalid form reached the backend")
	}
	if h.ui.quickAddError == "" {
		t.Error("validation error not shown")
	}
}

func TestCancelQuickAdd(t *testing.T) {
	h := newHarness(true, nil)
	h.ctl.ToggleAddPlaceMode()
	h.ctl.Click(belgrade)
	h.ctl.CancelQuickAdd()

	s := h.ctl.Snapshot()
	if s.Mode != ModeIdle || s.Overlay != OverlayNone || s.Staged != nil {
		t.Errorf("cancel left %+v", s)
	}
	if _, err := h.ctl.SubmitQuickPlace(context.Background(), QuickPlace{Name: "x"}); !errors.Is(err, ErrNoStagedCoordinate) {
		t.Errorf("submit after cancel: %v", err)
	}
}

func TestGuestClickShowsLogin(t *testing.T) {
	h := newHarness(false, nil)

	if err := h.ctl.Click(belgrade); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if h.ui.loginShown != 1 {
		t.Errorf("login modal shown %d times", h.ui.loginShown)
	}
	if h.places.callCount() != 0 {
		t.Error("guest click made a network call")
	}
	if s := h.ctl.Snapshot(); s.Mode != ModeIdle || s.Overlay != OverlayNone {
		t.Errorf("guest click changed state: %+v", s)
	}

	mode, err := h.ctl.ToggleAddPlaceMode()
	if !errors.Is(err, ErrUnauthenticated) || mode != ModeIdle {
		t.Errorf("guest toggle: mode=%s err=%v", mode, err)
	}
	if n := h.ui.last(); n.level != LevelWarning {
		t.Errorf("guest toggle notification %+v", n)
	}

	h.ctl.RightClick(belgrade, false)
	if err := h.ctl.SelectAddPlace(); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("guest add place: %v", err)
	}
	if h.ui.loginShown != 2 || h.ui.menuAt != nil {
		t.Errorf("login=%d menu=%v", h.ui.loginShown, h.ui.menuAt)
	}
}

func TestContextMenu(t *testing.T) {
	h := newHarness(true, nil)
	ctx := context.Background()

	if err := h.ctl.RightClick(belgrade, true); err != nil || h.ui.menuAt != nil {
		t.Fatalf("right click on a marker opened the menu: %v", err)
	}
	if err := h.ctl.SelectSetStart(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("select without menu: %v", err)
	}

	h.ctl.RightClick(belgrade, false)
	if h.ui.menuAt == nil || *h.ui.menuAt != belgrade {
		t.Fatal("menu not shown")
	}
	h.ctl.DismissContextMenu()
	if s := h.ctl.Snapshot(); s.Overlay != OverlayNone || s.Staged != nil {
		t.Fatalf("dismiss left %+v", s)
	}

	h.ctl.RightClick(belgrade, false)
	if err := h.ctl.SelectSetStart(ctx); err != nil {
		t.Fatal(err)
	}
	h.ctl.RightClick(novisad, false)
	if err := h.ctl.SelectSetEnd(ctx); err != nil {
		t.Fatal(err)
	}

	s := h.ctl.Snapshot()
	if s.Start == nil || s.Start.Label != DefaultStartLabel || s.End == nil || s.End.Coordinate != novisad {
		t.Fatalf("endpoints %+v %+v", s.Start, s.End)
	}
	if s.Route == nil || h.router.calls != 1 {
		t.Fatalf("route not calculated once both endpoints were set (calls=%d)", h.router.calls)
	}
	if _, ok := h.widget.polylines[routeLineID]; !ok {
		t.Error("route line not drawn")
	}

	h.ctl.RightClick(belgrade, false)
	if err := h.ctl.SelectAddPlace(); err != nil {
		t.Fatal(err)
	}
	if err := h.ctl.RightClick(novisad, false); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("right click during quick-add: %v", err)
	}
}

func TestRouteFailureKeepsEndpoints(t *testing.T) {
	h := newHarness(false, nil)
	ctx := context.Background()

	h.ctl.SetStart(ctx, models.RouteEndpoint{Coordinate: belgrade})
	h.ctl.SetEnd(ctx, models.RouteEndpoint{Coordinate: novisad})
	if _, ok := h.widget.polylines[routeLineID]; !ok {
		t.Fatal("first route not drawn")
	}

	h.router.set(models.RouteResult{}, routing.ErrNoRoute)
	_, err := h.ctl.CalculateRoute(ctx)
	if !errors.Is(err, routing.ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
	if _, ok := h.widget.polylines[routeLineID]; ok {
		t.Error("previous route line still drawn")
	}
	s := h.ctl.Snapshot()
	if s.Route != nil || s.Start == nil || s.End == nil {
		t.Errorf("after failure: %+v", s)
	}
	if n := h.ui.last(); n.level != LevelError || n.msg != MsgNoRoute {
		t.Errorf("notification %+v", n)
	}

	h.router.set(models.RouteResult{DistanceKm: 80, DurationMinutes: 70}, nil)
	if err := h.ctl.SetProfile(ctx, routing.ProfileCycling); err != nil {
		t.Fatalf("retry with another profile: %v", err)
	}
	if r := h.ctl.Snapshot().Route; r == nil || r.Profile != routing.ProfileCycling {
		t.Errorf("retry route %+v", r)
	}
	if len(h.widget.errors) != 0 {
		t.Errorf("widget errors: %v", h.widget.errors)
	}
}

func TestCalculateRouteNeedsEndpoints(t *testing.T) {
	h := newHarness(false, nil)
	h.ctl.SetStart(context.Background(), models.RouteEndpoint{Coordinate: belgrade})
	if _, err := h.ctl.CalculateRoute(context.Background()); !errors.Is(err, ErrMissingEndpoints) {
		t.Fatalf("expected ErrMissingEndpoints, got %v", err)
	}
	if h.router.calls != 0 {
		t.Error("router called without an end point")
	}
}

func TestRouteToPlace(t *testing.T) {
	t.Run("geolocation denied", func(t *testing.T) {
		h := newHarness(false, nil)
		h.locator.err = &geolocate.GeolocationError{Reason: geolocate.ReasonDenied}

		err := h.ctl.RouteToPlace(context.Background(), novisad, "Petrovaradin")
		if geolocate.ReasonOf(err) != geolocate.ReasonDenied {
			t.Fatalf("expected denied, got %v", err)
		}
		s := h.ctl.Snapshot()
		if s.End == nil || s.End.Label != "Petrovaradin" || s.Start != nil {
			t.Errorf("endpoints after failure: start=%v end=%v", s.Start, s.End)
		}
		if h.router.calls != 0 {
			t.Error("route calculated without a start")
		}
		if n := h.ui.last(); n.level != LevelWarning || !strings.Contains(n.msg, "denied") {
			t.Errorf("notification %+v", n)
		}
	})

	t.Run("located", func(t *testing.T) {
		h := newHarness(false, nil)
		h.locator.fix = geolocate.Fix{Coordinate: belgrade}

		if err := h.ctl.RouteToPlace(context.Background(), novisad, "Petrovaradin"); err != nil {
			t.Fatal(err)
		}
		s := h.ctl.Snapshot()
		if s.Start == nil || s.Start.Label != CurrentLocationLabel || s.Start.Coordinate != belgrade {
			t.Errorf("start %+v", s.Start)
		}
		if s.Route == nil {
			t.Error("route not calculated")
		}
		if h.locator.opts.Timeout != geolocate.DefaultTimeout {
			t.Errorf("locate timeout %s", h.locator.opts.Timeout)
		}
	})
}

func TestLoadUserPlacesRemovesStaleMarkers(t *testing.T) {
	h := newHarness(true, nil)
	ctx := context.Background()

	if _, err := h.ctl.AddPlaceMarker(models.Place{ID: 1, Name: "Old", Latitude: 44.8, Longitude: 20.4}); err != nil {
		t.Fatal(err)
	}
	h.places.public = []models.Place{{ID: 9, Name: "Shared", Latitude: 45, Longitude: 19}}
	if err := h.ctl.LoadPublicPlaces(ctx); err != nil {
		t.Fatal(err)
	}

	h.places.places = []models.Place{{ID: 2, Name: "New", Latitude: 44.9, Longitude: 20.5}}
	if err := h.ctl.LoadUserPlaces(ctx); err != nil {
		t.Fatal(err)
	}
	if h.widget.markerForPlace(1) {
		t.Error("marker for a place no longer in the list survived")
	}
	if !h.widget.markerForPlace(2) || !h.widget.markerForPlace(9) {
		t.Error("expected user place 2 and public place 9 on the map")
	}
	s := h.ctl.Snapshot()
	if len(s.UserMarkers) != 1 || len(s.PublicMarkers) != 1 {
		t.Errorf("layers: user=%d public=%d", len(s.UserMarkers), len(s.PublicMarkers))
	}
	if !strings.HasPrefix(s.PublicMarkers[0].Icon, "public-") {
		t.Errorf("public icon %s", s.PublicMarkers[0].Icon)
	}
}

func TestAddPlaceMarkerIsIdempotent(t *testing.T) {
	h := newHarness(true, nil)
	p := models.Place{ID: 3, Name: "Cafe", Category: models.CategoryRestaurant, Latitude: 44.81, Longitude: 20.46}

	first, err := h.ctl.AddPlaceMarker(p)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.ctl.AddPlaceMarker(p)
	if err != nil || second != first {
		t.Fatalf("second add: %v %+v", err, second)
	}
	p.Name = "Cafe Renamed"
	third, err := h.ctl.AddPlaceMarker(p)
	if err != nil || third.Title != "Cafe Renamed" {
		t.Fatalf("update: %v %+v", err, third)
	}
	if h.widget.count() != 1 {
		t.Errorf("markers on map = %d", h.widget.count())
	}
	if _, err := h.ctl.AddPlaceMarker(models.Place{ID: 4, Latitude: 95}); !errors.Is(err, models.ErrInvalidCoordinate) {
		t.Errorf("invalid coordinate: %v", err)
	}
}

func TestDeletePlaceRemovesMarker(t *testing.T) {
	h := newHarness(true, nil)
	h.ctl.AddPlaceMarker(models.Place{ID: 5, Name: "Gone", Latitude: 44, Longitude: 20})
	if err := h.ctl.DeletePlace(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if h.widget.markerForPlace(5) {
		t.Error("marker survived delete")
	}
}

func TestResultAfterResetIsDiscarded(t *testing.T) {
	h := newHarness(true, nil)
	h.places.places = []models.Place{{ID: 1, Name: "Late", Latitude: 44, Longitude: 20}}
	h.places.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.ctl.LoadUserPlaces(context.Background()) }()
	for h.places.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	h.ctl.Reset()
	close(h.places.gate)

	if err := <-done; !task.IsSuperseded(err) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if h.widget.count() != 0 {
		t.Errorf("late response added %d markers", h.widget.count())
	}
}

func TestResetIsIdempotent(t *testing.T) {
	h := newHarness(true, nil)
	ctx := context.Background()
	h.ctl.AddPlaceMarker(models.Place{ID: 1, Name: "A", Latitude: 44, Longitude: 20})
	h.ctl.SetStart(ctx, models.RouteEndpoint{Coordinate: belgrade})
	h.ctl.SetEnd(ctx, models.RouteEndpoint{Coordinate: novisad})
	h.ctl.ToggleAddPlaceMode()
	h.ctl.Click(belgrade)

	h.ctl.Reset()
	h.ctl.Reset()

	if len(h.widget.errors) != 0 {
		t.Errorf("widget errors: %v", h.widget.errors)
	}
	if h.widget.count() != 0 || len(h.widget.polylines) != 0 {
		t.Errorf("map not empty: markers=%d lines=%d", h.widget.count(), len(h.widget.polylines))
	}
	s := h.ctl.Snapshot()
	if s.Mode != ModeIdle || s.Overlay != OverlayNone || s.Start != nil || s.End != nil || s.Route != nil {
		t.Errorf("state after reset: %+v", s)
	}
	if h.ui.quickAddAt != nil || h.widget.cursor != CursorDefault {
		t.Error("overlay or cursor not restored")
	}
}

func TestSaveRoute(t *testing.T) {
	h := newHarness(true, nil)
	ctx := context.Background()

	if _, err := h.ctl.SaveRoute(ctx, "Trip", ""); !errors.Is(err, ErrMissingEndpoints) {
		t.Fatalf("save without endpoints: %v", err)
	}
	h.ctl.SetStart(ctx, models.RouteEndpoint{Coordinate: belgrade, Label: "Belgrade"})
	h.ctl.SetEnd(ctx, models.RouteEndpoint{Coordinate: novisad, Label: "Novi Sad"})

	if _, err := h.ctl.SaveRoute(ctx, "", ""); err == nil {
		t.Fatal("empty name accepted")
	}
	saved, err := h.ctl.SaveRoute(ctx, "Trip", "weekend")
	if err != nil {
		t.Fatal(err)
	}
	if saved.StartName != "Belgrade" || saved.EndName != "Novi Sad" {
		t.Errorf("saved %+v", saved)
	}
	in := h.routes.saved[0]
	if in.StartPoint.Latitude != belgrade.Latitude || in.EndPoint.Longitude != novisad.Longitude {
		t.Errorf("payload %+v", in)
	}

	h.session.authed.Store(false)
	if _, err := h.ctl.SaveRoute(ctx, "Trip", ""); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("guest save: %v", err)
	}
}

func TestPopupEscapesText(t *testing.T) {
	p := models.Place{
		Name:        `<script>alert(1)</script>`,
		Description: `a & b`,
		Category:    "unknown",
		Website:     `https://example.com/?a="b"`,
	}
	out := Popup(p)
	if strings.Contains(out, "<script>") {
		t.Errorf("name not escaped: %s", out)
	}
	for _, want := range []string{"&lt;script&gt;", "a &amp; b", "Other", "&#34;b&#34;", GlyphFor(models.CategoryOther)} {
		if !strings.Contains(out, want) {
			t.Errorf("popup missing %q: %s", want, out)
		}
	}
}
