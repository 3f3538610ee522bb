package mapctl

import (
	"context"
	"errors"
	"fmt"

	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/geolocate"
	"github.com/rubiojr/travelmate/pkg/models"
	"github.com/rubiojr/travelmate/pkg/routing"
	"github.com/rubiojr/travelmate/pkg/task"
	"github.com/rubiojr/travelmate/pkg/validation"
)

const (
	DefaultStartLabel = "Start point"
	DefaultEndLabel   = "End point"
	// CurrentLocationLabel names a start point obtained from geolocation.
	CurrentLocationLabel = "Your location"

	routeLineID   = "route"
	startMarkerID = "route-start"
	endMarkerID   = "route-end"
)

// MsgNoRoute is shown when the routing service finds no route.
const MsgNoRoute = "No route found"

func endpointMarker(kind MarkerKind, ep models.RouteEndpoint) Marker {
	m := Marker{Kind: kind, Coordinate: ep.Coordinate, Title: ep.Label}
	if kind == KindStart {
		m.ID, m.Icon, m.Glyph = startMarkerID, "route-start", "🟢"
	} else {
		m.ID, m.Icon, m.Glyph = endMarkerID, "route-end", "🔴"
	}
	return m
}

// setEndpointLocked replaces the start or end point and its marker.
func (c *Controller) setEndpointLocked(kind MarkerKind, ep models.RouteEndpoint) error {
	if err := ep.Coordinate.Validate(); err != nil {
		return err
	}
	if ep.Label == "" {
		ep.Label = DefaultStartLabel
		if kind == KindEnd {
			ep.Label = DefaultEndLabel
		}
	}
	m := endpointMarker(kind, ep)
	if (kind == KindStart && c.start != nil) || (kind == KindEnd && c.end != nil) {
		c.removeMarker(m.ID)
	}
	if err := c.widget.AddMarker(m); err != nil {
		return fmt.Errorf("add marker %s: %w", m.ID, err)
	}
	if kind == KindStart {
		c.start = &ep
	} else {
		c.end = &ep
	}
	return nil
}

// SetStart sets the route start. When both endpoints are set the route is
// calculated; its failure is surfaced but not returned.
func (c *Controller) SetStart(ctx context.Context, ep models.RouteEndpoint) error {
	return c.setEndpoint(ctx, KindStart, ep)
}

// SetEnd sets the route end, like SetStart.
func (c *Controller) SetEnd(ctx context.Context, ep models.RouteEndpoint) error {
	return c.setEndpoint(ctx, KindEnd, ep)
}

func (c *Controller) setEndpoint(ctx context.Context, kind MarkerKind, ep models.RouteEndpoint) error {
	c.mu.Lock()
	err := c.setEndpointLocked(kind, ep)
	ready := c.start != nil && c.end != nil
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if ready {
		_, _ = c.CalculateRoute(ctx)
	}
	return nil
}

// SetProfile selects the transport profile and recalculates the route if
// both endpoints are set.
func (c *Controller) SetProfile(ctx context.Context, profile string) error {
	if !routing.ValidProfile(profile) {
		return fmt.Errorf("%w: %q", routing.ErrUnknownProfile, profile)
	}
	c.mu.Lock()
	c.profile = profile
	ready := c.start != nil && c.end != nil
	c.mu.Unlock()
	if ready {
		_, err := c.CalculateRoute(ctx)
		return err
	}
	return nil
}

// CalculateRoute routes between the current endpoints with the selected
// profile and draws the result. On failure the previous line is removed and
// the endpoints are kept so the user can retry, e.g. with another profile.
// A newer calculation supersedes this one.
func (c *Controller) CalculateRoute(ctx context.Context) (models.RouteResult, error) {
	c.mu.Lock()
	if c.start == nil || c.end == nil {
		c.mu.Unlock()
		c.ui.Notify(LevelWarning, "Set a start and an end point first")
		return models.RouteResult{}, ErrMissingEndpoints
	}
	start, end, profile, epoch := c.start.Coordinate, c.end.Coordinate, c.profile, c.epoch
	c.mu.Unlock()

	c.ui.Notify(LevelInfo, "Calculating route...")
	res, err := task.Run(ctx, &c.routeCalcs, func(ctx context.Context) (models.RouteResult, error) {
		return c.router.Route(ctx, start, end, profile)
	})
	if task.IsSuperseded(err) {
		return models.RouteResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return models.RouteResult{}, task.ErrSuperseded
	}
	c.removeRouteLineLocked()
	if err != nil {
		if errors.Is(err, routing.ErrNoRoute) {
			c.errs.HandleError("calculate route", err)
			c.ui.Notify(LevelError, MsgNoRoute)
			return models.RouteResult{}, err
		}
		return models.RouteResult{}, c.fail("calculate route", err)
	}
	if err := c.widget.DrawPolyline(routeLineID, res.Path); err != nil {
		return models.RouteResult{}, c.fail("draw route", err)
	}
	c.route = &res
	c.ui.Notify(LevelSuccess, fmt.Sprintf("Route: %.1f km, %.0f min (%s)", res.DistanceKm, res.DurationMinutes, res.Profile))
	return res, nil
}

func (c *Controller) removeRouteLineLocked() {
	if c.route == nil {
		return
	}
	if err := c.widget.RemovePolyline(routeLineID); err != nil {
		c.log.Warn().Err(err).Msg("remove route line")
	}
	c.route = nil
}

func (c *Controller) clearRouteLocked() {
	c.removeRouteLineLocked()
	if c.start != nil {
		c.removeMarker(startMarkerID)
		c.start = nil
	}
	if c.end != nil {
		c.removeMarker(endMarkerID)
		c.end = nil
	}
}

// ClearRoute removes the endpoints and the route line.
func (c *Controller) ClearRoute() {
	c.routeCalcs.Cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearRouteLocked()
}

// RouteToPlace routes from the current position to a place. The end point
// is set first and kept whatever happens next. If the position cannot be
// determined the user is asked to pick a start point and the
// *geolocate.GeolocationError is returned.
func (c *Controller) RouteToPlace(ctx context.Context, to models.Coordinate, label string) error {
	c.mu.Lock()
	err := c.setEndpointLocked(KindEnd, models.RouteEndpoint{Coordinate: to, Label: label})
	epoch := c.epoch
	c.mu.Unlock()
	if err != nil {
		return err
	}

	fix, err := c.locator.Locate(ctx, c.geoOpts)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		msg := "Could not determine your location. Right-click the map to set a start point."
		if geolocate.ReasonOf(err) == geolocate.ReasonDenied {
			msg = "Location access denied. Right-click the map to set a start point."
		}
		c.ui.Notify(LevelWarning, msg)
		return err
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return task.ErrSuperseded
	}
	err = c.setEndpointLocked(KindStart, models.RouteEndpoint{Coordinate: fix.Coordinate, Label: CurrentLocationLabel})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = c.CalculateRoute(ctx)
	return err
}

// SaveRoute persists the current endpoints as a named route.
func (c *Controller) SaveRoute(ctx context.Context, name, description string) (models.SavedRoute, error) {
	if !c.session.Authenticated() {
		c.ui.ShowLoginModal()
		return models.SavedRoute{}, ErrUnauthenticated
	}
	form := validation.RouteForm{Name: name, Description: description}
	if err := form.Validate(); err != nil {
		c.ui.Notify(LevelWarning, err.Error())
		return models.SavedRoute{}, err
	}
	c.mu.Lock()
	if c.start == nil || c.end == nil {
		c.mu.Unlock()
		c.ui.Notify(LevelWarning, "Set a start and an end point first")
		return models.SavedRoute{}, ErrMissingEndpoints
	}
	in := backend.RouteInput{
		Name:        form.Name,
		Description: form.Description,
		StartPoint:  backend.PointFrom(*c.start),
		EndPoint:    backend.PointFrom(*c.end),
	}
	epoch := c.epoch
	c.mu.Unlock()

	saved, err := c.routes.CreateRoute(ctx, in)
	if c.currentEpoch() != epoch {
		return models.SavedRoute{}, task.ErrSuperseded
	}
	if err != nil {
		return models.SavedRoute{}, c.fail("save route", err)
	}
	c.ui.Notify(LevelSuccess, fmt.Sprintf("Route %q saved", saved.Name))
	return saved, nil
}
