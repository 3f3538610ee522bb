package mapctl

import (
	"context"

	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/models"
	"github.com/rubiojr/travelmate/pkg/task"
	"github.com/rubiojr/travelmate/pkg/validation"
)

// RightClick opens the context menu at a map position. Clicks on a marker
// or popup are ignored, as are clicks while the quick-add modal is open.
func (c *Controller) RightClick(at models.Coordinate, onMarker bool) error {
	if onMarker {
		return nil
	}
	if err := at.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overlay == OverlayQuickAdd {
		return ErrInvalidTransition
	}
	pos := at
	c.staged = &pos
	c.overlay = OverlayContextMenu
	c.ui.ShowContextMenu(at)
	return nil
}

// DismissContextMenu closes the context menu and forgets its position.
func (c *Controller) DismissContextMenu() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overlay != OverlayContextMenu {
		return
	}
	c.overlay = OverlayNone
	c.staged = nil
	c.ui.HideContextMenu()
}

// takeMenuPosition closes the context menu and returns its position.
func (c *Controller) takeMenuPosition() (models.Coordinate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overlay != OverlayContextMenu || c.staged == nil {
		return models.Coordinate{}, ErrInvalidTransition
	}
	at := *c.staged
	c.overlay = OverlayNone
	c.staged = nil
	c.ui.HideContextMenu()
	return at, nil
}

// SelectSetStart uses the context menu position as the route start. When
// both endpoints are set the route is calculated.
func (c *Controller) SelectSetStart(ctx context.Context) error {
	at, err := c.takeMenuPosition()
	if err != nil {
		return err
	}
	return c.SetStart(ctx, models.RouteEndpoint{Coordinate: at, Label: DefaultStartLabel})
}

// SelectSetEnd uses the context menu position as the route end. When both
// endpoints are set the route is calculated.
func (c *Controller) SelectSetEnd(ctx context.Context) error {
	at, err := c.takeMenuPosition()
	if err != nil {
		return err
	}
	return c.SetEnd(ctx, models.RouteEndpoint{Coordinate: at, Label: DefaultEndLabel})
}

// SelectAddPlace opens the quick-add modal at the context menu position.
func (c *Controller) SelectAddPlace() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overlay != OverlayContextMenu || c.staged == nil {
		return ErrInvalidTransition
	}
	if !c.session.Authenticated() {
		c.overlay = OverlayNone
		c.staged = nil
		c.ui.HideContextMenu()
		c.ui.ShowLoginModal()
		return ErrUnauthenticated
	}
	c.ui.HideContextMenu()
	c.overlay = OverlayQuickAdd
	c.ui.OpenQuickAdd(*c.staged)
	return nil
}

// ToggleAddPlaceMode enters or leaves add-place mode. Entering needs a
// session; a guest gets a warning and nothing changes.
func (c *Controller) ToggleAddPlaceMode() (Mode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeAddPlace {
		c.mode = ModeIdle
		c.setCursor(CursorDefault)
		c.ui.Notify(LevelInfo, "Add place mode off")
		return c.mode, nil
	}
	if !c.session.Authenticated() {
		c.ui.Notify(LevelWarning, "Please log in to add places")
		return c.mode, ErrUnauthenticated
	}
	c.mode = ModeAddPlace
	c.setCursor(CursorCrosshair)
	c.ui.Notify(LevelInfo, "Click on the map to add a place")
	return c.mode, nil
}

// Click handles a left click on the map. A guest is shown the login modal.
// In add-place mode the quick-add modal opens at the clicked position.
func (c *Controller) Click(at models.Coordinate) error {
	if err := at.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overlay == OverlayContextMenu {
		c.overlay = OverlayNone
		c.staged = nil
		c.ui.HideContextMenu()
	}
	if !c.session.Authenticated() {
		c.ui.ShowLoginModal()
		return ErrUnauthenticated
	}
	if c.mode != ModeAddPlace || c.overlay == OverlayQuickAdd {
		return nil
	}
	pos := at
	c.staged = &pos
	c.overlay = OverlayQuickAdd
	c.ui.OpenQuickAdd(at)
	return nil
}

// CancelQuickAdd closes the quick-add modal, discards the staged position
// and returns to Idle.
func (c *Controller) CancelQuickAdd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overlay != OverlayQuickAdd {
		return
	}
	c.overlay = OverlayNone
	c.staged = nil
	c.ui.CloseQuickAdd()
	if c.mode != ModeIdle {
		c.mode = ModeIdle
		c.setCursor(CursorDefault)
	}
}

// QuickPlace is the quick-add form.
type QuickPlace struct {
	Name         string
	Description  string
	Category     string
	Website      string
	IsPublic     bool
	CustomFields []models.CustomField
	Photo        *backend.Photo
}

// SubmitQuickPlace creates a place at the staged position. On success the
// marker is added, the modal closes and the mode returns to Idle. On failure
// the modal stays open with the error shown inline.
//
// Concurrent submissions are not de-duplicated.
func (c *Controller) SubmitQuickPlace(ctx context.Context, in QuickPlace) (models.Place, error) {
	c.mu.Lock()
	if c.overlay != OverlayQuickAdd || c.staged == nil {
		c.mu.Unlock()
		return models.Place{}, ErrNoStagedCoordinate
	}
	if !c.session.Authenticated() {
		c.mu.Unlock()
		c.ui.ShowLoginModal()
		return models.Place{}, ErrUnauthenticated
	}
	at := *c.staged
	epoch := c.epoch
	c.mu.Unlock()

	form := validation.PlaceForm{Name: in.Name, Description: in.Description, Category: in.Category, Website: in.Website}
	if err := form.Validate(); err != nil {
		c.ui.ShowQuickAddError(err.Error())
		return models.Place{}, err
	}
	fields := make([]models.CustomField, 0, len(in.CustomFields))
	for _, f := range in.CustomFields {
		if f.Name != "" && f.Value != "" {
			fields = append(fields, f)
		}
	}
	payload := backend.PlaceInput{
		Name:         form.Name,
		Description:  form.Description,
		Latitude:     at.Latitude,
		Longitude:    at.Longitude,
		Category:     models.Category(form.Category).Normalize(),
		Website:      form.Website,
		IsPublic:     in.IsPublic,
		CustomFields: fields,
	}

	place, err := c.places.CreatePlace(ctx, payload, in.Photo)

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return models.Place{}, task.ErrSuperseded
	}
	if err != nil {
		c.ui.ShowQuickAddError(c.errs.HandleError("add place", err))
		return models.Place{}, err
	}
	if place.Latitude == 0 && place.Longitude == 0 {
		place.Latitude, place.Longitude = at.Latitude, at.Longitude
	}
	if place.Category == "" {
		place.Category = payload.Category
	}
	if _, err := c.addMarkerLocked(c.userMarkers, placeMarker(KindUserPlace, place)); err != nil {
		c.log.Warn().Int64("place", place.ID).Err(err).Msg("created place has no marker")
	}
	if c.overlay == OverlayQuickAdd {
		c.overlay = OverlayNone
		c.staged = nil
		c.ui.CloseQuickAdd()
	}
	if c.mode != ModeIdle {
		c.mode = ModeIdle
		c.setCursor(CursorDefault)
	}
	c.ui.Notify(LevelSuccess, "Place added")
	return place, nil
}
