package mapctl

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/rubiojr/travelmate/pkg/models"
	"github.com/rubiojr/travelmate/pkg/task"
)

// MarkerKind distinguishes marker layers.
type MarkerKind string

const (
	KindUserPlace   MarkerKind = "user_place"
	KindPublicPlace MarkerKind = "public_place"
	KindStart       MarkerKind = "route_start"
	KindEnd         MarkerKind = "route_end"
)

// Marker is a map annotation. Place markers carry their backing place id.
type Marker struct {
	ID         string            `json:"id"`
	Kind       MarkerKind        `json:"kind"`
	Coordinate models.Coordinate `json:"coordinate"`
	Icon       string            `json:"icon"`
	Glyph      string            `json:"glyph"`
	Title      string            `json:"title"`
	Popup      string            `json:"popup,omitempty"`
	PlaceID    int64             `json:"place_id,omitempty"`
	Category   models.Category   `json:"category,omitempty"`
}

var glyphs = map[models.Category]string{
	models.CategoryAttraction:    "🏛️",
	models.CategoryRestaurant:    "🍽️",
	models.CategoryHotel:         "🏨",
	models.CategoryNature:        "🌲",
	models.CategoryBeach:         "🏖️",
	models.CategoryMuseum:        "🖼️",
	models.CategoryShopping:      "🛍️",
	models.CategoryEntertainment: "🎭",
	models.CategoryTransport:     "🚉",
	models.CategoryOther:         "📍",
}

// IconFor returns the icon id of a category marker.
func IconFor(cat models.Category) string {
	return "place-" + string(cat.Normalize())
}

// GlyphFor returns the emoji drawn inside a category marker.
func GlyphFor(cat models.Category) string {
	return glyphs[cat.Normalize()]
}

func markerID(kind MarkerKind, p models.Place) string {
	if p.ID != 0 {
		return fmt.Sprintf("%s-%d", kind, p.ID)
	}
	return fmt.Sprintf("%s-%s", kind, p.Coordinate())
}

// Popup renders the HTML popup summary of a place. All text is escaped.
func Popup(p models.Place) string {
	var b strings.Builder
	cat := p.Category.Normalize()
	b.WriteString(`<div class="place-popup">`)
	fmt.Fprintf(&b, `<h3>%s %s</h3>`, GlyphFor(cat), html.EscapeString(p.Name))
	fmt.Fprintf(&b, `<span class="place-category">%s</span>`, html.EscapeString(titleCase(string(cat))))
	if p.Description != "" {
		fmt.Fprintf(&b, `<p>%s</p>`, html.EscapeString(p.Description))
	}
	if img := p.PrimaryImage(); img != nil && img.URL != "" {
		fmt.Fprintf(&b, `<img src="%s" alt="%s">`, html.EscapeString(img.URL), html.EscapeString(img.Caption))
	}
	if p.Website != "" {
		fmt.Fprintf(&b, `<a href="%s" target="_blank" rel="noopener">Website</a>`, html.EscapeString(p.Website))
	}
	b.WriteString(`</div>`)
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func placeMarker(kind MarkerKind, p models.Place) Marker {
	cat := p.Category.Normalize()
	icon := IconFor(cat)
	if kind == KindPublicPlace {
		icon = "public-" + icon
	}
	return Marker{
		ID:         markerID(kind, p),
		Kind:       kind,
		Coordinate: p.Coordinate(),
		Icon:       icon,
		Glyph:      GlyphFor(cat),
		Title:      p.Name,
		Popup:      Popup(p),
		PlaceID:    p.ID,
		Category:   cat,
	}
}

// AddPlaceMarker shows a user place on the map and returns its marker.
// Adding the same place again keeps a single marker, refreshed if the place
// changed.
func (c *Controller) AddPlaceMarker(p models.Place) (Marker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addMarkerLocked(c.userMarkers, placeMarker(KindUserPlace, p))
}

func (c *Controller) addMarkerLocked(layer map[string]Marker, m Marker) (Marker, error) {
	if err := m.Coordinate.Validate(); err != nil {
		return Marker{}, err
	}
	if old, ok := layer[m.ID]; ok {
		if old == m {
			return old, nil
		}
		c.removeMarker(old.ID)
		delete(layer, old.ID)
	}
	if err := c.widget.AddMarker(m); err != nil {
		return Marker{}, fmt.Errorf("add marker %s: %w", m.ID, err)
	}
	layer[m.ID] = m
	return m, nil
}

// replaceLayerLocked swaps every marker of a layer for markers built from
// places. Places with invalid coordinates are skipped.
func (c *Controller) replaceLayerLocked(layer map[string]Marker, kind MarkerKind, places []models.Place) {
	for id := range layer {
		c.removeMarker(id)
		delete(layer, id)
	}
	for _, p := range places {
		if _, err := c.addMarkerLocked(layer, placeMarker(kind, p)); err != nil {
			c.log.Warn().Int64("place", p.ID).Err(err).Msg("skipping place marker")
		}
	}
}

// LoadUserPlaces replaces the user place markers with the user's current
// places. Public markers are untouched. Without a session it does nothing.
func (c *Controller) LoadUserPlaces(ctx context.Context) error {
	if !c.session.Authenticated() {
		return nil
	}
	epoch := c.currentEpoch()
	places, err := task.Run(ctx, &c.userLoads, c.places.Places)
	if task.IsSuperseded(err) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return task.ErrSuperseded
	}
	if err != nil {
		return c.fail("load places", err)
	}
	c.replaceLayerLocked(c.userMarkers, KindUserPlace, places)
	return nil
}

// LoadPublicPlaces replaces the public place markers. No session needed.
func (c *Controller) LoadPublicPlaces(ctx context.Context) error {
	epoch := c.currentEpoch()
	places, err := task.Run(ctx, &c.publicLoads, c.places.PublicPlaces)
	if task.IsSuperseded(err) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return task.ErrSuperseded
	}
	if err != nil {
		return c.fail("load public places", err)
	}
	c.replaceLayerLocked(c.publicMarkers, KindPublicPlace, places)
	return nil
}

// DeletePlace deletes a user place and removes its marker.
func (c *Controller) DeletePlace(ctx context.Context, id int64) error {
	if !c.session.Authenticated() {
		c.ui.ShowLoginModal()
		return ErrUnauthenticated
	}
	epoch := c.currentEpoch()
	err := c.places.DeletePlace(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return task.ErrSuperseded
	}
	if err != nil {
		return c.fail("delete place", err)
	}
	for mid, m := range c.userMarkers {
		if m.PlaceID == id {
			c.removeMarker(mid)
			delete(c.userMarkers, mid)
		}
	}
	c.ui.Notify(LevelSuccess, "Place deleted")
	return nil
}

func (c *Controller) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}
