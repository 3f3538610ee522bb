// Package models holds the client-side copies of the entities owned by the
// TravelMate backend, plus the transient route endpoints kept by the map.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCoordinate is returned for coordinates outside WGS84 bounds.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks latitude and longitude ranges.
func (c Coordinate) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: %.6f,%.6f", ErrInvalidCoordinate, c.Latitude, c.Longitude)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Category classifies a place; it selects the marker icon.
type Category string

const (
	CategoryAttraction    Category = "attraction"
	CategoryRestaurant    Category = "restaurant"
	CategoryHotel         Category = "hotel"
	CategoryNature        Category = "nature"
	CategoryBeach         Category = "beach"
	CategoryMuseum        Category = "museum"
	CategoryShopping      Category = "shopping"
	CategoryEntertainment Category = "entertainment"
	CategoryTransport     Category = "transport"
	CategoryOther         Category = "other"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryAttraction, CategoryRestaurant, CategoryHotel, CategoryNature, CategoryBeach,
	CategoryMuseum, CategoryShopping, CategoryEntertainment, CategoryTransport, CategoryOther,
}

// Normalize maps unknown or empty categories to CategoryOther.
func (c Category) Normalize() Category {
	v := Category(strings.ToLower(strings.TrimSpace(string(c))))
	for _, known := range Categories {
		if v == known {
			return v
		}
	}
	return CategoryOther
}

// Image is a photo attached to a place. Order in Place.Images is upload order.
type Image struct {
	ID        int64     `json:"id,omitempty"`
	URL       string    `json:"image_url"`
	Caption   string    `json:"caption,omitempty"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// CustomField is a free-form name/value pair on a place.
type CustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Place is a user-owned point of interest.
type Place struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Category     Category      `json:"category,omitempty"`
	Latitude     float64       `json:"latitude"`
	Longitude    float64       `json:"longitude"`
	Website      string        `json:"website,omitempty"`
	IsPublic     bool          `json:"is_public"`
	IsApproved   bool          `json:"is_approved,omitempty"`
	Images       []Image       `json:"images,omitempty"`
	CustomFields []CustomField `json:"customFields,omitempty"`
	CreatedAt    time.Time     `json:"created_at,omitempty"`
	UpdatedAt    *time.Time    `json:"updated_at,omitempty"`
}

// Coordinate returns the place position.
func (p Place) Coordinate() Coordinate {
	return Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
}

// PrimaryImage returns the image flagged primary, falling back to the first
// uploaded image. Nil when the place has no images.
func (p Place) PrimaryImage() *Image {
	for i := range p.Images {
		if p.Images[i].IsPrimary {
			return &p.Images[i]
		}
	}
	if len(p.Images) > 0 {
		return &p.Images[0]
	}
	return nil
}

// RouteEndpoint is one end of a route being planned on the map.
type RouteEndpoint struct {
	Coordinate Coordinate `json:"coordinate"`
	Label      string     `json:"label"`
}

// SavedRoute is a persisted start/end pair. Immutable except for delete.
type SavedRoute struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	StartName      string     `json:"start_name"`
	StartLatitude  float64    `json:"start_latitude"`
	StartLongitude float64    `json:"start_longitude"`
	EndName        string     `json:"end_name"`
	EndLatitude    float64    `json:"end_latitude"`
	EndLongitude   float64    `json:"end_longitude"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// StartPoint returns the route origin.
func (r SavedRoute) StartPoint() RouteEndpoint {
	return RouteEndpoint{
		Coordinate: Coordinate{Latitude: r.StartLatitude, Longitude: r.StartLongitude},
		Label:      r.StartName,
	}
}

// EndPoint returns the route destination.
func (r SavedRoute) EndPoint() RouteEndpoint {
	return RouteEndpoint{
		Coordinate: Coordinate{Latitude: r.EndLatitude, Longitude: r.EndLongitude},
		Label:      r.EndName,
	}
}

// RouteList is the paginated /routes response.
type RouteList struct {
	Routes []SavedRoute `json:"routes"`
	Total  int          `json:"total"`
	Page   int          `json:"page"`
	Size   int          `json:"size"`
}

// UserProfile is the authenticated user as returned by /auth/me.
type UserProfile struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Bio       string    `json:"bio,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// VisitedCountry is a country the user has marked as visited.
type VisitedCountry struct {
	ID          int64     `json:"id"`
	CountryCode string    `json:"country_code"`
	CountryName string    `json:"country_name"`
	VisitedAt   time.Time `json:"visited_at"`
}

// Country is a selectable country option with its flag emoji.
type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Flag string `json:"flag"`
}

// Dashboard is the profile summary.
type Dashboard struct {
	User             UserProfile      `json:"user"`
	VisitedCountries []VisitedCountry `json:"visited_countries"`
	UserPlaces       []Place          `json:"user_places"`
	TotalRoutes      int              `json:"total_routes"`
	TotalPlaces      int              `json:"total_places"`
	TotalCountries   int              `json:"total_countries"`
}

// Location is a single search hit.
type Location struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	PlaceType   string  `json:"place_type"`
	OSMID       string  `json:"osm_id,omitempty"`
	Source      string  `json:"source,omitempty"` // "backend" | "nominatim"
}

// Coordinate returns the location position.
func (l Location) Coordinate() Coordinate {
	return Coordinate{Latitude: l.Latitude, Longitude: l.Longitude}
}

// RouteResult is a calculated route ready to draw.
type RouteResult struct {
	Profile         string       `json:"profile"`
	DistanceKm      float64      `json:"distance_km"`
	DurationMinutes float64      `json:"duration_minutes"`
	Path            []Coordinate `json:"path"`
}

// LineString is a GeoJSON LineString geometry. Positions are [lon, lat].
type LineString struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

// Path converts the geometry to latitude-first coordinates, rejecting
// positions that are malformed or out of range.
func (g LineString) Path() ([]Coordinate, error) {
	out := make([]Coordinate, 0, len(g.Coordinates))
	for i, pos := range g.Coordinates {
		if len(pos) < 2 {
			return nil, fmt.Errorf("%w: position %d has %d values", ErrInvalidCoordinate, i, len(pos))
		}
		c := Coordinate{Latitude: pos[1], Longitude: pos[0]}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
