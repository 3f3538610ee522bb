// Package backend is the typed TravelMate REST API: one method per endpoint,
// all going through the rate-limited, caching apiclient.
package backend

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rubiojr/travelmate/pkg/apiclient"
	"github.com/rubiojr/travelmate/pkg/models"
)

// Requester is the subset of apiclient.Client used here.
type Requester interface {
	Get(ctx context.Context, path string, params url.Values, out interface{}) error
	Post(ctx context.Context, path string, body, out interface{}) error
	Put(ctx context.Context, path string, body, out interface{}) error
	Delete(ctx context.Context, path string, out interface{}) error
}

// DefaultReportPath receives client error reports.
const DefaultReportPath = "/client-errors"

// Client calls the backend endpoints.
type Client struct {
	api        Requester
	reportPath string
}

// Option configures a Client.
type Option func(*Client)

// WithReportPath overrides the error report endpoint.
func WithReportPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.reportPath = p
		}
	}
}

// New returns a Client using api for transport.
func New(api Requester, opts ...Option) *Client {
	c := &Client{api: api, reportPath: DefaultReportPath}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Token is the /auth/login response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login exchanges credentials for a bearer token. The backend expects the
// OAuth2 password form, so the email travels as "username".
func (c *Client) Login(ctx context.Context, email, password string) (Token, error) {
	var tok Token
	form := url.Values{"username": {email}, "password": {password}}
	if err := c.api.Post(ctx, "/auth/login", form, &tok); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// RegisterRequest is the sign-up payload.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (models.UserProfile, error) {
	var u models.UserProfile
	err := c.api.Post(ctx, "/auth/register", req, &u)
	return u, err
}

// Me returns the user owning the current token.
func (c *Client) Me(ctx context.Context) (models.UserProfile, error) {
	var u models.UserProfile
	err := c.api.Get(ctx, "/auth/me", nil, &u)
	return u, err
}

// ProfileUpdate carries the editable profile fields; nil fields are untouched.
type ProfileUpdate struct {
	Name *string `json:"name,omitempty"`
	Bio  *string `json:"bio,omitempty"`
}

// UpdateProfile edits the current user's profile.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (models.UserProfile, error) {
	var u models.UserProfile
	err := c.api.Put(ctx, "/profile/me", upd, &u)
	return u, err
}

// Dashboard returns the profile summary.
func (c *Client) Dashboard(ctx context.Context) (models.Dashboard, error) {
	var d models.Dashboard
	err := c.api.Get(ctx, "/profile/dashboard", nil, &d)
	return d, err
}

// PlaceInput is the create payload for a place.
type PlaceInput struct {
	Name         string               `json:"name"`
	Description  string               `json:"description,omitempty"`
	Latitude     float64              `json:"latitude"`
	Longitude    float64              `json:"longitude"`
	Category     models.Category      `json:"category,omitempty"`
	Website      string               `json:"website,omitempty"`
	IsPublic     bool                 `json:"is_public"`
	CustomFields []models.CustomField `json:"customFields,omitempty"`
}

// Photo is an image attached to a new place.
type Photo struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Places lists the current user's places.
func (c *Client) Places(ctx context.Context) ([]models.Place, error) {
	var out []models.Place
	err := c.api.Get(ctx, "/profile/places", nil, &out)
	return out, err
}

// PublicPlaces lists places shared by all users. No auth needed.
func (c *Client) PublicPlaces(ctx context.Context) ([]models.Place, error) {
	var out []models.Place
	err := c.api.Get(ctx, "/profile/places/public", nil, &out)
	return out, err
}

// CreatePlace creates a place. With a photo the request is multipart, with
// the custom fields JSON-encoded into a single form field; otherwise JSON.
func (c *Client) CreatePlace(ctx context.Context, in PlaceInput, photo *Photo) (models.Place, error) {
	var body interface{} = in
	if photo != nil {
		mp, err := placeMultipart(in, photo)
		if err != nil {
			return models.Place{}, err
		}
		body = mp
	}
	var p models.Place
	err := c.api.Post(ctx, "/profile/places", body, &p)
	return p, err
}

func placeMultipart(in PlaceInput, photo *Photo) (*apiclient.Multipart, error) {
	fields := url.Values{
		"name":      {in.Name},
		"latitude":  {strconv.FormatFloat(in.Latitude, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(in.Longitude, 'f', -1, 64)},
		"is_public": {strconv.FormatBool(in.IsPublic)},
	}
	if in.Description != "" {
		fields.Set("description", in.Description)
	}
	if in.Category != "" {
		fields.Set("category", string(in.Category))
	}
	if in.Website != "" {
		fields.Set("website", in.Website)
	}
	if len(in.CustomFields) > 0 {
		raw, err := json.Marshal(in.CustomFields)
		if err != nil {
			return nil, fmt.Errorf("backend: encode custom fields: %w", err)
		}
		fields.Set("customFields", string(raw))
	}
	name := photo.Filename
	if name == "" {
		name = "photo"
	}
	return apiclient.NewMultipart(fields, apiclient.FormFile{
		Field:       "photo",
		Filename:    name,
		ContentType: photo.ContentType,
		Data:        photo.Data,
	})
}

// PlaceUpdate edits a place; nil fields are untouched.
type PlaceUpdate struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Latitude    *float64         `json:"latitude,omitempty"`
	Longitude   *float64         `json:"longitude,omitempty"`
	Category    *models.Category `json:"category,omitempty"`
}

// UpdatePlace edits one of the user's places.
func (c *Client) UpdatePlace(ctx context.Context, id int64, upd PlaceUpdate) (models.Place, error) {
	var p models.Place
	err := c.api.Put(ctx, fmt.Sprintf("/profile/places/%d", id), upd, &p)
	return p, err
}

// DeletePlace removes one of the user's places.
func (c *Client) DeletePlace(ctx context.Context, id int64) error {
	return c.api.Delete(ctx, fmt.Sprintf("/profile/places/%d", id), nil)
}

// ImageInput attaches an already hosted image to a place.
type ImageInput struct {
	URL       string `json:"image_url"`
	Caption   string `json:"caption,omitempty"`
	IsPrimary bool   `json:"is_primary"`
}

// AddPlaceImage appends an image to a place.
func (c *Client) AddPlaceImage(ctx context.Context, placeID int64, img ImageInput) (models.Image, error) {
	var out models.Image
	err := c.api.Post(ctx, fmt.Sprintf("/profile/places/%d/images", placeID), img, &out)
	return out, err
}

// VisitedCountries lists the user's visited countries.
func (c *Client) VisitedCountries(ctx context.Context) ([]models.VisitedCountry, error) {
	var out []models.VisitedCountry
	err := c.api.Get(ctx, "/profile/visited-countries", nil, &out)
	return out, err
}

// AddVisitedCountry marks a country as visited.
func (c *Client) AddVisitedCountry(ctx context.Context, code, name string) (models.VisitedCountry, error) {
	var out models.VisitedCountry
	body := map[string]string{"country_code": code, "country_name": name}
	err := c.api.Post(ctx, "/profile/visited-countries", body, &out)
	return out, err
}

// RemoveVisitedCountry unmarks a visited country by record id.
func (c *Client) RemoveVisitedCountry(ctx context.Context, id int64) error {
	return c.api.Delete(ctx, fmt.Sprintf("/profile/visited-countries/%d", id), nil)
}

// Countries returns the selectable country list with flags.
func (c *Client) Countries(ctx context.Context) ([]models.Country, error) {
	var out []models.Country
	err := c.api.Get(ctx, "/profile/countries", nil, &out)
	return out, err
}

// UploadAvatar replaces the user's avatar.
func (c *Client) UploadAvatar(ctx context.Context, photo Photo) (models.UserProfile, error) {
	name := photo.Filename
	if name == "" {
		name = "avatar"
	}
	mp, err := apiclient.NewMultipart(nil, apiclient.FormFile{
		Field:       "file",
		Filename:    name,
		ContentType: photo.ContentType,
		Data:        photo.Data,
	})
	if err != nil {
		return models.UserProfile{}, err
	}
	var u models.UserProfile
	err = c.api.Post(ctx, "/profile/avatar", mp, &u)
	return u, err
}

// DeleteAvatar removes the user's avatar.
func (c *Client) DeleteAvatar(ctx context.Context) error {
	return c.api.Delete(ctx, "/profile/avatar", nil)
}

// RoutePoint is a named endpoint in the route create payload.
type RoutePoint struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PointFrom converts a map endpoint to its wire form.
func PointFrom(e models.RouteEndpoint) RoutePoint {
	return RoutePoint{Name: e.Label, Latitude: e.Coordinate.Latitude, Longitude: e.Coordinate.Longitude}
}

// RouteInput is the create payload for a saved route.
type RouteInput struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	StartPoint  RoutePoint `json:"start_point"`
	EndPoint    RoutePoint `json:"end_point"`
}

// Routes lists saved routes, newest first.
func (c *Client) Routes(ctx context.Context, skip, limit int) (models.RouteList, error) {
	params := url.Values{}
	if skip > 0 {
		params.Set("skip", strconv.Itoa(skip))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out models.RouteList
	err := c.api.Get(ctx, "/routes/", params, &out)
	return out, err
}

// CreateRoute saves a route.
func (c *Client) CreateRoute(ctx context.Context, in RouteInput) (models.SavedRoute, error) {
	var out models.SavedRoute
	err := c.api.Post(ctx, "/routes/", in, &out)
	return out, err
}

// Route fetches one saved route.
func (c *Client) Route(ctx context.Context, id int64) (models.SavedRoute, error) {
	var out models.SavedRoute
	err := c.api.Get(ctx, fmt.Sprintf("/routes/%d", id), nil, &out)
	return out, err
}

// DeleteRoute removes a saved route.
func (c *Client) DeleteRoute(ctx context.Context, id int64) error {
	return c.api.Delete(ctx, fmt.Sprintf("/routes/%d", id), nil)
}

// ProcessedRoute is the /routes/real-route response.
type ProcessedRoute struct {
	DistanceKm      float64            `json:"distance_km"`
	DurationMinutes float64            `json:"duration_minutes"`
	Geometry        *models.LineString `json:"geometry"`
	Steps           []map[string]any   `json:"steps,omitempty"`
	RouteType       string             `json:"route_type"`
	Profile         string             `json:"profile"`
}

func routeParams(start, end models.Coordinate) url.Values {
	return url.Values{
		"start_lat": {strconv.FormatFloat(start.Latitude, 'f', -1, 64)},
		"start_lon": {strconv.FormatFloat(start.Longitude, 'f', -1, 64)},
		"end_lat":   {strconv.FormatFloat(end.Latitude, 'f', -1, 64)},
		"end_lon":   {strconv.FormatFloat(end.Longitude, 'f', -1, 64)},
	}
}

// RealRoute asks the backend to route between two points.
func (c *Client) RealRoute(ctx context.Context, start, end models.Coordinate, profile string) (ProcessedRoute, error) {
	params := routeParams(start, end)
	if profile != "" {
		params.Set("profile", profile)
	}
	var out ProcessedRoute
	err := c.api.Get(ctx, "/routes/real-route", params, &out)
	return out, err
}

// RouteDistance is the straight-line estimate from /routes/distance/calculate.
type RouteDistance struct {
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes *int    `json:"duration_minutes"`
	RouteType       string  `json:"route_type"`
}

// Distance returns the direct distance between two points.
func (c *Client) Distance(ctx context.Context, start, end models.Coordinate) (RouteDistance, error) {
	var out RouteDistance
	err := c.api.Get(ctx, "/routes/distance/calculate", routeParams(start, end), &out)
	return out, err
}

// SearchResults is the /locations/search response.
type SearchResults struct {
	Results    []models.Location `json:"results"`
	Query      string            `json:"query"`
	TotalFound int               `json:"total_found"`
}

// SearchLocations geocodes a free-text query.
func (c *Client) SearchLocations(ctx context.Context, query string, limit int) (SearchResults, error) {
	params := url.Values{"query": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out SearchResults
	err := c.api.Get(ctx, "/locations/search", params, &out)
	return out, err
}

// ErrorReport is the body posted to the error report endpoint.
type ErrorReport struct {
	ID          string    `json:"id"`
	Operation   string    `json:"operation"`
	Kind        string    `json:"kind"`
	Status      int       `json:"status,omitempty"`
	Message     string    `json:"message"`
	Environment string    `json:"environment"`
	Time        time.Time `json:"time"`
}

// ReportError posts a client error report.
func (c *Client) ReportError(ctx context.Context, r ErrorReport) error {
	return c.api.Post(ctx, c.reportPath, r, nil)
}
