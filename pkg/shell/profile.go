package shell

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rubiojr/travelmate/pkg/apiclient"
	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/mapctl"
	"github.com/rubiojr/travelmate/pkg/models"
	"github.com/rubiojr/travelmate/pkg/validation"
)

// MaxAvatarBytes caps avatar uploads.
const MaxAvatarBytes = 5 << 20

// Dashboard returns the profile summary.
func (s *Shell) Dashboard(ctx context.Context) (models.Dashboard, error) {
	if err := s.requireAuth(); err != nil {
		return models.Dashboard{}, err
	}
	d, err := s.api.Dashboard(ctx)
	if err != nil {
		return models.Dashboard{}, s.fail("dashboard", err)
	}
	return d, nil
}

// UpdateProfile edits the user's name and bio.
func (s *Shell) UpdateProfile(ctx context.Context, name, bio string) (models.UserProfile, error) {
	if err := s.requireAuth(); err != nil {
		return models.UserProfile{}, err
	}
	name = strings.TrimSpace(name)
	if len([]rune(name)) < 2 {
		return models.UserProfile{}, validation.Errorf("name", "Name must be at least 2 characters")
	}
	bio = strings.TrimSpace(bio)
	u, err := s.api.UpdateProfile(ctx, backend.ProfileUpdate{Name: &name, Bio: &bio})
	if err != nil {
		return models.UserProfile{}, s.fail("update profile", err)
	}
	s.setUser(u)
	s.notify(mapctl.LevelSuccess, "Profile updated")
	return u, nil
}

func (s *Shell) setUser(u models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		s.user = &u
	}
}

// Countries returns the selectable country list.
func (s *Shell) Countries(ctx context.Context) ([]models.Country, error) {
	out, err := s.api.Countries(ctx)
	if err != nil {
		return nil, s.fail("countries", err)
	}
	return out, nil
}

// VisitedCountries lists the countries the user has visited.
func (s *Shell) VisitedCountries(ctx context.Context) ([]models.VisitedCountry, error) {
	if err := s.requireAuth(); err != nil {
		return nil, err
	}
	out, err := s.api.VisitedCountries(ctx)
	if err != nil {
		return nil, s.fail("visited countries", err)
	}
	return out, nil
}

// AddVisitedCountry marks a country as visited. The code is an ISO 3166
// alpha-2 or alpha-3 code.
func (s *Shell) AddVisitedCountry(ctx context.Context, code, name string) (models.VisitedCountry, error) {
	if err := s.requireAuth(); err != nil {
		return models.VisitedCountry{}, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if n := len(code); n < 2 || n > 3 {
		return models.VisitedCountry{}, validation.Errorf("country_code", "Please select a country")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = code
	}
	vc, err := s.api.AddVisitedCountry(ctx, code, name)
	if err != nil {
		if apiclient.StatusOf(err) == http.StatusBadRequest {
			s.notify(mapctl.LevelWarning, fmt.Sprintf("%s is already in your list", name))
			return models.VisitedCountry{}, err
		}
		return models.VisitedCountry{}, s.fail("add visited country", err)
	}
	s.notify(mapctl.LevelSuccess, fmt.Sprintf("%s added to visited countries", vc.CountryName))
	return vc, nil
}

// RemoveVisitedCountry removes a visited country entry.
func (s *Shell) RemoveVisitedCountry(ctx context.Context, id int64) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	if err := s.api.RemoveVisitedCountry(ctx, id); err != nil {
		return s.fail("remove visited country", err)
	}
	return nil
}

// UploadAvatar replaces the user's avatar. Only images up to MaxAvatarBytes
// are accepted.
func (s *Shell) UploadAvatar(ctx context.Context, photo backend.Photo) (models.UserProfile, error) {
	if err := s.requireAuth(); err != nil {
		return models.UserProfile{}, err
	}
	if err := checkPhoto(photo); err != nil {
		s.notify(mapctl.LevelWarning, err.Error())
		return models.UserProfile{}, err
	}
	u, err := s.api.UploadAvatar(ctx, photo)
	if err != nil {
		return models.UserProfile{}, s.fail("upload avatar", err)
	}
	s.setUser(u)
	s.notify(mapctl.LevelSuccess, "Avatar updated")
	return u, nil
}

func checkPhoto(p backend.Photo) error {
	if len(p.Data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidPhoto)
	}
	if len(p.Data) > MaxAvatarBytes {
		return fmt.Errorf("%w: larger than %d MB", ErrInvalidPhoto, MaxAvatarBytes>>20)
	}
	ct := p.ContentType
	if ct == "" {
		ct = http.DetectContentType(p.Data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("%w: %s is not an image", ErrInvalidPhoto, ct)
	}
	return nil
}

// DeleteAvatar removes the user's avatar.
func (s *Shell) DeleteAvatar(ctx context.Context) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	if err := s.api.DeleteAvatar(ctx); err != nil {
		return s.fail("delete avatar", err)
	}
	s.mu.Lock()
	if s.user != nil {
		s.user.AvatarURL = ""
	}
	s.mu.Unlock()
	return nil
}

// Places lists the user's places.
func (s *Shell) Places(ctx context.Context) ([]models.Place, error) {
	if err := s.requireAuth(); err != nil {
		return nil, err
	}
	out, err := s.api.Places(ctx)
	if err != nil {
		return nil, s.fail("places", err)
	}
	return out, nil
}

// UpdatePlace edits a place and refreshes the user's markers.
func (s *Shell) UpdatePlace(ctx context.Context, id int64, upd backend.PlaceUpdate) (models.Place, error) {
	if err := s.requireAuth(); err != nil {
		return models.Place{}, err
	}
	if upd.Name != nil {
		form := validation.PlaceForm{Name: *upd.Name}
		if upd.Description != nil {
			form.Description = *upd.Description
		}
		if upd.Category != nil {
			form.Category = string(*upd.Category)
		}
		if err := form.Validate(); err != nil {
			s.notify(mapctl.LevelWarning, err.Error())
			return models.Place{}, err
		}
	}
	if upd.Latitude != nil || upd.Longitude != nil {
		if upd.Latitude == nil || upd.Longitude == nil {
			return models.Place{}, validation.Errorf("latitude", "Latitude and longitude must be set together")
		}
		if err := (models.Coordinate{Latitude: *upd.Latitude, Longitude: *upd.Longitude}).Validate(); err != nil {
			return models.Place{}, validation.Errorf("latitude", "%v", err)
		}
	}
	p, err := s.api.UpdatePlace(ctx, id, upd)
	if err != nil {
		return models.Place{}, s.fail("update place", err)
	}
	if err := s.m.LoadUserPlaces(ctx); err != nil {
		s.log.Debug().Err(err).Msg("user places not reloaded")
	}
	s.notify(mapctl.LevelSuccess, "Place updated")
	return p, nil
}

// AddPlaceImage attaches a hosted image to a place.
func (s *Shell) AddPlaceImage(ctx context.Context, placeID int64, img backend.ImageInput) (models.Image, error) {
	if err := s.requireAuth(); err != nil {
		return models.Image{}, err
	}
	img.URL = strings.TrimSpace(img.URL)
	if !strings.HasPrefix(img.URL, "http://") && !strings.HasPrefix(img.URL, "https://") {
		return models.Image{}, validation.Errorf("image_url", "Image URL must start with http:// or https://")
	}
	out, err := s.api.AddPlaceImage(ctx, placeID, img)
	if err != nil {
		return models.Image{}, s.fail("add place image", err)
	}
	if err := s.m.LoadUserPlaces(ctx); err != nil {
		s.log.Debug().Err(err).Msg("user places not reloaded")
	}
	return out, nil
}

// DeletePlace deletes a place through the map, which drops its marker.
func (s *Shell) DeletePlace(ctx context.Context, id int64) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	return s.m.DeletePlace(ctx, id)
}

// SavedRoutes lists saved routes, newest first.
func (s *Shell) SavedRoutes(ctx context.Context, skip, limit int) (models.RouteList, error) {
	if err := s.requireAuth(); err != nil {
		return models.RouteList{}, err
	}
	out, err := s.api.Routes(ctx, skip, limit)
	if err != nil {
		return models.RouteList{}, s.fail("saved routes", err)
	}
	return out, nil
}

// DeleteRoute deletes a saved route.
func (s *Shell) DeleteRoute(ctx context.Context, id int64) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	if err := s.api.DeleteRoute(ctx, id); err != nil {
		return s.fail("delete route", err)
	}
	s.notify(mapctl.LevelSuccess, "Route deleted")
	return nil
}

// Search runs a location search. A newer search cancels this one.
func (s *Shell) Search(ctx context.Context, query string) ([]models.Location, error) {
	if s.search == nil {
		return nil, fmt.Errorf("shell: %w: search", mapctl.ErrMissingDependency)
	}
	out, err := s.search.Search(ctx, query)
	if err != nil {
		if validation.IsValidationError(err) {
			return nil, err
		}
		return nil, s.fail("search", err)
	}
	if len(out) == 0 {
		s.notify(mapctl.LevelInfo, fmt.Sprintf("No results for %q", strings.TrimSpace(query)))
	}
	return out, nil
}

// Suggest returns search suggestions; failures yield none.
func (s *Shell) Suggest(ctx context.Context, prefix string) []models.Location {
	if s.search == nil {
		return nil
	}
	return s.search.Suggest(ctx, prefix)
}

// RecentSearches returns the recent queries, newest first.
func (s *Shell) RecentSearches(ctx context.Context) []string {
	if s.search == nil {
		return nil
	}
	return s.search.Recent(ctx)
}
