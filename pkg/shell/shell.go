// Package shell owns the session: login, registration, logout and the
// startup token check. It gates the features that need a user, wires the map
// controller and search, and is the central error boundary for all of them.
package shell

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rubiojr/travelmate/pkg/apiclient"
	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/logger"
	"github.com/rubiojr/travelmate/pkg/mapctl"
	"github.com/rubiojr/travelmate/pkg/models"
	"github.com/rubiojr/travelmate/pkg/storage"
	"github.com/rubiojr/travelmate/pkg/validation"
)

// TokenKey is the storage key of the session token. The store namespaces it
// by environment.
const TokenKey = "auth_token"

// API is the backend surface used by the shell.
type API interface {
	Login(ctx context.Context, email, password string) (backend.Token, error)
	Register(ctx context.Context, req backend.RegisterRequest) (models.UserProfile, error)
	Me(ctx context.Context) (models.UserProfile, error)
	UpdateProfile(ctx context.Context, upd backend.ProfileUpdate) (models.UserProfile, error)
	Dashboard(ctx context.Context) (models.Dashboard, error)
	VisitedCountries(ctx context.Context) ([]models.VisitedCountry, error)
	AddVisitedCountry(ctx context.Context, code, name string) (models.VisitedCountry, error)
	RemoveVisitedCountry(ctx context.Context, id int64) error
	Countries(ctx context.Context) ([]models.Country, error)
	UploadAvatar(ctx context.Context, photo backend.Photo) (models.UserProfile, error)
	DeleteAvatar(ctx context.Context) error
	Places(ctx context.Context) ([]models.Place, error)
	UpdatePlace(ctx context.Context, id int64, upd backend.PlaceUpdate) (models.Place, error)
	AddPlaceImage(ctx context.Context, placeID int64, img backend.ImageInput) (models.Image, error)
	Routes(ctx context.Context, skip, limit int) (models.RouteList, error)
	DeleteRoute(ctx context.Context, id int64) error
}

// KV persists the session token.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ErrorLog is the rolling local error log.
type ErrorLog interface {
	AppendError(ctx context.Context, e storage.ErrorEntry, ttl time.Duration) (storage.ErrorEntry, error)
}

// CacheClearer drops cached API responses.
type CacheClearer interface {
	ClearCache()
}

// Notifier shows status messages.
type Notifier interface {
	Notify(level mapctl.Level, msg string)
}

// Map is the map controller as seen by the shell.
type Map interface {
	LoadUserPlaces(ctx context.Context) error
	LoadPublicPlaces(ctx context.Context) error
	DeletePlace(ctx context.Context, id int64) error
	Reset()
}

// Searcher is the location search service.
type Searcher interface {
	Search(ctx context.Context, query string) ([]models.Location, error)
	Suggest(ctx context.Context, prefix string) []models.Location
	Recent(ctx context.Context) []string
	Cancel()
}

// MapBuilder builds the map controller. It receives the shell, which serves
// as the controller's session and error handler.
type MapBuilder func(s *Shell) (Map, error)

// Options configures a Shell. API, Store, Notifier and Map are required.
type Options struct {
	API      API
	Store    KV
	ErrorLog ErrorLog
	Cache    CacheClearer
	Notifier Notifier
	Search   Searcher
	Reporter *Reporter
	Map      MapBuilder
}

// Shell is the application root.
type Shell struct {
	api      API
	kv       KV
	errlog   ErrorLog
	cache    CacheClearer
	notifier Notifier
	search   Searcher
	reporter *Reporter
	m        Map
	log      zerolog.Logger

	reports sync.WaitGroup

	mu    sync.RWMutex
	token string
	user  *models.UserProfile
}

// New builds the shell and its map controller.
func New(opts Options) (*Shell, error) {
	missing := []string{}
	if opts.API == nil {
		missing = append(missing, "API")
	}
	if opts.Store == nil {
		missing = append(missing, "Store")
	}
	if opts.Notifier == nil {
		missing = append(missing, "Notifier")
	}
	if opts.Map == nil {
		missing = append(missing, "Map")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("shell: %w: %v", mapctl.ErrMissingDependency, missing)
	}
	s := &Shell{
		api:      opts.API,
		kv:       opts.Store,
		errlog:   opts.ErrorLog,
		cache:    opts.Cache,
		notifier: opts.Notifier,
		search:   opts.Search,
		reporter: opts.Reporter,
		log:      logger.With("shell"),
	}
	m, err := opts.Map(s)
	if err != nil {
		return nil, fmt.Errorf("shell: build map: %w", err)
	}
	s.m = m
	return s, nil
}

// Token returns the session bearer token, empty for a guest.
func (s *Shell) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Authenticated reports whether a user is logged in.
func (s *Shell) Authenticated() bool {
	return s.Token() != ""
}

// User returns the logged-in user, or nil for a guest.
func (s *Shell) User() *models.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Map returns the map controller.
func (s *Shell) Map() Map { return s.m }

// Flush waits for pending error reports and session cleanup.
func (s *Shell) Flush() { s.reports.Wait() }

func (s *Shell) notify(level mapctl.Level, msg string) {
	s.notifier.Notify(level, msg)
}

func (s *Shell) requireAuth() error {
	if !s.Authenticated() {
		s.notify(mapctl.LevelWarning, "Please log in first.")
		return mapctl.ErrUnauthenticated
	}
	return nil
}

// Start restores a stored session, validating it once, and loads the public
// places. It returns whether a user session is active.
func (s *Shell) Start(ctx context.Context) bool {
	tok, err := s.kv.Get(ctx, TokenKey)
	switch {
	case err == nil && tok != "":
		s.mu.Lock()
		s.token = tok
		s.mu.Unlock()
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		s.log.Warn().Err(err).Msg("reading stored token")
	}
	ok := false
	if s.Authenticated() {
		ok = s.ValidateToken(ctx)
	}
	if err := s.m.LoadPublicPlaces(ctx); err != nil {
		s.log.Debug().Err(err).Msg("public places not loaded")
	}
	return ok
}

// ValidateToken checks the current token against /auth/me. Any failure,
// network errors included, ends the session; there is no retry.
func (s *Shell) ValidateToken(ctx context.Context) bool {
	if !s.Authenticated() {
		return false
	}
	me, err := s.api.Me(ctx)
	if err != nil {
		s.log.Info().Err(err).Msg("stored session is no longer valid")
		s.clearSession()
		return false
	}
	s.mu.Lock()
	s.user = &me
	s.mu.Unlock()
	if err := s.m.LoadUserPlaces(ctx); err != nil {
		s.log.Debug().Err(err).Msg("user places not loaded")
	}
	return s.Authenticated()
}

// Login authenticates, stores the token, fetches the profile and loads the
// user's places. Bad input never reaches the network.
func (s *Shell) Login(ctx context.Context, email, password string) (models.UserProfile, error) {
	form := validation.LoginForm{Email: email, Password: password}
	if err := form.Validate(); err != nil {
		s.notify(mapctl.LevelWarning, err.Error())
		return models.UserProfile{}, err
	}

	tok, err := s.api.Login(ctx, form.Email, form.Password)
	if err != nil {
		if st := apiclient.StatusOf(err); st == http.StatusBadRequest || st == http.StatusUnauthorized {
			err = fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return models.UserProfile{}, s.fail("login", err)
	}
	if tok.AccessToken == "" {
		return models.UserProfile{}, s.fail("login", fmt.Errorf("%w: empty token", ErrInvalidCredentials))
	}

	s.mu.Lock()
	s.token = tok.AccessToken
	s.mu.Unlock()
	if err := s.kv.Set(ctx, TokenKey, tok.AccessToken, 0); err != nil {
		s.log.Warn().Err(err).Msg("token not persisted")
	}

	me, err := s.api.Me(ctx)
	if err != nil {
		s.clearSession()
		return models.UserProfile{}, s.fail("login", err)
	}
	s.mu.Lock()
	s.user = &me
	s.mu.Unlock()

	s.log.Info().Int64("user", me.ID).Msg("logged in")
	s.notify(mapctl.LevelSuccess, fmt.Sprintf("Welcome back, %s!", me.Name))
	if err := s.m.LoadUserPlaces(ctx); err != nil {
		s.log.Debug().Err(err).Msg("user places not loaded")
	}
	return me, nil
}

// Register creates an account. It does not log in; the user is sent back
// to the login form.
func (s *Shell) Register(ctx context.Context, name, email, password string) (models.UserProfile, error) {
	form := validation.RegisterForm{Name: name, Email: email, Password: password}
	if err := form.Validate(); err != nil {
		s.notify(mapctl.LevelWarning, err.Error())
		return models.UserProfile{}, err
	}
	u, err := s.api.Register(ctx, backend.RegisterRequest{Name: form.Name, Email: form.Email, Password: form.Password})
	if err != nil {
		return models.UserProfile{}, s.fail("register", err)
	}
	s.notify(mapctl.LevelSuccess, "Registration successful. Please log in.")
	return u, nil
}

// Logout ends the session and returns the map to its guest state. The token
// is cleared even if the map cleanup panics. Calling it twice is harmless.
func (s *Shell) Logout() {
	wasAuthed := s.Authenticated()
	defer s.clearSession()

	s.resetViews()
	if wasAuthed {
		s.notify(mapctl.LevelInfo, "You have been logged out.")
	}
}

// resetViews drops in-flight searches, cached responses and map state.
func (s *Shell) resetViews() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("logout cleanup failed")
		}
	}()
	if s.search != nil {
		s.search.Cancel()
	}
	if s.cache != nil {
		s.cache.ClearCache()
	}
	s.m.Reset()
}

// expireSession logs the user out when the backend rejects the held token.
// The map is reset asynchronously since callers may hold the map lock.
func (s *Shell) expireSession(err error) {
	if !apiclient.IsUnauthorized(err) || errors.Is(err, ErrInvalidCredentials) || s.Token() == "" {
		return
	}
	s.log.Warn().Err(err).Msg("session rejected by backend, logging out")
	s.clearSession()
	s.reports.Add(1)
	go func() {
		defer s.reports.Done()
		s.resetViews()
	}()
}

// clearSession forgets the token and user, in memory and on disk.
func (s *Shell) clearSession() {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.kv.Delete(ctx, TokenKey); err != nil {
		s.log.Error().Err(err).Msg("stored token not cleared")
	}
}
