package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rubiojr/travelmate/pkg/apiclient"
	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/config"
	"github.com/rubiojr/travelmate/pkg/geolocate"
	"github.com/rubiojr/travelmate/pkg/mapctl"
	"github.com/rubiojr/travelmate/pkg/routing"
	"github.com/rubiojr/travelmate/pkg/search"
	"github.com/rubiojr/travelmate/pkg/shell"
	"github.com/rubiojr/travelmate/pkg/storage"
)

// App is the wired client: one shell owning the map controller, the
// collaborators they share and the bridge that exposes them.
type App struct {
	cfg     *config.Config
	store   *storage.Store
	api     *apiclient.Client
	backend *backend.Client
	locator geolocate.Locator
	search  *search.Service
	shell   *shell.Shell
	ctl     *mapctl.Controller
	view    *View
	hub     *Hub
	dataDir string
}

// newApp wires every component from the configuration. The HTTP client is
// optional (tests pass one bound to a fake backend).
func newApp(cfg *config.Config, store *storage.Store, loc geolocate.Locator, httpClient *http.Client, dataDir string) (*App, error) {
	a := &App{cfg: cfg, store: store, locator: loc, hub: NewHub(), dataDir: dataDir}
	a.view = NewView(a.hub)

	api, err := apiclient.New(apiclient.Options{
		BaseURL:       cfg.APIURL,
		Timeout:       cfg.RequestTimeout,
		CacheDuration: cfg.CacheDuration,
		Limits: map[apiclient.Category]int{
			apiclient.CategorySearch:  cfg.RateLimits.Search,
			apiclient.CategoryRoutes:  cfg.RateLimits.Routes,
			apiclient.CategoryGeneral: cfg.RateLimits.General,
		},
		Tokens:     apiclient.TokenFunc(a.token),
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, err
	}
	a.api = api
	a.backend = backend.New(api, backend.WithReportPath(cfg.Errors.ReportPath))

	var router routing.Router
	switch cfg.Routing.Source {
	case "backend":
		router = routing.NewBackend(a.backend)
	default:
		router = routing.NewOSRM(api, cfg.Routing.OSRMURL)
	}

	var provider search.Provider
	switch cfg.Search.Provider {
	case "nominatim":
		provider = search.NewNominatimProvider(cfg.Search.NominatimServer, store,
			search.WithRequestTimeout(cfg.RequestTimeout),
			search.WithRateLimiter(api.Limiter()))
	default:
		provider = search.NewBackendProvider(a.backend)
	}
	a.search = search.NewService(provider, store, cfg.Search.Limit)

	var reporter *shell.Reporter
	if cfg.Errors.Report {
		reporter = shell.NewReporter(a.backend, string(cfg.Environment))
	}

	sh, err := shell.New(shell.Options{
		API:      a.backend,
		Store:    store,
		ErrorLog: store,
		Cache:    api,
		Notifier: a.view,
		Search:   a.search,
		Reporter: reporter,
		Map: func(s *shell.Shell) (shell.Map, error) {
			ctl, err := mapctl.New(mapctl.Deps{
				Widget:  a.view,
				UI:      a.view,
				Session: s,
				Places:  a.backend,
				Routes:  a.backend,
				Router:  router,
				Locator: loc,
				Errors:  s,
				Geolocation: geolocate.Options{
					Timeout:      cfg.Geolocation.Timeout,
					HighAccuracy: cfg.Geolocation.HighAccuracy,
				},
				Profile: cfg.Routing.DefaultProfile,
			})
			if err != nil {
				return nil, err
			}
			a.ctl = ctl
			return ctl, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wire shell: %w", err)
	}
	a.shell = sh
	return a, nil
}

// token feeds the session token to the API client.
func (a *App) token() string {
	if a.shell == nil {
		return ""
	}
	return a.shell.Token()
}

// restoreSession starts the shell and returns the email of a restored user.
func (a *App) restoreSession(ctx context.Context) (string, bool) {
	if !a.shell.Start(ctx) {
		return "", false
	}
	u := a.shell.User()
	if u == nil {
		return "", false
	}
	return u.Email, true
}
