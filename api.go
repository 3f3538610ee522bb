package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rubiojr/travelmate/pkg/apiclient"
	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/geolocate"
	"github.com/rubiojr/travelmate/pkg/gpx"
	"github.com/rubiojr/travelmate/pkg/logger"
	"github.com/rubiojr/travelmate/pkg/mapctl"
	"github.com/rubiojr/travelmate/pkg/models"
	"github.com/rubiojr/travelmate/pkg/shell"
	"github.com/rubiojr/travelmate/pkg/task"
	"github.com/rubiojr/travelmate/pkg/validation"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 12 << 20
	maxGPXBody    = 8 << 20
)

// Router builds the local bridge: the HTTP and websocket surface a renderer
// uses to drive the shell and the map controller.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger.With("bridge")))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/api/version", handleGetVersion)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/events", a.hub.ServeWS)
	r.Get("/api/errors", a.handleGetErrors)
	r.Get("/api/location", a.handleGetLocation)

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", a.handleGetSession)
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(10, time.Minute))
			r.Post("/login", a.handlePostLogin)
			r.Post("/register", a.handlePostRegister)
		})
		r.Post("/logout", a.handlePostLogout)
	})

	r.Route("/api/map", func(r chi.Router) {
		r.Get("/state", a.handleGetMapState)
		r.Post("/right-click", a.handlePostRightClick)
		r.Post("/click", a.handlePostClick)
		r.Post("/context/start", a.handlePostContextStart)
		r.Post("/context/end", a.handlePostContextEnd)
		r.Post("/context/add-place", a.handlePostContextAddPlace)
		r.Post("/context/dismiss", a.handlePostContextDismiss)
		r.Post("/add-place-mode", a.handlePostAddPlaceMode)
		r.Post("/quick-add", a.handlePostQuickAdd)
		r.Post("/quick-add/cancel", a.handlePostQuickAddCancel)
		r.Post("/login-modal/dismiss", a.handlePostLoginDismiss)
		r.Post("/route", a.handlePostRoute)
		r.Delete("/route", a.handleDeleteRoute)
		r.Post("/route/endpoints", a.handlePostRouteEndpoints)
		r.Post("/route/profile", a.handlePostRouteProfile)
		r.Post("/route/save", a.handlePostRouteSave)
		r.Post("/route-to-place", a.handlePostRouteToPlace)
	})

	r.Route("/api/places", func(r chi.Router) {
		r.Get("/", a.handleGetPlaces)
		r.Get("/public", a.handleGetPublicPlaces)
		r.Get("/export.gpx", a.handleGetPlacesGPX)
		r.Post("/export", a.handlePostPlacesExport)
		r.Post("/import", a.handlePostPlacesImport)
		r.Patch("/{id}", a.handlePatchPlace)
		r.Delete("/{id}", a.handleDeletePlace)
		r.Post("/{id}/images", a.handlePostPlaceImage)
	})

	r.Get("/api/search", a.handleGetSearch)
	r.Get("/api/search/recent", a.handleGetRecentSearches)
	r.Get("/api/suggest", a.handleGetSuggest)

	r.Route("/api/profile", func(r chi.Router) {
		r.Get("/dashboard", a.handleGetDashboard)
		r.Put("/", a.handlePutProfile)
		r.Get("/countries", a.handleGetCountries)
		r.Get("/visited-countries", a.handleGetVisitedCountries)
		r.Post("/visited-countries", a.handlePostVisitedCountry)
		r.Delete("/visited-countries/{id}", a.handleDeleteVisitedCountry)
		r.Post("/avatar", a.handlePostAvatar)
		r.Delete("/avatar", a.handleDeleteAvatar)
	})

	r.Route("/api/routes", func(r chi.Router) {
		r.Get("/", a.handleGetRoutes)
		r.Delete("/{id}", a.handleDeleteSavedRoute)
	})
	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("bridge request")
		})
	}
}

// ---------------- Helpers ----------------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps a failure to the bridge response status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mapctl.ErrInvalidTransition),
		errors.Is(err, mapctl.ErrNoStagedCoordinate),
		errors.Is(err, mapctl.ErrMissingEndpoints),
		task.IsSuperseded(err):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return 499
	}
	switch shell.Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "invalid_credentials", "unauthenticated", "unauthorized":
		return http.StatusUnauthorized
	case "rate_limit":
		return http.StatusTooManyRequests
	case "timeout":
		return http.StatusGatewayTimeout
	case "no_route":
		return http.StatusUnprocessableEntity
	case "geolocation":
		return http.StatusServiceUnavailable
	case "forbidden":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "http":
		return apiclient.StatusOf(err)
	case "network", "server":
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeOpError answers a failed shell or controller operation. Those already
// went through the error boundary, so only the message is derived here.
func writeOpError(w http.ResponseWriter, err error) {
	msg := shell.Message(err)
	if msg == "" || shell.Kind(err) == "unknown" {
		msg = err.Error()
	}
	writeJSON(w, statusFor(err), errorBody{Error: msg, Kind: shell.Kind(err)})
}

// writeError answers a failure that originated in the bridge itself and
// routes it through the error boundary.
func (a *App) writeError(w http.ResponseWriter, op string, err error) {
	msg := a.shell.HandleError(op, err)
	if msg == "" {
		msg = err.Error()
	}
	writeJSON(w, statusFor(err), errorBody{Error: msg, Kind: shell.Kind(err)})
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf(format, args...), Kind: "validation"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v); err != nil {
		badRequest(w, "invalid JSON: %v", err)
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid id %q", chi.URLParam(r, "id"))
		return 0, false
	}
	return id, true
}

type coordinateRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c coordinateRequest) coordinate() (models.Coordinate, error) {
	at := models.Coordinate{Latitude: c.Lat, Longitude: c.Lon}
	return at, at.Validate()
}

// ---------------- Version / diagnostics ----------------

// handleGetVersion returns runtime version information
func handleGetVersion(w http.ResponseWriter, r *http.Request) {
	versionInfo := map[string]interface{}{
		"app":        appName,
		"go_version": runtime.Version(),
		"go_os":      runtime.GOOS,
		"go_arch":    runtime.GOARCH,
	}

	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		versionInfo["go_module"] = buildInfo.Path
		if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
			versionInfo["app_version"] = buildInfo.Main.Version
		}

		settings := make(map[string]string)
		for _, setting := range buildInfo.Settings {
			switch setting.Key {
			case "vcs.revision":
				settings["commit"] = setting.Value
				if len(setting.Value) > 7 {
					settings["commit_short"] = setting.Value[:7]
				}
			case "vcs.time":
				settings["build_time"] = setting.Value
			case "vcs.modified":
				settings["dirty"] = setting.Value
			}
		}
		if len(settings) > 0 {
			versionInfo["build_info"] = settings
		}
	}
	writeJSON(w, http.StatusOK, versionInfo)
}

func (a *App) handleGetErrors(w http.ResponseWriter, r *http.Request) {
	entries, err := a.store.Errors(r.Context())
	if err != nil {
		a.writeError(w, "read error log", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---------------- Location ----------------

func (a *App) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	fix, err := a.locator.Locate(r.Context(), geolocate.Options{
		Timeout:      a.cfg.Geolocation.Timeout,
		HighAccuracy: a.cfg.Geolocation.HighAccuracy,
	})
	if err != nil {
		if geolocate.ReasonOf(err) == geolocate.ReasonUnavailable {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		a.writeError(w, "locate", err)
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

// ---------------- Session ----------------

type sessionResponse struct {
	Authenticated bool                `json:"authenticated"`
	User          *models.UserProfile `json:"user,omitempty"`
	Environment   string              `json:"environment"`
	API           string              `json:"api_url"`
}

func (a *App) session() sessionResponse {
	return sessionResponse{
		Authenticated: a.shell.Authenticated(),
		User:          a.shell.User(),
		Environment:   string(a.cfg.Environment),
		API:           a.api.BaseURL(),
	}
}

func (a *App) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.session())
}

func (a *App) handlePostLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := a.shell.Login(r.Context(), req.Email, req.Password); err != nil {
		writeOpError(w, err)
		return
	}
	a.view.HideLoginModal()
	s := a.session()
	a.hub.Publish(EventSession, s)
	writeJSON(w, http.StatusOK, s)
}

func (a *App) handlePostRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := a.shell.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (a *App) handlePostLogout(w http.ResponseWriter, r *http.Request) {
	a.shell.Logout()
	s := a.session()
	a.hub.Publish(EventSession, s)
	writeJSON(w, http.StatusOK, s)
}

// ---------------- Map interaction ----------------

type mapStateResponse struct {
	Controller mapctl.State `json:"controller"`
	View       ViewState    `json:"view"`
}

func (a *App) handleGetMapState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mapStateResponse{Controller: a.ctl.Snapshot(), View: a.view.State()})
}

func (a *App) writeMapState(w http.ResponseWriter, status int) {
	writeJSON(w, status, mapStateResponse{Controller: a.ctl.Snapshot(), View: a.view.State()})
}

func (a *App) handlePostRightClick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		coordinateRequest
		OnMarker bool `json:"on_marker"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	at, err := req.coordinate()
	if err != nil {
		writeOpError(w, err)
		return
	}
	if err := a.ctl.RightClick(at, req.OnMarker); err != nil {
		writeOpError(w, err)
		return
	}
	a.writeMapState(w, http.StatusOK)
}

func (a *App) handlePostClick(w http.ResponseWriter, r *http.Request) {
	var req coordinateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	at, err := req.coordinate()
	if err != nil {
		writeOpError(w, err)
		return
	}
	if err := a.ctl.Click(at); err != nil {
		writeOpError(w, err)
		return
	}
	a.writeMapState(w, http.StatusOK)
}

func (a *App) handlePostContextStart(w http.ResponseWriter, r *http.Request) {
	if err := a.ctl.SelectSetStart(r.Context()); err != nil {
		writeOpError(w, err)
		return
	}
	a.writeMapState(w, http.StatusOK)
}

func (a *App) handlePostContextEnd(w http.ResponseWriter, r *http.Request) {
	if err := a.ctl.SelectSetEnd(r.Context()); err != nil {
		writeOpError(w, err)
		return
	}
	a.writeMapState(w, http.StatusOK)
}

func (a *App) handlePostContextAddPlace(w http.ResponseWriter, r *http.Request) {
	if err := a.ctl.SelectAddPlace(); err != nil {
		writeOpError(w, err)
		return
	}
	a.writeMapState(w, http.StatusOK)
}

func (a *App) handlePostContextDismiss(w http.ResponseWriter, r *http.Request) {
	a.ctl.DismissContextMenu()
	a.writeMapState(w, http.StatusOK)
}

func (a *App) handlePostAddPlaceMode(w http.ResponseWriter, r *http.Request) {
	if _, err := a.ctl.ToggleAddPlaceMode(); err != nil {
		writeOpError(w, err)
		return
	}
	a.writeMapState(w, http.StatusOK)
}

func (a *App) handlePostQuickAddCancel(w http.ResponseWriter, r *http.Request) {
	a.ctl.CancelQuickAdd()
	a.writeMapState(w, http.StatusOK)
}

func (a *App) handlePostLoginDismiss(w http.ResponseWriter, r *http.Request) {
	a.view.HideLoginModal()
	a.writeMapState(w, http.StatusOK)
}

type quickAddRequest struct {
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	Category     string               `json:"category"`
	Website      string               `json:"website"`
	IsPublic     bool                 `json:"is_public"`
	CustomFields []models.CustomField `json:"custom_fields"`
}

// readQuickAdd accepts either a JSON body or a multipart form whose optional
// "photo" part becomes the place photo.
func readQuickAdd(w http.ResponseWriter, r *http.Request) (mapctl.QuickPlace, error) {
	var in quickAddRequest
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&in); err != nil {
			return mapctl.QuickPlace{}, validation.Errorf("body", "invalid JSON: %v", err)
		}
		return in.place(nil), nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		return mapctl.QuickPlace{}, validation.Errorf("body", "invalid form: %v", err)
	}
	in.Name = r.FormValue("name")
	in.Description = r.FormValue("description")
	in.Category = r.FormValue("category")
	in.Website = r.FormValue("website")
	in.IsPublic, _ = strconv.ParseBool(r.FormValue("is_public"))
	if raw := r.FormValue("custom_fields"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.CustomFields); err != nil {
			return mapctl.QuickPlace{}, validation.Errorf("custom_fields", "invalid custom fields: %v", err)
		}
	}
	photo, err := formPhoto(r, "photo")
	if err != nil {
		return mapctl.QuickPlace{}, err
	}
	return in.place(photo), nil
}

func (in quickAddRequest) place(photo *backend.Photo) mapctl.QuickPlace {
	return mapctl.QuickPlace{
		Name:         in.Name,
		Description:  in.Description,
		Category:     in.Category,
		Website:      in.Website,
		IsPublic:     in.IsPublic,
		CustomFields: in.CustomFields,
		Photo:        photo,
	}
}

// formPhoto reads an optional file part. Nil when the part is absent.
func formPhoto(r *http.Request, field string) (*backend.Photo, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, validation.Errorf(field, "invalid upload: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, validation.Errorf(field, "invalid upload: %v", err)
	}
	return &backend.Photo{Filename: hdr.Filename, ContentType: hdr.Header.Get("Content-Type"), Data: data}, nil
}

func (a *App) handlePostQuickAdd(w http.ResponseWriter, r *http.Request) {
	in, err := readQuickAdd(w, r)
	if err != nil {
		writeOpError(w, err)
		return
	}
	place, err := a.ctl.SubmitQuickPlace(r.Context(), in)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, place)
}

func (a *App) handlePostRoute(w http.ResponseWriter, r *http.Request) {
	route, err := a.ctl.CalculateRoute(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (a *App) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	a.ctl.ClearRoute()
	a.writeMapState(w, http.StatusOK)
}

type endpointRequest struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Label string  `json:"label"`
}

func (e *endpointRequest) endpoint() (models.RouteEndpoint, error) {
	at := models.Coordinate{Latitude: e.Lat, Longitude: e.Lon}
	return models.RouteEndpoint{Coordinate: at, Label: e.Label}, at.Validate()
}

func (a *App) handlePostRouteEndpoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start *endpointRequest `json:"start"`
		End   *endpointRequest `json:"end"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Start == nil && req.End == nil {
		badRequest(w, "start or end required")
		return
	}
	if req.Start != nil {
		ep, err := req.Start.endpoint()
		if err == nil {
			err = a.ctl.SetStart(r.Context(), ep)
		}
		if err != nil {
			writeOpError(w, err)
			return
		}
	}
	if req.End != nil {
		ep, err := req.End.endpoint()
		if err == nil {
			err = a.ctl.SetEnd(r.Context(), ep)
		}
		if err != nil {
			writeOpError(w, err)
			return
		}
	}
	a.writeMapState(w, http.StatusOK)
}

func (a *App) handlePostRouteProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile string `json:"profile"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.ctl.SetProfile(r.Context(), req.Profile); err != nil {
		writeOpError(w, err)
		return
	}
	a.writeMapState(w, http.StatusOK)
}

func (a *App) handlePostRouteSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	saved, err := a.ctl.SaveRoute(r.Context(), req.Name, req.Description)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (a *App) handlePostRouteToPlace(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ep, err := req.endpoint()
	if err != nil {
		writeOpError(w, err)
		return
	}
	if err := a.ctl.RouteToPlace(r.Context(), ep.Coordinate, ep.Label); err != nil {
		writeOpError(w, err)
		return
	}
	a.writeMapState(w, http.StatusOK)
}

// ---------------- Places ----------------

func (a *App) handleGetPlaces(w http.ResponseWriter, r *http.Request) {
	places, err := a.shell.Places(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, places)
}

func (a *App) handleGetPublicPlaces(w http.ResponseWriter, r *http.Request) {
	places, err := a.backend.PublicPlaces(r.Context())
	if err != nil {
		a.writeError(w, "load public places", err)
		return
	}
	writeJSON(w, http.StatusOK, places)
}

func (a *App) handlePatchPlace(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var upd backend.PlaceUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	p, err := a.shell.UpdatePlace(r.Context(), id, upd)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *App) handleDeletePlace(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := a.shell.DeletePlace(r.Context(), id); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handlePostPlaceImage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var img backend.ImageInput
	if !decodeJSON(w, r, &img) {
		return
	}
	out, err := a.shell.AddPlaceImage(r.Context(), id, img)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// handleGetPlacesGPX exports the user's places and saved routes.
func (a *App) handleGetPlacesGPX(w http.ResponseWriter, r *http.Request) {
	places, err := a.shell.Places(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	list, err := a.shell.SavedRoutes(r.Context(), 0, 100)
	if err != nil {
		writeOpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/gpx+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="travelmate.gpx"`)
	_, _ = w.Write(gpx.Encode(places, list.Routes))
}

// handlePostPlacesExport writes the GPX export under the data directory.
func (a *App) handlePostPlacesExport(w http.ResponseWriter, r *http.Request) {
	places, err := a.shell.Places(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	list, err := a.shell.SavedRoutes(r.Context(), 0, 100)
	if err != nil {
		writeOpError(w, err)
		return
	}
	path := filepath.Join(a.dataDir, "exports", "travelmate-"+time.Now().Format("20060102-150405")+".gpx")
	if err := gpx.WriteFile(path, places, list.Routes); err != nil {
		a.writeError(w, "export places", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"path": path, "places": len(places), "routes": len(list.Routes)})
}

type importResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Failed   []string `json:"failed,omitempty"`
}

// handlePostPlacesImport creates a place for every GPX waypoint that is not
// already one of the user's places.
func (a *App) handlePostPlacesImport(w http.ResponseWriter, r *http.Request) {
	if !a.shell.Authenticated() {
		a.view.ShowLoginModal()
		writeOpError(w, mapctl.ErrUnauthenticated)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxGPXBody))
	if err != nil {
		badRequest(w, "read body: %v", err)
		return
	}
	wps, _, err := gpx.Parse(data)
	if err != nil {
		badRequest(w, "invalid GPX: %v", err)
		return
	}
	existing, err := a.shell.Places(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}

	var res importResult
	for _, wp := range wps {
		if containsWaypoint(existing, wp) {
			res.Skipped++
			continue
		}
		p := wp.Place()
		form := validation.PlaceForm{Name: p.Name, Description: p.Description, Category: string(p.Category), Website: p.Website}
		if err := form.Validate(); err != nil {
			res.Failed = append(res.Failed, fmt.Sprintf("%s: %v", wp.Name, err))
			continue
		}
		created, err := a.backend.CreatePlace(r.Context(), backend.PlaceInput{
			Name:        form.Name,
			Description: form.Description,
			Latitude:    p.Latitude,
			Longitude:   p.Longitude,
			Category:    models.Category(form.Category).Normalize(),
			Website:     form.Website,
		}, nil)
		if err != nil {
			res.Failed = append(res.Failed, fmt.Sprintf("%s: %s", wp.Name, a.shell.HandleError("import place", err)))
			continue
		}
		existing = append(existing, created)
		res.Imported++
	}
	if res.Imported > 0 {
		if err := a.ctl.LoadUserPlaces(r.Context()); err != nil {
			logger.Warn("reload places after import: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func containsWaypoint(places []models.Place, wp gpx.Waypoint) bool {
	for _, p := range places {
		if wp.Same(p) {
			return true
		}
	}
	return false
}

// ---------------- Search ----------------

func (a *App) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	results, err := a.shell.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (a *App) handleGetSuggest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.shell.Suggest(r.Context(), r.URL.Query().Get("q")))
}

func (a *App) handleGetRecentSearches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.shell.RecentSearches(r.Context()))
}

// ---------------- Profile ----------------

func (a *App) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := a.shell.Dashboard(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *App) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Bio  string `json:"bio"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := a.shell.UpdateProfile(r.Context(), req.Name, req.Bio)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *App) handleGetCountries(w http.ResponseWriter, r *http.Request) {
	c, err := a.shell.Countries(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *App) handleGetVisitedCountries(w http.ResponseWriter, r *http.Request) {
	c, err := a.shell.VisitedCountries(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *App) handlePostVisitedCountry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"country_code"`
		Name string `json:"country_name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := a.shell.AddVisitedCountry(r.Context(), req.Code, req.Name)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *App) handleDeleteVisitedCountry(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := a.shell.RemoveVisitedCountry(r.Context(), id); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handlePostAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		badRequest(w, "invalid form: %v", err)
		return
	}
	photo, err := formPhoto(r, "avatar")
	if err != nil {
		writeOpError(w, err)
		return
	}
	if photo == nil {
		badRequest(w, "avatar file required")
		return
	}
	u, err := a.shell.UploadAvatar(r.Context(), *photo)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *App) handleDeleteAvatar(w http.ResponseWriter, r *http.Request) {
	if err := a.shell.DeleteAvatar(r.Context()); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------- Saved routes ----------------

func (a *App) handleGetRoutes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	list, err := a.shell.SavedRoutes(r.Context(), skip, limit)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *App) handleDeleteSavedRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := a.shell.DeleteRoute(r.Context(), id); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
