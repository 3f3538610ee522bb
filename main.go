package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rubiojr/travelmate/pkg/config"
	"github.com/rubiojr/travelmate/pkg/geolocate"
	"github.com/rubiojr/travelmate/pkg/logger"
	"github.com/rubiojr/travelmate/pkg/models"
	"github.com/rubiojr/travelmate/pkg/storage"
)

func main() {
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	hostFlag := flag.String("host", os.Getenv("TRAVELMATE_HOST"), "host the client is served from; selects the environment")
	listenFlag := flag.String("listen", "", "bridge listen address (overrides bridge_listen)")
	dataDirFlag := flag.String("data-dir", "", "custom data directory (overrides XDG_DATA_HOME)")
	configDirFlag := flag.String("config-dir", "", "custom config directory (overrides XDG_CONFIG_HOME)")
	cacheDirFlag := flag.String("cache-dir", "", "custom cache directory (overrides XDG_CACHE_HOME)")
	flag.Parse()

	dirs, err := resolveDirs(*dataDirFlag, *configDirFlag, *cacheDirFlag)
	if err != nil {
		logger.Fatal("Failed to create application directories: %v", err)
	}

	// .env files only fill variables that are not already set.
	_ = godotenv.Load()
	if envFile := filepath.Join(dirs.Config, ".env"); fileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			logger.Warn("Failed to load %s: %v", envFile, err)
		}
	}
	if os.Getenv(config.ConfigPathEnv) == "" {
		if p := filepath.Join(dirs.Config, appName+".yaml"); fileExists(p) {
			os.Setenv(config.ConfigPathEnv, p)
		}
	}

	cfg, err := config.Load(*hostFlag)
	if err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if *debugFlag || cfg.Debug {
		logger.SetDebug(true)
	}
	if *listenFlag != "" {
		cfg.BridgeListen = *listenFlag
	}

	dbPath := cfg.StoragePath
	if dbPath == "" {
		dbPath = filepath.Join(dirs.Data, appName+".db")
	}
	store, err := storage.Open(dbPath, string(cfg.Environment), storage.WithMaxErrors(cfg.Errors.MaxEntries))
	if err != nil {
		logger.Fatal("Failed to open storage %s: %v", dbPath, err)
	}
	defer store.Close()

	app, err := newApp(cfg, store, newLocator(cfg), nil, dirs.Data)
	if err != nil {
		logger.Fatal("Failed to start: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.BridgeListen,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.Info("TravelMate (%s) bridge on http://%s, backend %s", cfg.Environment, cfg.BridgeListen, cfg.APIURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Bridge server error on %s: %v", cfg.BridgeListen, err)
			stop()
		}
	}()

	if email, ok := app.restoreSession(ctx); ok {
		logger.Info("Restored session for %s", email)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	app.hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Bridge shutdown: %v", err)
	}
	app.shell.Flush()
}

// newLocator uses the configured fixed position when present, GeoClue
// otherwise.
func newLocator(cfg *config.Config) geolocate.Locator {
	g := cfg.Geolocation
	if g.FallbackLat != nil && g.FallbackLon != nil {
		return geolocate.NewStatic(models.Coordinate{Latitude: *g.FallbackLat, Longitude: *g.FallbackLon})
	}
	if path, err := geolocate.EnsureDesktopFile(xdgDataDir(), g.DesktopID); err != nil {
		logger.Warn("Failed to write desktop file for GeoClue: %v", err)
	} else {
		logger.Debug("GeoClue desktop file: %s", path)
	}
	return geolocate.NewGeoClue(g.DesktopID)
}
