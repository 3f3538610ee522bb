// Package config resolves the client configuration. The environment is
// detected from the hostname the client is served from, which selects the
// defaults; a YAML file and TRAVELMATE_* variables may override them, and in
// the local environment a page URL may override the API URL and debug flag.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/rubiojr/travelmate/pkg/validation"
)

// Environment is the deployment the client talks to.
type Environment string

const (
	Local      Environment = "local"
	Staging    Environment = "staging"
	Production Environment = "production"
)

// ConfigPathEnv overrides the YAML config file location.
const ConfigPathEnv = "TRAVELMATE_CONFIG"

const envPrefix = "TRAVELMATE_"

// DefaultConfigPaths are searched in order when ConfigPathEnv is unset.
var DefaultConfigPaths = []string{"travelmate.yaml", "travelmate.yml"}

// RateLimits caps requests per 60 second window for each operation category.
type RateLimits struct {
	Search  int `koanf:"search" validate:"min=1"`
	Routes  int `koanf:"routes" validate:"min=1"`
	General int `koanf:"general" validate:"min=1"`
}

type RoutingConfig struct {
	Source         string `koanf:"source" validate:"oneof=osrm backend"`
	OSRMURL        string `koanf:"osrm_url" validate:"required,url"`
	DefaultProfile string `koanf:"default_profile" validate:"oneof=driving cycling walking"`
}

type SearchConfig struct {
	Provider        string `koanf:"provider" validate:"oneof=backend nominatim"`
	NominatimServer string `koanf:"nominatim_server" validate:"required,url"`
	Limit           int    `koanf:"limit" validate:"min=1,max=20"`
}

type GeolocationConfig struct {
	Timeout      time.Duration `koanf:"timeout"`
	HighAccuracy bool          `koanf:"high_accuracy"`
	DesktopID    string        `koanf:"desktop_id"`
	// Fixed position used instead of GeoClue when both are set.
	FallbackLat *float64 `koanf:"fallback_lat"`
	FallbackLon *float64 `koanf:"fallback_lon"`
}

type ErrorsConfig struct {
	Report     bool   `koanf:"report"`
	ReportPath string `koanf:"report_path"`
	MaxEntries int    `koanf:"max_entries" validate:"min=1"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Config is the fully resolved client configuration.
type Config struct {
	Environment    Environment       `koanf:"environment"`
	APIURL         string            `koanf:"api_url" validate:"required,url"`
	CacheDuration  time.Duration     `koanf:"cache_duration"`
	RequestTimeout time.Duration     `koanf:"request_timeout"`
	RateLimits     RateLimits        `koanf:"rate_limits"`
	Debug          bool              `koanf:"debug"`
	Routing        RoutingConfig     `koanf:"routing"`
	Search         SearchConfig      `koanf:"search"`
	Geolocation    GeolocationConfig `koanf:"geolocation"`
	StoragePath    string            `koanf:"storage_path"`
	Errors         ErrorsConfig      `koanf:"errors"`
	BridgeListen   string            `koanf:"bridge_listen"`
	Log            LogConfig         `koanf:"log"`
}

// DetectEnvironment maps a hostname to an environment.
func DetectEnvironment(host string) Environment {
	h := strings.ToLower(strings.TrimSpace(host))
	if hh, _, err := net.SplitHostPort(h); err == nil {
		h = hh
	}
	h = strings.Trim(h, "[]")
	switch {
	case h == "", h == "localhost", h == "127.0.0.1", h == "::1", strings.HasSuffix(h, ".local"), strings.HasSuffix(h, ".localhost"):
		return Local
	case strings.Contains(h, "staging"):
		return Staging
	default:
		return Production
	}
}

// Defaults returns the built-in configuration for an environment.
func Defaults(e Environment) *Config {
	cfg := &Config{
		Environment:    e,
		CacheDuration:  5 * time.Minute,
		RequestTimeout: 15 * time.Second,
		RateLimits:     RateLimits{Search: 60, Routes: 30, General: 200},
		Routing: RoutingConfig{
			Source:         "osrm",
			OSRMURL:        "https://router.project-osrm.org",
			DefaultProfile: "driving",
		},
		Search: SearchConfig{
			Provider:        "backend",
			NominatimServer: "https://nominatim.openstreetmap.org",
			Limit:           5,
		},
		Geolocation: GeolocationConfig{
			Timeout:   5 * time.Second,
			DesktopID: "io.github.rubiojr.travelmate",
		},
		Errors:       ErrorsConfig{ReportPath: "/client-errors", MaxEntries: 50},
		BridgeListen: "127.0.0.1:43099",
		Log:          LogConfig{Level: "info", Format: "console"},
	}
	switch e {
	case Local:
		cfg.APIURL = "http://localhost:8000"
		cfg.CacheDuration = 30 * time.Second
		cfg.RequestTimeout = 10 * time.Second
		cfg.RateLimits = RateLimits{Search: 30, Routes: 20, General: 100}
		cfg.Debug = true
		cfg.Log.Level = "debug"
	case Staging:
		cfg.APIURL = "https://staging-api.travelmate.app"
		cfg.Errors.Report = true
	default:
		cfg.APIURL = "https://api.travelmate.app"
		cfg.Errors.Report = true
		cfg.Log.Format = "json"
	}
	return cfg
}

// Load resolves the configuration for the given hostname.
func Load(host string) (*Config, error) {
	k := koanf.New(".")

	e := DetectEnvironment(host)
	if v := os.Getenv(envPrefix + "ENVIRONMENT"); v != "" {
		e = Environment(strings.ToLower(v))
	}
	if err := k.Load(structs.Provider(Defaults(e), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.Environment = e
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey maps TRAVELMATE_RATE_LIMITS__SEARCH to rate_limits.search. A double
// underscore separates nesting levels; single underscores are kept.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	switch c.Environment {
	case Local, Staging, Production:
	default:
		return fmt.Errorf("configuration validation failed: unknown environment %q", c.Environment)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("configuration validation failed: request_timeout must be positive")
	}
	if c.CacheDuration < 0 {
		return errors.New("configuration validation failed: cache_duration must not be negative")
	}
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// ApplyDevOverrides applies the api_url and debug query parameters of a page
// URL. Only the local environment honours them.
func (c *Config) ApplyDevOverrides(page *url.URL) error {
	if c.Environment != Local || page == nil {
		return nil
	}
	q := page.Query()
	if v := q.Get("api_url"); v != "" {
		u, err := url.Parse(v)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return validation.Errorf("api_url", "api_url must be an absolute URL")
		}
		c.APIURL = strings.TrimRight(v, "/")
	}
	if v := q.Get("debug"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return validation.Errorf("debug", "debug must be true or false")
		}
		c.Debug = b
	}
	return nil
}
