package main

import (
	"os"
	"path/filepath"
)

const appName = "travelmate"

// Dirs are the application directories, resolved once at startup.
type Dirs struct {
	Data   string // database, exports
	Config string // travelmate.yaml, .env
	Cache  string
}

// resolveDirs applies the flag overrides on top of the XDG defaults and
// creates the directories.
func resolveDirs(data, config, cache string) (Dirs, error) {
	d := Dirs{Data: data, Config: config, Cache: cache}
	if d.Data == "" {
		d.Data = filepath.Join(xdgDataDir(), appName)
	}
	if d.Config == "" {
		d.Config = filepath.Join(xdgConfigDir(), appName)
	}
	if d.Cache == "" {
		d.Cache = filepath.Join(xdgCacheDir(), appName)
	}
	for _, dir := range []string{d.Data, d.Config, d.Cache} {
		if err := ensureDir(dir); err != nil {
			return d, err
		}
	}
	return d, nil
}

// fileExists reports whether the given path exists and is a file (not a directory).
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// xdgConfigDir returns $XDG_CONFIG_HOME or falls back to $HOME/.config.
func xdgConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// xdgCacheDir returns $XDG_CACHE_HOME or falls back to $HOME/.cache.
func xdgCacheDir() string {
	return xdgDir("XDG_CACHE_HOME", ".cache")
}

// xdgDataDir returns $XDG_DATA_HOME or falls back to $HOME/.local/share.
func xdgDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgDir(env, homeRel string) string {
	if d := os.Getenv(env); d != "" {
		return d
	}
	home := os.Getenv("HOME")
	if home == "" {
		// Last resort: current working directory (should not normally happen in Flatpak)
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, homeRel)
	}
	return filepath.Join(home, homeRel)
}

// ensureDir creates the directory and any necessary parents if it doesn't exist.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
