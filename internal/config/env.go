// Package config provides centralized configuration management.
package config

import (
	"os"
	"path/filepath"
	"sync"
)

// Paths holds standard clash directory paths.
type Paths struct {
	// Home is the clash home directory (~/.clash, or CLASH_HOME)
	Home string

	// Data is the data directory holding the sqlite database (~/.clash/data)
	Data string

	// Profile is the single browser profile used for every agent (~/.clash/profile)
	Profile string

	// ConfigFile is the optional YAML config (~/.clash/config.yaml)
	ConfigFile string

	// Exports is the default transcript export directory (~/.clash/exports)
	Exports string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration.
// Thread-safe, resolves once on first call.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		home := os.Getenv("CLASH_HOME")
		if home == "" {
			userHome, err := os.UserHomeDir()
			if err != nil {
				userHome = "."
			}
			home = filepath.Join(userHome, ".clash")
		}

		paths = &Paths{
			Home:       home,
			Data:       filepath.Join(home, "data"),
			Profile:    filepath.Join(home, "profile"),
			ConfigFile: filepath.Join(home, "config.yaml"),
			Exports:    filepath.Join(home, "exports"),
		}
	})
	return paths
}

// ResetPaths drops the cached paths (for testing).
func ResetPaths() {
	pathsOnce = sync.Once{}
	paths = nil
}

// Path returns a path under the clash home directory.
// Equivalent to filepath.Join(~/.clash, parts...)
func Path(parts ...string) string {
	p := GetPaths()
	allParts := append([]string{p.Home}, parts...)
	return filepath.Join(allParts...)
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
