// Package xdg resolves per-user directories following the XDG Base
// Directory layout.
package xdg

import (
	"os"
	"path/filepath"
)

const AppName = "skillfactory"

type XDGDirs struct {
	home       string
	dataHome   string
	configHome string
}

func NewXDGDirs() *XDGDirs {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
		if homeDir == "" {
			homeDir = os.TempDir()
		}
	}

	x := &XDGDirs{home: homeDir}

	x.dataHome = os.Getenv("XDG_DATA_HOME")
	if x.dataHome == "" {
		x.dataHome = filepath.Join(homeDir, ".local", "share")
	}

	x.configHome = os.Getenv("XDG_CONFIG_HOME")
	if x.configHome == "" {
		x.configHome = filepath.Join(homeDir, ".config")
	}
	return x
}

func (x *XDGDirs) Home() string {
	return x.home
}

// AppDataDir returns the application-specific data directory
func (x *XDGDirs) AppDataDir() string {
	return filepath.Join(x.dataHome, AppName)
}

// AppConfigFile returns the default location of the configuration file
func (x *XDGDirs) AppConfigFile() string {
	return filepath.Join(x.configHome, AppName, "config.toml")
}

// SkillsDir is where generated skills are written by default.
func (x *XDGDirs) SkillsDir() string {
	return filepath.Join(x.home, ".ai_skills")
}

// EnsureDir creates the directory if it doesn't exist
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
