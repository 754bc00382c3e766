package xdg_test

import (
	"path/filepath"
	"testing"

	"github.com/programme-lv/skillfactory/internal/xdg"
	"github.com/stretchr/testify/assert"
)

func TestXDGDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "cfg"))

	x := xdg.NewXDGDirs()
	assert.Equal(t, filepath.Join(home, ".local", "share", "skillfactory"), x.AppDataDir())
	assert.Equal(t, filepath.Join(home, "cfg", "skillfactory", "config.toml"), x.AppConfigFile())
	assert.Equal(t, filepath.Join(home, ".ai_skills"), x.SkillsDir())
}
