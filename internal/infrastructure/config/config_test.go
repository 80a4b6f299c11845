package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Display config
	assert.Equal(t, 64, cfg.Display.Geometry().Width())
	assert.Equal(t, 32, cfg.Display.Geometry().Height())
	assert.Equal(t, 100, cfg.Display.Brightness)

	// Kernel config
	assert.Equal(t, 60, cfg.Kernel.TargetFPS)
	assert.Equal(t, 10, cfg.Kernel.MessageBatch)
	assert.Equal(t, 100*time.Microsecond, cfg.Kernel.PollTimeout)
	assert.False(t, cfg.Kernel.PauseHidden)

	// Sandbox config
	assert.Equal(t, 2*time.Second, cfg.Sandbox.StopGrace)
	assert.Equal(t, 32, cfg.Sandbox.AppQueueDepth)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	require.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"MATRIX_ROWS":        "16",
		"MATRIX_COLS":        "32",
		"MATRIX_CHAIN":       "4",
		"MATRIX_BRIGHTNESS":  "40",
		"TARGET_FPS":         "30",
		"POLL_TIMEOUT":       "1ms",
		"PAUSE_HIDDEN":       "true",
		"STOP_GRACE":         "500ms",
		"APP_HOST_BINARY":    "/usr/local/bin/matrixos",
		"LOG_LEVEL":          "debug",
		"LOG_DEV":            "true",
		"MONITOR_ENABLED":    "false",
		"MONITOR_STREAM_FPS": "5",
		"MATRIXOS_APPS":      "/etc/matrixos/apps.yaml",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.Display.Geometry().Width())
	assert.Equal(t, 16, cfg.Display.Geometry().Height())
	assert.Equal(t, 40, cfg.Display.Brightness)
	assert.Equal(t, 30, cfg.Kernel.TargetFPS)
	assert.Equal(t, time.Millisecond, cfg.Kernel.PollTimeout)
	assert.True(t, cfg.Kernel.PauseHidden)
	assert.Equal(t, 500*time.Millisecond, cfg.Sandbox.StopGrace)
	assert.Equal(t, "/usr/local/bin/matrixos", cfg.Sandbox.HostBinary)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.Monitor.Enabled)
	assert.Equal(t, 5, cfg.Monitor.StreamFPS)
	assert.Equal(t, "/etc/matrixos/apps.yaml", cfg.Roster.Path)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("TARGET_FPS", "0")
	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 60, cfg.Kernel.TargetFPS)
}

func TestLoadRejectsMalformed(t *testing.T) {
	t.Setenv("STOP_GRACE", "soon")
	_, err := Load()
	assert.Error(t, err)
}

type clockOptions struct {
	Color string `json:"color"`
}

func testRegistry() *app.Registry {
	build := func(app.Env, clockOptions) (app.App, error) { return nil, nil }
	return app.NewRegistry(
		app.Define("clock", app.Manifest{Name: "Clock", Framerate: 1}, build),
		app.Define("banner", app.Manifest{Name: "Banner", Framerate: 1}, build),
	)
}

const rosterYAML = `
apps:
  - kind: clock
    duration: 10s
    options:
      color: red
  - kind: banner
    overlay: true
    persistent: true
    priority: 3
`

func TestParseRoster(t *testing.T) {
	r, err := ParseRoster([]byte(rosterYAML))
	require.NoError(t, err)
	require.Len(t, r.Apps, 2)

	clock := r.Apps[0]
	d, err := clock.DurationOr(time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	spec, err := clock.Spec()
	require.NoError(t, err)
	assert.Equal(t, "clock", spec.Kind)
	assert.JSONEq(t, `{"color":"red"}`, string(spec.Options))

	banner := r.Apps[1]
	assert.True(t, banner.Overlay)
	assert.True(t, banner.Persistent)
	assert.Equal(t, 3, banner.Priority)
	d, err = banner.DurationOr(time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	assert.NoError(t, r.Validate(testRegistry()))
}

func TestRosterValidateRejectsUnknownOptions(t *testing.T) {
	r, err := ParseRoster([]byte(`
apps:
  - kind: clock
    options:
      colour: red
  - kind: weather
  - kind: clock
    duration: -1s
`))
	require.NoError(t, err)

	err = r.Validate(testRegistry())
	require.Error(t, err)
	assert.ErrorIs(t, err, app.ErrInvalidOptions)
	assert.ErrorIs(t, err, app.ErrUnknownKind)
	assert.Contains(t, err.Error(), "duration must be positive")
}

func TestRosterRejectsSecondOverlay(t *testing.T) {
	r, err := ParseRoster([]byte(`
apps:
  - kind: banner
    overlay: true
  - kind: clock
    overlay: true
`))
	require.NoError(t, err)
	assert.ErrorContains(t, r.Validate(testRegistry()), "at most one")
}

func TestParseRosterMissingKind(t *testing.T) {
	_, err := ParseRoster([]byte("apps:\n  - duration: 5s\n"))
	assert.Error(t, err)
}

func TestLoadRoster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rosterYAML), 0o644))

	r, err := LoadRoster(path)
	require.NoError(t, err)
	assert.Len(t, r.Apps, 2)

	_, err = LoadRoster(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

const rosterTOML = `
[[apps]]
kind = "clock"
duration = "10s"

[apps.options]
color = "red"

[[apps]]
kind = "banner"
overlay = true
priority = 3
`

func TestLoadRosterTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.toml")
	require.NoError(t, os.WriteFile(path, []byte(rosterTOML), 0o644))

	r, err := LoadRoster(path)
	require.NoError(t, err)
	require.Len(t, r.Apps, 2)

	spec, err := r.Apps[0].Spec()
	require.NoError(t, err)
	assert.Equal(t, "clock", spec.Kind)
	assert.JSONEq(t, `{"color":"red"}`, string(spec.Options))

	assert.True(t, r.Apps[1].Overlay)
	assert.Equal(t, 3, r.Apps[1].Priority)

	_, err = ParseRosterTOML([]byte("[[apps]]\nduration = \"5s\"\n"))
	assert.Error(t, err)
}
