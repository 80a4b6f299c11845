package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/andrewsiemer/matrix-os/internal/apps"
	"github.com/andrewsiemer/matrix-os/internal/domain/kernel"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/config"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/display"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/logging"
)

func writeRoster(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newTestKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	cfg := config.Default()
	sim, err := display.NewSimulator(cfg.Display.Geometry())
	require.NoError(t, err)
	k, err := kernel.New(kernel.Options{
		Config:   kernelConfig(cfg),
		Registry: apps.Builtin(),
		Sink:     sim,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return k
}

func TestLoadRosterDefault(t *testing.T) {
	roster, err := loadRoster("", apps.Builtin())
	require.NoError(t, err)
	assert.Equal(t, apps.DefaultRoster(), roster)
}

func TestLoadRosterFile(t *testing.T) {
	path := writeRoster(t, "apps.yaml", "apps:\n  - kind: dvd\n    duration: 3s\n  - kind: binary-clock\n")

	roster, err := loadRoster(path, apps.Builtin())
	require.NoError(t, err)
	require.Len(t, roster.Apps, 2)
	assert.Equal(t, "3s", roster.Apps[0].Duration)
}

func TestLoadRosterErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{
			name: "missing file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
		},
		{
			name: "unknown kind",
			path: func(t *testing.T) string { return writeRoster(t, "apps.yaml", "apps:\n  - kind: toaster\n") },
		},
		{
			name: "empty roster",
			path: func(t *testing.T) string { return writeRoster(t, "apps.yaml", "apps: []\n") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadRoster(tt.path(t), apps.Builtin())
			assert.Error(t, err)
		})
	}
}

func TestRegisterUsesDefaultDuration(t *testing.T) {
	k := newTestKernel(t)

	require.NoError(t, register(k, config.RosterEntry{Kind: "dvd"}, 7*time.Second))
	require.NoError(t, register(k, config.RosterEntry{Kind: "dvd", Duration: "2s", Priority: 3}, 7*time.Second))

	infos := k.Apps()
	require.Len(t, infos, 2)
	assert.Equal(t, 7*time.Second, infos[0].Placement.Duration)
	assert.Equal(t, 2*time.Second, infos[1].Placement.Duration)
	assert.Equal(t, 3, infos[1].Placement.Priority)
}

func TestRegisterRejectsBadEntry(t *testing.T) {
	k := newTestKernel(t)

	assert.Error(t, register(k, config.RosterEntry{Kind: "dvd", Duration: "soon"}, time.Second))
	assert.Error(t, register(k, config.RosterEntry{Kind: "toaster"}, time.Second))
	assert.Empty(t, k.Apps())
}

func TestKernelConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Sandbox.HostBinary = "/usr/local/bin/matrixos"
	cfg.Sandbox.KernelQueueDepth = 17
	cfg.Kernel.DefaultAppDuration = 9 * time.Second
	cfg.Logging.Level = "warn"

	kc := kernelConfig(cfg)
	assert.Equal(t, cfg.Kernel.TargetFPS, kc.TargetFPS)
	assert.Equal(t, 9*time.Second, kc.DefaultDuration)
	assert.Equal(t, 17, kc.Bus.KernelQueueDepth)
	assert.Equal(t, cfg.Sandbox.StopGrace, kc.Sandbox.StopGrace)
	assert.Equal(t, "/usr/local/bin/matrixos", kc.Sandbox.Host.Path)
	assert.Equal(t, []string{hostCommand}, kc.Sandbox.Host.Args)
	assert.Equal(t, "warn", kc.Sandbox.HostLogLevel)
}

func TestKernelConfigDefaultHost(t *testing.T) {
	kc := kernelConfig(config.Default())
	assert.NotEmpty(t, kc.Sandbox.Host.Path)
	assert.Equal(t, []string{hostCommand}, kc.Sandbox.Host.Args)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Kernel.TargetFPS = 0

	logger, err := logging.New(logging.Config{Level: "error", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	err = run(context.Background(), cfg, logger)
	assert.Error(t, err)
}
