package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/andrewsiemer/matrix-os/internal/infrastructure/display"
)

// Config holds all runtime configuration.
type Config struct {
	Display DisplayConfig
	Kernel  KernelConfig
	Sandbox SandboxConfig
	Logging LogConfig
	Monitor MonitorConfig
	Roster  RosterConfig
}

// DisplayConfig holds panel geometry and the output sink.
type DisplayConfig struct {
	Rows       int    `envconfig:"MATRIX_ROWS" default:"32"`
	Cols       int    `envconfig:"MATRIX_COLS" default:"64"`
	Chain      int    `envconfig:"MATRIX_CHAIN" default:"1"`
	Parallel   int    `envconfig:"MATRIX_PARALLEL" default:"1"`
	Brightness int    `envconfig:"MATRIX_BRIGHTNESS" default:"100"`
	Sink       string `envconfig:"MATRIX_SINK" default:"simulator"`
}

// Geometry converts the panel settings into a display geometry.
func (d DisplayConfig) Geometry() display.Geometry {
	return display.Geometry{
		Rows:       d.Rows,
		Cols:       d.Cols,
		Chain:      d.Chain,
		Parallel:   d.Parallel,
		Brightness: d.Brightness,
	}
}

// KernelConfig holds render loop settings.
type KernelConfig struct {
	TargetFPS          int           `envconfig:"TARGET_FPS" default:"60"`
	MessageBatch       int           `envconfig:"MESSAGE_BATCH" default:"10"`
	PollTimeout        time.Duration `envconfig:"POLL_TIMEOUT" default:"100us"`
	DefaultAppDuration time.Duration `envconfig:"DEFAULT_APP_DURATION" default:"15s"`
	PauseHidden        bool          `envconfig:"PAUSE_HIDDEN" default:"false"`
	LoopStopTimeout    time.Duration `envconfig:"LOOP_STOP_TIMEOUT" default:"2s"`
}

// SandboxConfig holds execution context settings.
type SandboxConfig struct {
	StopGrace        time.Duration `envconfig:"STOP_GRACE" default:"2s"`
	KillWait         time.Duration `envconfig:"KILL_WAIT" default:"1s"`
	AppQueueDepth    int           `envconfig:"APP_QUEUE_DEPTH" default:"32"`
	KernelQueueDepth int           `envconfig:"KERNEL_QUEUE_DEPTH" default:"256"`
	HostBinary       string        `envconfig:"APP_HOST_BINARY"`
	MinFramerate     int           `envconfig:"MIN_FRAMERATE" default:"1"`
	MaxFramerate     int           `envconfig:"MAX_FRAMERATE" default:"60"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MonitorConfig holds web monitor configuration.
type MonitorConfig struct {
	Enabled           bool    `envconfig:"MONITOR_ENABLED" default:"true"`
	Addr              string  `envconfig:"MONITOR_ADDR" default:"127.0.0.1:8080"`
	RequestsPerSecond float64 `envconfig:"MONITOR_RPS" default:"50"`
	Burst             int     `envconfig:"MONITOR_BURST" default:"100"`
	StreamFPS         int     `envconfig:"MONITOR_STREAM_FPS" default:"10"`
}

// RosterConfig points at the YAML app roster.
type RosterConfig struct {
	Path string `envconfig:"MATRIXOS_APPS"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects settings the kernel cannot run with
func (c *Config) Validate() error {
	g := c.Display.Geometry()
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Kernel.TargetFPS <= 0 {
		return fmt.Errorf("invalid config: TARGET_FPS must be positive, got %d", c.Kernel.TargetFPS)
	}
	if c.Kernel.MessageBatch <= 0 {
		return fmt.Errorf("invalid config: MESSAGE_BATCH must be positive, got %d", c.Kernel.MessageBatch)
	}
	if c.Sandbox.MinFramerate <= 0 || c.Sandbox.MaxFramerate < c.Sandbox.MinFramerate {
		return fmt.Errorf("invalid config: framerate bounds [%d, %d]", c.Sandbox.MinFramerate, c.Sandbox.MaxFramerate)
	}
	if c.Sandbox.AppQueueDepth <= 0 || c.Sandbox.KernelQueueDepth <= 0 {
		return fmt.Errorf("invalid config: queue depths must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Display: DisplayConfig{
			Rows:       32,
			Cols:       64,
			Chain:      1,
			Parallel:   1,
			Brightness: 100,
			Sink:       display.SinkSimulator,
		},
		Kernel: KernelConfig{
			TargetFPS:          60,
			MessageBatch:       10,
			PollTimeout:        100 * time.Microsecond,
			DefaultAppDuration: 15 * time.Second,
			LoopStopTimeout:    2 * time.Second,
		},
		Sandbox: SandboxConfig{
			StopGrace:        2 * time.Second,
			KillWait:         time.Second,
			AppQueueDepth:    32,
			KernelQueueDepth: 256,
			MinFramerate:     1,
			MaxFramerate:     60,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Monitor: MonitorConfig{
			Enabled:           true,
			Addr:              "127.0.0.1:8080",
			RequestsPerSecond: 50,
			Burst:             100,
			StreamFPS:         10,
		},
	}
}
