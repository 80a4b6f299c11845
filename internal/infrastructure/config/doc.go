// Package config provides 12-factor configuration management for matrix-os.
//
// Configuration is loaded from environment variables with sensible defaults.
// The set of apps to run is read from a YAML or TOML roster file.
//
// Configuration Sections:
//   - Display: panel geometry, brightness and output sink
//   - Kernel: render cadence, message batch and default app duration
//   - Sandbox: stop grace, kill wait, queue depths and framerate bounds
//   - Logging: Log level and output format
//   - Monitor: web monitor address, rate limit and stream rate
//   - Roster: path of the YAML or TOML app roster
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Display is %s\n", cfg.Display.Geometry())
//
// Roster Format:
//
//	apps:
//	  - kind: dvd
//	    duration: 10s
//	  - kind: image-viewer
//	    options:
//	      path: /srv/images
//	      pattern: "**/*.png"
package config
