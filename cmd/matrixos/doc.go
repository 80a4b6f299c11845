// Package main is the entry point of matrix-os.
//
// It loads configuration from the environment, opens the display sink,
// registers the apps of the roster with the kernel and runs the render loop
// until SIGINT or SIGTERM. The web monitor runs alongside the kernel unless
// disabled.
//
// The same binary doubles as the app host: the kernel re-executes it with
// the app-host subcommand for every app that needs process isolation.
//
// Usage:
//
//	# Default roster on the simulator, monitor on 127.0.0.1:8080
//	./matrixos
//
//	# Terminal preview with a roster file
//	./matrixos -sink terminal -apps /etc/matrixos/apps.yaml
//
//	# Development mode (colored logs, debug level)
//	./matrixos -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
