/*
Package monitoring provides Prometheus metrics for the kernel.

# Overview

Each Metrics value owns a private prometheus.Registry, so several kernels
(for example in tests) never collide on global registration.

# Metrics

- Render loop: frames rendered, tick duration, overruns, app switches
- Apps: registered count, frames submitted, errors by phase
- IPC: messages routed by type, messages dropped by direction
- Sandbox: starts and stops by execution mode and outcome
- Monitor HTTP: requests, latency, websocket connections

# Usage

	metrics := monitoring.NewMetrics("matrixos")
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

All record methods are safe to call on a nil *Metrics.
*/
package monitoring
