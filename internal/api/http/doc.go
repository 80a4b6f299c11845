// Package http implements the monitor's REST endpoints. Handlers only read
// kernel snapshots and call the kernel control API.
package http
