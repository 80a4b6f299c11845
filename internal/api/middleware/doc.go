// Package middleware provides the gin middleware in front of the monitor:
// CORS and per-client rate limiting.
package middleware
