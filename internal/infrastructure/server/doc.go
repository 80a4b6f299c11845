// Package server composes the web monitor: gin router, middleware, REST
// handlers, the websocket frame stream and the Prometheus endpoint.
package server
