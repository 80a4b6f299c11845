// Package ws streams the displayed frame and app changes to monitor
// clients over websockets.
package ws
