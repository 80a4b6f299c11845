// Package display provides output sinks for rendered frames: an in-memory
// simulator used by tests and the web monitor, and an ANSI terminal view.
package display
