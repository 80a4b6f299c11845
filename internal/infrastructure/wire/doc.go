// Package wire encodes IPC messages for the process boundary between the
// kernel and an app host: one JSON object per line, frame pixels compressed
// with zstd.
package wire
