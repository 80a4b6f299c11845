// Package scheduler decides once per render tick which app's latest frame
// is authoritative.
//
// Non-overlay apps rotate in insertion order, each shown for its duration.
// A single overlay slot and a persistent set are tracked so the kernel can
// keep those apps running, but the overlay is not composited onto the base
// frame and priority does not affect order.
package scheduler
