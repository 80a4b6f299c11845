// Package sandbox runs each app's lifecycle loop in an execution context
// isolated from the kernel's render loop.
//
// Apps without side-effecting capabilities run in a goroutine. Apps that
// declare NETWORK or FILESYSTEM run in a separate app host process (the same
// binary, re-executed as "app-host") that receives a serializable Spec in a
// handshake and builds the app itself. Both modes are stopped the same way:
// an AppStop message, a bounded grace period, then a kill. A goroutine
// cannot be killed, so a thread context that ignores the stop request is
// abandoned and reported with ErrAbandoned.
package sandbox
