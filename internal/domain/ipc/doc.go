// Package ipc implements the message bus between the kernel and app
// execution contexts.
//
// Every app has exactly one Channel. Apps send into one queue shared by all
// apps and read from a private queue. Every send is non-blocking: when a
// queue is full the message is dropped and a single warning is logged.
package ipc
