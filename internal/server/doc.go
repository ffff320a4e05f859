// Package server implements the HTTP and WebSocket transport for friendchat.
//
// The implementation is organized into specialized files for configuration,
// the hub that routes frames to every live session of a handle, sessions,
// routing, and HTTP handlers. Protocol semantics live in package chat; this
// package only moves frames between sockets and the chat handlers.
package server
