// Package server implements the real-time chat layer of the ride service:
// WebSocket transport, live presence for ride group rooms and direct-chat
// slots, message fan-out, and the HTTP API for persisted rooms and history.
//
// All presence state lives on the Hub goroutine. Client pumps only decode,
// validate and forward; they never touch the presence table directly.
package server
