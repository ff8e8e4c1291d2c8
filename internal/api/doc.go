// Package api implements the HTTP REST API and WebSocket server of the RIO bridge.
//
// This package provides:
//   - REST endpoints for configured zones and sources, their cached state,
//     variable reads and writes, events and bridge commands
//   - History queries backed by the SQLite history repository
//   - WebSocket hub for real-time variable and connection broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server sits beside the MQTT bridge. Reads come from the client's
// variable cache, writes go straight to the controller through the client or
// through the bridge's command path (so MQTT acks are published for them too).
// The Hub is registered as the bridge's Listener, so every processed update
// is broadcast to subscribed WebSocket clients:
//
//	controller ──► rio.Client ──► bridge worker ──► Hub ──► WebSocket clients
//	                  ▲
//	REST handlers ────┘
//
// # Graceful Degradation
//
// The server runs without a history repository; history endpoints then
// answer 503. Controller reads and writes answer 503 while the controller is
// unreachable.
package api
