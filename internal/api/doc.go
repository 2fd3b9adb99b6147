// Package api implements the HTTP REST API and WebSocket server for the
// GPIO bridge.
//
// This package provides:
//   - REST endpoints to read and drive pins, toggle notifications and
//     query the local level history
//   - Diagnostics endpoints for session, bridge and daemon state
//   - WebSocket hub for real-time pin state broadcasts
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// Every route except /health requires a bearer token signed with
// security.jwt.secret. The token's role decides which routes it may use
// (see package auth). WebSocket connections use single-use tickets so the
// token never appears in a URL.
package api
