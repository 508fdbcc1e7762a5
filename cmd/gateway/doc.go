// Package main is the entry point for the engine gateway.
//
// The gateway fronts one or more remote object engines. Clients create
// sessions over REST, drive remote objects through them, snapshot and
// restore session state, and follow live session events over a WebSocket
// stream.
//
// Architecture:
//
//	Clients (REST / WebSocket) → Gateway → Engine (JSON-RPC over WebSocket)
//
// The server provides:
//   - REST API for session and snapshot management
//   - WebSocket stream multiplexing session events to subscribers
//   - Pluggable snapshot storage (memory, file, Redis)
//   - Rate limiting and CORS
//
// Configuration comes from environment variables (12-factor); see
// internal/infrastructure/config for the full list.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
