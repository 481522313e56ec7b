// Package api provides the event ingestion and live channel HTTP API.
//
// Endpoints live under /api/v1: event publishing, the per-user WebSocket
// live channel, and a read-only operator view of task instances.
package api
