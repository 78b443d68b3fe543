// Package websocket provides real-time batch progress via WebSocket.
//
// Clients connect to /api/v1/batches/:id/ws and receive the batch's events
// as JSON messages. The connection is closed after the batch's terminal
// event.
package websocket
