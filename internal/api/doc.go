// Package api implements the HTTP REST API and WebSocket server for Lumen Core.
//
// This package provides:
//   - REST endpoints to list lights, read one light and send it commands
//   - An endpoint that merges the live light list with storage and saves it
//   - WebSocket hub for real-time light events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server sits beside the MQTT bridge: both drive the same
// yeelight.Bridge. Commands go straight to the light's connection and are
// acknowledged once written. Events flow the other way: the bridge
// broadcasts into the Hub, which fans them out to subscribed clients.
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/metrics
//	GET  /api/v1/lights
//	GET  /api/v1/lights/{id}            id is a display name or hex identity
//	POST /api/v1/lights/{id}/commands   {"command": "rgb", "parameters": {"rgb": "#ff8800"}}
//	GET  /api/v1/lights/{id}/history    ?limit=N, sqlite backend only
//	POST /api/v1/discovery/persist
//	GET  /api/v1/ws
//
// # WebSocket
//
// Clients send {"type": "subscribe", "payload": {"channels": ["light.state"]}}
// and then receive {"type": "event", "event_type": "light.state", ...}
// messages for the channels they asked for.
//
// # Graceful Degradation
//
// The server operates without MQTT. Commands never go through the broker.
package api
