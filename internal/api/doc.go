// Package api provides the HTTP REST API and WebSocket server for the
// Camper Fleet controller.
//
// It exposes the fleet registry to devices (registration and heartbeats)
// and to user interfaces (device listing, command dispatch, lifecycle
// event history, real-time event stream).
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
