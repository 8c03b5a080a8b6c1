// Package api provides the HTTP REST API and WebSocket server for
// Lumen Core.
//
// It exposes route management, message injection, bus metrics and
// module lifecycle operations to the visual editor and commissioning
// tools, plus a WebSocket feed of live bus observations.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
