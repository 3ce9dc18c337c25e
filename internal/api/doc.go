// Package api is the optional local status server of the bridge.
//
// It exposes read-only HTTP endpoints and a WebSocket live feed:
//
//	GET /api/v1/health                  component health
//	GET /api/v1/topics                  slots, connection state, last payloads
//	GET /api/v1/topics/{slot}/history   recent payloads of one slot
//	GET /ws                             payload.received events
//
// The server binds to loopback by default; it has no authentication and is
// meant for dashboards running next to TouchPortal.
//
//	hub := api.NewHub(cfg.WebSocket, logger)
//	go hub.Run(ctx)
//	server, err := api.New(api.Deps{Config: cfg.API, Hub: hub, Status: p, Logger: logger})
//	server.Start(ctx)
//	defer server.Close()
package api
