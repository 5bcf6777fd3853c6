// Package api hosts the HTTP server, middleware, and REST handlers of the
// dashboard. Notable routes, each also served under /api:
//   - GET /health for the dependency diagnostic view.
//   - GET /stats, /network, /playlists and /playlists/{id} for the fleet view.
//   - GET /tracks/{id}/candidates and POST /tracks/{id}/retry for track detail.
//   - GET /logs for the merged activity feed.
//   - GET /healthz and /metrics for liveness and Prometheus scraping.
package api
