// Package api hosts the read-only HTTP server over the persisted directory.
// Routes:
//   - GET /healthz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/servers/{slug} for a server with its tools and compatible clients.
//   - GET /v1/readmes/pending?limit=N for servers whose README was never processed.
package api
