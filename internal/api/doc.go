// Package api hosts the HTTP server that serves the rendered status page plus
// a few operator routes:
//   - GET / returns the last rendered page verbatim.
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status and POST /v1/refresh for inspecting and forcing cycles.
package api
