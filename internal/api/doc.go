// Package api hosts the HTTP server, middleware chain, and REST handlers.
// Notable routes:
//   - POST /api/artifacts creates an artifact from a source URL and payload.
//   - GET /api/artifacts and /api/artifacts/{id} list and describe artifacts.
//   - DELETE /api/artifacts/{id} removes an artifact.
//   - GET /view/{id} serves the stored page bytes.
//   - POST /maintenance/clear-cache drops the serve cache.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
