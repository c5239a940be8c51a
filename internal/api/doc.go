// Package api hosts the read-only HTTP server observers use to watch
// workflows. Notable routes:
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/workflows/{workflow_id}/status for step, retry and failure state.
//   - GET /v1/workflows/{workflow_id}/keywords and /clusters for stage output.
package api
