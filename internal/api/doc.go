// Package api hosts the HTTP trigger for scraper runs. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs with a source configuration body, or POST /v1/runs/{name}
//     for a configured source template; both run synchronously.
//   - GET /v1/reports and /v1/reports/{run_id} for recent run reports.
package api
