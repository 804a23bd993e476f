// Package main hosts the listing scraper entrypoint.
//
// Architecture overview:
//   - Runs: one run crawls one marketplace source. The pipeline reads the source's last-known listing
//     fingerprints, walks the catalogue page by page until an empty page or the first fetch error, drops
//     listings whose fingerprint is unchanged, and sends the rest to the queue in batches of at most ten.
//   - Triggers: POST /v1/runs (inline source config) and POST /v1/runs/{name} (configured template) run
//     synchronously over HTTP. When pubsub.trigger_subscription is set, every message on that subscription
//     is a source config and starts one run.
//   - Backends: fingerprint history comes from Postgres or memory, batches go to Pub/Sub or memory, and run
//     reports are always logged and optionally written to GCS or memory.
//   - Configuration & plumbing: Viper populates config from env (SCRAPER_*) and files; zap provides
//     structured logging; Prometheus metrics are exported on /metrics; page fetches share one
//     per-host rate-limited HTTP client.
//
// Quick checklist:
//   - Run the service: go run ./cmd/scraper -config config.yaml
//   - Run one template and exit: go run ./cmd/scraper -config config.yaml -run militariamart
//   - Cloud Run: the container listens on server.port and drains in-flight requests on SIGTERM.
package main
