// Package api hosts the HTTP server, middleware, and REST handlers for the
// event pipeline. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/staging and /v1/staging/process for staged ingestion.
//   - POST /v1/events/ingest for direct batch ingestion.
//   - POST /v1/links/... for link checks, URL healing, and health passes.
//   - GET /v1/events/{dedupe_key} for event lookup.
package api
