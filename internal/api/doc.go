// Package api hosts the optional status server that runs alongside a download.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/summary for the live run counters.
//   - GET /v1/extractors for the registered strategies and whether each is enabled.
package api
