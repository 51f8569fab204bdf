// Package api hosts the HTTP server, middleware and REST handlers.
// Notable routes:
//   - GET /healthz, /readyz for probes and GET /metrics for Prometheus.
//   - POST /v1/crawl for ad hoc crawls.
//   - /v1/urls for URL config management and POST /v1/urls/{id}/crawl to
//     start a stored crawl.
//   - /v1/namespaces/{ns} for vector queries and purges.
package api
