// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/ingest/{kind}/async to start an ingestion task.
//   - GET /api/tasks for every live snapshot keyed by id.
//   - GET /api/tasks/{task_id} to poll a task and /api/tasks/{task_id}/stream
//     to follow it over Server-Sent Events.
package api
