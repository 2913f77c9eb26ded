// Package main hosts the ingestion service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts ingestion requests, registers a
//     task in the in-memory registry and answers 202 with the task id right
//     away. Clients poll GET /api/tasks/{id} or follow
//     GET /api/tasks/{id}/stream, which sends a snapshot per change and a
//     heartbeat comment while the task is idle.
//   - Dispatcher and queue: jobs flow through a bounded in-memory queue sized
//     by ingest.queue_depth to a fixed pool of ingest.workers workers. A full
//     queue answers 503 and fails the task it just created.
//   - Ingestion: workers load pages with colly (optionally rendered with
//     chromedp when the heuristic detector asks for it), split and embed the
//     text, archive the raw documents (memory, local disk or GCS) and write
//     chunks to memory, Postgres or SQLite. Every milestone updates the task.
//   - Notifications: lifecycle events go through a batched progress hub to
//     log and Prometheus sinks. Terminal snapshots are published to Pub/Sub,
//     a Redis stream or a RabbitMQ queue.
//   - Retention: a reaper removes tasks older than tasks.max_age every
//     tasks.reap_interval, together with their subscriptions.
//
// Quick checklist:
//   - Configure with a YAML file (-config) or INGEST_* environment variables,
//     e.g. INGEST_SERVER_PORT, INGEST_INGEST_WORKERS, INGEST_NOTIFY_BACKEND.
//   - logging.level in the config file is applied without a restart.
//   - Run locally: go run ./cmd/ingestd -config config.yaml
package main
