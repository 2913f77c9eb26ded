// Package progress provides the lifecycle event primitives, a non-blocking
// batching hub, and the emitter interface the task registry uses to report
// task transitions. Events are batched on a background goroutine and fanned
// out to pluggable sinks such as structured logs, Prometheus metrics, or a
// notification publisher.
package progress
