// Package sinks implements concrete lifecycle consumers: structured logging,
// Prometheus collectors, and a notifier that publishes terminal task
// snapshots. Each sink satisfies progress.Sink and tolerates repeated
// Consume/Close cycles.
package sinks
