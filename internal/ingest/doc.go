// Package ingest turns raw sources into stored, embedded chunks while
// reporting progress for the owning task.
//
// Workers never talk to the transport layer. They receive a Reporter and a
// task id, call UpdateProgress at milestones, and finish with exactly one of
// CompleteTask or FailTask. Run enforces that last rule even when the work
// function panics or its context is cancelled.
package ingest
