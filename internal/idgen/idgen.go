// Package idgen generates monotonic, lexicographically sortable ids for
// runs, node-runs, and requests, replacing caller-supplied ids with a
// single generator shared across components.
package idgen

import "github.com/oklog/ulid/v2"

// New returns a fresh ULID string. ulid.Make is safe for concurrent use;
// it serializes access to the package-level monotonic entropy source.
func New() string {
	return ulid.Make().String()
}

// RunID generates a flowchart_run id.
func RunID() string { return New() }

// NodeRunID generates a flowchart_run_node id.
func NodeRunID() string { return New() }

// RequestID generates a request id for dispatch/RAG calls that need one
// for correlation but don't yet have an upstream-supplied id.
func RequestID() string { return New() }

// ExecutionID generates an executor-job execution id.
func ExecutionID() string { return New() }
