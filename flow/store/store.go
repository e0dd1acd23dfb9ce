// Package store provides persistence for flowchart runs, node-runs, RAG
// retrieval audit rows, and the outbox events the scheduler emits. It
// offers three backends (memory, SQLite, MySQL/Postgres) behind the
// flow.Store interface, mirroring the teacher's graph/store package's
// multi-backend layout but replacing its generic Store[S] workflow-state
// model with persistence for this domain's concrete run/node-run rows.
package store

import "errors"

// ErrNotFound is returned when a requested run, run-node, or flowchart id
// does not exist. Mirrors the teacher's store.ErrNotFound sentinel.
var ErrNotFound = errors.New("flow/store: not found")
