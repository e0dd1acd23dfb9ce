// Package flow implements the flowchart runtime: the scheduler that walks a
// declarative graph of nodes and edges, the fan-in gate that admits nodes
// once their incoming solid edges are satisfied, the per-node-type execution
// engine, and the structural validator that guards persisted graphs.
//
// The wire-level dispatch of a single node's work to an isolated executor
// job lives in the sibling flow/dispatch package; retrieval-augmented
// generation lives in flow/rag; durable state lives in flow/store; the
// event/audit stream lives in flow/emit.
package flow
