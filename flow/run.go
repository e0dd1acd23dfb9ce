package flow

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a FlowchartRun.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// NodeRunStatus is the lifecycle state of a FlowchartRunNode.
type NodeRunStatus string

const (
	NodeRunQueued    NodeRunStatus = "queued"
	NodeRunRunning   NodeRunStatus = "running"
	NodeRunSucceeded NodeRunStatus = "succeeded"
	NodeRunFailed    NodeRunStatus = "failed"
	NodeRunCanceled  NodeRunStatus = "canceled"
)

// FlowchartRun is one execution of a Flowchart (spec §3). Only the
// scheduler mutates it; terminal states are final.
type FlowchartRun struct {
	ID          string
	FlowchartID string
	Status      RunStatus
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Error       string
}

// IsTerminal reports whether the run has reached a final status.
func (r *FlowchartRun) IsTerminal() bool {
	switch r.Status {
	case RunCompleted, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// FlowchartRunNode (a node-run) is one execution instance of a node within a
// run, identified by (FlowchartRunID, FlowchartNodeID, ExecutionIndex).
// Ownership: the scheduler owns lifecycle transitions; the dispatcher writes
// RuntimeEvidence on terminal transitions (spec §4.3).
type FlowchartRunNode struct {
	ID               string
	FlowchartRunID   string
	FlowchartNodeID  string
	ExecutionIndex   int
	Status           NodeRunStatus
	InputContext     json.RawMessage
	OutputState      json.RawMessage
	RoutingState     json.RawMessage
	ProviderDispatchID string
	RuntimeEvidence  json.RawMessage
	StartedAt        *time.Time
	FinishedAt       *time.Time
	Error            string
}

// IsTerminal reports whether the node-run has reached a final status.
func (n *FlowchartRunNode) IsTerminal() bool {
	switch n.Status {
	case NodeRunSucceeded, NodeRunFailed, NodeRunCanceled:
		return true
	default:
		return false
	}
}

// InputContext shape written by the fan-in gate (spec §4.5) before a node
// executes: solid parents populate UpstreamNodes/TriggerSources, dotted
// parents populate DottedUpstreamNodes with their most recent output_state.
type InputContextEnvelope struct {
	UpstreamNodes       []UpstreamNode `json:"upstream_nodes"`
	TriggerSources      []string       `json:"trigger_sources"`
	DottedUpstreamNodes []UpstreamNode `json:"dotted_upstream_nodes"`
}

// UpstreamNode captures one parent's identity and last output for context
// assembly at admission time.
type UpstreamNode struct {
	NodeID      string          `json:"node_id"`
	OutputState json.RawMessage `json:"output_state"`
}

// RoutingState is written by decision handlers (spec §4.4) and consumed by
// the routing resolver (spec §4.5).
type RoutingState struct {
	MatchedConnectorIDs []string `json:"matched_connector_ids"`
	RouteKey            string   `json:"route_key,omitempty"`
	NoMatch             bool     `json:"no_match"`
}
