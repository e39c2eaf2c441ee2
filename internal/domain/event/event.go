// Package event defines the structured trace emitted while a query runs.
package event

import "time"

// Kind names a step of query execution.
type Kind string

const (
	KindQueryCreated     Kind = "query_created"
	KindQueryStarted     Kind = "query_started"
	KindPartitionStarted Kind = "partition_started"
	KindPartitionDone    Kind = "partition_done"
	KindPartitionFailed  Kind = "partition_failed"
	KindNodePruned       Kind = "node_pruned"
	KindNodeExpanded     Kind = "node_expanded"
	KindLeafCandidate    Kind = "leaf_candidate"
	KindPointsIncluded   Kind = "points_included"
	KindPointSkipped     Kind = "point_skipped"
	KindDecrypted        Kind = "decrypted"
	KindVerified         Kind = "verified"
	KindQueryCompleted   Kind = "query_completed"
	KindQueryFailed      Kind = "query_failed"
)

// Event is one step. Fields not relevant to the kind are left empty.
type Event struct {
	QueryID   string    `json:"query_id"`
	Kind      Kind      `json:"kind"`
	Partition string    `json:"partition,omitempty"`
	RID       int       `json:"rid,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	Coverage  string    `json:"coverage,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Count     int       `json:"count,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives events. Implementations must not block the caller for long.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})
