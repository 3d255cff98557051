// Package task tracks in-flight upload operations. The Tracker is the only
// owner of task records; every component mutates tasks through it.
package task

// State is the lifecycle state of an upload task.
type State string

const (
	// StateIdle is reserved; tasks are never created in it.
	StateIdle State = "idle"
	// StatePending ...
	StatePending State = "pending"
	// StateLoading ...
	StateLoading State = "loading"
	// StateFetching means the source blob is being resolved.
	StateFetching State = "fetching"
	// StateUploading ...
	StateUploading State = "uploading"
	// StateProcessing means the remote endpoint is assembling/validating the payload.
	StateProcessing State = "processing"
	// StateSuccess ...
	StateSuccess State = "success"
	// StateError ...
	StateError State = "error"
)

// stateOrder defines the forward-only progression. StateError is reachable
// from anywhere and is not part of the ordering.
var stateOrder = map[State]int{
	StateIdle:       0,
	StatePending:    1,
	StateLoading:    2,
	StateFetching:   3,
	StateUploading:  4,
	StateProcessing: 5,
	StateSuccess:    6,
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateError
}

// canTransition reports whether from -> to is a legal lifecycle step.
// Same-state transitions are allowed so progress messages can be refreshed.
func canTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateError {
		return true
	}
	return stateOrder[to] >= stateOrder[from]
}
