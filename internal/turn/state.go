package turn

// State is a step in the lifecycle of one turn.
type State string

const (
	StateIdle       State = "idle"
	StateBuilding   State = "building"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StatePersisted  State = "persisted"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StatePersisted || s == StateCancelled || s == StateFailed
}

// Status mirrors the loading, streaming and completed flags shown to users.
type Status struct {
	Loading   bool `json:"loading"`
	Streaming bool `json:"streaming"`
	Completed bool `json:"completed"`
}

// Status derives the user-facing flags for s.
func (s State) Status() Status {
	switch s {
	case StateBuilding:
		return Status{Loading: true, Streaming: true}
	case StateStreaming:
		return Status{Streaming: true}
	case StateFinalizing, StatePersisted, StateCancelled, StateFailed:
		return Status{Completed: true}
	default:
		return Status{}
	}
}

// UpdateKind distinguishes state transitions from answer snapshots.
type UpdateKind string

const (
	UpdateState  UpdateKind = "state"
	UpdateAnswer UpdateKind = "answer"
)

// Update is one observation published while a turn runs. Answer updates
// carry the full accumulated answer for the turn at TurnIndex; a retry that
// clears a previous partial answer first publishes an empty one. The Building
// update carries Cancel, which aborts the operation currently in flight.
type Update struct {
	Kind      UpdateKind `json:"kind"`
	State     State      `json:"state,omitempty"`
	Status    *Status    `json:"status,omitempty"`
	TurnIndex int        `json:"turn_index"`
	Answer    string     `json:"answer,omitempty"`
	Cancel    func()     `json:"-"`
}

// Observer receives updates in the order they happen. It is called from the
// goroutine running the operation and must not block for long.
type Observer func(Update)
