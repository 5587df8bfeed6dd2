package supervisor

import "github.com/JakeFAU/catalog-importer/internal/importer"

// State is the transport lifecycle of the tracked task.
type State int

// Supervisor states.
const (
	StateIdle State = iota
	StateStreamAttempting
	StateStreamActive
	StatePollActive
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreamAttempting:
		return "stream_attempting"
	case StateStreamActive:
		return "stream_active"
	case StatePollActive:
		return "poll_active"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// streaming reports whether the active channel is the stream.
func (s State) streaming() bool {
	return s == StateStreamAttempting || s == StateStreamActive
}

// Snapshot is a point-in-time view of the supervisor.
type Snapshot struct {
	State      State
	TaskID     string
	Channel    importer.ChannelKind
	Generation uint64
}
