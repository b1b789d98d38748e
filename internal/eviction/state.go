package eviction

// State is what the engine did on its most recent tick.
type State int

const (
	Idle State = iota
	DeletingExternal
	MigratingToExternal
	DeletingInternal
)

// States lists every state name, for metrics.
var States = []string{
	Idle.String(),
	DeletingExternal.String(),
	MigratingToExternal.String(),
	DeletingInternal.String(),
}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DeletingExternal:
		return "deleting_external"
	case MigratingToExternal:
		return "migrating_to_external"
	case DeletingInternal:
		return "deleting_internal"
	default:
		return "unknown"
	}
}
