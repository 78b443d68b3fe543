package batch

// State is the lifecycle position of an Orchestrator.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateValidating
	StateRunning
	StateFinished
	StateValidationFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateValidating:
		return "validating"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateValidationFailed:
		return "validation_failed"
	default:
		return "unknown"
	}
}

// Active reports whether a batch is being validated or executed.
func (s State) Active() bool {
	return s == StateValidating || s == StateRunning
}
