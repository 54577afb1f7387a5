package boards

type EventKind int

const (
	EventInputChanged EventKind = iota
	EventOutputChanged
	EventConnection
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventInputChanged:
		return "input"
	case EventOutputChanged:
		return "output"
	case EventConnection:
		return "connection"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one edge notification from a board monitor. Pin events are
// emitted only for named pins, and only on an actual state transition.
type Event struct {
	Board string
	Kind  EventKind
	Pin   string
	State bool
	Err   error
}

// publish pushes ev without ever blocking the sampling loop: when the
// consumer falls behind the oldest queued event is dropped.
func publish(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
