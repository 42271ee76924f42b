// Package fsm defines the daemon lifecycle states and their legal transitions.
package fsm

import "fmt"

type State string

type Event string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

const (
	EventReady    Event = "ready"
	EventShutdown Event = "shutdown"
	EventStopped  Event = "stopped"
	EventFail     Event = "fail"
)

func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		switch current {
		case StateStopped, StateFailed:
			return current, invalidTransition(current, event)
		default:
			return StateFailed, nil
		}
	}

	switch current {
	case StateStarting:
		switch event {
		case EventReady:
			return StateRunning, nil
		case EventShutdown:
			return StateStopping, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRunning:
		switch event {
		case EventShutdown:
			return StateStopping, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStopping:
		switch event {
		case EventStopped:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStopped, StateFailed:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
