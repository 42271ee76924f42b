// Package toplevel turns compositor foreign-toplevel protocols into window lifecycle events.
package toplevel

// Kind is a window lifecycle transition.
type Kind uint8

const (
	Opened Kind = iota + 1
	Changed
	Closed
)

func (k Kind) String() string {
	switch k {
	case Opened:
		return "opened"
	case Changed:
		return "changed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one window transition. Closed events carry only ID.
type Event struct {
	Kind  Kind
	ID    uint64
	AppID string
	Title string
}
