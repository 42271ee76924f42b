package toplevel

import "github.com/pwsw/pwsw/internal/wayland"

// tracker accumulates per-handle attributes and emits one event per done.
type tracker struct {
	proto   Protocol
	nextID  uint64
	handles map[uint32]*handleState
}

type handleState struct {
	id     uint64
	appID  string
	title  string
	opened bool
}

func newTracker(proto Protocol) *tracker {
	return &tracker{proto: proto, handles: make(map[uint32]*handleState)}
}

func (t *tracker) add(handle uint32) {
	t.nextID++
	t.handles[handle] = &handleState{id: t.nextID}
}

func (t *tracker) owns(handle uint32) bool {
	_, ok := t.handles[handle]
	return ok
}

// apply folds one handle event into state. closed reports that the handle is gone.
func (t *tracker) apply(msg wayland.Message) (ev Event, emit bool, closed bool) {
	h, ok := t.handles[msg.Sender]
	if !ok {
		return Event{}, false, false
	}

	switch msg.Opcode {
	case t.proto.handleTitle:
		h.title = msg.Args().String()
	case t.proto.handleAppID:
		h.appID = msg.Args().String()
	case t.proto.handleDone:
		kind := Changed
		if !h.opened {
			kind = Opened
			h.opened = true
		}
		return Event{Kind: kind, ID: h.id, AppID: h.appID, Title: h.title}, true, false
	case t.proto.handleClosed:
		delete(t.handles, msg.Sender)
		if !h.opened {
			return Event{}, false, true
		}
		return Event{Kind: Closed, ID: h.id}, true, true
	}
	return Event{}, false, false
}
