package toplevel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/pwsw/pwsw/internal/wayland"
)

// ErrFinished reports that the compositor stopped sending toplevel events.
var ErrFinished = errors.New("compositor finished the toplevel stream")

// DefaultBuffer bounds the number of undelivered events before the reader blocks.
const DefaultBuffer = 64

// Source connects to the compositor and streams window events.
type Source struct {
	SocketPath string
	Buffer     int
	Logger     *slog.Logger
}

// Subscription is a live event stream. Err is valid once Events is closed.
type Subscription struct {
	Protocol string

	events chan Event
	err    error
}

// Events yields window events until the compositor connection ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Err returns why the stream ended.
func (s *Subscription) Err() error {
	return s.err
}

// Subscribe performs protocol discovery synchronously, then reads events on a
// dedicated OS thread until ctx is cancelled or the connection drops.
func (s *Source) Subscribe(ctx context.Context) (*Subscription, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	path := s.SocketPath
	if path == "" {
		resolved, err := wayland.SocketPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}

	conn, err := wayland.Dial(path)
	if err != nil {
		return nil, err
	}

	registry, err := conn.GetRegistry()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	proto, global, err := Select(registry)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	version := proto.bindVersion(global.Version)
	managerID, err := conn.Bind(registry, global, version)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info("window source bound", "protocol", proto.Interface, "version", version)

	buffer := s.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{Protocol: proto.Interface, events: make(chan Event, buffer)}
	go sub.run(ctx, conn, proto, managerID, logger)
	return sub, nil
}

func (s *Subscription) run(ctx context.Context, conn *wayland.Conn, proto Protocol, managerID uint32, logger *slog.Logger) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.events)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Send(wayland.NewMessage(managerID, proto.managerStop))
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	tr := newTracker(proto)
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				s.err = ctx.Err()
			} else {
				s.err = fmt.Errorf("compositor connection: %w", err)
			}
			return
		}

		if msg.Sender == managerID {
			switch msg.Opcode {
			case proto.managerToplevel:
				args := msg.Args()
				handle := args.Uint()
				if args.Err() != nil {
					s.err = fmt.Errorf("decode toplevel event: %w", args.Err())
					return
				}
				tr.add(handle)
			case proto.managerFinished:
				s.err = ErrFinished
				return
			}
			continue
		}
		if !tr.owns(msg.Sender) {
			continue
		}

		ev, emit, closed := tr.apply(msg)
		if closed {
			if err := conn.Send(wayland.NewMessage(msg.Sender, proto.handleDestroy)); err != nil {
				logger.Debug("destroy toplevel handle failed", "handle", msg.Sender, "error", err)
			}
		}
		if !emit {
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		}
	}
}
