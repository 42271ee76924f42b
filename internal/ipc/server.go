package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// RequestTimeout is the per-request budget for reading, handling, and replying.
const RequestTimeout = 5 * time.Second

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Server serves framed requests on a listener.
type Server struct {
	Handler        Handler
	RequestTimeout time.Duration
	Logger         *slog.Logger
	// AllowPeer rejects connections whose peer uid differs from the current user when nil.
	AllowPeer func(uid uint32) bool
}

// Serve accepts unix-socket clients until context cancellation or listener close.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	return (&Server{Handler: handler}).Serve(ctx, listener)
}

// Serve accepts clients until ctx is cancelled, then waits for open connections to finish.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	var wg sync.WaitGroup

	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			wg.Wait()
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			s.serveConn(ctx, c)
		}(conn)
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func (s *Server) timeout() time.Duration {
	if s.RequestTimeout <= 0 {
		return RequestTimeout
	}
	return s.RequestTimeout
}

func (s *Server) allowed(conn net.Conn) bool {
	uid, ok, err := peerUID(conn)
	if err != nil {
		s.logger().Warn("read IPC peer credentials failed", "error", err)
		return false
	}
	if !ok {
		return true
	}
	if s.AllowPeer != nil {
		return s.AllowPeer(uid)
	}
	return uid == uint32(os.Getuid())
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	logger := s.logger()
	if !s.allowed(conn) {
		logger.Warn("rejected IPC connection from foreign peer")
		return
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if ctx.Err() != nil {
			return
		}
		// Idle budget for the next frame.
		if err := conn.SetDeadline(time.Now().Add(s.timeout())); err != nil {
			return
		}

		payload, err := ReadFrame(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, ErrFrameTooLarge):
				logger.Warn("dropping IPC connection", "error", err)
				_ = WriteMessage(conn, Fail(KindProtocol, "%v", err))
			case isTimeout(err) && ctx.Err() == nil:
				logger.Warn("IPC request timed out", "error", err)
			case ctx.Err() == nil:
				logger.Debug("IPC read failed", "error", err)
			}
			return
		}

		var req Request
		if err := decodeRequest(payload, &req); err != nil {
			logger.Warn("dropping IPC connection", "error", err)
			_ = WriteMessage(conn, Fail(KindProtocol, "%v", err))
			return
		}

		// Handling and replying get a fresh budget once the request has arrived.
		deadline := time.Now().Add(s.timeout())
		if err := conn.SetDeadline(deadline); err != nil {
			return
		}
		reqCtx, cancel := context.WithDeadline(ctx, deadline)
		resp := s.Handler.Handle(reqCtx, req)
		cancel()

		if err := WriteMessage(conn, resp); err != nil {
			logger.Warn("write IPC response failed", "command", req.Command, "error", err)
			return
		}
		if resp.Kind == KindTimeout || resp.Kind == KindProtocol {
			return
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}
