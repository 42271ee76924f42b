package daemon

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pwsw/pwsw/internal/ipc"
	"github.com/pwsw/pwsw/internal/toplevel"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestOnLoopKeepsReplySentBeforeLoopExit(t *testing.T) {
	for i := 0; i < 500; i++ {
		d := &Daemon{calls: make(chan call), loopDone: make(chan struct{})}
		go func() {
			c := <-d.calls
			c.reply <- c.fn()
			close(d.loopDone)
		}()

		resp := d.onLoop(context.Background(), func() ipc.Response {
			return ipc.Response{OK: true, Message: "shutting down"}
		})
		require.True(t, resp.OK, "iteration %d: %s", i, resp.Error)
		require.Equal(t, "shutting down", resp.Message)
	}
}

func TestAwaitReplyPrefersReplyOverCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply := make(chan ipc.Response, 1)
	reply <- ipc.Response{OK: true}
	loopDone := make(chan struct{})
	close(loopDone)

	resp := awaitReply(ctx, reply, loopDone, "late")
	require.True(t, resp.OK)
}

func TestAwaitReplyFailsWithoutReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := awaitReply(ctx, make(chan ipc.Response, 1), make(chan struct{}), "late")
	require.False(t, resp.OK)
	require.Equal(t, ipc.KindTimeout, resp.Kind)
	require.Equal(t, "late", resp.Error)

	loopDone := make(chan struct{})
	close(loopDone)
	resp = awaitReply(context.Background(), make(chan ipc.Response, 1), loopDone, "late")
	require.False(t, resp.OK)
	require.Equal(t, ipc.KindUnavailable, resp.Kind)
}

func TestHandleServesConcurrentClients(t *testing.T) {
	h := startDaemon(t, noStartupDocument, nil)
	h.emit(toplevel.Event{Kind: toplevel.Opened, ID: 1, AppID: "mpv", Title: "music.mp3"})
	h.waitCalls("headphones")

	for i := 0; i < 3; i++ {
		idle, err := net.Dial("unix", h.socket)
		require.NoError(t, err)
		t.Cleanup(func() { _ = idle.Close() })
	}

	requests := []ipc.Request{
		{Command: ipc.CommandStatus},
		{Command: ipc.CommandListWindows},
		{Command: ipc.CommandTestRule, Pattern: "^mpv$"},
	}
	var g errgroup.Group
	for i := 0; i < 30; i++ {
		req := requests[i%len(requests)]
		g.Go(func() error {
			resp, err := ipc.Send(context.Background(), h.socket, req, time.Second)
			if err != nil {
				return err
			}
			return resp.Err()
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, "headphones", h.status().CurrentSink)
}
