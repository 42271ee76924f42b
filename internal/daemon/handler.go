package daemon

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/pwsw/pwsw/internal/arbiter"
	"github.com/pwsw/pwsw/internal/fsm"
	"github.com/pwsw/pwsw/internal/ipc"
)

// Handle serves IPC requests. Reads and mutations run on the loop goroutine; config
// loading and pattern compilation run here.
func (d *Daemon) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	d.metrics.IPCRequests.WithLabelValues(commandLabel(req.Command)).Inc()

	switch req.Command {
	case ipc.CommandStatus:
		return d.onLoop(ctx, d.status)
	case ipc.CommandListWindows:
		return d.onLoop(ctx, d.listWindows)
	case ipc.CommandTestRule:
		return d.testRule(ctx, req.Pattern)
	case ipc.CommandReload:
		return d.reloadRequest(ctx)
	case ipc.CommandShutdown:
		return d.onLoop(ctx, func() ipc.Response {
			d.shutdownRequest = true
			return ipc.Response{OK: true, Message: "shutting down"}
		})
	default:
		return ipc.Fail(ipc.KindBadRequest, "unknown command: %s", req.Command)
	}
}

func commandLabel(command string) string {
	switch command {
	case ipc.CommandStatus, ipc.CommandListWindows, ipc.CommandTestRule, ipc.CommandReload, ipc.CommandShutdown:
		return command
	default:
		return "unknown"
	}
}

// onLoop runs fn on the loop goroutine and waits for its response.
func (d *Daemon) onLoop(ctx context.Context, fn func() ipc.Response) ipc.Response {
	c := call{fn: fn, reply: make(chan ipc.Response, 1)}
	select {
	case d.calls <- c:
	case <-d.loopDone:
		return ipc.Fail(ipc.KindUnavailable, "daemon is shutting down")
	case <-ctx.Done():
		return ipc.Fail(ipc.KindTimeout, "daemon did not accept request in time")
	}

	return awaitReply(ctx, c.reply, d.loopDone, "daemon did not answer in time")
}

// awaitReply waits for the loop's answer. A reply already sent wins over loopDone or
// ctx becoming ready at the same time.
func awaitReply(ctx context.Context, reply <-chan ipc.Response, loopDone <-chan struct{}, timeoutMsg string) ipc.Response {
	fail := ipc.Fail(ipc.KindUnavailable, "daemon is shutting down")
	select {
	case resp := <-reply:
		return resp
	case <-loopDone:
	case <-ctx.Done():
		fail = ipc.Fail(ipc.KindTimeout, "%s", timeoutMsg)
	}

	select {
	case resp := <-reply:
		return resp
	default:
		return fail
	}
}

func (d *Daemon) status() ipc.Response {
	current := d.arb.Current()
	status := &ipc.Status{
		Running:     d.State() == fsm.StateRunning,
		State:       string(d.State()),
		UptimeMS:    time.Since(d.started).Milliseconds(),
		CurrentSink: current,
		Protocol:    d.protocol,
		ConfigPath:  d.opts.ConfigPath,
	}
	if current != "" {
		status.CurrentSinkDesc = d.arb.SinkDesc(current)
	}
	if mw, ok := d.arb.MostRecent(); ok {
		status.MostRecentWindow = &ipc.RecentWindow{
			ID:          mw.ID,
			AppID:       mw.AppID,
			Title:       mw.Title,
			SinkName:    mw.SinkName,
			TriggerDesc: mw.TriggerDesc,
		}
	}
	return ipc.Response{OK: true, Status: status}
}

func (d *Daemon) listWindows() ipc.Response {
	infos := d.arb.Windows()
	windows := make([]ipc.Window, 0, len(infos))
	for _, info := range infos {
		windows = append(windows, windowView(info))
	}
	return ipc.Response{OK: true, Windows: windows}
}

func windowView(info arbiter.WindowInfo) ipc.Window {
	w := ipc.Window{ID: info.ID, AppID: info.AppID, Title: info.Title}
	if info.Tracked != nil {
		w.Tracked = &ipc.Tracked{SinkName: info.Tracked.SinkName, SinkDesc: info.Tracked.SinkDesc}
	}
	return w
}

func (d *Daemon) testRule(ctx context.Context, pattern string) ipc.Response {
	if strings.TrimSpace(pattern) == "" {
		return ipc.Fail(ipc.KindBadRequest, "pattern must not be empty")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ipc.Fail(ipc.KindBadRequest, "invalid pattern %q: %v", pattern, err)
	}

	return d.onLoop(ctx, func() ipc.Response {
		found := d.arb.TestRule(re)
		matches := make([]ipc.RuleMatch, 0, len(found))
		for _, m := range found {
			matches = append(matches, ipc.RuleMatch{
				ID:        m.ID,
				AppID:     m.AppID,
				Title:     m.Title,
				MatchedOn: m.MatchedOn,
			})
		}
		return ipc.Response{OK: true, Matches: matches}
	})
}

// reloadRequest loads the document here, then waits until the loop has re-evaluated
// every window against it.
func (d *Daemon) reloadRequest(ctx context.Context) ipc.Response {
	if d.opts.ConfigPath == "" {
		return ipc.Fail(ipc.KindUnavailable, "daemon was started without a config path")
	}
	cfg, err := d.opts.LoadConfig(d.opts.ConfigPath)

	res := reloadResult{cfg: cfg, err: err, reply: make(chan ipc.Response, 1)}
	select {
	case d.reloads <- res:
	case <-d.loopDone:
		return ipc.Fail(ipc.KindUnavailable, "daemon is shutting down")
	case <-ctx.Done():
		return ipc.Fail(ipc.KindTimeout, "daemon did not accept reload in time")
	}

	return awaitReply(ctx, res.reply, d.loopDone, "daemon did not finish reload in time")
}
