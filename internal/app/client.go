package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/pwsw/pwsw/internal/ipc"
)

// requestTimeout covers a reload, which re-reads the config and reconciles every window.
const requestTimeout = 3 * time.Second

func (r Runner) commandStatus(ctx context.Context, asJSON bool) int {
	resp, ok := r.forward(ctx, ipc.Request{Command: ipc.CommandStatus})
	if !ok {
		return ExitConfig
	}
	if resp.Status == nil {
		fmt.Fprintln(r.Stderr, "error: daemon returned no status")
		return ExitConfig
	}
	if asJSON {
		return r.printJSON(resp.Status)
	}

	status := resp.Status
	state := status.State
	if state == "" {
		state = "running"
	}
	fmt.Fprintf(r.Stdout, "state: %s\n", state)
	fmt.Fprintf(r.Stdout, "uptime: %s\n", (time.Duration(status.UptimeMS) * time.Millisecond).String())
	if status.Protocol != "" {
		fmt.Fprintf(r.Stdout, "protocol: %s\n", status.Protocol)
	}
	if status.ConfigPath != "" {
		fmt.Fprintf(r.Stdout, "config: %s\n", status.ConfigPath)
	}
	switch {
	case status.CurrentSink == "":
		fmt.Fprintln(r.Stdout, "current sink: unknown")
	case status.CurrentSinkDesc != "":
		fmt.Fprintf(r.Stdout, "current sink: %s (%s)\n", status.CurrentSinkDesc, status.CurrentSink)
	default:
		fmt.Fprintf(r.Stdout, "current sink: %s\n", status.CurrentSink)
	}
	if mw := status.MostRecentWindow; mw != nil {
		fmt.Fprintf(r.Stdout, "most recent window: id=%d app_id=%q title=%q sink=%s (%s)\n",
			mw.ID, mw.AppID, mw.Title, mw.SinkName, mw.TriggerDesc)
	}
	return ExitOK
}

func (r Runner) commandListWindows(ctx context.Context, asJSON bool) int {
	resp, ok := r.forward(ctx, ipc.Request{Command: ipc.CommandListWindows})
	if !ok {
		return ExitConfig
	}
	if asJSON {
		windows := resp.Windows
		if windows == nil {
			windows = []ipc.Window{}
		}
		return r.printJSON(windows)
	}
	if len(resp.Windows) == 0 {
		fmt.Fprintln(r.Stdout, "no open windows")
		return ExitOK
	}
	for _, w := range resp.Windows {
		mark := " "
		sink := "-"
		if w.Tracked != nil {
			mark = "*"
			sink = w.Tracked.SinkName
		}
		fmt.Fprintf(r.Stdout, "%s id=%d | app_id=%q | title=%q | sink=%s\n", mark, w.ID, w.AppID, w.Title, sink)
	}
	return ExitOK
}

func (r Runner) commandTestRule(ctx context.Context, pattern string) int {
	resp, ok := r.forward(ctx, ipc.Request{Command: ipc.CommandTestRule, Pattern: pattern})
	if !ok {
		return ExitConfig
	}
	if len(resp.Matches) == 0 {
		fmt.Fprintf(r.Stdout, "no open windows match %q\n", pattern)
		return ExitOK
	}
	for _, m := range resp.Matches {
		fmt.Fprintf(r.Stdout, "id=%d | app_id=%q | title=%q | matched_on=%s\n", m.ID, m.AppID, m.Title, m.MatchedOn)
	}
	return ExitOK
}

func (r Runner) forwardMessage(ctx context.Context, req ipc.Request) int {
	resp, ok := r.forward(ctx, req)
	if !ok {
		return ExitConfig
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return ExitOK
}

// forward sends req to the running daemon and reports failures on Stderr.
func (r Runner) forward(ctx context.Context, req ipc.Request) (ipc.Response, bool) {
	resp, err := tryForward(ctx, ipc.RuntimeSocketPath(), req)
	switch {
	case errors.Is(err, errNoDaemon):
		fmt.Fprintln(r.Stderr, "error: no running pwsw daemon")
		return ipc.Response{}, false
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return resp, false
	}
	return resp, true
}

var errNoDaemon = errors.New("no running pwsw daemon")

func tryForward(ctx context.Context, socketPath string, req ipc.Request) (ipc.Response, error) {
	resp, err := ipc.Send(ctx, socketPath, req, requestTimeout)
	if err != nil {
		if isSocketMissing(err) || isConnectionRefused(err) {
			return ipc.Response{}, errNoDaemon
		}
		return ipc.Response{}, fmt.Errorf("forward command %q: %w", req.Command, err)
	}
	if err := resp.Err(); err != nil {
		return resp, err
	}
	return resp, nil
}

func (r Runner) printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: encode json: %v\n", err)
		return ExitRuntime
	}
	fmt.Fprintln(r.Stdout, string(data))
	return ExitOK
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
