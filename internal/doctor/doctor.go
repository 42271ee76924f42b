// Package doctor runs runtime readiness diagnostics for the session, compositor, audio tools, config, and daemon.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pwsw/pwsw/internal/audio"
	"github.com/pwsw/pwsw/internal/config"
	"github.com/pwsw/pwsw/internal/ipc"
	"github.com/pwsw/pwsw/internal/toplevel"
	"github.com/pwsw/pwsw/internal/wayland"
)

const probeTimeout = 500 * time.Millisecond

// Tools are the PipeWire executables the effector shells out to.
var Tools = []string{"pw-dump", "pw-metadata", "pw-cli"}

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Input is what the caller already resolved before running checks.
type Input struct {
	ConfigPath string
	Config     *config.Compiled
	ConfigErr  error
	SocketPath string
}

// Run executes every check in order.
func Run(ctx context.Context, in Input) Report {
	checks := []Check{checkConfig(in)}

	checks = append(checks, checkEnv("XDG_SESSION_TYPE", func(v string) bool {
		return strings.EqualFold(strings.TrimSpace(v), "wayland")
	}, "session type is wayland", "expected XDG_SESSION_TYPE=wayland"))

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir is set", "XDG_RUNTIME_DIR is empty"))

	checks = append(checks, checkEnv("WAYLAND_DISPLAY", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "display is set", "WAYLAND_DISPLAY is empty"))

	checks = append(checks, checkCompositor())

	for _, tool := range Tools {
		checks = append(checks, checkBinary(tool, "PipeWire control tool"))
	}

	checks = append(checks, checkPulseDefault(ctx))
	checks = append(checks, checkDaemon(ctx, in.SocketPath))

	return Report{Checks: checks}
}

func checkConfig(in Input) Check {
	if in.ConfigErr != nil {
		return Check{Name: "config", Pass: false, Message: in.ConfigErr.Error()}
	}
	if in.Config == nil {
		return Check{Name: "config", Pass: false, Message: "no config loaded"}
	}
	return Check{
		Name: "config",
		Pass: true,
		Message: fmt.Sprintf("loaded %q (%d sinks, %d rules, default %q)",
			in.ConfigPath, len(in.Config.Sinks()), len(in.Config.Rules()), in.Config.DefaultSink().Name),
	}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkCompositor connects to the compositor and reports which toplevel protocol would be used.
func checkCompositor() Check {
	path, err := wayland.SocketPath()
	if err != nil {
		return Check{Name: "compositor", Pass: false, Message: err.Error()}
	}
	conn, err := wayland.Dial(path)
	if err != nil {
		return Check{Name: "compositor", Pass: false, Message: err.Error()}
	}
	defer conn.Close()

	registry, err := conn.GetRegistry()
	if err != nil {
		return Check{Name: "compositor", Pass: false, Message: err.Error()}
	}
	proto, global, err := toplevel.Select(registry)
	if err != nil {
		return Check{Name: "compositor", Pass: false, Message: err.Error()}
	}
	return Check{Name: "compositor", Pass: true, Message: fmt.Sprintf("%s v%d advertised", proto.Interface, global.Version)}
}

// checkPulseDefault reads the server default sink through pipewire-pulse.
func checkPulseDefault(ctx context.Context) Check {
	name, desc, err := audio.DefaultSink(ctx)
	if err != nil {
		return Check{Name: "audio.default", Pass: false, Message: err.Error()}
	}
	if desc != "" {
		return Check{Name: "audio.default", Pass: true, Message: fmt.Sprintf("%s (%s)", name, desc)}
	}
	return Check{Name: "audio.default", Pass: true, Message: name}
}

// checkDaemon probes the daemon socket.
func checkDaemon(ctx context.Context, socketPath string) Check {
	if socketPath == "" {
		socketPath = ipc.RuntimeSocketPath()
	}
	alive, err := ipc.Probe(ctx, socketPath, probeTimeout)
	switch {
	case err != nil:
		return Check{Name: "daemon", Pass: false, Message: err.Error()}
	case !alive:
		return Check{Name: "daemon", Pass: false, Message: fmt.Sprintf("no daemon answering at %s", socketPath)}
	default:
		return Check{Name: "daemon", Pass: true, Message: fmt.Sprintf("answering at %s", socketPath)}
	}
}
