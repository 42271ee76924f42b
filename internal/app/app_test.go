package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/pwsw/pwsw/internal/config"
	"github.com/pwsw/pwsw/internal/ipc"
	"github.com/pwsw/pwsw/internal/pipewire"
	"github.com/stretchr/testify/require"
)

const runnerConfig = `
[settings]
smart_toggle = true
notify_manual = true

[[sinks]]
name = "alsa_output.speakers"
desc = "Speakers"
icon = "audio-speakers"
default = true

[[sinks]]
name = "alsa_output.headphones"
desc = "Headphones"
icon = "audio-headphones"

[[sinks]]
name = "bluez_output.buds"
desc = "Buds"
`

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, ExitOK, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, ExitOK, exitCode)
	require.Contains(t, stdout.String(), "pwsw")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, ExitRuntime, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteMissingPositional(t *testing.T) {
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"test-rule"}, &bytes.Buffer{}, &stderr)
	require.Equal(t, ExitRuntime, exitCode)
	require.Contains(t, stderr.String(), "accepts 1 arg(s)")
}

func TestRunnerStatusWithoutDaemon(t *testing.T) {
	setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"status"})
	require.Equal(t, ExitConfig, exitCode)
	require.Empty(t, stdout.String())
	require.Contains(t, stderr.String(), "no running pwsw daemon")
}

func TestRunnerForwardsCommandsToDaemon(t *testing.T) {
	paths := setupRunnerEnv(t)
	requests := make(chan ipc.Request, 8)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, Status: &ipc.Status{
				Running:         true,
				State:           "running",
				UptimeMS:        1500,
				CurrentSink:     "alsa_output.headphones",
				CurrentSinkDesc: "Headphones",
				Protocol:        "zwlr_foreign_toplevel_manager_v1",
				MostRecentWindow: &ipc.RecentWindow{
					ID: 7, AppID: "mpv", Title: "song.flac", SinkName: "alsa_output.headphones", TriggerDesc: "mpv",
				},
			}}
		case ipc.CommandListWindows:
			return ipc.Response{OK: true, Windows: []ipc.Window{
				{ID: 7, AppID: "mpv", Title: "song.flac", Tracked: &ipc.Tracked{SinkName: "alsa_output.headphones", SinkDesc: "Headphones"}},
				{ID: 8, AppID: "firefox", Title: "news"},
			}}
		case ipc.CommandTestRule:
			return ipc.Response{OK: true, Matches: []ipc.RuleMatch{{ID: 7, AppID: "mpv", Title: "song.flac", MatchedOn: "app_id"}}}
		case ipc.CommandReload:
			return ipc.Response{OK: true, Message: "reloaded"}
		case ipc.CommandShutdown:
			return ipc.Response{OK: true, Message: "shutting down"}
		default:
			return ipc.Fail(ipc.KindBadRequest, "unknown command: %s", req.Command)
		}
	})
	defer shutdown()

	cases := []struct {
		args     []string
		contains []string
	}{
		{args: []string{"status"}, contains: []string{"state: running", "uptime: 1.5s", "current sink: Headphones (alsa_output.headphones)", `app_id="mpv"`}},
		{args: []string{"list-windows"}, contains: []string{`* id=7 | app_id="mpv"`, `  id=8 | app_id="firefox" | title="news" | sink=-`}},
		{args: []string{"test-rule", "^mp"}, contains: []string{"matched_on=app_id"}},
		{args: []string{"reload"}, contains: []string{"reloaded"}},
		{args: []string{"shutdown"}, contains: []string{"shutting down"}},
	}

	for _, tc := range cases {
		var stdout bytes.Buffer
		var stderr bytes.Buffer
		runner := Runner{Stdout: &stdout, Stderr: &stderr}

		exitCode := runner.Execute(context.Background(), tc.args)
		require.Equal(t, ExitOK, exitCode, tc.args)
		require.Empty(t, stderr.String(), tc.args)
		for _, want := range tc.contains {
			require.Contains(t, stdout.String(), want, tc.args)
		}
	}

	got := make([]ipc.Request, 0, len(cases))
	for range cases {
		got = append(got, <-requests)
	}
	require.Equal(t, []ipc.Request{
		{Command: ipc.CommandStatus},
		{Command: ipc.CommandListWindows},
		{Command: ipc.CommandTestRule, Pattern: "^mp"},
		{Command: ipc.CommandReload},
		{Command: ipc.CommandShutdown},
	}, got)
}

func TestRunnerStatusJSON(t *testing.T) {
	paths := setupRunnerEnv(t)
	shutdown := startIPCServerForRunnerTest(t, paths.socketPath, func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true, Status: &ipc.Status{Running: true, State: "running", CurrentSink: "alsa_output.speakers"}}
	})
	defer shutdown()

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"status", "--json"})
	require.Equal(t, ExitOK, exitCode)

	var status ipc.Status
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &status))
	require.True(t, status.Running)
	require.Equal(t, "alsa_output.speakers", status.CurrentSink)
}

func TestRunnerListWindowsJSONEmpty(t *testing.T) {
	paths := setupRunnerEnv(t)
	shutdown := startIPCServerForRunnerTest(t, paths.socketPath, func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true}
	})
	defer shutdown()

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"list-windows", "--json"})
	require.Equal(t, ExitOK, exitCode)
	require.Equal(t, "[]\n", stdout.String())
}

func TestRunnerSurfacesRemoteErrors(t *testing.T) {
	paths := setupRunnerEnv(t)
	shutdown := startIPCServerForRunnerTest(t, paths.socketPath, func(context.Context, ipc.Request) ipc.Response {
		return ipc.Fail(ipc.KindConfigInvalid, "validate config: sinks: exactly one sink must set default = true")
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"reload"})
	require.Equal(t, ExitConfig, exitCode)
	require.Empty(t, stdout.String())
	require.Contains(t, stderr.String(), "config_invalid: validate config")
}

func TestTryForwardTreatsReadFailuresAsErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "pwsw.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, err = tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus})
	require.Error(t, err)
	require.NotErrorIs(t, err, errNoDaemon)
	require.Contains(t, err.Error(), `forward command "status":`)

	<-done
	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
	require.NoError(t, listener.Close())
}

func TestTryForwardLeavesStaleSocketInPlace(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "pwsw.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, err := tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus})
	require.ErrorIs(t, err, errNoDaemon)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestRunnerValidate(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "validate"})
	require.Equal(t, ExitOK, exitCode)
	require.Contains(t, stdout.String(), "config ok:")
	require.Contains(t, stdout.String(), "3 sinks, 0 rules")
	require.Empty(t, stderr.String())

	broken := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(broken, []byte("[[sinks]]\nname = \"a\"\ndesc = \"A\"\n"), 0o600))

	stdout.Reset()
	exitCode = runner.Execute(context.Background(), []string{"--config", broken, "validate"})
	require.Equal(t, ExitConfig, exitCode)
	require.Empty(t, stdout.String())
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerSetSink(t *testing.T) {
	paths := setupRunnerEnv(t)
	sinks := &fakeSinks{current: "alsa_output.speakers"}
	notes := &captureNotifier{}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Sinks: sinks, Notifier: notes}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "set-sink", "Headphones"})
	require.Equal(t, ExitOK, exitCode, stderr.String())
	require.Equal(t, []string{"alsa_output.headphones"}, sinks.activated())
	require.Contains(t, stdout.String(), "switched to Headphones")
	require.Equal(t, []string{"Audio output: Headphones|audio-headphones"}, notes.all())
}

func TestRunnerSetSinkSmartToggleReturnsToDefault(t *testing.T) {
	paths := setupRunnerEnv(t)
	sinks := &fakeSinks{current: "alsa_output.headphones"}
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, Sinks: sinks, Notifier: &captureNotifier{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "set-sink", "2"})
	require.Equal(t, ExitOK, exitCode)
	require.Equal(t, []string{"alsa_output.speakers"}, sinks.activated())
}

func TestRunnerSetSinkWithoutNotifyOrToggle(t *testing.T) {
	paths := setupRunnerEnv(t)
	doc := strings.NewReplacer("smart_toggle = true", "smart_toggle = false", "notify_manual = true", "notify_manual = false").Replace(runnerConfig)
	require.NoError(t, os.WriteFile(paths.configPath, []byte(doc), 0o600))

	sinks := &fakeSinks{current: "alsa_output.headphones"}
	notes := &captureNotifier{}
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, Sinks: sinks, Notifier: notes}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "set-sink", "alsa_output.headphones"})
	require.Equal(t, ExitOK, exitCode)
	require.Equal(t, []string{"alsa_output.headphones"}, sinks.activated())
	require.Empty(t, notes.all())
}

func TestRunnerSetSinkUnknownAndFailing(t *testing.T) {
	paths := setupRunnerEnv(t)
	sinks := &fakeSinks{current: "alsa_output.speakers"}

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr, Sinks: sinks, Notifier: &captureNotifier{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "set-sink", "nope"})
	require.Equal(t, ExitConfig, exitCode)
	require.Contains(t, stderr.String(), `no configured sink matches "nope"`)
	require.Empty(t, sinks.activated())

	stderr.Reset()
	sinks.activateErr = pipewire.ErrSinkNotFound
	exitCode = runner.Execute(context.Background(), []string{"--config", paths.configPath, "set-sink", "Buds"})
	require.Equal(t, ExitConfig, exitCode)
	require.Contains(t, stderr.String(), "switch to bluez_output.buds")
}

func TestRunnerCycleSkipsUnreachableSinks(t *testing.T) {
	paths := setupRunnerEnv(t)
	sinks := &fakeSinks{
		current: "alsa_output.speakers",
		active: []pipewire.Sink{
			{NodeID: 40, Name: "alsa_output.speakers", Description: "Speakers"},
		},
		profiles: []pipewire.ProfileSink{
			{Name: "bluez_output.buds", Description: "Buds", DeviceID: 60, ProfileIndex: 1},
		},
	}
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, Sinks: sinks, Notifier: &captureNotifier{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "next-sink"})
	require.Equal(t, ExitOK, exitCode)
	exitCode = runner.Execute(context.Background(), []string{"--config", paths.configPath, "prev-sink"})
	require.Equal(t, ExitOK, exitCode)

	require.Equal(t, []string{"bluez_output.buds", "bluez_output.buds"}, sinks.activated())
}

func TestRunnerCycleWithNothingElseReachable(t *testing.T) {
	paths := setupRunnerEnv(t)
	sinks := &fakeSinks{
		current: "alsa_output.speakers",
		active:  []pipewire.Sink{{NodeID: 40, Name: "alsa_output.speakers"}},
	}

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr, Sinks: sinks, Notifier: &captureNotifier{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "next-sink"})
	require.Equal(t, ExitConfig, exitCode)
	require.Contains(t, stderr.String(), "no other configured sink is reachable")
	require.Empty(t, sinks.activated())
}

func TestNextSink(t *testing.T) {
	configured := []config.Sink{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	all := func(string) bool { return true }

	cases := []struct {
		name    string
		current string
		step    int
		want    string
	}{
		{name: "forward", current: "a", step: 1, want: "b"},
		{name: "forward wraps", current: "c", step: 1, want: "a"},
		{name: "backward wraps", current: "a", step: -1, want: "c"},
		{name: "unknown current forward", current: "x", step: 1, want: "a"},
		{name: "unknown current backward", current: "x", step: -1, want: "c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := nextSink(configured, tc.current, tc.step, all)
			require.True(t, ok)
			require.Equal(t, tc.want, got.Name)
		})
	}

	_, ok := nextSink([]config.Sink{{Name: "a"}}, "a", 1, all)
	require.False(t, ok)
}

func TestRunnerInitConfig(t *testing.T) {
	setupRunnerEnv(t)
	path := filepath.Join(t.TempDir(), "pwsw", "config.toml")
	sinks := &fakeSinks{active: []pipewire.Sink{
		{NodeID: 40, Name: "alsa_output.speakers", Description: "Speakers"},
		{NodeID: 41, Name: "alsa_output.hdmi"},
	}}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Sinks: sinks}

	exitCode := runner.Execute(context.Background(), []string{"--config", path, "init-config"})
	require.Equal(t, ExitOK, exitCode, stderr.String())
	require.Contains(t, stdout.String(), "with 2 sinks (default alsa_output.speakers)")

	compiled, err := config.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "alsa_output.speakers", compiled.DefaultSink().Name)
	require.Equal(t, "alsa_output.hdmi", compiled.Sinks()[1].Desc)

	stderr.Reset()
	exitCode = runner.Execute(context.Background(), []string{"--config", path, "init-config"})
	require.Equal(t, ExitConfig, exitCode)
	require.Contains(t, stderr.String(), "already exists")
}

func TestRunnerInitConfigWithoutSinks(t *testing.T) {
	setupRunnerEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr, Sinks: &fakeSinks{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", path, "init-config"})
	require.Equal(t, ExitConfig, exitCode)
	require.Contains(t, stderr.String(), "no active sinks")
	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerListSinksFailsWithoutPulseServer(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "list-sinks"})
	require.Equal(t, ExitConfig, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerDoctorCommandPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("XDG_SESSION_TYPE", "x11")
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, ExitConfig, exitCode)
	require.Contains(t, stdout.String(), "[OK] config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] XDG_SESSION_TYPE")
	require.Contains(t, stdout.String(), "[FAIL] daemon")
}

func TestRunnerDaemonRejectsInvalidConfig(t *testing.T) {
	setupRunnerEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[settings]\nbogus = true\n"), 0o600))

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", path, "daemon"})
	require.Equal(t, ExitConfig, exitCode)
	require.Contains(t, stderr.String(), "unknown keys")
}

func TestRunnerDaemonWithoutCompositorExitsRuntime(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("WAYLAND_DISPLAY", filepath.Join(t.TempDir(), "wayland-missing"))

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr, Notifier: &captureNotifier{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "daemon"})
	require.Equal(t, ExitRuntime, exitCode)
	require.Contains(t, stderr.String(), "error:")

	_, statErr := os.Stat(paths.socketPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestSocketErrorHelpers(t *testing.T) {
	require.False(t, isSocketMissing(nil))
	require.False(t, isConnectionRefused(nil))

	require.True(t, isSocketMissing(os.ErrNotExist))
	require.True(t, isSocketMissing(errors.New("dial unix /tmp/pwsw.sock: no such file or directory")))
	require.False(t, isSocketMissing(errors.New("other error")))

	require.True(t, isConnectionRefused(syscall.ECONNREFUSED))
	require.False(t, isConnectionRefused(errors.New("other error")))
}

type fakeSinks struct {
	mu          sync.Mutex
	current     string
	active      []pipewire.Sink
	profiles    []pipewire.ProfileSink
	activateErr error
	calls       []string
}

func (f *fakeSinks) ActivateSink(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activateErr != nil {
		return f.activateErr
	}
	f.calls = append(f.calls, name)
	return nil
}

func (f *fakeSinks) DefaultSinkName(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeSinks) Reachable(context.Context) ([]pipewire.Sink, []pipewire.ProfileSink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.profiles, nil
}

func (f *fakeSinks) activated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type captureNotifier struct {
	mu    sync.Mutex
	notes []string
}

func (c *captureNotifier) Notify(_ context.Context, summary, _, icon string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, summary+"|"+icon)
}

func (c *captureNotifier) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.notes...)
}

type runnerPaths struct {
	configPath string
	socketPath string
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(runnerConfig), 0o600))

	return runnerPaths{configPath: configPath, socketPath: filepath.Join(runtimeDir, "pwsw.sock")}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
