package ipc

import "fmt"

const (
	CommandStatus      = "status"
	CommandListWindows = "list_windows"
	CommandTestRule    = "test_rule"
	CommandReload      = "reload"
	CommandShutdown    = "shutdown"
)

// ErrorKind classifies failed responses.
type ErrorKind string

const (
	KindBadRequest    ErrorKind = "bad_request"
	KindProtocol      ErrorKind = "protocol"
	KindTimeout       ErrorKind = "timeout"
	KindConfigInvalid ErrorKind = "config_invalid"
	KindUnavailable   ErrorKind = "unavailable"
)

type Request struct {
	Command string `json:"command"`
	Pattern string `json:"pattern,omitempty"`
}

type Response struct {
	OK      bool        `json:"ok"`
	Kind    ErrorKind   `json:"kind,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Status  *Status     `json:"status,omitempty"`
	Windows []Window    `json:"windows,omitempty"`
	Matches []RuleMatch `json:"matches,omitempty"`
}

type Status struct {
	Running          bool          `json:"running"`
	State            string        `json:"state,omitempty"`
	UptimeMS         int64         `json:"uptime_ms"`
	CurrentSink      string        `json:"current_sink"`
	CurrentSinkDesc  string        `json:"current_sink_desc,omitempty"`
	MostRecentWindow *RecentWindow `json:"most_recent_window,omitempty"`
	Protocol         string        `json:"protocol,omitempty"`
	ConfigPath       string        `json:"config_path,omitempty"`
}

type RecentWindow struct {
	ID          uint64 `json:"id"`
	AppID       string `json:"app_id"`
	Title       string `json:"title"`
	SinkName    string `json:"sink_name"`
	TriggerDesc string `json:"trigger_desc"`
}

type Window struct {
	ID      uint64   `json:"id"`
	AppID   string   `json:"app_id"`
	Title   string   `json:"title"`
	Tracked *Tracked `json:"tracked,omitempty"`
}

type Tracked struct {
	SinkName string `json:"sink_name"`
	SinkDesc string `json:"sink_desc"`
}

type RuleMatch struct {
	ID        uint64 `json:"id"`
	AppID     string `json:"app_id"`
	Title     string `json:"title"`
	MatchedOn string `json:"matched_on"`
}

// Fail builds an error response.
func Fail(kind ErrorKind, format string, args ...any) Response {
	return Response{OK: false, Kind: kind, Error: fmt.Sprintf(format, args...)}
}

// RemoteError is a failed response surfaced as a Go error.
type RemoteError struct {
	Kind    ErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Err returns nil for successful responses and a *RemoteError otherwise.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	return &RemoteError{Kind: r.Kind, Message: r.Error}
}
