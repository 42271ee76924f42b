// Package notify delivers best-effort desktop notifications for sink switches.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Notifier accepts switch notifications. Delivery failures are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, summary, body, icon string)
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, string) {}

const (
	defaultAppName   = "pwsw"
	defaultIcon      = "audio-speakers"
	defaultTimeoutMS = 3000
	dispatchTimeout  = 2 * time.Second
)

// Desktop sends freedesktop notifications, replacing the previous one so switches don't stack.
type Desktop struct {
	AppName   string
	TimeoutMS int
	logger    *slog.Logger

	mu     sync.Mutex
	lastID uint32
}

// NewDesktop returns a Desktop notifier that logs failures to logger.
func NewDesktop(logger *slog.Logger) *Desktop {
	return &Desktop{AppName: defaultAppName, TimeoutMS: defaultTimeoutMS, logger: logger}
}

// Notify shows summary/body with icon, falling back to a generic speaker icon.
func (d *Desktop) Notify(ctx context.Context, summary, body, icon string) {
	icon = strings.TrimSpace(icon)
	if icon == "" {
		icon = defaultIcon
	}
	appName := strings.TrimSpace(d.AppName)
	if appName == "" {
		appName = defaultAppName
	}

	d.mu.Lock()
	replaceID := d.lastID
	d.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	id, err := desktopNotify(runCtx, appName, replaceID, icon, summary, body, d.TimeoutMS)
	if err != nil {
		if d.logger != nil {
			d.logger.Debug("desktop notification failed", "error", err.Error())
		}
		return
	}

	d.mu.Lock()
	d.lastID = id
	d.mu.Unlock()
}

// SwitchSummary is the notification title for a switch to sinkDesc.
func SwitchSummary(sinkDesc string) string {
	return "Audio output: " + sinkDesc
}

// SwitchBody explains why a switch happened.
func SwitchBody(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ""
	}
	return "Triggered by " + reason
}
