// Package version reports pwsw build metadata for `pwsw version` and the daemon start log.
package version

import (
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/pwsw/pwsw/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the version line. Fields left unset by the linker fall back to the
// module version and vcs stamps recorded by `go install`.
func String() string {
	version, commit, date := Version, Commit, Date
	if info, ok := debug.ReadBuildInfo(); ok {
		version, commit, date = fromBuildInfo(info, version, commit, date)
	}
	return "pwsw " + version + " (commit=" + commit + ", date=" + date + ", go=" + runtime.Version() + ")"
}

func fromBuildInfo(info *debug.BuildInfo, version, commit, date string) (string, string, string) {
	if version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if commit == "none" && setting.Value != "" {
				commit = setting.Value[:min(len(setting.Value), 12)]
			}
		case "vcs.time":
			if date == "unknown" && setting.Value != "" {
				date = setting.Value
			}
		}
	}
	return version, commit, date
}
