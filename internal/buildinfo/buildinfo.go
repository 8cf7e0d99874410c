// Package buildinfo holds version and build metadata stamped at compile
// time via ldflags. The same values identify the firmware to Home
// Assistant through MQTT discovery.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info returns build and runtime info as a map.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"sw_version": SoftwareVersion(),
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// SoftwareVersion is the version advertised as the device's sw_version:
// Version with the short commit appended when one was stamped.
func SoftwareVersion() string {
	commit := GitCommit
	if commit == "" || commit == "unknown" {
		return Version
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return Version + "+" + commit
}

// Uptime returns the time since process start, to the second.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("Floriva %s on %s/%s (%s) built %s",
		SoftwareVersion(), runtime.GOOS, runtime.GOARCH, GitBranch, BuildTime)
}
