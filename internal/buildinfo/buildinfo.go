// Package buildinfo carries the Hearth release stamped in at link time,
// plus process uptime for /health and the MQTT
// uptime sensor.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Stamped by -ldflags "-X github.com/nugget/hearth/internal/buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Info is the payload of `hearth version -o json`.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime is whole seconds since the process started.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// UserAgent identifies Hearth to Home Assistant and Anthropic, so its
// calls can be told apart in the HA log.
func UserAgent() string {
	return fmt.Sprintf("hearth/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String is the banner logged by `hearth serve` and printed by `hearth version`.
func String() string {
	return fmt.Sprintf("Hearth %s (%s) built %s", Version, GitCommit, BuildTime)
}
