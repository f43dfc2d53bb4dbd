// Package buildinfo carries the version metadata stamped in at link
// time, e.g.
//
//	go build -ldflags "-X github.com/vaizki/ouman2mqtt/internal/buildinfo.Version=v1.2.0"
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set with -ldflags -X.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Labels returns the build metadata as constant labels for the
// build_info metric.
func Labels() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"go_version": runtime.Version(),
	}
}

// Uptime is the time since the process started, in whole seconds.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// UserAgent is sent with every request to the device.
func UserAgent() string {
	return "ouman2mqtt/" + Version
}

// Summary is the line printed by --version.
func Summary() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, runtime.Version())
}
