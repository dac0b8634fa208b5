// Build information is injected with -ldflags, e.g.
//   go build -ldflags "-X github.com/nobletooth/kindly/pkg/utils.Version=v0.3.1 ..." ./cmd/kindly
// CAUTION: TestMode is read here too; removing this file silently disables test-mode invariants.

package utils

import (
	"log/slog"
	"strconv"
	"time"
)

var (
	TestMode   string // "true" when built for tests.
	IsTestMode bool
	Version    string
	Commit     string
	BuildTime  string
	StartTime  time.Time
)

func init() {
	StartTime = time.Now()

	if Version == "" {
		Version = "v0.0.0-dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
	if BuildTime == "" {
		BuildTime = "unknown"
	}
	if len(TestMode) > 0 {
		if isTestMode, err := strconv.ParseBool(TestMode); err == nil {
			IsTestMode = isTestMode
		} else {
			slog.Warn("Failed to parse TestMode build flag, defaulting to false.", "error", err)
		}
	}
}

// Uptime returns how long the process has been running.
func Uptime() time.Duration {
	return time.Since(StartTime)
}
