package version

import (
	"time"
)

// Set at link time with -ldflags "-X github.com/nais/pullhookd/pkg/version.version=..."
var (
	version   = "unknown"
	buildTime = ""
)

func Version() string {
	return version
}

// BuildTime returns the time the binary was built, or an error if it was not recorded.
func BuildTime() (time.Time, error) {
	return time.Parse(time.RFC3339, buildTime)
}
