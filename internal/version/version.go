// Package version exposes the build version stamped in at link time.
package version

import "strings"

// Version is set via ldflags at build time:
// -ldflags "-X github.com/dualsense-tools/dsud/internal/version.Version=x.y.z"
var Version = ""

// Get returns the version string, or a dev placeholder for unstamped builds.
func Get() string {
	if Version == "" {
		return "0.0.1-dev"
	}
	return strings.TrimPrefix(Version, "v")
}
