// Package version exposes build identification, overridable at link time:
//
//	go build -ldflags "-X github.com/skysync/skysync/pkg/version.Version=v1.2.0"
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the build.
	Version = "dev"
	// Commit is the VCS revision the build was produced from.
	Commit = "unknown"
)

// String returns a one-line build description for diagnostics.
func String() string {
	return fmt.Sprintf("skysync %s (%s) %s %s/%s",
		Version, Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
