// Package version carries build metadata, set via ldflags during release
// builds.
package version

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
