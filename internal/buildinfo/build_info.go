// Package buildinfo carries the version stamp injected at link time.
package buildinfo

import "fmt"

// BuildInfo holds the version, commit and date of an executable artifact.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// String returns the build info as a single printable line.
func (i BuildInfo) String() string {
	return fmt.Sprintf("version %s (%s) built on %s", i.Version, i.CommitHash, i.BuildDate)
}
