// Package version exposes build metadata for the engine binaries.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is overridden by ldflags at release build time.
	Version = "dev"
	// CommitHash falls back to the VCS revision embedded in the binary.
	CommitHash = ""
)

// GetInfo returns the version, with the short commit hash when known.
func GetInfo() string {
	if CommitHash == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					CommitHash = setting.Value
					break
				}
			}
		}
	}
	if CommitHash == "" {
		return Version
	}
	short := CommitHash
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", Version, short)
}
