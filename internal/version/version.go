// Package version carries build metadata injected with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/meshlink/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/meshlink/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

import "runtime/debug"

var (
	Version = "dev"
	Commit  = ""
)

// String returns "<version> (<commit>)", falling back to the VCS revision
// recorded by the Go toolchain when Commit was not injected.
func String() string {
	commit := Commit
	if commit == "" {
		commit = vcsRevision()
	}
	if commit == "" {
		return Version
	}
	return Version + " (" + commit + ")"
}

// UserAgent is sent on backend requests.
func UserAgent() string {
	return "meshlink/" + Version
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 7 {
				return s.Value[:7]
			}
			return s.Value
		}
	}
	return ""
}
