// Package version carries build information stamped in with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time, e.g. -X github.com/zsiec/lookout/pkg/version.Version=v1.2.0
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

func GetInfo() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("Lookout %s (commit: %s, built: %s, go: %s, os/arch: %s/%s)",
		i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.OS, i.Arch)
}

func (i Info) Short() string {
	return "Lookout " + i.Version
}

// UserAgent identifies the player to the lookup API and streaming server.
func UserAgent() string {
	return fmt.Sprintf("lookout/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
