// Package buildinfo carries version metadata injected with -ldflags:
//
//	go build -ldflags "-X github.com/xelth-com/posync/internal/buildinfo.CommitHash=$(git rev-parse --short HEAD)"
package buildinfo

import "time"

var (
	Version    = "dev"
	BuildTime  string
	CommitTime string
	CommitHash string
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC()

// Info is the build metadata reported by status endpoints and commands
type Info struct {
	Version    string    `json:"version"`
	BuildTime  string    `json:"buildTime,omitempty"`
	CommitTime string    `json:"commitTime,omitempty"`
	CommitHash string    `json:"commitHash,omitempty"`
	StartTime  time.Time `json:"startTime"`
	Uptime     string    `json:"uptime"`
}

// Get returns the metadata of the running binary
func Get() Info {
	return Info{
		Version:    Version,
		BuildTime:  BuildTime,
		CommitTime: CommitTime,
		CommitHash: CommitHash,
		StartTime:  StartTime,
		Uptime:     time.Since(StartTime).Round(time.Second).String(),
	}
}
