// Package buildclient talks to the backend that renders prayer text into
// audio files for remote voices.
package buildclient

import (
	"context"
	"fmt"
)

// BuildState is the backend's view of one (prayer, voice) render job.
type BuildState int

const (
	// BuildMissing means nothing was ever requested for the key.
	BuildMissing BuildState = iota
	// BuildBuilding means a render job is in progress.
	BuildBuilding
	// BuildReady means the audio file can be downloaded.
	BuildReady
	// BuildFailed means the last render job failed.
	BuildFailed
)

// String returns the wire name of the state.
func (s BuildState) String() string {
	switch s {
	case BuildMissing:
		return "missing"
	case BuildBuilding:
		return "building"
	case BuildReady:
		return "ready"
	case BuildFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// parseBuildState maps a wire name to a state.
func parseBuildState(s string) (BuildState, error) {
	switch s {
	case "missing", "none":
		return BuildMissing, nil
	case "building", "pending", "queued":
		return BuildBuilding, nil
	case "ready", "done":
		return BuildReady, nil
	case "failed", "error":
		return BuildFailed, nil
	default:
		return 0, fmt.Errorf("unknown build status %q", s)
	}
}

// Status is a render job status. URL is set only when State is BuildReady.
type Status struct {
	State BuildState
	URL   string
}

// Client requests and observes render jobs.
//
// RequestBuild must be idempotent: asking again for a key that is already
// building returns that job's status instead of starting another one.
type Client interface {
	RequestBuild(ctx context.Context, prayerID, voiceID string) (Status, error)
	PollStatus(ctx context.Context, prayerID, voiceID string) (Status, error)
}
