// Package asset tracks whether generated audio exists for each prayer and
// remote voice, and drives the backend until it does.
package asset

import "fmt"

// Status is the generation status of one prayer/voice pair.
type Status int

const (
	StatusMissing Status = iota
	StatusBuilding
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "missing"
	case StatusBuilding:
		return "building"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

// State is the audio state of a key. URL is set only when Ready.
type State struct {
	Status Status
	URL    string
}

// Missing means no audio exists and none is being built.
func Missing() State { return State{Status: StatusMissing} }

// Building means a build was requested and has not finished.
func Building() State { return State{Status: StatusBuilding} }

// Ready means the audio can be downloaded from url.
func Ready(url string) State { return State{Status: StatusReady, URL: url} }

// IsReady reports whether audio can be played.
func (s State) IsReady() bool { return s.Status == StatusReady }

func (s State) String() string {
	if s.Status == StatusReady {
		return fmt.Sprintf("ready(%s)", s.URL)
	}
	return s.Status.String()
}

// Key identifies generated audio.
type Key struct {
	PrayerID string
	VoiceID  string
}

func (k Key) String() string {
	return k.PrayerID + "/" + k.VoiceID
}

// Result is the outcome of a generation request.
type Result struct {
	Key   Key
	State State
	Err   error
}

// Event reports a state change, or a failed build when Err is set.
type Event struct {
	Key   Key
	State State
	Err   error
}
