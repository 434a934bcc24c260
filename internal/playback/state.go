// Package playback arbitrates the single audio output between on-device
// speech, downloaded prayer audio and voice previews.
package playback

import (
	"fmt"

	"github.com/prayonit/prayon/internal/asset"
)

// Kind is what the output is doing.
type Kind int

const (
	KindIdle Kind = iota
	KindSynthesizingSpeech
	KindPlayingFile
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindSynthesizingSpeech:
		return "speaking"
	case KindPlayingFile:
		return "playing"
	default:
		return "unknown"
	}
}

// Subject identifies what is sounding: a prayer read by a voice, or the
// preview of a voice.
type Subject struct {
	PrayerID string
	VoiceID  string
	Preview  bool
}

// PreviewSubject is the subject of a voice preview.
func PreviewSubject(voiceID string) Subject {
	return Subject{VoiceID: voiceID, Preview: true}
}

// Key returns the asset key of a prayer subject.
func (s Subject) Key() asset.Key {
	return asset.Key{PrayerID: s.PrayerID, VoiceID: s.VoiceID}
}

func (s Subject) String() string {
	if s.Preview {
		return "preview:" + s.VoiceID
	}
	return s.PrayerID + "/" + s.VoiceID
}

// State is the controller state. Subject is empty when Idle.
type State struct {
	Kind    Kind
	Subject Subject
}

// Idle is the resting state.
func Idle() State { return State{} }

func (s State) String() string {
	if s.Kind == KindIdle {
		return "idle"
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Subject)
}

// Action tells the caller what a Play or Preview call did.
type Action int

const (
	// ActionSpeaking means on-device speech started.
	ActionSpeaking Action = iota
	// ActionPlayingFile means a generated or bundled file started.
	ActionPlayingFile
	// ActionGenerationRequested means no audio existed and a build was started.
	ActionGenerationRequested
	// ActionGenerationPending means a build was already running.
	ActionGenerationPending
)

func (a Action) String() string {
	switch a {
	case ActionSpeaking:
		return "speaking"
	case ActionPlayingFile:
		return "playing file"
	case ActionGenerationRequested:
		return "generation requested"
	case ActionGenerationPending:
		return "generation pending"
	default:
		return "unknown"
	}
}

// Outcome is the result of Play and Preview.
type Outcome struct {
	Action Action
	// State is the controller state right after the call.
	State State
	// Asset is the audio state of remote voices.
	Asset asset.State
	// Generation delivers the build result when Action is
	// ActionGenerationRequested or ActionGenerationPending.
	Generation <-chan asset.Result
}

// Event is published on every state change, on every new session, on
// session failures (Err set) and when a build requested through the
// controller finishes (Generation set). Session numbers the session the
// event belongs to.
type Event struct {
	State      State
	Session    uint64
	Err        error
	Generation *asset.Result
}
