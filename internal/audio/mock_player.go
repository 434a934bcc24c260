package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockPlayer implements Player without producing sound. Clips end after
// their duration scaled by the delay factor, or when Finish is called while
// the player is held.
type MockPlayer struct {
	mu      sync.Mutex
	state   PlayerState
	volume  float64
	current *mockStream
	clips   []Clip

	hold        bool
	delayFactor float64
	playErr     error

	callbacks MockCallbacks

	playCount atomic.Int64
	stopCount atomic.Int64
}

type mockStream struct {
	done chan struct{}
	once sync.Once
}

func (s *mockStream) end() {
	s.once.Do(func() { close(s.done) })
}

// MockCallbacks provides hooks for testing.
type MockCallbacks struct {
	OnPlay func(clip Clip)
	OnStop func()
}

// NewMockPlayer creates a mock player that plays clips in real time.
func NewMockPlayer(callbacks MockCallbacks) *MockPlayer {
	return &MockPlayer{
		volume:      1.0,
		delayFactor: 1.0,
		callbacks:   callbacks,
	}
}

// DefaultMockPlayer creates a mock player without callbacks.
func DefaultMockPlayer() *MockPlayer {
	return NewMockPlayer(MockCallbacks{})
}

// SetHold keeps clips sounding until Finish or Stop is called.
func (mp *MockPlayer) SetHold(hold bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.hold = hold
}

// SetDelayFactor scales simulated playback time.
func (mp *MockPlayer) SetDelayFactor(f float64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.delayFactor = f
}

// SetPlayError makes subsequent Play calls fail with err.
func (mp *MockPlayer) SetPlayError(err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.playErr = err
}

// Play starts simulated playback.
func (mp *MockPlayer) Play(clip Clip) (<-chan struct{}, error) {
	if err := clip.Validate(); err != nil {
		return nil, err
	}

	mp.mu.Lock()
	if mp.state == StateClosed {
		mp.mu.Unlock()
		return nil, ErrPlayerClosed
	}
	if mp.playErr != nil {
		err := mp.playErr
		mp.mu.Unlock()
		return nil, fmt.Errorf("simulated playback error: %w", err)
	}
	mp.stopLocked()

	s := &mockStream{done: make(chan struct{})}
	mp.current = s
	mp.state = StatePlaying
	mp.clips = append(mp.clips, clip)
	mp.playCount.Add(1)
	hold := mp.hold
	d := time.Duration(float64(clip.Duration()) * mp.delayFactor)
	onPlay := mp.callbacks.OnPlay
	mp.mu.Unlock()

	if !hold {
		time.AfterFunc(d, func() { mp.finishStream(s) })
	}
	if onPlay != nil {
		onPlay(clip)
	}
	return s.done, nil
}

// Finish ends the current clip as if it had played to the end.
func (mp *MockPlayer) Finish() {
	mp.mu.Lock()
	s := mp.current
	mp.mu.Unlock()
	if s != nil {
		mp.finishStream(s)
	}
}

func (mp *MockPlayer) finishStream(s *mockStream) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.current != s {
		return
	}
	mp.current = nil
	if mp.state == StatePlaying {
		mp.state = StateStopped
	}
	s.end()
}

// Stop halts playback.
func (mp *MockPlayer) Stop() error {
	mp.mu.Lock()
	stopped := mp.stopLocked()
	onStop := mp.callbacks.OnStop
	mp.mu.Unlock()

	if stopped && onStop != nil {
		onStop()
	}
	return nil
}

func (mp *MockPlayer) stopLocked() bool {
	if mp.state != StatePlaying {
		return false
	}
	mp.stopCount.Add(1)
	if mp.current != nil {
		mp.current.end()
		mp.current = nil
	}
	mp.state = StateStopped
	return true
}

// IsPlaying reports whether a clip is sounding.
func (mp *MockPlayer) IsPlaying() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.state == StatePlaying
}

// SetVolume sets the simulated volume.
func (mp *MockPlayer) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.volume = volume
	return nil
}

// Volume returns the simulated volume.
func (mp *MockPlayer) Volume() float64 {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.volume
}

// Close stops playback and rejects further clips.
func (mp *MockPlayer) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.stopLocked()
	mp.state = StateClosed
	return nil
}

// State returns the player state.
func (mp *MockPlayer) State() PlayerState {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.state
}

// Clips returns every clip passed to Play, oldest first.
func (mp *MockPlayer) Clips() []Clip {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	out := make([]Clip, len(mp.clips))
	copy(out, mp.clips)
	return out
}

// PlayCount returns the number of successful Play calls.
func (mp *MockPlayer) PlayCount() int64 { return mp.playCount.Load() }

// StopCount returns the number of times a sounding clip was stopped.
func (mp *MockPlayer) StopCount() int64 { return mp.stopCount.Load() }

var _ Player = (*MockPlayer)(nil)
