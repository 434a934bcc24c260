package audio

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// ErrPlayerClosed is returned by Play after Close.
var ErrPlayerClosed = errors.New("player is closed")

// Player is an exclusive audio output. Starting a clip stops whatever the
// player was sounding.
type Player interface {
	// Play starts a clip and returns a channel closed when the clip ends,
	// either naturally or because it was stopped.
	Play(clip Clip) (<-chan struct{}, error)
	Stop() error
	IsPlaying() bool
	SetVolume(volume float64) error
	Close() error
}

// PlayerState is the state of an output device.
type PlayerState int32

const (
	StateStopped PlayerState = iota
	StatePlaying
	StateClosed
)

func (s PlayerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PlayerConfig contains configuration for the audio player.
type PlayerConfig struct {
	Format     Format
	BufferSize int // bytes
	Volume     float64
	Logger     *log.Logger
}

// DefaultPlayerConfig returns the default player configuration.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		Format:     DefaultFormat,
		BufferSize: 8192,
		Volume:     1.0,
	}
}

// Validate checks the configuration.
func (c PlayerConfig) Validate() error {
	if c.Format.SampleRate != 44100 && c.Format.SampleRate != 48000 {
		// oto only handles these rates reliably
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", c.Format.SampleRate)
	}
	if err := c.Format.Validate(); err != nil {
		return err
	}
	if c.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}
	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", c.Volume)
	}
	return nil
}

// OtoPlayer plays clips on the system audio device.
type OtoPlayer struct {
	context *oto.Context
	format  Format
	logger  *log.Logger

	state  atomic.Int32
	volume atomic.Uint64 // math.Float64bits

	mu     sync.Mutex
	active *stream
}

// stream keeps the PCM referenced for as long as oto reads from it.
type stream struct {
	data   []byte
	player *oto.Player
	done   chan struct{}
	once   sync.Once
}

func (s *stream) finish() {
	s.once.Do(func() {
		close(s.done)
	})
}

// otoContext is process-wide; oto allows only one.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
	otoFmt  Format
)

// NewOtoPlayer opens the audio device.
func NewOtoPlayer(cfg PlayerConfig) (*OtoPlayer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   cfg.Format.SampleRate,
			ChannelCount: cfg.Format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   cfg.Format.Duration(cfg.BufferSize),
		}
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(op)
		if otoErr == nil {
			<-ready
		}
		otoFmt = cfg.Format
	})
	if otoErr != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", otoErr)
	}
	if otoFmt != cfg.Format {
		return nil, fmt.Errorf("audio device already opened with %+v", otoFmt)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	p := &OtoPlayer{
		context: otoCtx,
		format:  cfg.Format,
		logger:  logger.WithPrefix("audio"),
	}
	p.state.Store(int32(StateStopped))
	p.volume.Store(math.Float64bits(cfg.Volume))
	return p, nil
}

// Format returns the device format. Clips in any other format are converted
// before playback.
func (p *OtoPlayer) Format() Format {
	return p.format
}

// Play starts a clip, stopping the current one.
func (p *OtoPlayer) Play(clip Clip) (<-chan struct{}, error) {
	if err := clip.Validate(); err != nil {
		return nil, err
	}
	if clip.Format != p.format {
		converted, err := Convert(clip, p.format)
		if err != nil {
			return nil, fmt.Errorf("failed to convert audio: %w", err)
		}
		clip = converted
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if PlayerState(p.state.Load()) == StateClosed {
		return nil, ErrPlayerClosed
	}
	p.stopLocked()

	data := make([]byte, len(clip.PCM))
	copy(data, clip.PCM)
	s := &stream{data: data, done: make(chan struct{})}
	s.player = p.context.NewPlayer(bytes.NewReader(s.data))
	s.player.SetVolume(math.Float64frombits(p.volume.Load()))
	s.player.Play()

	p.active = s
	p.state.Store(int32(StatePlaying))
	p.logger.Debug("Playback started", "duration", clip.Duration(), "bytes", len(data))

	go p.monitor(s, clip.Duration())
	return s.done, nil
}

// monitor waits for oto to drain the stream.
func (p *OtoPlayer) monitor(s *stream, d time.Duration) {
	deadline := time.Now().Add(d + 2*time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		if s.player.IsPlaying() && time.Now().Before(deadline) {
			continue
		}
		if err := s.player.Err(); err != nil {
			p.logger.Warn("Playback error", "err", err)
		}

		p.mu.Lock()
		if p.active == s {
			p.release()
			p.state.Store(int32(StateStopped))
			p.logger.Debug("Playback finished")
		}
		p.mu.Unlock()
		return
	}
}

// Stop halts playback. Stopping an idle player is a no-op.
func (p *OtoPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *OtoPlayer) stopLocked() {
	if PlayerState(p.state.Load()) != StatePlaying {
		return
	}
	if p.active != nil {
		p.active.player.Pause()
	}
	p.release()
	p.state.Store(int32(StateStopped))
}

// release closes the active stream and signals its waiters.
func (p *OtoPlayer) release() {
	s := p.active
	if s == nil {
		return
	}
	if err := s.player.Close(); err != nil {
		p.logger.Debug("Error closing oto player", "err", err)
	}
	s.data = nil
	s.finish()
	p.active = nil
}

// IsPlaying reports whether a clip is sounding.
func (p *OtoPlayer) IsPlaying() bool {
	return PlayerState(p.state.Load()) == StatePlaying
}

// State returns the player state.
func (p *OtoPlayer) State() PlayerState {
	return PlayerState(p.state.Load())
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (p *OtoPlayer) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}
	p.volume.Store(math.Float64bits(volume))

	p.mu.Lock()
	if p.active != nil {
		p.active.player.SetVolume(volume)
	}
	p.mu.Unlock()
	return nil
}

// Volume returns the current volume.
func (p *OtoPlayer) Volume() float64 {
	return math.Float64frombits(p.volume.Load())
}

// Close stops playback. oto contexts cannot be closed in v3, so the device
// stays open for the life of the process.
func (p *OtoPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.state.Store(int32(StateClosed))
	return nil
}

var _ Player = (*OtoPlayer)(nil)
