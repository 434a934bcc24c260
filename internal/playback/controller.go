package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/prayonit/prayon/internal/apperr"
	"github.com/prayonit/prayon/internal/asset"
	"github.com/prayonit/prayon/internal/audio"
	"github.com/prayonit/prayon/internal/notify"
	"github.com/prayonit/prayon/internal/prayer"
	"github.com/prayonit/prayon/internal/speech"
	"github.com/prayonit/prayon/internal/voice"
)

// DefaultPreviewPhrase is spoken when previewing an on-device voice.
const DefaultPreviewPhrase = "Lord, hear my prayer."

var (
	// ErrPreviewUnavailable is returned for remote voices without a sample.
	ErrPreviewUnavailable = errors.New("voice has no preview sample")

	// ErrNothingToSay is returned for prayers without speakable text.
	ErrNothingToSay = errors.New("prayer has no text to speak")

	// ErrNotRemote is returned when generation is asked of an on-device voice.
	ErrNotRemote = errors.New("voice speaks on the device and needs no generated audio")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("playback controller is closed")
)

// FileSource loads encoded audio files.
type FileSource interface {
	Load(ctx context.Context, assetKey, url string) ([]byte, error)
	LoadBundled(name string) ([]byte, error)
	// Forget drops any local copy of a rendered file.
	Forget(assetKey, url string) error
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Catalog *voice.Catalog
	Store   *asset.Store
	Synth   speech.Synthesizer
	Files   FileSource
	Player  audio.Player
}

// Config configures a Controller.
type Config struct {
	PreviewPhrase string
	Logger        *log.Logger
}

// Controller owns the audio output. At most one session sounds at a time;
// starting a new one stops the previous one first.
type Controller struct {
	deps   Deps
	phrase string
	logger *log.Logger
	events *notify.Broadcaster[Event]

	mu        sync.Mutex
	state     State
	session   uint64
	published uint64
	cancel    context.CancelFunc
	closed    bool

	wg sync.WaitGroup
}

// New creates a controller.
func New(deps Deps, cfg Config) (*Controller, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("voice catalog is required")
	case deps.Store == nil:
		return nil, errors.New("audio store is required")
	case deps.Synth == nil:
		return nil, errors.New("speech synthesizer is required")
	case deps.Files == nil:
		return nil, errors.New("file source is required")
	case deps.Player == nil:
		return nil, errors.New("audio player is required")
	}
	if cfg.PreviewPhrase == "" {
		cfg.PreviewPhrase = DefaultPreviewPhrase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("playback")
	return &Controller{
		deps:   deps,
		phrase: cfg.PreviewPhrase,
		logger: logger,
		events: notify.New[Event](notify.DefaultBuffer, logger),
	}, nil
}

// Play reads a prayer with a voice. On-device voices start speaking at once.
// Remote voices play their generated file when it is ready; otherwise a
// build is requested and the controller state is left untouched.
func (c *Controller) Play(ctx context.Context, p prayer.Prayer, voiceID string) (Outcome, error) {
	v, err := c.deps.Catalog.Lookup(voiceID)
	if err != nil {
		return Outcome{State: c.State()}, err
	}
	subj := Subject{PrayerID: p.ID, VoiceID: v.ID}

	if !v.Provider.IsRemote() {
		text := prayer.SpeakableText(p)
		if strings.TrimSpace(text) == "" {
			return Outcome{State: c.State()}, ErrNothingToSay
		}
		st, err := c.start(subj, KindSynthesizingSpeech, func(ctx context.Context) (audio.Clip, error) {
			return c.deps.Synth.Synthesize(ctx, text, v)
		})
		if err != nil {
			return Outcome{State: st}, err
		}
		return Outcome{Action: ActionSpeaking, State: st}, nil
	}

	k := subj.Key()
	as, err := c.deps.Store.Check(ctx, k)
	if err != nil && !as.IsReady() {
		return Outcome{State: c.State(), Asset: as}, err
	}
	if err != nil {
		c.logger.Debug("Playing cached audio after failed check", "key", k, "err", err)
	}

	if as.IsReady() {
		url := as.URL
		st, err := c.start(subj, KindPlayingFile, func(ctx context.Context) (audio.Clip, error) {
			data, err := c.deps.Files.Load(ctx, k.String(), url)
			if err != nil {
				return audio.Clip{}, err
			}
			return decode(data, url)
		})
		if err != nil {
			return Outcome{State: st, Asset: as}, err
		}
		return Outcome{Action: ActionPlayingFile, State: st, Asset: as}, nil
	}

	action := ActionGenerationRequested
	if as.Status == asset.StatusBuilding {
		action = ActionGenerationPending
	}
	gen := c.watch(c.deps.Store.RequestGeneration(ctx, k))
	c.logger.Info("Audio not ready", "key", k, "action", action)
	return Outcome{Action: action, State: c.State(), Asset: asset.Building(), Generation: gen}, nil
}

// Preview plays a short sample of a voice. It shares the output with
// prayers and replaces whatever is sounding.
func (c *Controller) Preview(ctx context.Context, voiceID string) (Outcome, error) {
	v, err := c.deps.Catalog.Lookup(voiceID)
	if err != nil {
		return Outcome{State: c.State()}, err
	}
	subj := PreviewSubject(v.ID)

	if !v.Provider.IsRemote() {
		phrase := c.phrase
		st, err := c.start(subj, KindSynthesizingSpeech, func(ctx context.Context) (audio.Clip, error) {
			return c.deps.Synth.Synthesize(ctx, phrase, v)
		})
		if err != nil {
			return Outcome{State: st}, err
		}
		return Outcome{Action: ActionSpeaking, State: st}, nil
	}

	if v.BundledFile == "" {
		return Outcome{State: c.State()}, fmt.Errorf("%s: %w", v.ID, ErrPreviewUnavailable)
	}
	name := v.BundledFile
	st, err := c.start(subj, KindPlayingFile, func(context.Context) (audio.Clip, error) {
		data, err := c.deps.Files.LoadBundled(name)
		if err != nil {
			return audio.Clip{}, apperr.New(apperr.CodePlaybackFailure, "load preview", err)
		}
		return decode(data, name)
	})
	if err != nil {
		return Outcome{State: st}, err
	}
	return Outcome{Action: ActionPlayingFile, State: st}, nil
}

// Generate requests audio for a remote voice without playing it.
func (c *Controller) Generate(ctx context.Context, k asset.Key) (<-chan asset.Result, error) {
	if err := c.requireRemote(k.VoiceID); err != nil {
		return nil, err
	}
	return c.watch(c.deps.Store.RequestGeneration(ctx, k)), nil
}

// Check returns the audio state of a remote voice for a prayer.
func (c *Controller) Check(ctx context.Context, k asset.Key) (asset.State, error) {
	if err := c.requireRemote(k.VoiceID); err != nil {
		return asset.Missing(), err
	}
	return c.deps.Store.Check(ctx, k)
}

// Invalidate drops what is known about the audio of a key, including any
// downloaded copy, so the next Check asks the backend and the next Play
// fetches the file again.
func (c *Controller) Invalidate(k asset.Key) {
	prev := c.deps.Store.Invalidate(k)
	if !prev.IsReady() {
		return
	}
	if err := c.deps.Files.Forget(k.String(), prev.URL); err != nil {
		c.logger.Warn("Failed to drop cached audio", "key", k, "err", err)
	}
}

// EditBody returns the prayer with a new body unless generated audio
// exists for it.
func (c *Controller) EditBody(p prayer.Prayer, body string) (prayer.Prayer, error) {
	return p.WithBody(body, c.deps.Store.BodyLocked(p.ID))
}

// Stop silences the output. It is a no-op when idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Kind == KindIdle {
		return
	}
	c.logger.Debug("Stop", "state", c.state)
	c.stopLocked()
	c.setStateLocked(Idle(), nil)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsSounding reports whether a session is active.
func (c *Controller) IsSounding() bool {
	return c.State().Kind != KindIdle
}

// Subscribe returns a channel of controller events and a cancel func.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.Subscribe()
}

// Close stops playback, waits for the session to wind down and closes the
// event stream. The player and store are owned by the caller.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopLocked()
	c.setStateLocked(Idle(), nil)
	c.mu.Unlock()

	c.wg.Wait()
	c.events.Close()
}

func (c *Controller) requireRemote(voiceID string) error {
	v, err := c.deps.Catalog.Lookup(voiceID)
	if err != nil {
		return err
	}
	if !v.Provider.IsRemote() {
		return fmt.Errorf("%s: %w", v.ID, ErrNotRemote)
	}
	return nil
}

// produceFunc renders the clip of a session. It runs outside the lock.
type produceFunc func(ctx context.Context) (audio.Clip, error)

// start replaces the current session with a new one.
func (c *Controller) start(subj Subject, kind Kind, produce produceFunc) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state, ErrClosed
	}
	if c.state.Kind != KindIdle {
		c.logger.Debug("Stopping previous session", "state", c.state, "next", subj)
	}
	c.stopLocked()

	c.session++
	id := c.session
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.setStateLocked(State{Kind: kind, Subject: subj}, nil)

	c.wg.Add(1)
	go c.run(ctx, id, produce)
	return c.state, nil
}

// run is the session goroutine: produce, play, wait for the end.
func (c *Controller) run(ctx context.Context, id uint64, produce produceFunc) {
	defer c.wg.Done()

	clip, err := produce(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.fail(id, err)
		return
	}
	if f, ok := c.deps.Player.(interface{ Format() audio.Format }); ok {
		if clip, err = audio.Convert(clip, f.Format()); err != nil {
			c.fail(id, apperr.New(apperr.CodePlaybackFailure, "convert audio", err))
			return
		}
	}

	c.mu.Lock()
	if c.session != id {
		c.mu.Unlock()
		return
	}
	done, err := c.deps.Player.Play(clip)
	c.mu.Unlock()
	if err != nil {
		c.fail(id, apperr.New(apperr.CodePlaybackFailure, "start playback", err))
		return
	}
	c.logger.Debug("Sounding", "session", id, "duration", clip.Duration())

	select {
	case <-done:
	case <-ctx.Done():
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != id {
		return
	}
	c.cancel()
	c.cancel = nil
	c.setStateLocked(Idle(), nil)
}

// fail ends a session with an error unless it was already replaced.
func (c *Controller) fail(id uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != id {
		return
	}
	c.logger.Error("Playback failed", "state", c.state, "err", err)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.setStateLocked(Idle(), err)
}

// stopLocked ends the current session. Its goroutine sees the cancelled
// context and the bumped session number and exits without side effects.
func (c *Controller) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.session++
	if c.deps.Player.IsPlaying() {
		if err := c.deps.Player.Stop(); err != nil {
			c.logger.Warn("Failed to stop player", "err", err)
		}
	}
}

// setStateLocked publishes state changes, errors and every new session,
// including one that restarts the same subject.
func (c *Controller) setStateLocked(st State, err error) {
	fresh := st.Kind != KindIdle && c.session != c.published
	if st == c.state && err == nil && !fresh {
		return
	}
	c.state = st
	c.published = c.session
	c.events.Publish(Event{State: st, Session: c.session, Err: err})
}

// watch forwards a build result to the caller and to subscribers.
func (c *Controller) watch(in <-chan asset.Result) <-chan asset.Result {
	out := make(chan asset.Result, 1)
	go func() {
		r := <-in
		out <- r
		c.events.Publish(Event{State: c.State(), Generation: &r})
	}()
	return out
}

func decode(data []byte, hint string) (audio.Clip, error) {
	clip, err := audio.Decode(data, hint)
	if err != nil {
		return audio.Clip{}, apperr.New(apperr.CodePlaybackFailure, "decode audio", err)
	}
	return clip, nil
}
