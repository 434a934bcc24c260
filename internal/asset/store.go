package asset

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prayonit/prayon/internal/apperr"
	"github.com/prayonit/prayon/internal/buildclient"
	"github.com/prayonit/prayon/internal/notify"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrSuperseded is delivered to waiters of a build whose key was
	// invalidated while it ran.
	ErrSuperseded = errors.New("generation superseded by a newer request")

	// ErrClosed is delivered by a closed store.
	ErrClosed = errors.New("audio store is closed")
)

// Config tunes the build loop.
type Config struct {
	// PollInterval is the pause between status polls while building.
	PollInterval time.Duration
	// BuildTimeout bounds a whole build, request plus polls.
	BuildTimeout time.Duration
	Logger       *log.Logger
}

// DefaultConfig returns the default build loop settings.
func DefaultConfig() Config {
	return Config{
		PollInterval: 3 * time.Second,
		BuildTimeout: 5 * time.Minute,
	}
}

// Store caches the audio state of every key it has seen and runs builds.
// At most one build runs per key; later requests join it.
type Store struct {
	client buildclient.Client
	cfg    Config
	logger *log.Logger
	events *notify.Broadcaster[Event]
	group  singleflight.Group

	mu      sync.Mutex
	entries map[Key]*entry
	closed  bool
}

type entry struct {
	state State
	known bool
	// stale entries were invalidated and must be re-checked with the backend
	stale bool
	epoch uint64

	building   bool
	buildEpoch uint64
}

// NewStore creates a store backed by client.
func NewStore(client buildclient.Client, cfg Config) *Store {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = def.BuildTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("asset")
	return &Store{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		events:  notify.New[Event](notify.DefaultBuffer, logger),
		entries: make(map[Key]*entry),
	}
}

func (s *Store) entry(k Key) *entry {
	e, ok := s.entries[k]
	if !ok {
		e = &entry{state: Missing()}
		s.entries[k] = e
	}
	return e
}

// Peek returns the cached state of a key without asking the backend. ok is
// false for keys never resolved or invalidated since.
func (s *Store) Peek(k Key) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	if !ok || !e.known || e.stale {
		return Missing(), false
	}
	return e.state, true
}

// Check returns the state of a key. Ready and Building answers are served
// from the cache; anything else is polled from the backend. When the poll
// fails the cached state is left alone and the error is returned with it.
func (s *Store) Check(ctx context.Context, k Key) (State, error) {
	s.mu.Lock()
	e := s.entry(k)
	if e.known && !e.stale && e.state.Status != StatusMissing {
		st := e.state
		s.mu.Unlock()
		return st, nil
	}
	epoch := e.epoch
	s.mu.Unlock()

	status, err := s.client.PollStatus(ctx, k.PrayerID, k.VoiceID)
	if err != nil {
		s.logger.Warn("Status check failed", "key", k, "err", err)
		s.mu.Lock()
		st := s.entry(k).state
		s.mu.Unlock()
		if apperr.CodeOf(err) == "" {
			err = apperr.New(apperr.CodeNetworkFailure, "check "+k.String(), err)
		}
		return st, err
	}
	polled := fromStatus(status)

	s.mu.Lock()
	defer s.mu.Unlock()
	e = s.entry(k)
	if e.epoch != epoch {
		// invalidated while polling; the answer may predate the change
		return polled, nil
	}
	if e.building && e.buildEpoch == epoch && !polled.IsReady() {
		return e.state, nil
	}
	s.setLocked(k, e, polled, nil)
	return polled, nil
}

// RequestGeneration makes sure audio for the key exists or is being built.
// The returned channel delivers exactly one Result. A build, once started,
// runs to completion even when ctx is cancelled.
func (s *Store) RequestGeneration(ctx context.Context, k Key) <-chan Result {
	out := make(chan Result, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		out <- Result{Key: k, State: Missing(), Err: ErrClosed}
		return out
	}

	e := s.entry(k)
	switch {
	case e.known && !e.stale && e.state.IsReady():
		out <- Result{Key: k, State: e.state}
		return out
	case e.building && e.buildEpoch == e.epoch:
		s.logger.Debug("Joining build", "key", k)
		s.await(s.group.DoChan(flightKey(k, e.buildEpoch), s.build(ctx, k, e.buildEpoch, true)), out)
		return out
	case e.building:
		// a superseded build still holds the key; decide again once it ends
		s.logger.Debug("Waiting for superseded build", "key", k, "epoch", e.buildEpoch)
		prev := s.group.DoChan(flightKey(k, e.buildEpoch), s.build(ctx, k, e.buildEpoch, true))
		go func() {
			<-prev
			out <- <-s.RequestGeneration(ctx, k)
		}()
		return out
	}

	epoch := e.epoch
	e.building = true
	e.buildEpoch = epoch
	if e.known && !e.stale && e.state.Status == StatusBuilding {
		// the backend is already rendering it; follow the job without asking again
		s.logger.Debug("Watching backend build", "key", k)
		s.await(s.group.DoChan(flightKey(k, epoch), s.build(ctx, k, epoch, false)), out)
		return out
	}
	s.setLocked(k, e, Building(), nil)
	s.logger.Info("Requesting audio", "key", k)
	s.await(s.group.DoChan(flightKey(k, epoch), s.build(ctx, k, epoch, true)), out)
	return out
}

// Invalidate forgets what is known about a key. The next Check asks the
// backend, and a build running for the key no longer decides its state.
// It returns the last state recorded for the key, stale or not.
func (s *Store) Invalidate(k Key) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(k)
	e.epoch++
	e.stale = true
	s.logger.Debug("Invalidated", "key", k, "epoch", e.epoch)
	if !e.known {
		return Missing()
	}
	return e.state
}

// BodyLocked reports whether any voice of the prayer has audio built or
// building, in which case the prayer text must not change.
func (s *Store) BodyLocked(prayerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if k.PrayerID != prayerID {
			continue
		}
		if e.building || (e.known && e.state.Status != StatusMissing) {
			return true
		}
	}
	return false
}

// Subscribe returns a channel of state changes and a cancel func.
func (s *Store) Subscribe() (<-chan Event, func()) {
	return s.events.Subscribe()
}

// Close stops event delivery. Running builds finish quietly.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.events.Close()
}

func (s *Store) await(ch <-chan singleflight.Result, out chan<- Result) {
	go func() {
		r := <-ch
		res, _ := r.Val.(Result)
		if r.Err != nil && res.Err == nil {
			res.Err = r.Err
		}
		out <- res
	}()
}

// build returns the job run once per key and epoch. Without request the job
// only polls a build the backend already reported.
func (s *Store) build(ctx context.Context, k Key, epoch uint64, request bool) func() (interface{}, error) {
	return func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BuildTimeout)
		defer cancel()

		start := time.Now()
		st, err := s.runBuild(ctx, k, request)
		if err != nil {
			s.logger.Error("Audio build failed", "key", k, "err", err, "duration", time.Since(start))
		} else {
			s.logger.Info("Audio ready", "key", k, "duration", time.Since(start))
		}
		return s.finish(k, epoch, st, err), nil
	}
}

func (s *Store) runBuild(ctx context.Context, k Key, request bool) (State, error) {
	status := buildclient.Status{State: buildclient.BuildBuilding}
	if request {
		var err error
		if status, err = s.client.RequestBuild(ctx, k.PrayerID, k.VoiceID); err != nil {
			return Missing(), buildFailed(k, err)
		}
	}

	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()
	for {
		switch status.State {
		case buildclient.BuildReady:
			return Ready(status.URL), nil
		case buildclient.BuildFailed:
			return Missing(), buildFailed(k, nil)
		}

		select {
		case <-ctx.Done():
			return Missing(), buildFailed(k, fmt.Errorf("no result after %s: %w", s.cfg.BuildTimeout, ctx.Err()))
		case <-timer.C:
		}
		timer.Reset(s.cfg.PollInterval)

		next, err := s.client.PollStatus(ctx, k.PrayerID, k.VoiceID)
		switch {
		case err == nil:
			status = next
		case apperr.IsRetryable(err) && ctx.Err() == nil:
			s.logger.Warn("Status poll failed, retrying", "key", k, "err", err)
		default:
			return Missing(), buildFailed(k, err)
		}
	}
}

// finish records the outcome of a build and returns what its waiters see.
func (s *Store) finish(k Key, epoch uint64, st State, err error) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(k)
	if e.buildEpoch == epoch {
		e.building = false
	}

	if e.epoch != epoch {
		// the key was invalidated; whatever is stored now is newer
		s.logger.Debug("Discarding superseded build", "key", k, "epoch", epoch)
		return Result{Key: k, State: Missing(), Err: ErrSuperseded}
	}

	s.setLocked(k, e, st, err)
	return Result{Key: k, State: st, Err: err}
}

// setLocked stores a state and publishes it when it changed or when it
// carries a build error.
func (s *Store) setLocked(k Key, e *entry, st State, err error) {
	changed := !e.known || e.state != st
	e.state = st
	e.known = true
	e.stale = false
	if changed || err != nil {
		s.publish(Event{Key: k, State: st, Err: err})
	}
}

func (s *Store) publish(ev Event) {
	if s.closed {
		return
	}
	s.events.Publish(ev)
}

func fromStatus(st buildclient.Status) State {
	switch st.State {
	case buildclient.BuildReady:
		return Ready(st.URL)
	case buildclient.BuildBuilding:
		return Building()
	default:
		return Missing()
	}
}

func buildFailed(k Key, cause error) error {
	if cause != nil && apperr.CodeOf(cause) == apperr.CodeBuildFailed {
		return cause
	}
	return apperr.New(apperr.CodeBuildFailed, "generate "+k.String(), cause)
}

func flightKey(k Key, epoch uint64) string {
	return k.PrayerID + "\x00" + k.VoiceID + "\x00" + strconv.FormatUint(epoch, 10)
}
