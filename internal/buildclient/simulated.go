package buildclient

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prayonit/prayon/internal/apperr"
	"github.com/prayonit/prayon/internal/audio"
)

// SimulatedScheme prefixes URLs served by Simulated.
const SimulatedScheme = "sim://"

// Simulated is an in-process backend. Builds finish after BuildDelay and the
// resulting URLs are served by Fetch as short generated WAV files.
type Simulated struct {
	// BuildDelay is how long a build stays in progress.
	BuildDelay time.Duration

	logger *log.Logger

	mu       sync.Mutex
	jobs     map[string]*simJob
	failNext map[string]error
	pollErr  error

	builds atomic.Int64
	polls  atomic.Int64
}

type simJob struct {
	started time.Time
	failed  bool
	err     error
}

// NewSimulated creates an in-process backend.
func NewSimulated(buildDelay time.Duration, logger *log.Logger) *Simulated {
	if logger == nil {
		logger = log.Default()
	}
	return &Simulated{
		BuildDelay: buildDelay,
		logger:     logger.WithPrefix("simbackend"),
		jobs:       make(map[string]*simJob),
		failNext:   make(map[string]error),
	}
}

func simKey(prayerID, voiceID string) string {
	return prayerID + "/" + voiceID
}

// FailNextBuild makes the next build of the key fail. A nil err marks the
// job as failed on the backend side; a non-nil err is returned from
// RequestBuild itself.
func (s *Simulated) FailNextBuild(prayerID, voiceID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = errSimulatedRender
	}
	s.failNext[simKey(prayerID, voiceID)] = err
}

// SetPollError makes every PollStatus call fail until cleared with nil.
func (s *Simulated) SetPollError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollErr = err
}

// MarkReady completes a key immediately, as if it had been built earlier.
func (s *Simulated) MarkReady(prayerID, voiceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[simKey(prayerID, voiceID)] = &simJob{started: time.Time{}}
}

// Forget drops the backend's record of a key.
func (s *Simulated) Forget(prayerID, voiceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, simKey(prayerID, voiceID))
}

// BuildCount returns how many builds were actually started.
func (s *Simulated) BuildCount() int64 { return s.builds.Load() }

// PollCount returns how many status polls were served.
func (s *Simulated) PollCount() int64 { return s.polls.Load() }

var errSimulatedRender = apperr.New(apperr.CodeBuildFailed, "simulated render failure", nil)

// RequestBuild starts a job unless one is building or ready.
func (s *Simulated) RequestBuild(ctx context.Context, prayerID, voiceID string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, apperr.New(apperr.CodeNetworkFailure, "request cancelled", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := simKey(prayerID, voiceID)
	if job, ok := s.jobs[k]; ok && !job.failed {
		return s.statusLocked(k, job), nil
	}

	if err, ok := s.failNext[k]; ok {
		delete(s.failNext, k)
		if err != errSimulatedRender {
			return Status{}, err
		}
		s.builds.Add(1)
		s.jobs[k] = &simJob{started: time.Now(), failed: true, err: err}
		s.logger.Debug("Simulated build failed", "key", k)
		return Status{State: BuildFailed}, nil
	}

	s.builds.Add(1)
	job := &simJob{started: time.Now()}
	s.jobs[k] = job
	s.logger.Debug("Simulated build started", "key", k, "delay", s.BuildDelay)
	return s.statusLocked(k, job), nil
}

// PollStatus reports the job state of a key.
func (s *Simulated) PollStatus(ctx context.Context, prayerID, voiceID string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, apperr.New(apperr.CodeNetworkFailure, "request cancelled", err)
	}
	s.polls.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pollErr != nil {
		return Status{}, s.pollErr
	}
	k := simKey(prayerID, voiceID)
	job, ok := s.jobs[k]
	if !ok {
		return Status{State: BuildMissing}, nil
	}
	return s.statusLocked(k, job), nil
}

func (s *Simulated) statusLocked(k string, job *simJob) Status {
	switch {
	case job.failed:
		return Status{State: BuildFailed}
	case time.Since(job.started) < s.BuildDelay:
		return Status{State: BuildBuilding}
	default:
		return Status{State: BuildReady, URL: SimulatedScheme + k + ".wav"}
	}
}

// Fetch serves the audio behind a simulated URL.
func (s *Simulated) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(url, SimulatedScheme) {
		return nil, apperr.Newf(apperr.CodeNetworkFailure, "%s is not a simulated url", url)
	}
	k := strings.TrimSuffix(strings.TrimPrefix(url, SimulatedScheme), ".wav")

	s.mu.Lock()
	job, ok := s.jobs[k]
	ready := ok && s.statusLocked(k, job).State == BuildReady
	s.mu.Unlock()
	if !ready {
		return nil, apperr.Newf(apperr.CodeNetworkFailure, "%s: HTTP status 404", url)
	}

	return io.NopCloser(bytes.NewReader(audio.EncodeWAV(simulatedClip(k)))), nil
}

// simulatedClip renders a key as a short tone whose pitch depends on the key.
func simulatedClip(k string) audio.Clip {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	freq := 220 + float64(h.Sum32()%440)
	return audio.Tone(audio.Format{SampleRate: 22050, Channels: 1}, freq, 1500*time.Millisecond, 0.3)
}

// String is used in logs.
func (s *Simulated) String() string {
	return fmt.Sprintf("simulated backend (delay %s)", s.BuildDelay)
}

var _ Client = (*Simulated)(nil)
