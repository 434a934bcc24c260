package asset

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prayonit/prayon/internal/apperr"
	"github.com/prayonit/prayon/internal/buildclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient answers builds and polls from test-controlled functions.
type scriptedClient struct {
	requests atomic.Int32
	polls    atomic.Int32

	mu      sync.Mutex
	request func() (buildclient.Status, error)
	poll    func() (buildclient.Status, error)
}

func (c *scriptedClient) RequestBuild(ctx context.Context, prayerID, voiceID string) (buildclient.Status, error) {
	c.requests.Add(1)
	c.mu.Lock()
	f := c.request
	c.mu.Unlock()
	if f == nil {
		return buildclient.Status{State: buildclient.BuildBuilding}, nil
	}
	return f()
}

func (c *scriptedClient) PollStatus(ctx context.Context, prayerID, voiceID string) (buildclient.Status, error) {
	c.polls.Add(1)
	c.mu.Lock()
	f := c.poll
	c.mu.Unlock()
	if f == nil {
		return buildclient.Status{State: buildclient.BuildMissing}, nil
	}
	return f()
}

func (c *scriptedClient) setPoll(f func() (buildclient.Status, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poll = f
}

func newTestStore(t *testing.T, client buildclient.Client) *Store {
	t.Helper()
	s := NewStore(client, Config{PollInterval: 5 * time.Millisecond, BuildTimeout: 2 * time.Second})
	t.Cleanup(s.Close)
	return s
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("generation did not resolve")
		return Result{}
	}
}

var key = Key{PrayerID: "p1", VoiceID: "v1"}

func TestCheckPollsAndCaches(t *testing.T) {
	client := &scriptedClient{}
	client.setPoll(func() (buildclient.Status, error) {
		return buildclient.Status{State: buildclient.BuildReady, URL: "https://x/a.mp3"}, nil
	})
	s := newTestStore(t, client)

	st, err := s.Check(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, Ready("https://x/a.mp3"), st)

	st, err = s.Check(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, Ready("https://x/a.mp3"), st)
	assert.Equal(t, int32(1), client.polls.Load(), "ready answers are served from the cache")

	peeked, ok := s.Peek(key)
	assert.True(t, ok)
	assert.True(t, peeked.IsReady())
}

func TestCheckFailedMapsToMissing(t *testing.T) {
	client := &scriptedClient{}
	client.setPoll(func() (buildclient.Status, error) {
		return buildclient.Status{State: buildclient.BuildFailed}, nil
	})
	s := newTestStore(t, client)

	st, err := s.Check(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, Missing(), st)

	// missing is never served from the cache
	_, _ = s.Check(context.Background(), key)
	assert.Equal(t, int32(2), client.polls.Load())
}

func TestCheckNeverDowngradesReadyOnNetworkError(t *testing.T) {
	client := &scriptedClient{}
	client.setPoll(func() (buildclient.Status, error) {
		return buildclient.Status{State: buildclient.BuildReady, URL: "https://x/a.mp3"}, nil
	})
	s := newTestStore(t, client)
	_, err := s.Check(context.Background(), key)
	require.NoError(t, err)

	// force a re-check, then fail it
	s.Invalidate(key)
	client.setPoll(func() (buildclient.Status, error) {
		return buildclient.Status{}, apperr.Newf(apperr.CodeNetworkFailure, "offline")
	})

	st, err := s.Check(context.Background(), key)
	assert.ErrorIs(t, err, apperr.ErrNetworkFailure)
	assert.Equal(t, Ready("https://x/a.mp3"), st)

	client.setPoll(func() (buildclient.Status, error) {
		return buildclient.Status{}, errors.New("connection reset")
	})
	st, err = s.Check(context.Background(), key)
	assert.ErrorIs(t, err, apperr.ErrNetworkFailure, "plain errors are reported as network failures")
	assert.Equal(t, Ready("https://x/a.mp3"), st)

	client.setPoll(func() (buildclient.Status, error) {
		return buildclient.Status{}, apperr.Newf(apperr.CodeDecodeFailure, "garbled")
	})
	_, err = s.Check(context.Background(), key)
	assert.ErrorIs(t, err, apperr.ErrDecodeFailure)
}

func TestRequestGenerationCollapsesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	client := &scriptedClient{}
	client.request = func() (buildclient.Status, error) {
		<-release
		return buildclient.Status{State: buildclient.BuildReady, URL: "https://x/a.mp3"}, nil
	}
	s := newTestStore(t, client)

	var chans []<-chan Result
	for i := 0; i < 10; i++ {
		chans = append(chans, s.RequestGeneration(context.Background(), key))
	}
	st, ok := s.Peek(key)
	require.True(t, ok)
	assert.Equal(t, Building(), st)

	close(release)
	for _, ch := range chans {
		r := await(t, ch)
		require.NoError(t, r.Err)
		assert.Equal(t, Ready("https://x/a.mp3"), r.State)
	}
	assert.Equal(t, int32(1), client.requests.Load())

	// ready keys resolve without another request
	r := await(t, s.RequestGeneration(context.Background(), key))
	assert.True(t, r.State.IsReady())
	assert.Equal(t, int32(1), client.requests.Load())
}

func TestRequestGenerationPollsUntilReady(t *testing.T) {
	var n atomic.Int32
	client := &scriptedClient{}
	client.setPoll(func() (buildclient.Status, error) {
		switch n.Add(1) {
		case 1:
			return buildclient.Status{}, apperr.Newf(apperr.CodeNetworkFailure, "blip")
		case 2:
			return buildclient.Status{State: buildclient.BuildBuilding}, nil
		default:
			return buildclient.Status{State: buildclient.BuildReady, URL: "https://x/b.mp3"}, nil
		}
	})
	s := newTestStore(t, client)

	r := await(t, s.RequestGeneration(context.Background(), key))
	require.NoError(t, r.Err)
	assert.Equal(t, Ready("https://x/b.mp3"), r.State)
	assert.GreaterOrEqual(t, n.Load(), int32(3))
}

func TestRequestGenerationFailureRevertsToMissing(t *testing.T) {
	client := &scriptedClient{}
	client.setPoll(func() (buildclient.Status, error) {
		return buildclient.Status{State: buildclient.BuildFailed}, nil
	})
	s := newTestStore(t, client)

	events, cancel := s.Subscribe()
	defer cancel()

	r := await(t, s.RequestGeneration(context.Background(), key))
	assert.ErrorIs(t, r.Err, apperr.ErrBuildFailed)
	assert.Equal(t, Missing(), r.State)

	st, ok := s.Peek(key)
	require.True(t, ok)
	assert.Equal(t, Missing(), st)

	var got []Event
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("expected 2 events, got %d", len(got))
		}
	}
	assert.Equal(t, Building(), got[0].State)
	assert.NoError(t, got[0].Err)
	assert.Equal(t, Missing(), got[1].State)
	assert.ErrorIs(t, got[1].Err, apperr.ErrBuildFailed)

	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRequestBuildErrorIsBuildFailure(t *testing.T) {
	client := &scriptedClient{}
	client.request = func() (buildclient.Status, error) {
		return buildclient.Status{}, apperr.Newf(apperr.CodeNetworkFailure, "offline")
	}
	s := newTestStore(t, client)

	r := await(t, s.RequestGeneration(context.Background(), key))
	assert.ErrorIs(t, r.Err, apperr.ErrBuildFailed)
	assert.ErrorIs(t, r.Err, apperr.ErrNetworkFailure, "cause is kept")
	assert.False(t, s.BodyLocked(key.PrayerID))
}

func TestBuildTimeout(t *testing.T) {
	client := &scriptedClient{}
	client.setPoll(func() (buildclient.Status, error) {
		return buildclient.Status{State: buildclient.BuildBuilding}, nil
	})
	s := NewStore(client, Config{PollInterval: 5 * time.Millisecond, BuildTimeout: 50 * time.Millisecond})
	defer s.Close()

	r := await(t, s.RequestGeneration(context.Background(), key))
	assert.ErrorIs(t, r.Err, apperr.ErrBuildFailed)
	assert.ErrorIs(t, r.Err, context.DeadlineExceeded)
}

func TestGenerationSurvivesCallerCancel(t *testing.T) {
	release := make(chan struct{})
	client := &scriptedClient{}
	client.request = func() (buildclient.Status, error) {
		<-release
		return buildclient.Status{State: buildclient.BuildReady, URL: "https://x/a.mp3"}, nil
	}
	s := newTestStore(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.RequestGeneration(ctx, key)
	cancel()
	close(release)

	r := await(t, ch)
	require.NoError(t, r.Err)
	assert.True(t, r.State.IsReady())
}

func TestInvalidateDuringBuildDiscardsResult(t *testing.T) {
	release := make(chan struct{})
	client := &scriptedClient{}
	client.request = func() (buildclient.Status, error) {
		<-release
		return buildclient.Status{State: buildclient.BuildReady, URL: "https://x/old.mp3"}, nil
	}
	s := newTestStore(t, client)

	ch := s.RequestGeneration(context.Background(), key)
	s.Invalidate(key)
	_, ok := s.Peek(key)
	assert.False(t, ok, "invalidated keys are unknown")
	close(release)

	r := await(t, ch)
	assert.ErrorIs(t, r.Err, ErrSuperseded)
	assert.Equal(t, Missing(), r.State)

	_, ok = s.Peek(key)
	assert.False(t, ok, "a superseded build records nothing")
}

func TestSupersededBuildKeepsNewerState(t *testing.T) {
	release := make(chan struct{})
	client := &scriptedClient{}
	client.request = func() (buildclient.Status, error) {
		<-release
		return buildclient.Status{State: buildclient.BuildFailed}, nil
	}
	s := newTestStore(t, client)

	ch := s.RequestGeneration(context.Background(), key)
	require.Eventually(t, func() bool { return client.requests.Load() == 1 }, time.Second, time.Millisecond)
	s.Invalidate(key)

	client.setPoll(func() (buildclient.Status, error) {
		return buildclient.Status{State: buildclient.BuildReady, URL: "https://x/new.mp3"}, nil
	})
	st, err := s.Check(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, Ready("https://x/new.mp3"), st)

	close(release)
	assert.ErrorIs(t, await(t, ch).Err, ErrSuperseded)

	st, ok := s.Peek(key)
	require.True(t, ok)
	assert.Equal(t, Ready("https://x/new.mp3"), st, "the old build must not overwrite a newer answer")
}

func TestRequestAfterInvalidateWaitsForRunningBuild(t *testing.T) {
	release := make(chan struct{})
	client := &scriptedClient{}
	client.request = func() (buildclient.Status, error) {
		<-release
		return buildclient.Status{State: buildclient.BuildReady, URL: "https://x/a.mp3"}, nil
	}
	s := newTestStore(t, client)

	first := s.RequestGeneration(context.Background(), key)
	require.Eventually(t, func() bool { return client.requests.Load() == 1 }, time.Second, time.Millisecond)
	s.Invalidate(key)
	second := s.RequestGeneration(context.Background(), key)

	assert.Never(t, func() bool { return client.requests.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond,
		"only one build request may be outstanding per key")
	close(release)

	assert.ErrorIs(t, await(t, first).Err, ErrSuperseded)
	r := await(t, second)
	require.NoError(t, r.Err)
	assert.Equal(t, Ready("https://x/a.mp3"), r.State)
	assert.EqualValues(t, 2, client.requests.Load(), "the invalidated key is built again once")

	st, ok := s.Peek(key)
	require.True(t, ok)
	assert.True(t, st.IsReady())
}

func TestRequestGenerationFollowsBackendBuild(t *testing.T) {
	client := &scriptedClient{}
	var polls atomic.Int32
	client.setPoll(func() (buildclient.Status, error) {
		if polls.Add(1) == 1 {
			return buildclient.Status{State: buildclient.BuildBuilding}, nil
		}
		return buildclient.Status{State: buildclient.BuildReady, URL: "https://x/a.mp3"}, nil
	})
	s := newTestStore(t, client)

	st, err := s.Check(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, Building(), st)

	ch1 := s.RequestGeneration(context.Background(), key)
	ch2 := s.RequestGeneration(context.Background(), key)
	for _, ch := range []<-chan Result{ch1, ch2} {
		r := await(t, ch)
		require.NoError(t, r.Err)
		assert.Equal(t, Ready("https://x/a.mp3"), r.State)
	}
	assert.Zero(t, client.requests.Load(), "a build the backend reported is polled, not requested again")
}

func TestInvalidateThenRebuild(t *testing.T) {
	sim := buildclient.NewSimulated(0, nil)
	s := newTestStore(t, sim)

	r := await(t, s.RequestGeneration(context.Background(), key))
	require.NoError(t, r.Err)
	assert.EqualValues(t, 1, sim.BuildCount())

	s.Invalidate(key)
	sim.Forget(key.PrayerID, key.VoiceID)

	st, err := s.Check(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, Missing(), st, "invalidated key is re-checked with the backend")

	r = await(t, s.RequestGeneration(context.Background(), key))
	require.NoError(t, r.Err)
	assert.EqualValues(t, 2, sim.BuildCount())
}

func TestBodyLocked(t *testing.T) {
	release := make(chan struct{})
	client := &scriptedClient{}
	client.request = func() (buildclient.Status, error) {
		<-release
		return buildclient.Status{State: buildclient.BuildReady, URL: "https://x/a.mp3"}, nil
	}
	s := newTestStore(t, client)

	assert.False(t, s.BodyLocked("p1"))
	ch := s.RequestGeneration(context.Background(), key)
	assert.True(t, s.BodyLocked("p1"))
	assert.False(t, s.BodyLocked("p2"))

	close(release)
	await(t, ch)
	assert.True(t, s.BodyLocked("p1"))
}

func TestClosedStore(t *testing.T) {
	s := NewStore(&scriptedClient{}, Config{})
	s.Close()

	r := await(t, s.RequestGeneration(context.Background(), key))
	assert.ErrorIs(t, r.Err, ErrClosed)

	events, _ := s.Subscribe()
	_, open := <-events
	assert.False(t, open)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "missing", Missing().String())
	assert.Equal(t, "building", Building().String())
	assert.Equal(t, "ready(https://x/a.mp3)", Ready("https://x/a.mp3").String())
	assert.Equal(t, "p1/v1", key.String())
}
