package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prayonit/prayon/internal/apperr"
	"github.com/prayonit/prayon/internal/asset"
	"github.com/prayonit/prayon/internal/audio"
	"github.com/prayonit/prayon/internal/buildclient"
	"github.com/prayonit/prayon/internal/prayer"
	"github.com/prayonit/prayon/internal/speech"
	"github.com/prayonit/prayon/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPrayer = prayer.Prayer{ID: "p1", Title: "Morning", Body: "Give us this day our daily bread."}

func testCatalog(t *testing.T) *voice.Catalog {
	t.Helper()
	c, err := voice.NewCatalog([]voice.Voice{
		{ID: "amy", Name: "Amy", Provider: voice.ProviderOnDevice},
		{ID: "grace", Name: "Grace", Provider: voice.ProviderRemoteFile, BundledFile: "grace.wav"},
		{ID: "miriam", Name: "Miriam", Provider: voice.ProviderRemoteSynthesized},
	})
	require.NoError(t, err)
	return c
}

func wavBytes(d time.Duration) []byte {
	return audio.EncodeWAV(audio.Tone(audio.Format{SampleRate: 8000, Channels: 1}, 440, d, 0.3))
}

// fakeFiles serves the same short WAV for every url and bundled name.
type fakeFiles struct {
	mu      sync.Mutex
	err     error
	data    []byte
	loads   []string
	bundled []string
	forgets []string
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{data: wavBytes(200 * time.Millisecond)}
}

func (f *fakeFiles) Load(ctx context.Context, assetKey, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, url)
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func (f *fakeFiles) LoadBundled(name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundled = append(f.bundled, name)
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func (f *fakeFiles) Forget(assetKey, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgets = append(f.forgets, url)
	return nil
}

func (f *fakeFiles) Loads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

// gateSynth blocks every synthesis until release is closed.
type gateSynth struct {
	release chan struct{}
	calls   atomic.Int32
}

func (g *gateSynth) Synthesize(ctx context.Context, text string, v voice.Voice) (audio.Clip, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return audio.Clip{}, ctx.Err()
	}
	return audio.Tone(audio.Format{SampleRate: 8000, Channels: 1}, 300, 100*time.Millisecond, 0.3), nil
}

// readyClient reports every key as ready at a fixed url.
type readyClient struct{ url string }

func (c readyClient) RequestBuild(ctx context.Context, prayerID, voiceID string) (buildclient.Status, error) {
	return buildclient.Status{State: buildclient.BuildReady, URL: c.url}, nil
}

func (c readyClient) PollStatus(ctx context.Context, prayerID, voiceID string) (buildclient.Status, error) {
	return buildclient.Status{State: buildclient.BuildReady, URL: c.url}, nil
}

type harness struct {
	ctrl   *Controller
	player *audio.MockPlayer
	files  *fakeFiles
	store  *asset.Store
	events <-chan Event
}

func newHarness(t *testing.T, client buildclient.Client, synth speech.Synthesizer) *harness {
	t.Helper()
	files := newFakeFiles()
	h := newHarnessWithFiles(t, client, synth, files)
	h.files = files
	return h
}

func newHarnessWithFiles(t *testing.T, client buildclient.Client, synth speech.Synthesizer, files FileSource) *harness {
	t.Helper()
	if synth == nil {
		tone := speech.NewTone()
		tone.Word = 20 * time.Millisecond
		tone.Gap = 5 * time.Millisecond
		synth = tone
	}
	player := audio.DefaultMockPlayer()
	player.SetHold(true)
	store := asset.NewStore(client, asset.Config{PollInterval: 5 * time.Millisecond, BuildTimeout: 2 * time.Second})
	ctrl, err := New(Deps{
		Catalog: testCatalog(t),
		Store:   store,
		Synth:   synth,
		Files:   files,
		Player:  player,
	}, Config{})
	require.NoError(t, err)
	events, cancel := ctrl.Subscribe()
	t.Cleanup(func() {
		cancel()
		ctrl.Close()
		store.Close()
	})
	return &harness{ctrl: ctrl, player: player, store: store, events: events}
}

// waitPlays waits until the mock player has started n clips.
func (h *harness) waitPlays(t *testing.T, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return h.player.PlayCount() >= n }, 2*time.Second, 5*time.Millisecond)
}

// nextEvent returns the first event matching pred.
func (h *harness) nextEvent(t *testing.T, pred func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-h.events:
			require.True(t, ok, "event stream closed")
			if pred(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func TestPlayOnDeviceVoiceSpeaks(t *testing.T) {
	h := newHarness(t, buildclient.NewSimulated(0, nil), nil)

	out, err := h.ctrl.Play(context.Background(), testPrayer, "amy")
	require.NoError(t, err)
	assert.Equal(t, ActionSpeaking, out.Action)
	assert.Equal(t, State{Kind: KindSynthesizingSpeech, Subject: Subject{PrayerID: "p1", VoiceID: "amy"}}, out.State)
	assert.True(t, h.ctrl.IsSounding())

	h.waitPlays(t, 1)
	h.player.Finish()
	h.nextEvent(t, func(ev Event) bool { return ev.State.Kind == KindIdle })
	assert.Equal(t, Idle(), h.ctrl.State())
	assert.Empty(t, h.files.Loads())
}

func TestPlayRemoteReadyPlaysFile(t *testing.T) {
	h := newHarness(t, readyClient{url: "https://cdn.example/p1-grace.wav"}, nil)

	out, err := h.ctrl.Play(context.Background(), testPrayer, "grace")
	require.NoError(t, err)
	assert.Equal(t, ActionPlayingFile, out.Action)
	assert.Equal(t, KindPlayingFile, out.State.Kind)
	assert.Equal(t, asset.Ready("https://cdn.example/p1-grace.wav"), out.Asset)

	h.waitPlays(t, 1)
	assert.Equal(t, []string{"https://cdn.example/p1-grace.wav"}, h.files.Loads())

	h.player.Finish()
	h.nextEvent(t, func(ev Event) bool { return ev.State.Kind == KindIdle })
}

func TestPlayRemoteMissingRequestsGeneration(t *testing.T) {
	sim := buildclient.NewSimulated(20*time.Millisecond, nil)
	h := newHarness(t, sim, nil)

	out, err := h.ctrl.Play(context.Background(), testPrayer, "miriam")
	require.NoError(t, err)
	assert.Equal(t, ActionGenerationRequested, out.Action)
	assert.Equal(t, Idle(), out.State)
	assert.Equal(t, asset.Building(), out.Asset)
	require.NotNil(t, out.Generation)

	select {
	case r := <-out.Generation:
		require.NoError(t, r.Err)
		assert.True(t, r.State.IsReady())
	case <-time.After(2 * time.Second):
		t.Fatal("generation did not finish")
	}

	ev := h.nextEvent(t, func(ev Event) bool { return ev.Generation != nil })
	assert.True(t, ev.Generation.State.IsReady())

	// Finishing a build does not start playback on its own.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(0), h.player.PlayCount())
	assert.Equal(t, Idle(), h.ctrl.State())
}

func TestPlayRemoteBuildingIsPending(t *testing.T) {
	sim := buildclient.NewSimulated(time.Hour, nil)
	h := newHarness(t, sim, nil)
	k := asset.Key{PrayerID: "p1", VoiceID: "miriam"}

	h.store.RequestGeneration(context.Background(), k)

	out, err := h.ctrl.Play(context.Background(), testPrayer, "miriam")
	require.NoError(t, err)
	assert.Equal(t, ActionGenerationPending, out.Action)
	assert.Equal(t, int64(1), sim.BuildCount())
	assert.Equal(t, Idle(), h.ctrl.State())
}

func TestPlayRemoteCheckFailure(t *testing.T) {
	sim := buildclient.NewSimulated(0, nil)
	sim.SetPollError(apperr.New(apperr.CodeNetworkFailure, "offline", nil))
	h := newHarness(t, sim, nil)

	_, err := h.ctrl.Play(context.Background(), testPrayer, "miriam")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNetworkFailure)
	assert.Equal(t, int64(0), sim.BuildCount())
	assert.Equal(t, Idle(), h.ctrl.State())
}

func TestUnknownVoice(t *testing.T) {
	h := newHarness(t, buildclient.NewSimulated(0, nil), nil)

	_, err := h.ctrl.Play(context.Background(), testPrayer, "nobody")
	assert.ErrorIs(t, err, apperr.ErrVoiceNotFound)
	_, err = h.ctrl.Preview(context.Background(), "nobody")
	assert.ErrorIs(t, err, apperr.ErrVoiceNotFound)
	assert.Equal(t, Idle(), h.ctrl.State())
}

func TestPlayEmptyPrayer(t *testing.T) {
	h := newHarness(t, buildclient.NewSimulated(0, nil), nil)

	_, err := h.ctrl.Play(context.Background(), prayer.Prayer{ID: "empty"}, "amy")
	assert.ErrorIs(t, err, ErrNothingToSay)
	assert.Equal(t, Idle(), h.ctrl.State())
}

func TestPreview(t *testing.T) {
	h := newHarness(t, buildclient.NewSimulated(0, nil), nil)

	out, err := h.ctrl.Preview(context.Background(), "amy")
	require.NoError(t, err)
	assert.Equal(t, ActionSpeaking, out.Action)
	assert.Equal(t, PreviewSubject("amy"), out.State.Subject)
	h.waitPlays(t, 1)

	out, err = h.ctrl.Preview(context.Background(), "grace")
	require.NoError(t, err)
	assert.Equal(t, ActionPlayingFile, out.Action)
	assert.Equal(t, State{Kind: KindPlayingFile, Subject: PreviewSubject("grace")}, h.ctrl.State())
	h.waitPlays(t, 2)
	assert.GreaterOrEqual(t, h.player.StopCount(), int64(1))

	_, err = h.ctrl.Preview(context.Background(), "miriam")
	assert.ErrorIs(t, err, ErrPreviewUnavailable)
	assert.Equal(t, KindPlayingFile, h.ctrl.State().Kind, "failed preview leaves playback alone")
}

func TestStartingNewSessionStopsPrevious(t *testing.T) {
	h := newHarness(t, readyClient{url: "https://cdn.example/a.wav"}, nil)

	_, err := h.ctrl.Play(context.Background(), testPrayer, "amy")
	require.NoError(t, err)
	h.waitPlays(t, 1)

	_, err = h.ctrl.Play(context.Background(), testPrayer, "grace")
	require.NoError(t, err)
	h.waitPlays(t, 2)

	assert.Equal(t, int64(1), h.player.StopCount())
	assert.Equal(t, State{Kind: KindPlayingFile, Subject: Subject{PrayerID: "p1", VoiceID: "grace"}}, h.ctrl.State())
}

func TestSameSubjectRestarts(t *testing.T) {
	h := newHarness(t, buildclient.NewSimulated(0, nil), nil)

	_, err := h.ctrl.Play(context.Background(), testPrayer, "amy")
	require.NoError(t, err)
	h.waitPlays(t, 1)

	out, err := h.ctrl.Play(context.Background(), testPrayer, "amy")
	require.NoError(t, err)
	assert.Equal(t, KindSynthesizingSpeech, out.State.Kind)
	h.waitPlays(t, 2)
	assert.Equal(t, int64(1), h.player.StopCount())
}

func TestSameSubjectRestartIsAnnounced(t *testing.T) {
	h := newHarness(t, buildclient.NewSimulated(0, nil), nil)
	speaking := func(ev Event) bool { return ev.State.Kind == KindSynthesizingSpeech }

	_, err := h.ctrl.Play(context.Background(), testPrayer, "amy")
	require.NoError(t, err)
	first := h.nextEvent(t, speaking)

	_, err = h.ctrl.Play(context.Background(), testPrayer, "amy")
	require.NoError(t, err)
	second := h.nextEvent(t, speaking)

	assert.Equal(t, first.State, second.State)
	assert.Greater(t, second.Session, first.Session, "a restart is a new session")
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, buildclient.NewSimulated(0, nil), nil)

	h.ctrl.Stop()
	select {
	case ev := <-h.events:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(20 * time.Millisecond):
	}

	_, err := h.ctrl.Play(context.Background(), testPrayer, "amy")
	require.NoError(t, err)
	h.waitPlays(t, 1)

	h.ctrl.Stop()
	h.ctrl.Stop()
	assert.Equal(t, Idle(), h.ctrl.State())
	assert.Equal(t, int64(1), h.player.StopCount())
	assert.False(t, h.player.IsPlaying())
}

func TestStaleSessionIsIgnored(t *testing.T) {
	gate := &gateSynth{release: make(chan struct{})}
	h := newHarness(t, readyClient{url: "https://cdn.example/a.wav"}, gate)

	_, err := h.ctrl.Play(context.Background(), testPrayer, "amy")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return gate.calls.Load() == 1 }, time.Second, time.Millisecond)

	// The file session replaces speech still being synthesized.
	_, err = h.ctrl.Play(context.Background(), testPrayer, "grace")
	require.NoError(t, err)
	h.waitPlays(t, 1)
	close(gate.release)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(1), h.player.PlayCount())
	assert.Equal(t, KindPlayingFile, h.ctrl.State().Kind)
}

func TestStopDuringSynthesis(t *testing.T) {
	gate := &gateSynth{release: make(chan struct{})}
	defer close(gate.release)
	h := newHarness(t, buildclient.NewSimulated(0, nil), gate)

	_, err := h.ctrl.Play(context.Background(), testPrayer, "amy")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return gate.calls.Load() == 1 }, time.Second, time.Millisecond)

	h.ctrl.Stop()
	assert.Equal(t, Idle(), h.ctrl.State())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), h.player.PlayCount())
}

func TestFetchFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, readyClient{url: "https://cdn.example/a.wav"}, nil)
	h.files.err = apperr.New(apperr.CodeNetworkFailure, "download failed", nil)

	_, err := h.ctrl.Play(context.Background(), testPrayer, "grace")
	require.NoError(t, err)

	ev := h.nextEvent(t, func(ev Event) bool { return ev.Err != nil })
	assert.Equal(t, Idle(), ev.State)
	assert.ErrorIs(t, ev.Err, apperr.ErrNetworkFailure)
	assert.Equal(t, Idle(), h.ctrl.State())
}

func TestUndecodableFileReturnsToIdle(t *testing.T) {
	h := newHarness(t, readyClient{url: "https://cdn.example/a.wav"}, nil)
	h.files.data = []byte("not audio at all")

	_, err := h.ctrl.Play(context.Background(), testPrayer, "grace")
	require.NoError(t, err)

	ev := h.nextEvent(t, func(ev Event) bool { return ev.Err != nil })
	assert.ErrorIs(t, ev.Err, apperr.ErrPlaybackFailure)
	assert.Equal(t, Idle(), h.ctrl.State())
}

func TestPlayerErrorReturnsToIdle(t *testing.T) {
	h := newHarness(t, buildclient.NewSimulated(0, nil), nil)
	h.player.SetPlayError(errors.New("device busy"))

	_, err := h.ctrl.Play(context.Background(), testPrayer, "amy")
	require.NoError(t, err)

	ev := h.nextEvent(t, func(ev Event) bool { return ev.Err != nil })
	assert.ErrorIs(t, ev.Err, apperr.ErrPlaybackFailure)
	assert.Equal(t, Idle(), h.ctrl.State())
}

func TestGenerateAndCheck(t *testing.T) {
	sim := buildclient.NewSimulated(0, nil)
	h := newHarness(t, sim, nil)
	k := asset.Key{PrayerID: "p1", VoiceID: "grace"}

	_, err := h.ctrl.Generate(context.Background(), asset.Key{PrayerID: "p1", VoiceID: "amy"})
	assert.ErrorIs(t, err, ErrNotRemote)
	_, err = h.ctrl.Check(context.Background(), asset.Key{PrayerID: "p1", VoiceID: "amy"})
	assert.ErrorIs(t, err, ErrNotRemote)

	st, err := h.ctrl.Check(context.Background(), k)
	require.NoError(t, err)
	assert.Equal(t, asset.Missing(), st)

	ch, err := h.ctrl.Generate(context.Background(), k)
	require.NoError(t, err)
	r := <-ch
	require.NoError(t, r.Err)
	assert.Equal(t, asset.Ready("sim://p1/grace.wav"), r.State)

	st, err = h.ctrl.Check(context.Background(), k)
	require.NoError(t, err)
	assert.True(t, st.IsReady())
}

func TestEditBodyLockedOnceGenerated(t *testing.T) {
	h := newHarness(t, buildclient.NewSimulated(0, nil), nil)

	p, err := h.ctrl.EditBody(testPrayer, "Hallowed be thy name.")
	require.NoError(t, err)
	assert.Equal(t, "Hallowed be thy name.", p.Body)

	ch, err := h.ctrl.Generate(context.Background(), asset.Key{PrayerID: "p1", VoiceID: "miriam"})
	require.NoError(t, err)
	<-ch

	_, err = h.ctrl.EditBody(testPrayer, "Something else.")
	assert.ErrorIs(t, err, prayer.ErrBodyImmutable)
}

func TestClose(t *testing.T) {
	h := newHarness(t, buildclient.NewSimulated(0, nil), nil)

	_, err := h.ctrl.Play(context.Background(), testPrayer, "amy")
	require.NoError(t, err)
	h.waitPlays(t, 1)

	h.ctrl.Close()
	assert.Equal(t, Idle(), h.ctrl.State())
	_, err = h.ctrl.Preview(context.Background(), "amy")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "idle", Idle().String())
	assert.Equal(t, "speaking(p1/amy)", State{Kind: KindSynthesizingSpeech, Subject: Subject{PrayerID: "p1", VoiceID: "amy"}}.String())
	assert.Equal(t, "playing(preview:grace)", State{Kind: KindPlayingFile, Subject: PreviewSubject("grace")}.String())
	assert.Equal(t, "generation pending", ActionGenerationPending.String())
}
