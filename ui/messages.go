package ui

import (
	"context"
	"errors"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/prayonit/prayon/internal/asset"
	"github.com/prayonit/prayon/internal/playback"
	"github.com/prayonit/prayon/internal/prayer"
)

// playbackEventMsg carries an event from the playback controller.
type playbackEventMsg struct {
	Event playback.Event
}

// assetEventMsg carries an event from the asset store.
type assetEventMsg struct {
	Event asset.Event
}

// eventsClosedMsg is sent when a subscription ends.
type eventsClosedMsg struct{}

// playDoneMsg is sent when Play or Preview returns.
type playDoneMsg struct {
	Subject string
	Outcome playback.Outcome
	Err     error
}

// assetCheckedMsg is sent when a Check returns.
type assetCheckedMsg struct {
	Key   asset.Key
	State asset.State
	Err   error
}

// generateStartedMsg is sent when a generation request was accepted.
type generateStartedMsg struct {
	Key asset.Key
	Err error
}

// copiedMsg is sent after writing to the clipboard.
type copiedMsg struct {
	URL string
	Err error
}

// prayersReloadedMsg is sent when the prayers file changed on disk.
type prayersReloadedMsg struct {
	Prayers []prayer.Prayer
	Err     error
}

// statusMessageTimeoutMsg clears the footer message with the same id.
type statusMessageTimeoutMsg struct {
	ID int
}

func waitForPlayback(ch <-chan playback.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return playbackEventMsg{Event: ev}
	}
}

func waitForAsset(ch <-chan asset.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return assetEventMsg{Event: ev}
	}
}

func playCmd(ctrl *playback.Controller, p prayer.Prayer, voiceID, subject string) tea.Cmd {
	return func() tea.Msg {
		out, err := ctrl.Play(context.Background(), p, voiceID)
		return playDoneMsg{Subject: subject, Outcome: out, Err: err}
	}
}

func previewCmd(ctrl *playback.Controller, voiceID, subject string) tea.Cmd {
	return func() tea.Msg {
		out, err := ctrl.Preview(context.Background(), voiceID)
		return playDoneMsg{Subject: subject, Outcome: out, Err: err}
	}
}

func checkCmd(ctrl *playback.Controller, k asset.Key) tea.Cmd {
	return func() tea.Msg {
		st, err := ctrl.Check(context.Background(), k)
		return assetCheckedMsg{Key: k, State: st, Err: err}
	}
}

// generateCmd starts a build. Completion arrives through the asset store's
// events, so the result channel is not read here.
func generateCmd(ctrl *playback.Controller, k asset.Key) tea.Cmd {
	return func() tea.Msg {
		_, err := ctrl.Generate(context.Background(), k)
		return generateStartedMsg{Key: k, Err: err}
	}
}

func copyCmd(url string) tea.Cmd {
	return func() tea.Msg {
		return copiedMsg{URL: url, Err: clipboard.WriteAll(url)}
	}
}

func statusTimeout(id int, d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return statusMessageTimeoutMsg{ID: id}
	})
}

func watchPrayers(w *prayer.Watcher) tea.Cmd {
	if w == nil {
		return nil
	}
	return func() tea.Msg {
		ps, err := w.Next(context.Background())
		if errors.Is(err, prayer.ErrWatcherClosed) {
			return eventsClosedMsg{}
		}
		return prayersReloadedMsg{Prayers: ps, Err: err}
	}
}
