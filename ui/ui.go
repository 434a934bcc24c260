// Package ui is the interactive prayer player.
package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/prayonit/prayon/internal/apperr"
	"github.com/prayonit/prayon/internal/asset"
	"github.com/prayonit/prayon/internal/cache"
	"github.com/prayonit/prayon/internal/playback"
	"github.com/prayonit/prayon/internal/prayer"
	"github.com/prayonit/prayon/internal/voice"
)

var (
	fuchsia = lipgloss.Color("#EE6FF8")

	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("#5A56E0")).Padding(0, 1)
	headingStyle  = lipgloss.NewStyle().Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(fuchsia)
	helpStyle     = lipgloss.NewStyle().Foreground(dimmed)
	columnStyle   = lipgloss.NewStyle().PaddingRight(2)
)

// Deps is the audio core the TUI drives.
type Deps struct {
	Controller *playback.Controller
	Store      *asset.Store
	Catalog    *voice.Catalog
	Prayers    []prayer.Prayer
	Cache      *cache.Manager

	// Watcher, when set, reloads Prayers as the file changes.
	Watcher *prayer.Watcher
}

// NewProgram returns a new Tea program.
func NewProgram(cfg Config, deps Deps) *tea.Program {
	log.Debug(
		"Starting prayon",
		"prayers", len(deps.Prayers),
		"voices", deps.Catalog.Len(),
		"mouse", cfg.EnableMouse,
	)

	m := newModel(cfg, deps)
	var opts []tea.ProgramOption
	if cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(m, opts...)
}

type focus int

const (
	focusPrayers focus = iota
	focusVoices
)

type model struct {
	cfg  Config
	deps Deps

	width  int
	height int

	focus        focus
	prayerCursor int
	voiceCursor  int
	voices       []voice.Voice

	filtering bool
	filter    string

	assets  map[asset.Key]asset.State
	status  statusDisplay
	subject string
	spinner spinner.Model

	statusMessage   string
	statusMessageID int

	playEvents  <-chan playback.Event
	assetEvents <-chan asset.Event
	unsubscribe []func()
}

func newModel(cfg Config, deps Deps) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(blue)

	m := model{
		cfg:     cfg,
		deps:    deps,
		width:   80,
		voices:  deps.Catalog.All(),
		assets:  make(map[asset.Key]asset.State),
		spinner: sp,
	}
	var cancel func()
	m.playEvents, cancel = deps.Controller.Subscribe()
	m.unsubscribe = append(m.unsubscribe, cancel)
	if deps.Store != nil {
		m.assetEvents, cancel = deps.Store.Subscribe()
		m.unsubscribe = append(m.unsubscribe, cancel)
	}
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForPlayback(m.playEvents),
		waitForAsset(m.assetEvents),
		watchPrayers(m.deps.Watcher),
		m.checkSelected(),
	)
}

func (m model) selectedPrayer() (prayer.Prayer, bool) {
	if m.prayerCursor < 0 || m.prayerCursor >= len(m.deps.Prayers) {
		return prayer.Prayer{}, false
	}
	return m.deps.Prayers[m.prayerCursor], true
}

func (m model) selectedVoice() (voice.Voice, bool) {
	if m.voiceCursor < 0 || m.voiceCursor >= len(m.voices) {
		return voice.Voice{}, false
	}
	return m.voices[m.voiceCursor], true
}

// checkSelected asks for the audio state of every remote voice of the
// selected prayer.
func (m model) checkSelected() tea.Cmd {
	p, ok := m.selectedPrayer()
	if !ok {
		return nil
	}
	var cmds []tea.Cmd
	for _, v := range m.deps.Catalog.All() {
		if v.Provider.IsRemote() {
			cmds = append(cmds, checkCmd(m.deps.Controller, asset.Key{PrayerID: p.ID, VoiceID: v.ID}))
		}
	}
	return tea.Batch(cmds...)
}

// invalidatePrayer forgets the audio of every remote voice of a prayer.
func (m *model) invalidatePrayer(id string) {
	for _, v := range m.deps.Catalog.All() {
		if v.Provider.IsRemote() {
			k := asset.Key{PrayerID: id, VoiceID: v.ID}
			m.deps.Controller.Invalidate(k)
			delete(m.assets, k)
		}
	}
}

func (m *model) showStatusMessage(msg string) tea.Cmd {
	m.statusMessageID++
	m.statusMessage = msg
	return statusTimeout(m.statusMessageID, m.cfg.StatusTimeout)
}

func (m *model) quit() tea.Cmd {
	m.deps.Controller.Stop()
	for _, cancel := range m.unsubscribe {
		cancel()
	}
	m.unsubscribe = nil
	return tea.Quit
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.filtering {
			return m.updateFilter(msg)
		}
		return m.updateKeys(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case playbackEventMsg:
		ev := msg.Event
		m.status.Update(ev)
		if ev.Generation != nil {
			m.assets[ev.Generation.Key] = ev.Generation.State
		}
		if ev.Err != nil {
			log.Debug("Playback failed", "err", ev.Err)
		}
		return m, waitForPlayback(m.playEvents)

	case assetEventMsg:
		ev := msg.Event
		m.assets[ev.Key] = ev.State
		cmds := []tea.Cmd{waitForAsset(m.assetEvents)}
		switch {
		case ev.Err != nil:
			cmds = append(cmds, m.showStatusMessage(apperr.UserMessage(ev.Err)))
		case ev.State.IsReady():
			cmds = append(cmds, m.showStatusMessage("Audio ready for "+ev.Key.String()))
		}
		return m, tea.Batch(cmds...)

	case playDoneMsg:
		if msg.Err != nil {
			if errors.Is(msg.Err, playback.ErrPreviewUnavailable) {
				return m, m.showStatusMessage("No preview sample for this voice")
			}
			return m, m.showStatusMessage(apperr.UserMessage(msg.Err))
		}
		out := msg.Outcome
		switch out.Action {
		case playback.ActionSpeaking, playback.ActionPlayingFile:
			m.subject = msg.Subject
			return m, nil
		case playback.ActionGenerationRequested:
			if p, ok := m.selectedPrayer(); ok {
				if v, ok := m.selectedVoice(); ok {
					m.assets[asset.Key{PrayerID: p.ID, VoiceID: v.ID}] = asset.Building()
				}
			}
			return m, m.showStatusMessage("Generating audio, press enter again once it is ready")
		default:
			return m, m.showStatusMessage("Audio is still being generated")
		}

	case assetCheckedMsg:
		if msg.Err != nil {
			return m, m.showStatusMessage(apperr.UserMessage(msg.Err))
		}
		m.assets[msg.Key] = msg.State
		return m, nil

	case generateStartedMsg:
		if msg.Err != nil {
			return m, m.showStatusMessage(apperr.UserMessage(msg.Err))
		}
		if st, ok := m.assets[msg.Key]; !ok || !st.IsReady() {
			m.assets[msg.Key] = asset.Building()
		}
		return m, nil

	case copiedMsg:
		if msg.Err != nil {
			log.Warn("Clipboard", "err", msg.Err)
			return m, m.showStatusMessage("Could not copy to the clipboard")
		}
		return m, m.showStatusMessage("Copied " + msg.URL)

	case prayersReloadedMsg:
		if msg.Err != nil {
			log.Warn("Prayers not reloaded", "err", msg.Err)
			return m, tea.Batch(watchPrayers(m.deps.Watcher), m.showStatusMessage("Could not reload prayers"))
		}
		if len(msg.Prayers) == 0 {
			return m, tea.Batch(watchPrayers(m.deps.Watcher), m.showStatusMessage("Prayers file is empty, keeping the current list"))
		}
		changed := prayer.Changed(m.deps.Prayers, msg.Prayers)
		for _, id := range changed {
			m.invalidatePrayer(id)
		}
		log.Debug("Prayers reloaded", "prayers", len(msg.Prayers), "changed", len(changed))
		m.deps.Prayers = msg.Prayers
		m.prayerCursor = clamp(m.prayerCursor, len(m.deps.Prayers))
		return m, tea.Batch(
			watchPrayers(m.deps.Watcher),
			m.checkSelected(),
			m.showStatusMessage(fmt.Sprintf("Reloaded %d prayers", len(msg.Prayers))),
		)

	case statusMessageTimeoutMsg:
		if msg.ID == m.statusMessageID {
			m.statusMessage = ""
		}
		return m, nil

	case eventsClosedMsg:
		return m, nil
	}
	return m, nil
}

func (m model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filtering = false
		m.filter = ""
	case tea.KeyEnter:
		m.filtering = false
	case tea.KeyBackspace:
		if r := []rune(m.filter); len(r) > 0 {
			m.filter = string(r[:len(r)-1])
		}
	case tea.KeyCtrlC:
		return m, m.quit()
	case tea.KeyRunes, tea.KeySpace:
		m.filter += string(msg.Runes)
	default:
		return m, nil
	}
	m.voices = m.deps.Catalog.Filter(m.filter)
	m.voiceCursor = 0
	return m, nil
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, m.quit()

	case "tab":
		if m.focus == focusPrayers {
			m.focus = focusVoices
		} else {
			m.focus = focusPrayers
		}

	case "up", "k":
		return m.move(-1)
	case "down", "j":
		return m.move(1)

	case "enter", " ":
		p, ok := m.selectedPrayer()
		v, ok2 := m.selectedVoice()
		if !ok || !ok2 {
			return m, nil
		}
		return m, playCmd(m.deps.Controller, p, v.ID, describe(p, v))

	case "p":
		v, ok := m.selectedVoice()
		if !ok {
			return m, nil
		}
		return m, previewCmd(m.deps.Controller, v.ID, v.Name)

	case "g":
		p, ok := m.selectedPrayer()
		v, ok2 := m.selectedVoice()
		if !ok || !ok2 {
			return m, nil
		}
		if !v.Provider.IsRemote() {
			return m, m.showStatusMessage(v.Name + " speaks on your device, nothing to generate")
		}
		return m, generateCmd(m.deps.Controller, asset.Key{PrayerID: p.ID, VoiceID: v.ID})

	case "s", "esc":
		m.deps.Controller.Stop()

	case "c":
		p, ok := m.selectedPrayer()
		v, ok2 := m.selectedVoice()
		if !ok || !ok2 {
			return m, nil
		}
		st := m.assets[asset.Key{PrayerID: p.ID, VoiceID: v.ID}]
		if !st.IsReady() {
			return m, m.showStatusMessage("No generated audio to copy")
		}
		if !m.cfg.Clipboard {
			return m, m.showStatusMessage(st.URL)
		}
		return m, copyCmd(st.URL)

	case "r":
		p, ok := m.selectedPrayer()
		if !ok {
			return m, nil
		}
		m.invalidatePrayer(p.ID)
		return m, m.checkSelected()

	case "/":
		m.filtering = true
		m.focus = focusVoices
	}
	return m, nil
}

func (m model) move(delta int) (tea.Model, tea.Cmd) {
	if m.focus == focusVoices {
		m.voiceCursor = clamp(m.voiceCursor+delta, len(m.voices))
		return m, nil
	}
	prev := m.prayerCursor
	m.prayerCursor = clamp(m.prayerCursor+delta, len(m.deps.Prayers))
	if m.prayerCursor == prev {
		return m, nil
	}
	return m, m.checkSelected()
}

func clamp(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func describe(p prayer.Prayer, v voice.Voice) string {
	name := p.Title
	if name == "" {
		name = p.ID
	}
	return name + " / " + v.Name
}

func (m model) View() string {
	var b strings.Builder

	status := m.status.CompactStatus(m.subject, m.spinner.View())
	header := titleStyle.Render("Prayon")
	gap := m.width - lipgloss.Width(header) - lipgloss.Width(status)
	if gap < 1 {
		gap = 1
	}
	b.WriteString(header + strings.Repeat(" ", gap) + status + "\n\n")

	half := (m.width - 2) / 2
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		columnStyle.Width(half).Render(m.prayersView(half)),
		m.voicesView(half),
	))
	b.WriteString("\n\n")

	if m.filtering || m.filter != "" {
		cursor := ""
		if m.filtering {
			cursor = "█"
		}
		b.WriteString(fit("Filter: "+m.filter+cursor, m.width) + "\n")
	}
	b.WriteString(helpStyle.Render(fit("enter play · p preview · g generate · s stop · c copy url · r refresh · / filter · tab switch · q quit", m.width)))
	b.WriteString("\n")
	b.WriteString(m.footerView())
	return b.String()
}

func (m model) prayersView(width int) string {
	lines := []string{m.heading("Prayers", m.focus == focusPrayers)}
	for i, p := range m.deps.Prayers {
		name := p.Title
		if name == "" {
			name = p.ID
		}
		lines = append(lines, m.row(name, i == m.prayerCursor, m.focus == focusPrayers, width))
	}
	return strings.Join(lines, "\n")
}

func (m model) voicesView(width int) string {
	lines := []string{m.heading("Voices", m.focus == focusVoices)}
	if len(m.voices) == 0 {
		return strings.Join(append(lines, helpStyle.Render("  No voices match")), "\n")
	}
	p, _ := m.selectedPrayer()
	for i, v := range m.voices {
		st, known := m.assets[asset.Key{PrayerID: p.ID, VoiceID: v.ID}]
		badge := assetBadge(v, st, known, m.spinner.View())
		name := fit(v.Name, width-lipgloss.Width(badge)-4)
		lines = append(lines, m.row(name, i == m.voiceCursor, m.focus == focusVoices, width-lipgloss.Width(badge)-1)+" "+badge)
	}
	return strings.Join(lines, "\n")
}

func (m model) heading(s string, focused bool) string {
	if focused {
		return headingStyle.Foreground(fuchsia).Render(s)
	}
	return headingStyle.Render(s)
}

func (m model) row(s string, selected, focused bool, width int) string {
	s = fit(s, width-2)
	if !selected {
		return "  " + s + strings.Repeat(" ", max(0, width-2-lipgloss.Width(s)))
	}
	s = "> " + s + strings.Repeat(" ", max(0, width-2-lipgloss.Width(s)))
	if focused {
		return selectedStyle.Render(s)
	}
	return s
}

func (m model) footerView() string {
	if m.statusMessage != "" {
		return fit(m.statusMessage, m.width)
	}
	if m.deps.Cache == nil {
		return ""
	}
	mem, disk := m.deps.Cache.Size()
	stats := m.deps.Cache.Stats()
	return helpStyle.Render(fit(fmt.Sprintf("cache %s memory · %s disk · %.0f%% hits",
		humanize.Bytes(uint64(mem)), humanize.Bytes(uint64(disk)), stats.HitRate()*100), m.width)) //nolint:gosec
}
