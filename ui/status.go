package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/prayonit/prayon/internal/apperr"
	"github.com/prayonit/prayon/internal/asset"
	"github.com/prayonit/prayon/internal/playback"
	"github.com/prayonit/prayon/internal/voice"
)

var (
	green  = lipgloss.Color("#04B575")
	blue   = lipgloss.Color("#00AAFF")
	red    = lipgloss.Color("#FF5F87")
	gray   = lipgloss.Color("#888888")
	dimmed = lipgloss.Color("#626262")
)

// statusDisplay follows the controller's events for the header.
type statusDisplay struct {
	state        playback.State
	errorMessage string
}

// Update applies a controller event.
func (s *statusDisplay) Update(ev playback.Event) {
	if ev.Generation != nil {
		return
	}
	s.state = ev.State
	switch {
	case ev.Err != nil:
		s.errorMessage = apperr.UserMessage(ev.Err)
	case ev.State.Kind != playback.KindIdle:
		s.errorMessage = ""
	}
}

// Active reports whether something is sounding.
func (s statusDisplay) Active() bool {
	return s.state.Kind != playback.KindIdle
}

// CompactStatus returns the header status. spin is the current spinner frame.
func (s statusDisplay) CompactStatus(subject, spin string) string {
	var icon, text string
	var color lipgloss.Color

	switch s.state.Kind {
	case playback.KindSynthesizingSpeech:
		icon, text, color = spin, "Speaking", blue
	case playback.KindPlayingFile:
		icon, text, color = "▶", "Playing", green
	default:
		if s.errorMessage != "" {
			return lipgloss.NewStyle().Foreground(red).Render("✗ " + s.errorMessage)
		}
		return lipgloss.NewStyle().Foreground(dimmed).Render("■ Idle")
	}

	if s.state.Subject.Preview {
		text = "Preview"
	}
	status := lipgloss.NewStyle().Foreground(color).Render(fmt.Sprintf("%s %s", icon, text))
	if subject != "" {
		status += lipgloss.NewStyle().Foreground(gray).Render(" · " + subject)
	}
	return status
}

// assetBadge describes the generated audio of a remote voice, or that the
// voice speaks on the device.
func assetBadge(v voice.Voice, st asset.State, known bool, spin string) string {
	if !v.Provider.IsRemote() {
		return lipgloss.NewStyle().Foreground(dimmed).Render("on device")
	}
	if !known {
		return lipgloss.NewStyle().Foreground(dimmed).Render("…")
	}
	switch st.Status {
	case asset.StatusReady:
		return lipgloss.NewStyle().Foreground(green).Render("✓ ready")
	case asset.StatusBuilding:
		return lipgloss.NewStyle().Foreground(blue).Render(spin + " building")
	default:
		return lipgloss.NewStyle().Foreground(gray).Render("○ not generated")
	}
}

// fit truncates s to width cells.
func fit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return truncate.StringWithTail(s, uint(width), "…") //nolint:gosec
}
