package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/truncate"
	"github.com/prayonit/prayon/internal/apperr"
	"github.com/prayonit/prayon/internal/asset"
	"github.com/prayonit/prayon/internal/playback"
	"github.com/prayonit/prayon/internal/prayer"
	"github.com/spf13/cobra"
)

const (
	defaultVoice = "device-amy"
	ellipsis     = "…"
)

var (
	voiceID      string
	prayerText   string
	waitForAudio bool

	playCmd = &cobra.Command{
		Use:   "play [PRAYER]",
		Short: "Read a prayer aloud",
		Long: paragraph(fmt.Sprintf("\n%s a prayer with the chosen voice. Voices rendered by the server play their audio once it has been generated; "+
			"until then the generation is started and you can come back later, or pass --wait.", keyword("Read"))),
		Example: paragraph("prayon play morning --voice device-amy\nprayon play --text \"Be still, and know.\" --voice grace --wait"),
		Args:    cobra.MaximumNArgs(1),
		RunE:    runPlay,
	}

	previewCmd = &cobra.Command{
		Use:     "preview VOICE",
		Short:   "Listen to a sample of a voice",
		Example: paragraph("prayon preview grace"),
		Args:    cobra.ExactArgs(1),
		RunE:    runPreview,
	}

	generateCmd = &cobra.Command{
		Use:     "generate PRAYER",
		Short:   "Have the server render a prayer with a voice",
		Example: paragraph("prayon generate evening --voice samuel"),
		Args:    cobra.ExactArgs(1),
		RunE:    runGenerate,
	}

	statusCmd = &cobra.Command{
		Use:   "status [PRAYER]",
		Short: "Show which prayers have generated audio",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}

	voicesCmd = &cobra.Command{
		Use:     "voices [FILTER]",
		Short:   "List the available voices",
		Example: paragraph("prayon voices\nprayon voices gra"),
		Args:    cobra.MaximumNArgs(1),
		RunE:    runVoices,
	}
)

func init() {
	for _, c := range []*cobra.Command{playCmd, generateCmd} {
		c.Flags().StringVar(&voiceID, "voice", defaultVoice, "voice to read with")
	}
	playCmd.Flags().StringVar(&prayerText, "text", "", "read this text instead of a saved prayer")
	playCmd.Flags().BoolVarP(&waitForAudio, "wait", "w", false, "wait for generated audio and play it")
}

// line truncates s to the terminal width.
func line(s string) string {
	return truncate.StringWithTail(s, uint(width), ellipsis) //nolint:gosec
}

// userError puts the user-facing sentence in front of an audio core error.
func userError(err error) error {
	if apperr.CodeOf(err) == "" {
		return err
	}
	return fmt.Errorf("%s (%w)", apperr.UserMessage(err), err)
}

// textPrayer wraps free text in a prayer. The id is derived from the text
// so repeated runs share generated audio.
func textPrayer(text string) prayer.Prayer {
	sum := sha256.Sum256([]byte(text))
	now := time.Now()
	return prayer.Prayer{
		ID:        "text-" + hex.EncodeToString(sum[:6]),
		Body:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func pickPrayer(a *app, args []string) (prayer.Prayer, error) {
	switch {
	case prayerText != "" && len(args) > 0:
		return prayer.Prayer{}, errors.New("pass either a prayer id or --text, not both")
	case prayerText != "":
		return textPrayer(prayerText), nil
	case len(args) == 0:
		return prayer.Prayer{}, errors.New("which prayer? pass its id or --text")
	default:
		return a.findPrayer(args[0])
	}
}

func title(p prayer.Prayer) string {
	if p.Title != "" {
		return p.Title
	}
	return p.ID
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := pickPrayer(a, args)
	if err != nil {
		return err
	}
	v, err := a.catalog.Lookup(voiceID)
	if err != nil {
		return userError(err)
	}

	events, cancel := a.ctrl.Subscribe()
	defer cancel()

	w := cmd.OutOrStdout()
	out, err := a.ctrl.Play(ctx, p, v.ID)
	if err != nil {
		return userError(err)
	}

	switch out.Action {
	case playback.ActionSpeaking, playback.ActionPlayingFile:
		fmt.Fprintln(w, line(fmt.Sprintf("%s %s, read by %s", keyword("▶"), title(p), v.Name)))
		return waitIdle(ctx, a.ctrl, events)
	}

	if out.Action == playback.ActionGenerationPending {
		fmt.Fprintln(w, line(fmt.Sprintf("Audio for %s is still being generated.", title(p))))
	} else {
		fmt.Fprintln(w, line(fmt.Sprintf("Generating audio for %s with %s.", title(p), v.Name)))
	}
	if !waitForAudio {
		fmt.Fprintln(w, faint("Run the command again later, or pass --wait."))
		return nil
	}

	r, err := waitGeneration(ctx, w, out.Generation)
	if err != nil {
		return err
	}
	if r.Err != nil {
		return userError(r.Err)
	}

	out, err = a.ctrl.Play(ctx, p, v.ID)
	if err != nil {
		return userError(err)
	}
	if out.Action != playback.ActionPlayingFile {
		return fmt.Errorf("audio for %s is not ready yet", title(p))
	}
	fmt.Fprintln(w, line(fmt.Sprintf("%s %s, read by %s", keyword("▶"), title(p), v.Name)))
	return waitIdle(ctx, a.ctrl, events)
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	events, cancel := a.ctrl.Subscribe()
	defer cancel()

	if _, err := a.ctrl.Preview(ctx, args[0]); err != nil {
		if errors.Is(err, playback.ErrPreviewUnavailable) {
			return fmt.Errorf("%s has no preview sample", args[0])
		}
		return userError(err)
	}
	v, _ := a.catalog.Lookup(args[0])
	fmt.Fprintln(cmd.OutOrStdout(), line(fmt.Sprintf("%s Previewing %s", keyword("▶"), v)))
	return waitIdle(ctx, a.ctrl, events)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.findPrayer(args[0])
	if err != nil {
		return err
	}
	ch, err := a.ctrl.Generate(ctx, asset.Key{PrayerID: p.ID, VoiceID: voiceID})
	if err != nil {
		return userError(err)
	}

	w := cmd.OutOrStdout()
	r, err := waitGeneration(ctx, w, ch)
	if err != nil {
		return err
	}
	if r.Err != nil {
		return userError(r.Err)
	}
	fmt.Fprintln(w, line(fmt.Sprintf("%s %s", keyword("✓"), r.State.URL)))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	prayers := a.prayers
	if len(args) == 1 {
		p, err := a.findPrayer(args[0])
		if err != nil {
			return err
		}
		prayers = []prayer.Prayer{p}
	}

	w := cmd.OutOrStdout()
	for _, p := range prayers {
		fmt.Fprintln(w, line(title(p)))
		for _, v := range a.remoteVoices() {
			st, err := a.ctrl.Check(ctx, asset.Key{PrayerID: p.ID, VoiceID: v.ID})
			state := st.String()
			if err != nil {
				state = "unknown: " + apperr.UserMessage(err)
			}
			fmt.Fprintln(w, line(fmt.Sprintf("  %-10s %s", v.ID, state)))
		}
	}

	mem, disk := a.cache.Size()
	stats := a.cache.Stats()
	fmt.Fprintln(w)
	fmt.Fprintln(w, faint(fmt.Sprintf("Audio cache: %s in memory, %s on disk, %s hits, %s misses",
		humanize.Bytes(uint64(mem)), humanize.Bytes(uint64(disk)), //nolint:gosec
		humanize.Comma(stats.MemoryHits+stats.DiskHits), humanize.Comma(stats.Misses))))
	if !stats.LastCleanup.IsZero() {
		fmt.Fprintln(w, faint("Last cleanup "+humanize.Time(stats.LastCleanup)))
	}
	return nil
}

func runVoices(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, log.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	voices := a.catalog.All()
	if len(args) == 1 {
		voices = a.catalog.Filter(args[0])
	}
	w := cmd.OutOrStdout()
	if len(voices) == 0 {
		fmt.Fprintln(w, "No voices found.")
		return nil
	}
	for _, v := range voices {
		var extra []string
		if v.Language != "" {
			extra = append(extra, v.Language)
		}
		if v.BundledFile != "" || !v.Provider.IsRemote() {
			extra = append(extra, "preview")
		}
		fmt.Fprintln(w, line(fmt.Sprintf("%-12s %-28s %s", v.ID, v, faint(strings.Join(extra, ", ")))))
	}
	return nil
}

// waitIdle blocks until the controller finishes the current session. An
// interrupt stops playback.
func waitIdle(ctx context.Context, ctrl *playback.Controller, events <-chan playback.Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Generation != nil {
				continue
			}
			if ev.Err != nil {
				return userError(ev.Err)
			}
			if ev.State.Kind == playback.KindIdle {
				return nil
			}
		case <-ctx.Done():
			ctrl.Stop()
			return nil
		}
	}
}

// waitGeneration blocks until a build finishes, printing progress dots.
func waitGeneration(ctx context.Context, w io.Writer, ch <-chan asset.Result) (asset.Result, error) {
	start := time.Now()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case r := <-ch:
			fmt.Fprintln(w)
			if r.Err == nil {
				fmt.Fprintln(w, faint(fmt.Sprintf("Generated in %s.", time.Since(start).Round(time.Second))))
			}
			return r, nil
		case <-tick.C:
			fmt.Fprint(w, ".")
		case <-ctx.Done():
			fmt.Fprintln(w)
			return asset.Result{}, errors.New("stopped waiting; the audio keeps generating on the server")
		}
	}
}
