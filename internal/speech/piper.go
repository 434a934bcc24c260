package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prayonit/prayon/internal/audio"
	"github.com/prayonit/prayon/internal/voice"
)

// piper writes 16-bit mono PCM at 22.05kHz with --output-raw.
var piperFormat = audio.Format{SampleRate: 22050, Channels: 1}

const (
	maxChunkSize   = 1000
	maxOutputBytes = 50 << 20
)

// PiperConfig configures the piper synthesizer.
type PiperConfig struct {
	// Binary is the piper executable (defaults to "piper" on PATH).
	Binary string
	// ModelsDir holds the .onnx models named by voices.
	ModelsDir string
	// Speed multiplies the speaking rate (1.0 is normal).
	Speed float64
	// Timeout bounds each piper run (defaults to 30s).
	Timeout time.Duration
	Logger  *log.Logger
}

// Piper runs one piper process per chunk of text. Stdin is filled before the
// process starts so piper never waits on a half-written pipe.
type Piper struct {
	binary    string
	modelsDir string
	speed     float64
	timeout   time.Duration
	logger    *log.Logger
}

// NewPiper creates a piper synthesizer.
func NewPiper(cfg PiperConfig) (*Piper, error) {
	if cfg.Binary == "" {
		cfg.Binary = "piper"
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1.0
	}
	if cfg.Speed < 0.5 || cfg.Speed > 2.0 {
		return nil, fmt.Errorf("speed must be between 0.5 and 2.0, got %.2f", cfg.Speed)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Piper{
		binary:    cfg.Binary,
		modelsDir: cfg.ModelsDir,
		speed:     cfg.Speed,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.WithPrefix("piper"),
	}, nil
}

// Available reports whether the piper binary can be found.
func (p *Piper) Available() error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("piper not found: %w", err)
	}
	return nil
}

// Synthesize speaks text with the voice's piper model.
func (p *Piper) Synthesize(ctx context.Context, text string, v voice.Voice) (audio.Clip, error) {
	chunks := SplitSentences(text, maxChunkSize)
	if len(chunks) == 0 {
		return audio.Clip{}, errors.New("text cannot be empty")
	}
	model, err := p.modelPath(v)
	if err != nil {
		return audio.Clip{}, err
	}

	clip := audio.Clip{Format: piperFormat}
	for _, chunk := range chunks {
		pcm, err := p.run(ctx, model, chunk)
		if err != nil {
			return audio.Clip{}, err
		}
		clip.PCM = append(clip.PCM, pcm...)
	}
	// piper may end on half a frame when killed mid-write
	clip.PCM = clip.PCM[:len(clip.PCM)-len(clip.PCM)%piperFormat.BytesPerFrame()]
	return clip, nil
}

func (p *Piper) modelPath(v voice.Voice) (string, error) {
	if v.Model == "" {
		return "", fmt.Errorf("voice %s has no speech model", v.ID)
	}
	m := v.Model
	if filepath.Ext(m) == "" {
		m += ".onnx"
	}
	if !filepath.IsAbs(m) && p.modelsDir != "" {
		m = filepath.Join(p.modelsDir, m)
	}
	if _, err := os.Stat(m); err != nil {
		return "", fmt.Errorf("model file not found: %w", err)
	}
	return m, nil
}

func (p *Piper) run(ctx context.Context, model, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"--model", model,
		"--output-raw",
		"--length-scale", fmt.Sprintf("%.2f", 1.0/p.speed),
	}
	if cfg := strings.TrimSuffix(model, filepath.Ext(model)) + ".onnx.json"; fileExists(cfg) {
		args = append(args, "--config", cfg)
	}

	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 100 * time.Millisecond

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("synthesis stopped: %w", ctx.Err())
		}
		return nil, fmt.Errorf("piper failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("piper produced no audio output, stderr: %s", strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() > maxOutputBytes {
		return nil, fmt.Errorf("piper output too large: %d bytes", stdout.Len())
	}
	p.logger.Debug("Synthesized", "chars", len(text), "bytes", stdout.Len(), "duration", time.Since(start))
	return stdout.Bytes(), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var _ Synthesizer = (*Piper)(nil)
