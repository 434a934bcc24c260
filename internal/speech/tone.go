package speech

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"time"

	"github.com/prayonit/prayon/internal/audio"
	"github.com/prayonit/prayon/internal/voice"
)

// Tone stands in for a speech engine on machines without one. Each word
// becomes a short beep whose pitch depends on the voice.
type Tone struct {
	Format  audio.Format
	Word    time.Duration
	Gap     time.Duration
	Latency time.Duration // simulated synthesis time
}

// NewTone creates a tone synthesizer with natural-sounding pacing.
func NewTone() *Tone {
	return &Tone{
		Format: audio.Format{SampleRate: 22050, Channels: 1},
		Word:   180 * time.Millisecond,
		Gap:    70 * time.Millisecond,
	}
}

// Synthesize renders one beep per word.
func (t *Tone) Synthesize(ctx context.Context, text string, v voice.Voice) (audio.Clip, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return audio.Clip{}, errors.New("text cannot be empty")
	}
	if t.Latency > 0 {
		select {
		case <-time.After(t.Latency):
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		}
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(v.ID))
	base := 180 + float64(h.Sum32()%200)

	parts := make([]audio.Clip, 0, 2*len(words))
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return audio.Clip{}, err
		}
		freq := base * (1 + 0.05*float64((i+len(w))%4))
		parts = append(parts, audio.Tone(t.Format, freq, t.Word, 0.25), audio.Silence(t.Format, t.Gap))
	}
	return audio.Concat(parts...)
}

var _ Synthesizer = (*Tone)(nil)
