// Package speech synthesizes prayer text on the device.
package speech

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/prayonit/prayon/internal/audio"
	"github.com/prayonit/prayon/internal/voice"
)

// Synthesizer renders text with an on-device voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, v voice.Voice) (audio.Clip, error)
}

// SplitSentences breaks text into chunks of at most max bytes, cutting at
// sentence ends where possible and at spaces otherwise.
func SplitSentences(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= max {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, sentence := range sentences(text) {
		if cur.Len()+len(sentence) <= max {
			cur.WriteString(sentence)
			continue
		}
		flush()
		for len(sentence) > max {
			cut := strings.LastIndexFunc(sentence[:max+1], unicode.IsSpace)
			if cut <= 0 {
				cut = max
				for cut > 1 && !utf8.RuneStart(sentence[cut]) {
					cut--
				}
			}
			chunks = append(chunks, strings.TrimSpace(sentence[:cut]))
			sentence = sentence[cut:]
		}
		cur.WriteString(sentence)
	}
	flush()
	return chunks
}

// sentences splits after terminal punctuation, keeping the delimiter and the
// following whitespace with the sentence.
func sentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	pos := 0
	for i, r := range runes {
		size := len(string(r))
		pos += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		end := pos
		for j := i + 1; j < len(runes) && unicode.IsSpace(runes[j]); j++ {
			end += len(string(runes[j]))
		}
		if end > start {
			out = append(out, text[start:end])
		}
		start = end
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
