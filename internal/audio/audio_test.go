package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	f := Format{SampleRate: 44100, Channels: 2}
	assert.Equal(t, time.Second, f.Duration(44100*4))
	assert.Equal(t, time.Duration(0), Format{}.Duration(100))
}

func TestClipValidate(t *testing.T) {
	tests := []struct {
		name    string
		clip    Clip
		wantErr bool
	}{
		{"valid", Clip{PCM: make([]byte, 8), Format: DefaultFormat}, false},
		{"empty", Clip{Format: DefaultFormat}, true},
		{"misaligned", Clip{PCM: make([]byte, 3), Format: DefaultFormat}, true},
		{"bad rate", Clip{PCM: make([]byte, 4), Format: Format{SampleRate: 100, Channels: 2}}, true},
		{"bad channels", Clip{PCM: make([]byte, 6), Format: Format{SampleRate: 44100, Channels: 3}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.clip.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToneAndSilence(t *testing.T) {
	f := Format{SampleRate: 22050, Channels: 1}
	tone := Tone(f, 440, 500*time.Millisecond, 0.5)
	require.NoError(t, tone.Validate())
	assert.Equal(t, 500*time.Millisecond, tone.Duration())

	silence := Silence(f, 250*time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, silence.Duration())

	joined, err := Concat(tone, silence)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, joined.Duration())

	_, err = Concat(tone, Silence(DefaultFormat, time.Millisecond))
	assert.Error(t, err)
}

func TestDecodeWAVRoundTrip(t *testing.T) {
	src := Tone(Format{SampleRate: 22050, Channels: 1}, 440, 200*time.Millisecond, 0.5)

	clip, err := Decode(EncodeWAV(src), "")
	require.NoError(t, err)
	assert.Equal(t, src.Format, clip.Format)
	assert.Equal(t, len(src.PCM), len(clip.PCM))
}

func TestDecodeRejectsUnknownData(t *testing.T) {
	_, err := Decode([]byte("definitely not audio"), "notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Decode(nil, "a.wav")
	assert.Error(t, err)

	_, err = Decode([]byte("RIFF....WAVEgarbage"), "")
	assert.Error(t, err)
}

func TestDetect(t *testing.T) {
	assert.Equal(t, "mp3", detect(nil, "https://cdn.example.com/a.mp3?sig=1"))
	assert.Equal(t, "wav", detect(nil, "voices/grace.WAV"))
	assert.Equal(t, "mp3", detect([]byte("ID3\x04"), ""))
	assert.Equal(t, "mp3", detect([]byte{0xFF, 0xFB, 0x90}, ""))
	assert.Equal(t, "", detect([]byte("hello"), ""))
}

func TestConvert(t *testing.T) {
	src := Tone(Format{SampleRate: 22050, Channels: 1}, 440, time.Second, 0.5)

	out, err := Convert(src, DefaultFormat)
	require.NoError(t, err)
	assert.Equal(t, DefaultFormat, out.Format)
	assert.InDelta(t, float64(time.Second), float64(out.Duration()), float64(20*time.Millisecond))

	same, err := Convert(src, src.Format)
	require.NoError(t, err)
	assert.Equal(t, src, same)

	_, err = Convert(Clip{}, DefaultFormat)
	assert.Error(t, err)
}

func TestPlayerConfigValidate(t *testing.T) {
	cfg := DefaultPlayerConfig()
	require.NoError(t, cfg.Validate())

	cfg.Format.SampleRate = 22050
	assert.Error(t, cfg.Validate())

	cfg = DefaultPlayerConfig()
	cfg.Volume = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultPlayerConfig()
	cfg.BufferSize = 0
	assert.Error(t, cfg.Validate())
}
