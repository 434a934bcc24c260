package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Format describes 16-bit signed little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the output format of the audio device.
var DefaultFormat = Format{SampleRate: 44100, Channels: 2}

// BytesPerFrame returns the size of one frame (one sample per channel).
func (f Format) BytesPerFrame() int {
	return f.Channels * 2
}

// Duration returns how long n bytes of PCM last.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	frames := n / f.BytesPerFrame()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Validate checks the format is playable.
func (f Format) Validate() error {
	if f.SampleRate < 8000 || f.SampleRate > 192000 {
		return fmt.Errorf("sample rate must be between 8000 and 192000 Hz, got %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", f.Channels)
	}
	return nil
}

// Clip is a block of decoded PCM audio.
type Clip struct {
	PCM    []byte
	Format Format
}

// Duration returns the clip length.
func (c Clip) Duration() time.Duration {
	return c.Format.Duration(len(c.PCM))
}

// Validate checks the clip is non-empty and frame aligned.
func (c Clip) Validate() error {
	if len(c.PCM) == 0 {
		return errors.New("audio data is empty")
	}
	if err := c.Format.Validate(); err != nil {
		return err
	}
	if len(c.PCM)%c.Format.BytesPerFrame() != 0 {
		return fmt.Errorf("PCM data length %d is not aligned to %d-byte frames",
			len(c.PCM), c.Format.BytesPerFrame())
	}
	return nil
}

// Silence returns a silent clip of the given duration.
func Silence(f Format, d time.Duration) Clip {
	frames := int(d.Seconds() * float64(f.SampleRate))
	return Clip{PCM: make([]byte, frames*f.BytesPerFrame()), Format: f}
}

// Tone returns a sine tone with short fades at both ends.
func Tone(f Format, freq float64, d time.Duration, amplitude float64) Clip {
	frames := int(d.Seconds() * float64(f.SampleRate))
	fade := f.SampleRate / 100
	pcm := make([]byte, frames*f.BytesPerFrame())
	for i := 0; i < frames; i++ {
		gain := amplitude
		if i < fade {
			gain *= float64(i) / float64(fade)
		} else if frames-i < fade {
			gain *= float64(frames-i) / float64(fade)
		}
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/float64(f.SampleRate)) * gain * math.MaxInt16)
		for ch := 0; ch < f.Channels; ch++ {
			binary.LittleEndian.PutUint16(pcm[(i*f.Channels+ch)*2:], uint16(v))
		}
	}
	return Clip{PCM: pcm, Format: f}
}

// Concat joins clips of the same format.
func Concat(clips ...Clip) (Clip, error) {
	if len(clips) == 0 {
		return Clip{}, errors.New("nothing to concatenate")
	}
	out := Clip{Format: clips[0].Format}
	for _, c := range clips {
		if c.Format != out.Format {
			return Clip{}, fmt.Errorf("format mismatch: %+v vs %+v", c.Format, out.Format)
		}
		out.PCM = append(out.PCM, c.PCM...)
	}
	return out, nil
}

// EncodeWAV wraps a clip in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(c Clip) []byte {
	var buf bytes.Buffer
	dataLen := uint32(len(c.PCM))
	byteRate := uint32(c.Format.SampleRate * c.Format.BytesPerFrame())

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(c.Format.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(c.Format.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(c.Format.BytesPerFrame()))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(c.PCM)
	return buf.Bytes()
}
