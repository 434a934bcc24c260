package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// resampleQuality is passed to beep.Resample (1 is fastest, 64 best).
const resampleQuality = 4

// ErrUnsupportedFormat is returned for audio that is neither mp3 nor wav.
var ErrUnsupportedFormat = errors.New("unsupported audio format; use mp3 or wav")

// Decode decodes an encoded audio file. hint is a file name or URL whose
// extension picks the decoder; without one the data is sniffed.
func Decode(data []byte, hint string) (Clip, error) {
	if len(data) == 0 {
		return Clip{}, errors.New("audio data is empty")
	}

	var (
		s   beep.StreamSeekCloser
		f   beep.Format
		err error
	)
	switch detect(data, hint) {
	case "mp3":
		s, f, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case "wav":
		s, f, err = wav.Decode(bytes.NewReader(data))
	default:
		return Clip{}, ErrUnsupportedFormat
	}
	if err != nil {
		return Clip{}, fmt.Errorf("unable to decode audio: %w", err)
	}
	defer s.Close() //nolint:errcheck

	channels := f.NumChannels
	if channels != 1 {
		channels = 2
	}
	out := Format{SampleRate: int(f.SampleRate), Channels: channels}
	pcm, err := drain(s, out.Channels)
	if err != nil {
		return Clip{}, fmt.Errorf("unable to decode audio: %w", err)
	}
	return Clip{PCM: pcm, Format: out}, nil
}

// Convert resamples and remixes a clip to the target format.
func Convert(c Clip, to Format) (Clip, error) {
	if err := c.Validate(); err != nil {
		return Clip{}, err
	}
	if c.Format == to {
		return c, nil
	}
	if err := to.Validate(); err != nil {
		return Clip{}, err
	}

	var s beep.Streamer = &pcmStreamer{pcm: c.PCM, channels: c.Format.Channels}
	if c.Format.SampleRate != to.SampleRate {
		s = beep.Resample(resampleQuality, beep.SampleRate(c.Format.SampleRate), beep.SampleRate(to.SampleRate), s)
	}
	pcm, err := drain(s, to.Channels)
	if err != nil {
		return Clip{}, err
	}
	return Clip{PCM: pcm, Format: to}, nil
}

func detect(data []byte, hint string) string {
	if hint != "" {
		if i := strings.IndexAny(hint, "?#"); i >= 0 {
			hint = hint[:i]
		}
		switch strings.ToLower(path.Ext(hint)) {
		case ".mp3":
			return "mp3"
		case ".wav", ".wave":
			return "wav"
		}
	}
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "wav"
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}
	return ""
}

// drain reads a beep stream to the end as 16-bit PCM.
func drain(s beep.Streamer, channels int) ([]byte, error) {
	var out bytes.Buffer
	buf := make([][2]float64, 1024)
	frame := make([]byte, 4)
	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			if channels == 1 {
				binary.LittleEndian.PutUint16(frame, uint16(toInt16((buf[i][0]+buf[i][1])/2)))
				out.Write(frame[:2])
				continue
			}
			binary.LittleEndian.PutUint16(frame, uint16(toInt16(buf[i][0])))
			binary.LittleEndian.PutUint16(frame[2:], uint16(toInt16(buf[i][1])))
			out.Write(frame)
		}
		if !ok || n == 0 {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func toInt16(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * math.MaxInt16))
}

// pcmStreamer exposes 16-bit PCM as a beep.Streamer.
type pcmStreamer struct {
	pcm      []byte
	channels int
	pos      int
}

func (p *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	frameSize := p.channels * 2
	n := 0
	for n < len(samples) && p.pos+frameSize <= len(p.pcm) {
		l := float64(int16(binary.LittleEndian.Uint16(p.pcm[p.pos:]))) / math.MaxInt16
		r := l
		if p.channels == 2 {
			r = float64(int16(binary.LittleEndian.Uint16(p.pcm[p.pos+2:]))) / math.MaxInt16
		}
		samples[n] = [2]float64{l, r}
		p.pos += frameSize
		n++
	}
	return n, n > 0
}

func (p *pcmStreamer) Err() error { return nil }
