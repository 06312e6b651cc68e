// Package features decodes short preview clips and computes the inputs of
// the genre classifiers: the 57-value GTZAN-style feature vector and the
// mel-spectrogram image.
package features

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
	resampling "github.com/tphakala/go-audio-resampling"
)

const (
	// SampleRate is the analysis rate every buffer is converted to.
	SampleRate  = 22050
	MaxDuration = 30 * time.Second
)

var (
	ErrEmptyAudio = errors.New("no audio samples")
	ErrTooShort   = errors.New("audio shorter than one analysis frame")
)

// Buffer is mono PCM in [-1, 1].
type Buffer struct {
	Samples    []float64
	SampleRate int
}

func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Decode reads an encoded clip and returns it as mono at SampleRate, capped
// at MaxDuration. MP3 is decoded in-process; anything else goes through
// ffmpeg. hint is a file extension or MIME type.
func Decode(ctx context.Context, r io.Reader, hint string) (Buffer, error) {
	var (
		buf Buffer
		err error
	)
	if isMP3(hint) {
		buf, err = decodeMP3(r)
	} else {
		buf, err = decodeFFmpeg(ctx, r)
	}
	if err != nil {
		return Buffer{}, err
	}
	if len(buf.Samples) == 0 {
		return Buffer{}, ErrEmptyAudio
	}
	if buf.SampleRate != SampleRate {
		if buf, err = Resample(buf, SampleRate); err != nil {
			return Buffer{}, err
		}
	}
	if limit := int(MaxDuration.Seconds()) * SampleRate; len(buf.Samples) > limit {
		buf.Samples = buf.Samples[:limit]
	}
	return buf, nil
}

func isMP3(hint string) bool {
	h := strings.ToLower(hint)
	return h == "mp3" || h == ".mp3" || h == "audio/mpeg" || h == "audio/mp3"
}

// decodeMP3 downmixes the decoder's 16-bit stereo output.
func decodeMP3(r io.Reader) (Buffer, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return Buffer{}, fmt.Errorf("mp3 decoder: %w", err)
	}
	rate := dec.SampleRate()
	// 4 bytes per stereo frame; read a little past the cap so resampling has
	// enough input
	limit := int64(rate) * 4 * (int64(MaxDuration.Seconds()) + 1)
	raw, err := io.ReadAll(io.LimitReader(dec, limit))
	if err != nil && len(raw) == 0 {
		return Buffer{}, fmt.Errorf("decode mp3: %w", err)
	}

	frames := len(raw) / 4
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(raw[i*4:]))
		r := int16(binary.LittleEndian.Uint16(raw[i*4+2:]))
		out[i] = (float64(l) + float64(r)) / 2 / 32768.0
	}
	return Buffer{Samples: out, SampleRate: rate}, nil
}

// decodeFFmpeg pipes the clip through ffmpeg and reads mono f32le back at
// the analysis rate.
func decodeFFmpeg(ctx context.Context, r io.Reader) (Buffer, error) {
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-t", strconv.Itoa(int(MaxDuration.Seconds())),
		"-f", "f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(SampleRate),
		"pipe:1",
	)
	cmd.Stdin = r
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Buffer{}, fmt.Errorf("ffmpeg decode: %w, output %s", err, strings.TrimSpace(stderr.String()))
	}

	raw := stdout.Bytes()
	out := make([]float64, len(raw)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return Buffer{Samples: out, SampleRate: SampleRate}, nil
}

// Resample converts a mono buffer to rate.
func Resample(b Buffer, rate int) (Buffer, error) {
	if b.SampleRate == rate {
		return b, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(b.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return Buffer{}, fmt.Errorf("create resampler: %w", err)
	}
	out, err := rs.Process(b.Samples)
	if err != nil {
		return Buffer{}, fmt.Errorf("resample: %w", err)
	}
	return Buffer{Samples: out, SampleRate: rate}, nil
}
