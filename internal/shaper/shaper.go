// Package shaper adapts a resolved preset curve to the installed hardware.
package shaper

import (
	"fmt"

	"auto-eq/internal/models"
	"auto-eq/internal/presets"
)

// lowBands are the indices trimmed and ducked: 31 Hz and 62 Hz.
var lowBands = [...]int{0, 1}

type Config struct {
	GainOffset   float64 `koanf:"gain_offset" validate:"gte=-12,lte=12"`
	SubBassTrim  float64 `koanf:"sub_bass_trim" validate:"gte=-12,lte=12"`
	RPMDucking   bool    `koanf:"rpm_ducking"`
	RPMThreshold int     `koanf:"rpm_threshold" validate:"gte=0"`
	DuckDB       float64 `koanf:"duck_db" validate:"gte=-12,lte=12"`
}

// Shaper is stateless; Shape may be re-applied to the same input at any time.
type Shaper struct {
	cfg Config
}

func New(cfg Config) *Shaper {
	return &Shaper{cfg: cfg}
}

// Ducking reports whether rpm is at or over the ducking threshold.
func (s *Shaper) Ducking(rpm int) bool {
	return s.cfg.RPMDucking && s.cfg.RPMThreshold > 0 && rpm >= s.cfg.RPMThreshold
}

// Shape applies gain offset, sub-bass trim and RPM ducking, in that order,
// and returns the new curve with one note per adjustment.
func (s *Shaper) Shape(bands models.Bands, rpm int) (models.Bands, []string) {
	out := bands
	var notes []string

	if s.cfg.GainOffset != 0 {
		for i := range out {
			out[i] += s.cfg.GainOffset
		}
		notes = append(notes, fmt.Sprintf("gain offset %+.1f dB", s.cfg.GainOffset))
	}

	if s.cfg.SubBassTrim != 0 {
		for _, i := range lowBands {
			out[i] += s.cfg.SubBassTrim
		}
		notes = append(notes, fmt.Sprintf("sub-bass trim %+.1f dB", s.cfg.SubBassTrim))
	}

	if s.Ducking(rpm) && s.cfg.DuckDB != 0 {
		for _, i := range lowBands {
			out[i] += s.cfg.DuckDB
		}
		notes = append(notes, fmt.Sprintf("rpm %d >= %d: low bands %+.1f dB", rpm, s.cfg.RPMThreshold, s.cfg.DuckDB))
	}

	clamped := false
	for i, g := range out {
		switch {
		case g > presets.MaxGain:
			out[i], clamped = presets.MaxGain, true
		case g < presets.MinGain:
			out[i], clamped = presets.MinGain, true
		}
	}
	if clamped {
		notes = append(notes, "clamped to ±12 dB")
	}
	return out, notes
}
