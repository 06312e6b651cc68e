package presets

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"auto-eq/internal/models"
)

// Output formats understood by Format.
const (
	FormatGeneric      = "generic"
	FormatEqualizerAPO = "equalizer_apo"
	FormatMiniDSP      = "minidsp"
	FormatJSON         = "json"
)

// APOPreamp is written ahead of the filters to leave headroom for boosts.
const APOPreamp = -3.0

// APOQ is the peaking filter Q used for every band.
const APOQ = 1.4

type miniDSPBand struct {
	Frequency int     `json:"frequency"`
	Gain      float64 `json:"gain"`
	Q         float64 `json:"q"`
}

// Format renders bands for a DSP target.
func Format(bands models.Bands, kind string) (string, error) {
	switch kind {
	case FormatEqualizerAPO:
		return APOFilters(bands), nil

	case FormatMiniDSP:
		out := struct {
			Bands []miniDSPBand `json:"bands"`
		}{}
		for i, f := range models.BandFrequencies {
			out.Bands = append(out.Bands, miniDSPBand{Frequency: f, Gain: bands[i], Q: APOQ})
		}
		b, err := json.Marshal(out)
		if err != nil {
			return "", fmt.Errorf("format minidsp: %w", err)
		}
		return string(b), nil

	case FormatJSON:
		m := make(map[string]float64, models.BandCount)
		for i, f := range models.BandFrequencies {
			m[fmt.Sprintf("%dHz", f)] = bands[i]
		}
		b, err := json.Marshal(map[string]any{"bands": m})
		if err != nil {
			return "", fmt.Errorf("format json: %w", err)
		}
		return string(b), nil

	case FormatGeneric, "":
		parts := make([]string, models.BandCount)
		for i, f := range models.BandFrequencies {
			parts[i] = fmt.Sprintf("%dHz: %+.0fdB", f, bands[i])
		}
		return strings.Join(parts, " | "), nil
	}
	return "", fmt.Errorf("unknown dsp format %q", kind)
}

// APOFilters renders the Equalizer APO preamp and peaking filter lines.
func APOFilters(bands models.Bands) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Preamp: %.0f dB\n", APOPreamp)
	for i, f := range models.BandFrequencies {
		fmt.Fprintf(&b, "Filter: ON PK Fc %d Hz Gain %.1f dB Q %.1f\n", f, bands[i], APOQ)
	}
	return b.String()
}
