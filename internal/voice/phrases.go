package voice

import (
	"fmt"
	"strings"
)

var drivingPhrases = map[string]string{
	"rock":       "EQ: Rock.",
	"metal":      "EQ: Metal.",
	"electronic": "EQ: Electronic.",
	"hip_hop":    "EQ: Hip-hop.",
	"pop":        "EQ: Pop.",
	"latin":      "EQ: Latin.",
	"acoustic":   "EQ: Acoustic.",
	"classical":  "EQ: Classical.",
	"jazz":       "EQ: Jazz.",
	"v_shape":    "EQ: V-shape.",
	"flat":       "EQ: Flat.",
	"r_and_b":    "EQ: R and B.",
	"country":    "EQ: Country.",
}

var parkedPhrases = map[string]string{
	"rock":       "Switching to rock mode. Let's crank it up.",
	"metal":      "Metal preset engaged. Time to headbang.",
	"electronic": "Electronic mode activated.",
	"hip_hop":    "Hip hop EQ. Feeling the beat.",
	"pop":        "Pop preset. Nice and balanced.",
	"latin":      "Latin vibes. Let's dance.",
	"acoustic":   "Acoustic mode. Keeping it natural.",
	"classical":  "Classical preset. Pure and clean.",
	"jazz":       "Jazz mode. Smooth tones.",
	"v_shape":    "V-shape EQ applied.",
	"flat":       "Resetting to flat.",
	"r_and_b":    "R and B preset. Smooth vibes.",
	"country":    "Country mode. Twangy.",
}

// Phrase is the spoken line for a preset. Driving mode uses the short form.
func Phrase(preset string, driving bool) string {
	if parts, ok := blendParts(preset); ok {
		if driving {
			return "EQ: Blend."
		}
		return fmt.Sprintf("Blending %s.", strings.Join(parts, " and "))
	}
	table := parkedPhrases
	if driving {
		table = drivingPhrases
	}
	if p, ok := table[preset]; ok {
		return p
	}
	return fmt.Sprintf("EQ: %s.", spoken(preset))
}

func spoken(preset string) string {
	return strings.ReplaceAll(preset, "_", " ")
}

// blendParts splits "blend(rock+metal)" into speakable names.
func blendParts(preset string) ([]string, bool) {
	inner, ok := strings.CutPrefix(preset, "blend(")
	if !ok || !strings.HasSuffix(inner, ")") {
		return nil, false
	}
	parts := strings.Split(strings.TrimSuffix(inner, ")"), "+")
	for i, p := range parts {
		parts[i] = spoken(p)
	}
	return parts, true
}
