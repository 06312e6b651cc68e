package resolver

import (
	"strings"

	"auto-eq/internal/models"
	"auto-eq/internal/presets"
)

// BlendConfig decides when near-tied ML alternatives are mixed.
type BlendConfig struct {
	Enabled bool `koanf:"enabled"`
	// MinProb is the smallest top-1 probability that allows a blend.
	MinProb float64 `koanf:"min_prob" validate:"gte=0,lte=1"`
	// MaxGap is the largest distance from top-1 an operand may have.
	MaxGap float64 `koanf:"max_gap" validate:"gte=0,lte=1"`
	// MaxPresets caps the number of operands.
	MaxPresets int `koanf:"max_presets" validate:"gte=2,lte=10"`
}

func DefaultBlendConfig() BlendConfig {
	return BlendConfig{Enabled: true, MinProb: 0.35, MaxGap: 0.12, MaxPresets: 2}
}

// Blend mixes preset bands by weight. Weights are normalised, so only
// their ratios matter; non-positive weights contribute nothing.
func Blend(bands []models.Bands, weights []float64) models.Bands {
	var out models.Bands
	var total float64
	for i := range bands {
		if i < len(weights) && weights[i] > 0 {
			total += weights[i]
		}
	}
	if total == 0 {
		return out
	}
	for i, b := range bands {
		if i >= len(weights) || weights[i] <= 0 {
			continue
		}
		w := weights[i] / total
		for k := range out {
			out[k] += b[k] * w
		}
	}
	return out
}

// BlendLabel names a synthetic preset, e.g. blend(rock+metal).
func BlendLabel(names []string) string {
	return "blend(" + strings.Join(names, "+") + ")"
}

type blendPlan struct {
	presets []string
	weights []float64
}

// planBlend picks the operands from ranked ML alternatives. Alternatives
// mapping to a preset already chosen are skipped.
func planBlend(cfg BlendConfig, alts []models.Alternative, m *presets.Mapping) (blendPlan, bool) {
	if !cfg.Enabled || len(alts) < 2 || alts[0].Probability < cfg.MinProb {
		return blendPlan{}, false
	}
	limit := max(cfg.MaxPresets, 2)

	var plan blendPlan
	seen := map[string]bool{}
	top := alts[0].Probability
	for _, a := range alts {
		if len(plan.presets) == limit {
			break
		}
		if top-a.Probability > cfg.MaxGap+1e-9 {
			break
		}
		p, _ := m.PresetForMLGenre(a.Genre)
		if seen[p] {
			continue
		}
		seen[p] = true
		plan.presets = append(plan.presets, p)
		plan.weights = append(plan.weights, a.Probability)
	}
	if len(plan.presets) < 2 {
		return blendPlan{}, false
	}
	return plan, true
}
