package predcache

import (
	"sort"
	"time"

	"auto-eq/internal/models"
)

// Count is one entry in a frequency table.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Stats struct {
	Total          int            `json:"total"`
	MeanConfidence float64        `json:"mean_confidence"`
	TopPresets     []Count        `json:"top_presets"`
	TopGenres      []Count        `json:"top_genres"`
	Oldest         time.Time      `json:"oldest"`
	Newest         time.Time      `json:"newest"`
	ModelVersions  map[string]int `json:"model_versions"`
	Sources        map[string]int `json:"sources"`
}

const topN = 5

func computeStats(recs []models.PredictionRecord) Stats {
	s := Stats{
		Total:         len(recs),
		ModelVersions: map[string]int{},
		Sources:       map[string]int{},
	}
	if len(recs) == 0 {
		return s
	}

	presets := map[string]int{}
	genres := map[string]int{}
	var sum float64
	for _, r := range recs {
		sum += r.Confidence
		presets[r.Preset]++
		genres[r.Genre]++
		s.ModelVersions[orUnknown(r.ModelVersion)]++
		s.Sources[r.Source.String()]++

		if r.Timestamp.IsZero() {
			continue
		}
		if s.Oldest.IsZero() || r.Timestamp.Before(s.Oldest) {
			s.Oldest = r.Timestamp
		}
		if r.Timestamp.After(s.Newest) {
			s.Newest = r.Timestamp
		}
	}
	s.MeanConfidence = sum / float64(len(recs))
	s.TopPresets = top(presets, topN)
	s.TopGenres = top(genres, topN)
	return s
}

func top(m map[string]int, n int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
