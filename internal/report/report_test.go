package report

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"auto-eq/internal/dataset"
	"auto-eq/internal/predcache"
	"auto-eq/internal/profile"
)

func TestCacheStats(t *testing.T) {
	s := predcache.Stats{
		Total:          4,
		MeanConfidence: 0.8125,
		TopPresets:     []predcache.Count{{Name: "rock", Count: 3}, {Name: "jazz", Count: 1}},
		TopGenres:      []predcache.Count{{Name: "rock", Count: 3}, {Name: "jazz", Count: 1}},
		Oldest:         time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Newest:         time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC),
		ModelVersions:  map[string]int{"rf-v2": 1, "unknown": 3},
		Sources:        map[string]int{"primary_tags": 3, "audio_ml": 1},
	}
	out := CacheStats(s, 5000)
	for _, want := range []string{"Prediction cache", "4 / 5000", "0.81", "2026-03-01 09:30", "rock", "rf-v2", "primary_tags"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if out := CacheStats(predcache.Stats{}, 10); !strings.Contains(out, "empty") {
		t.Errorf("empty cache rendered as:\n%s", out)
	}
}

func TestPruned(t *testing.T) {
	out := Pruned(100, 23, 100)
	for _, want := range []string{"Kept", "100", "Removed", "23"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestDatasetMatches(t *testing.T) {
	rows := []dataset.Row{
		{TrackID: "1", TrackName: "Hello", Artist: "Adele", Genres: []string{"pop", "soul"}},
		{TrackID: "2", TrackName: "Hell", Artist: "Disturbed", Cluster: 3},
	}
	out := DatasetMatches("hell", rows, func(r dataset.Row) string {
		if r.TrackID == "1" {
			return "vocal"
		}
		return "metal (cluster 3)"
	})
	for _, want := range []string{`"hell"`, "Adele - Hello", "pop, soul", "vocal", "Disturbed - Hell", "[-]", "metal (cluster 3)"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if out := DatasetMatches("zzz", nil, nil); !strings.Contains(out, "no matches") {
		t.Errorf("empty search rendered as:\n%s", out)
	}
}

func TestProfile(t *testing.T) {
	p := profile.Load(filepath.Join(t.TempDir(), "profile.json"))
	if err := p.StartSession(); err != nil {
		t.Fatal(err)
	}
	_ = p.LogTrackPrediction(profile.Prediction{TrackID: "a", Genre: "rock", Preset: "rock", Confidence: 0.9, Dwell: time.Minute})
	_ = p.LogTrackPrediction(profile.Prediction{TrackID: "b", Genre: "jazz", Preset: "jazz", Confidence: 0.7, Dwell: 3 * time.Second})

	out := Profile(p, 5, 0.3)
	for _, want := range []string{"Listener profile", "Sessions", "Skips", "rock", "jazz", "30%", "profile.json",
		"2 (2 lifetime)", "Preset confidence", "avg 0.90"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "rock") > strings.Index(out, "jazz") {
		t.Error("higher affinity genre should be listed first")
	}
}

func TestBar(t *testing.T) {
	for _, frac := range []float64{-1, 0, 0.5, 1, 2} {
		if got := strings.Count(bar(frac), "█") + strings.Count(bar(frac), "░"); got != barWidth {
			t.Errorf("bar(%v) has %d cells", frac, got)
		}
	}
}
