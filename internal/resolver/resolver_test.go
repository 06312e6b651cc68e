package resolver

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"auto-eq/internal/classifier"
	"auto-eq/internal/dataset"
	"auto-eq/internal/features"
	"auto-eq/internal/models"
	"auto-eq/internal/predcache"
	"auto-eq/internal/presets"
)

type fakeClassifiers struct {
	caps       classifier.Capabilities
	meta       classifier.Prediction
	audio      classifier.Prediction
	image      classifier.Prediction
	audioCalls int
	imageCalls int
}

func (f *fakeClassifiers) Capabilities() classifier.Capabilities { return f.caps }

func (f *fakeClassifiers) PredictMetadata(models.Track) classifier.Prediction { return f.meta }

func (f *fakeClassifiers) PredictAudio(features.Vector) classifier.Prediction {
	f.audioCalls++
	return f.audio
}

func (f *fakeClassifiers) PredictImage(features.Image) classifier.Prediction {
	f.imageCalls++
	return f.image
}

type fakePreview struct {
	err     error
	fetched int
}

func (f *fakePreview) Fetch(context.Context, models.Track) (io.ReadCloser, string, error) {
	f.fetched++
	if f.err != nil {
		return nil, "", f.err
	}
	return io.NopCloser(strings.NewReader("clip")), "mp3", nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(_ context.Context, _ io.Reader, _ string, wantImage bool) (Analysis, error) {
	a := Analysis{}
	if wantImage {
		a.Image = &features.Image{}
	}
	return a, nil
}

type memCache struct {
	recs map[string]models.PredictionRecord
	puts int
}

func newMemCache() *memCache { return &memCache{recs: map[string]models.PredictionRecord{}} }

func (m *memCache) Get(id string) (models.PredictionRecord, bool) {
	r, ok := m.recs[id]
	return r, ok
}

func (m *memCache) Put(r models.PredictionRecord) error {
	m.puts++
	m.recs[r.TrackID] = r
	return nil
}

type prefs struct {
	affinity map[string]float64
	skips    map[string]float64
}

func (p prefs) GenreAffinity(g string) float64 {
	if a, ok := p.affinity[g]; ok {
		return a
	}
	return 0.5
}

func (p prefs) SkipRateForGenre(g string) float64 { return p.skips[g] }

type fakeDataset map[string][]string

func (f fakeDataset) Lookup(_, name, _ string) (dataset.Row, bool) {
	g, ok := f[name]
	return dataset.Row{TrackName: name, Genres: g}, ok
}

func audioOnly(p classifier.Prediction) *fakeClassifiers {
	return &fakeClassifiers{caps: classifier.Capabilities{Audio: classifier.Available}, audio: p}
}

func rockMetalPop() classifier.Prediction {
	return classifier.Prediction{
		Genre:        "rock",
		Confidence:   0.42,
		ModelVersion: "rf-test",
		Top: []models.Alternative{
			{Genre: "rock", Probability: 0.42},
			{Genre: "metal", Probability: 0.38},
			{Genre: "pop", Probability: 0.20},
		},
	}
}

func newResolver(cfg Config, deps Deps) *Resolver {
	if deps.Analyzer == nil {
		deps.Analyzer = fakeAnalyzer{}
	}
	return New(cfg, deps)
}

func TestPrimaryTags(t *testing.T) {
	r := newResolver(DefaultConfig(), Deps{})
	d := r.Resolve(context.Background(), models.Track{ID: "t1", GenreTags: []string{"barbadian pop", "dance pop"}})
	if d.Preset != "pop" || d.Confidence != 1.0 || d.Source != models.SourcePrimaryTags {
		t.Errorf("decision = %+v", d)
	}
	if d.Bands != presets.NewCatalog().Bands("pop") {
		t.Errorf("bands = %v", d.Bands)
	}
}

func TestStageOrder(t *testing.T) {
	tests := []struct {
		name       string
		track      models.Track
		ds         fakeDataset
		cls        *fakeClassifiers
		wantPreset string
		wantGenre  string
		wantSource models.Source
	}{
		{
			name:       "tags beat dataset",
			track:      models.Track{Name: "Song", GenreTags: []string{"jazz"}},
			ds:         fakeDataset{"Song": {"metal"}},
			wantPreset: "jazz", wantGenre: "jazz", wantSource: models.SourcePrimaryTags,
		},
		{
			name:       "dataset when tags miss",
			track:      models.Track{Name: "Song", GenreTags: []string{"zzz"}},
			ds:         fakeDataset{"Song": {"heavy metal"}},
			wantPreset: "metal", wantGenre: "heavy metal", wantSource: models.SourceLocalDataset,
		},
		{
			name:  "metadata model",
			track: models.Track{Name: "Other", Popularity: 80},
			ds:    fakeDataset{"Song": {"metal"}},
			cls: &fakeClassifiers{
				caps: classifier.Capabilities{Metadata: classifier.Available},
				meta: classifier.Prediction{Genre: "jazz", Confidence: 0.9},
			},
			wantPreset: "jazz", wantGenre: "metadata_jazz", wantSource: models.SourceMetadata,
		},
		{
			name:  "metadata model names unknown preset",
			track: models.Track{Name: "Other"},
			cls: &fakeClassifiers{
				caps: classifier.Capabilities{Metadata: classifier.Available},
				meta: classifier.Prediction{Genre: "polka", Confidence: 0.9},
			},
			wantPreset: "v_shape", wantGenre: "metadata_v_shape", wantSource: models.SourceMetadata,
		},
		{
			name:       "nothing answers",
			track:      models.Track{Name: "Other"},
			cls:        &fakeClassifiers{},
			wantPreset: "v_shape", wantSource: models.SourceDefault,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := Deps{Dataset: tt.ds}
			if tt.cls != nil {
				deps.Classifiers = tt.cls
			}
			d := newResolver(DefaultConfig(), deps).Resolve(context.Background(), tt.track)
			if d.Preset != tt.wantPreset || d.Genre != tt.wantGenre || d.Source != tt.wantSource {
				t.Errorf("got %s/%s/%s, want %s/%s/%s", d.Preset, d.Genre, d.Source, tt.wantPreset, tt.wantGenre, tt.wantSource)
			}
		})
	}
}

func TestBlendScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0
	cls := audioOnly(rockMetalPop())
	r := newResolver(cfg, Deps{Classifiers: cls, Preview: &fakePreview{}})

	d := r.Resolve(context.Background(), models.Track{ID: "t2"})
	if d.Preset != "blend(rock+metal)" || d.Source != models.SourceBlend || !d.Custom {
		t.Fatalf("decision = %+v", d)
	}
	cat := presets.NewCatalog()
	rock, metal := cat.Bands("rock"), cat.Bands("metal")
	for k := range d.Bands {
		want := 0.525*rock[k] + 0.475*metal[k]
		if math.Abs(d.Bands[k]-want) > 1e-9 {
			t.Errorf("band %d = %v, want %v", k, d.Bands[k], want)
		}
	}
	if d.Confidence != 0.42 || d.Genre != "rock" {
		t.Errorf("confidence/genre = %v/%s", d.Confidence, d.Genre)
	}
}

func TestNoBlendWhenGapTooWide(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0
	p := rockMetalPop()
	p.Top[1].Probability = 0.20
	r := newResolver(cfg, Deps{Classifiers: audioOnly(p), Preview: &fakePreview{}})
	if d := r.Resolve(context.Background(), models.Track{}); d.Preset != "rock" || d.Source != models.SourceAudioML {
		t.Errorf("decision = %+v", d)
	}
}

func TestConfidenceGuard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0.80
	cfg.Fallback = "flat"

	t.Run("weak ml answer", func(t *testing.T) {
		p := classifier.Prediction{Genre: "rock", Confidence: 0.55,
			Top: []models.Alternative{{Genre: "rock", Probability: 0.55}, {Genre: "metal", Probability: 0.25}}}
		d := newResolver(cfg, Deps{Classifiers: audioOnly(p), Preview: &fakePreview{}}).
			Resolve(context.Background(), models.Track{})
		if d.Preset != "flat" || d.Source != models.SourceConfidenceGuard || d.Confidence != 0.55 {
			t.Errorf("decision = %+v", d)
		}
	})

	t.Run("guard discards a blend", func(t *testing.T) {
		d := newResolver(cfg, Deps{Classifiers: audioOnly(rockMetalPop()), Preview: &fakePreview{}}).
			Resolve(context.Background(), models.Track{})
		if d.Preset != "flat" || d.Custom || d.Bands != (models.Bands{}) {
			t.Errorf("decision = %+v", d)
		}
	})

	t.Run("substring match below floor", func(t *testing.T) {
		strict := cfg
		strict.ConfidenceFloor = 0.9
		d := newResolver(strict, Deps{}).Resolve(context.Background(), models.Track{GenreTags: []string{"zzz metal"}})
		if d.Preset != "flat" || d.Source != models.SourceConfidenceGuard || d.Confidence != 0.85 {
			t.Errorf("decision = %+v", d)
		}
	})

	t.Run("default is not re-tagged", func(t *testing.T) {
		d := newResolver(cfg, Deps{}).Resolve(context.Background(), models.Track{})
		if d.Source != models.SourceDefault || d.Preset != "flat" {
			t.Errorf("decision = %+v", d)
		}
	})
}

func TestGuardAppliesToOldSchemaCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")
	body := "track_id,track_name,artist,genre_predicted,preset,confidence,timestamp\n" +
		"t1,Old Song,Old Artist,rock,rock,0.30,2025-06-01T10:00:00Z\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := predcache.OpenLog(predcache.BackendCSV, path)
	if err != nil {
		t.Fatal(err)
	}
	cache, err := predcache.Open(l, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0.80
	cfg.Fallback = "v_shape"
	d := newResolver(cfg, Deps{Cache: cache}).Resolve(context.Background(), models.Track{ID: "t1"})
	if !d.Cached {
		t.Fatalf("expected a cache hit, got %+v", d)
	}
	if d.Preset != "v_shape" || d.Source != models.SourceConfidenceGuard {
		t.Errorf("decision = %+v, want the fallback from the guard", d)
	}
}

func TestCacheShortCircuitsClassifiers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0
	cls := audioOnly(rockMetalPop())
	pv := &fakePreview{}
	cache := newMemCache()
	r := newResolver(cfg, Deps{Classifiers: cls, Preview: pv, Cache: cache})
	track := models.Track{ID: "t3", Name: "Song", Artist: "Band"}

	first := r.Resolve(context.Background(), track)
	rec := cache.recs["t3"]
	second := r.Resolve(context.Background(), track)

	if cls.audioCalls != 1 || pv.fetched != 1 {
		t.Errorf("classifier calls = %d, fetches = %d, want 1 each", cls.audioCalls, pv.fetched)
	}
	if cache.puts != 1 || !reflect.DeepEqual(cache.recs["t3"], rec) {
		t.Errorf("cache record changed: %+v", cache.recs["t3"])
	}
	if first.Cached || !second.Cached {
		t.Errorf("cached flags = %v, %v", first.Cached, second.Cached)
	}
	first.Cached, second.Cached = false, false
	first.Reason, second.Reason = "", ""
	if !reflect.DeepEqual(first, second) {
		t.Errorf("decisions differ:\n%+v\n%+v", first, second)
	}
	if rec.Preset != "rock" || rec.Source != models.SourceAudioML || rec.Confidence != 0.42 {
		t.Errorf("cache holds %+v, want the raw stage answer", rec)
	}
}

func TestDefaultIsNotCached(t *testing.T) {
	cache := newMemCache()
	r := newResolver(DefaultConfig(), Deps{Cache: cache})
	r.Resolve(context.Background(), models.Track{ID: "t4"})
	if cache.puts != 0 {
		t.Errorf("default decision was cached")
	}
}

func TestDatasetClusterFallback(t *testing.T) {
	csv := "track_id,track_name,artist,genres,cluster\n" +
		"1,Battery,Metallica,thrash metal,3\n" +
		"2,Raining Blood,Slayer,heavy metal,3\n" +
		"3,Odd One,Nobody,zzz,3\n" +
		"4,Lonely,Nobody,zzz,9\n"
	ds, err := dataset.Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	r := newResolver(DefaultConfig(), Deps{Dataset: ds})

	d := r.Resolve(context.Background(), models.Track{ID: "3"})
	if d.Preset != "metal" || d.Source != models.SourceLocalDataset || d.Confidence != ClusterConfidence {
		t.Errorf("decision = %+v", d)
	}
	if d.Genre != "cluster_3" {
		t.Errorf("genre = %q", d.Genre)
	}

	d = r.Resolve(context.Background(), models.Track{ID: "4"})
	if d.Source != models.SourceDefault {
		t.Errorf("a cluster with no mapped genre should fall through, got %+v", d)
	}
}

func TestPartialTagsAreNotCached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0
	cache := newMemCache()
	r := newResolver(cfg, Deps{Classifiers: audioOnly(rockMetalPop()), Preview: &fakePreview{}, Cache: cache})

	track := models.Track{ID: "t5", TagsPartial: true}
	if d := r.Resolve(context.Background(), track); d.Source == models.SourceDefault {
		t.Fatalf("decision = %+v", d)
	}
	if cache.puts != 0 {
		t.Errorf("answer cached while artist tags were incomplete")
	}

	track.TagsPartial = false
	r.Resolve(context.Background(), track)
	if cache.puts != 1 {
		t.Errorf("puts = %d, want 1 once tags are complete", cache.puts)
	}
}

func TestCNNReplacesAudio(t *testing.T) {
	tests := []struct {
		name       string
		cnn        float64
		wantSource models.Source
		wantPreset string
	}{
		{"cnn stronger", 0.9, models.SourceCNN, "metal"},
		{"cnn below its floor", 0.45, models.SourceAudioML, "rock"},
		{"cnn weaker than audio", 0.6, models.SourceAudioML, "rock"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ConfidenceFloor = 0
			cfg.CNNMinConfidence = 0.5
			cls := &fakeClassifiers{
				caps:  classifier.Capabilities{Audio: classifier.Available, CNN: classifier.Available},
				audio: classifier.Prediction{Genre: "rock", Confidence: 0.4},
				image: classifier.Prediction{Genre: "metal", Confidence: tt.cnn},
			}
			// shrink audio below the cnn in the "weaker" case
			if tt.name == "cnn weaker than audio" {
				cls.audio.Confidence = 0.7
			}
			d := newResolver(cfg, Deps{Classifiers: cls, Preview: &fakePreview{}}).Resolve(context.Background(), models.Track{})
			if d.Source != tt.wantSource || d.Preset != tt.wantPreset {
				t.Errorf("got %s/%s", d.Source, d.Preset)
			}
			if cls.imageCalls != 1 {
				t.Errorf("image calls = %d", cls.imageCalls)
			}
		})
	}
}

func TestPreviewAbsenceDegrades(t *testing.T) {
	pv := &fakePreview{err: errors.New("no preview")}
	cls := audioOnly(rockMetalPop())
	d := newResolver(DefaultConfig(), Deps{Classifiers: cls, Preview: pv}).Resolve(context.Background(), models.Track{})
	if d.Source != models.SourceDefault || cls.audioCalls != 0 {
		t.Errorf("decision = %+v, audio calls %d", d, cls.audioCalls)
	}

	idle := &fakePreview{}
	r := newResolver(DefaultConfig(), Deps{Classifiers: &fakeClassifiers{}, Preview: idle})
	r.Resolve(context.Background(), models.Track{})
	if idle.fetched != 0 {
		t.Error("preview fetched with no audio models available")
	}
}

func TestPreferenceBoost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Blend.Enabled = false
	p := classifier.Prediction{Genre: "rock", Confidence: 0.55}

	liked := prefs{affinity: map[string]float64{"rock": 0.8}}
	d := newResolver(cfg, Deps{Classifiers: audioOnly(p), Preview: &fakePreview{}, Profile: liked}).
		Resolve(context.Background(), models.Track{})
	if d.Source != models.SourceAudioML || math.Abs(d.Confidence-0.70) > 1e-9 {
		t.Errorf("boosted decision = %+v", d)
	}

	skipped := prefs{skips: map[string]float64{"rock": 0.8}}
	d = newResolver(cfg, Deps{Classifiers: audioOnly(p), Preview: &fakePreview{}, Profile: skipped}).
		Resolve(context.Background(), models.Track{})
	if d.Source != models.SourceConfidenceGuard {
		t.Errorf("skip-heavy genre should fall under the floor: %+v", d)
	}
}
