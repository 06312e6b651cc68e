// Package resolver turns a playing track into an EQ decision.
//
// Stages run in order and the first one with confidence above zero wins:
// the track's own genre tags, the local dataset, the metadata model, then
// the audio and CNN models on a preview clip. ML results are boosted by
// listener preference and may be blended. A final confidence guard swaps
// any weak decision for the fallback preset.
package resolver

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"auto-eq/internal/classifier"
	"auto-eq/internal/dataset"
	"auto-eq/internal/features"
	"auto-eq/internal/logging"
	"auto-eq/internal/metrics"
	"auto-eq/internal/models"
	"auto-eq/internal/presets"
)

// MetadataGenrePrefix marks genres inferred by the metadata model.
const MetadataGenrePrefix = "metadata_"

type Config struct {
	Fallback         string        `koanf:"fallback"`
	ConfidenceFloor  float64       `koanf:"confidence_floor" validate:"gte=0,lte=1"`
	CNNMinConfidence float64       `koanf:"cnn_min_confidence" validate:"gte=0,lte=1"`
	PreviewTimeout   time.Duration `koanf:"preview_timeout"`
	Boost            bool          `koanf:"boost"`
	Blend            BlendConfig   `koanf:"blend"`
}

func DefaultConfig() Config {
	return Config{
		Fallback:         presets.DefaultFallback,
		ConfidenceFloor:  0.6,
		CNNMinConfidence: 0.5,
		PreviewTimeout:   15 * time.Second,
		Boost:            true,
		Blend:            DefaultBlendConfig(),
	}
}

// Classifiers is the ML side of the chain.
type Classifiers interface {
	Capabilities() classifier.Capabilities
	PredictMetadata(models.Track) classifier.Prediction
	PredictAudio(features.Vector) classifier.Prediction
	PredictImage(features.Image) classifier.Prediction
}

type DatasetLookup interface {
	Lookup(id, name, artist string) (dataset.Row, bool)
}

// ClusterLookup is implemented by datasets that group tracks into clusters.
type ClusterLookup interface {
	ClusterPreset(cluster int, m *presets.Mapping) string
}

// ClusterConfidence is given to a preset inferred from the cluster of a
// dataset row whose own genres map to nothing.
const ClusterConfidence = 0.7

// PreviewSource returns a short audio clip for a track and a format hint.
type PreviewSource interface {
	Fetch(ctx context.Context, t models.Track) (io.ReadCloser, string, error)
}

type Preferences interface {
	GenreAffinity(genre string) float64
	SkipRateForGenre(genre string) float64
}

type Cache interface {
	Get(trackID string) (models.PredictionRecord, bool)
	Put(models.PredictionRecord) error
}

// Deps are the collaborators. Everything except Catalog and Mapping may
// be nil, which disables the stages that need it.
type Deps struct {
	Catalog     *presets.Catalog
	Mapping     *presets.Mapping
	Dataset     DatasetLookup
	Classifiers Classifiers
	Preview     PreviewSource
	Analyzer    Analyzer
	Cache       Cache
	Profile     Preferences
}

type Resolver struct {
	cfg  Config
	deps Deps
	now  func() time.Time
	log  zerolog.Logger
}

func New(cfg Config, deps Deps) *Resolver {
	if deps.Catalog == nil {
		deps.Catalog = presets.NewCatalog()
	}
	if cfg.Fallback == "" || !deps.Catalog.Has(cfg.Fallback) {
		cfg.Fallback = presets.DefaultFallback
	}
	if deps.Mapping == nil {
		deps.Mapping = presets.NewMapping(deps.Catalog, cfg.Fallback)
	}
	if deps.Analyzer == nil {
		deps.Analyzer = FeatureAnalyzer{}
	}
	if cfg.PreviewTimeout <= 0 {
		cfg.PreviewTimeout = DefaultConfig().PreviewTimeout
	}
	return &Resolver{cfg: cfg, deps: deps, now: time.Now, log: logging.Component("resolver")}
}

// result is one stage's raw answer, before boost, blend and guard. It is
// what the cache stores.
type result struct {
	preset       string
	genre        string
	confidence   float64
	source       models.Source
	alternatives []models.Alternative
	modelVersion string
	reason       string
}

func (r result) ok() bool { return r.confidence > 0 }

// Resolve never fails: every stage error degrades to "no answer" and the
// chain ends at the fallback preset.
func (r *Resolver) Resolve(ctx context.Context, t models.Track) models.Decision {
	raw, cached := r.lookupCache(t)
	if !cached {
		raw = r.runStages(ctx, t)
		r.store(t, raw)
	}

	d := r.finish(raw)
	d.Cached = cached
	metrics.RecordDecision(d.Source.String())
	r.log.Debug().
		Str("track", t.String()).
		Str("preset", d.Preset).
		Str("source", d.Source.String()).
		Float64("confidence", d.Confidence).
		Bool("cached", cached).
		Msg("resolved")
	return d
}

func (r *Resolver) lookupCache(t models.Track) (result, bool) {
	if r.deps.Cache == nil || t.ID == "" {
		return result{}, false
	}
	rec, ok := r.deps.Cache.Get(t.ID)
	metrics.RecordCacheLookup(ok)
	if !ok {
		return result{}, false
	}
	preset := rec.Preset
	if !r.deps.Catalog.Has(preset) {
		preset = r.cfg.Fallback
	}
	return result{
		preset:       preset,
		genre:        rec.Genre,
		confidence:   rec.Confidence,
		source:       rec.Source,
		alternatives: rec.TopAlternatives,
		modelVersion: rec.ModelVersion,
		reason:       fmt.Sprintf("cached %s", rec.Source),
	}, true
}

// store caches every answer except the default, so unresolved tracks are
// retried next time. Answers reached below the tag stage while some artist
// tags were missing are not cached either.
func (r *Resolver) store(t models.Track, raw result) {
	if r.deps.Cache == nil || t.ID == "" || raw.source == models.SourceDefault {
		return
	}
	if t.TagsPartial && raw.source != models.SourcePrimaryTags {
		r.log.Debug().Str("track", t.String()).Msg("artist tags incomplete, prediction not cached")
		return
	}
	err := r.deps.Cache.Put(models.PredictionRecord{
		TrackID:         t.ID,
		TrackName:       t.Name,
		Artist:          t.Artist,
		Genre:           raw.genre,
		Preset:          raw.preset,
		Confidence:      raw.confidence,
		TopAlternatives: raw.alternatives,
		Source:          raw.source,
		ModelVersion:    raw.modelVersion,
		Timestamp:       r.now(),
	})
	if err != nil {
		r.log.Warn().Err(err).Str("track_id", t.ID).Msg("prediction not persisted")
	}
}

func (r *Resolver) runStages(ctx context.Context, t models.Track) result {
	stages := []struct {
		name string
		run  func(context.Context, models.Track) result
	}{
		{"primary_tags", r.primaryTags},
		{"local_dataset", r.localDataset},
		{"metadata_model", r.metadataModel},
		{"preview_ml", r.previewML},
	}
	for _, s := range stages {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		res := s.run(ctx, t)
		metrics.ObserveStage(s.name, time.Since(start))
		if res.ok() {
			return res
		}
	}
	return result{
		preset: r.cfg.Fallback,
		source: models.SourceDefault,
		reason: "no stage produced a genre",
	}
}

func (r *Resolver) fromMatch(m presets.MatchResult, src models.Source) result {
	return result{
		preset:     m.Preset,
		genre:      m.Genre,
		confidence: m.Confidence,
		source:     src,
		reason:     fmt.Sprintf("%s: %s", src, m),
	}
}

func (r *Resolver) primaryTags(_ context.Context, t models.Track) result {
	m, ok := r.deps.Mapping.Match(t.GenreTags)
	if !ok {
		return result{}
	}
	return r.fromMatch(m, models.SourcePrimaryTags)
}

func (r *Resolver) localDataset(_ context.Context, t models.Track) result {
	if r.deps.Dataset == nil {
		return result{}
	}
	row, ok := r.deps.Dataset.Lookup(t.ID, t.Name, t.Artist)
	if !ok {
		return result{}
	}
	m, ok := r.deps.Mapping.Match(row.Genres)
	if !ok {
		r.log.Debug().Str("track", t.String()).Strs("genres", row.Genres).Int("cluster", row.Cluster).Msg("dataset row has no mapped genre")
		return r.clusterPreset(row)
	}
	return r.fromMatch(m, models.SourceLocalDataset)
}

func (r *Resolver) clusterPreset(row dataset.Row) result {
	cl, ok := r.deps.Dataset.(ClusterLookup)
	if !ok || row.Cluster == dataset.NoCluster {
		return result{}
	}
	preset := cl.ClusterPreset(row.Cluster, r.deps.Mapping)
	if preset == r.deps.Mapping.Fallback() {
		return result{}
	}
	return result{
		preset:     preset,
		genre:      fmt.Sprintf("cluster_%d", row.Cluster),
		confidence: ClusterConfidence,
		source:     models.SourceLocalDataset,
		reason:     fmt.Sprintf("%s: cluster %d leans %s", models.SourceLocalDataset, row.Cluster, preset),
	}
}

func (r *Resolver) metadataModel(_ context.Context, t models.Track) result {
	c := r.deps.Classifiers
	if c == nil || c.Capabilities().Metadata == classifier.Unavailable {
		return result{}
	}
	p := c.PredictMetadata(t)
	if p.Empty() {
		return result{}
	}
	preset := p.Genre
	if !r.deps.Catalog.Has(preset) {
		r.log.Warn().Str("preset", preset).Msg("metadata model predicted an unknown preset")
		preset = r.cfg.Fallback
	}
	return result{
		preset:       preset,
		genre:        MetadataGenrePrefix + preset,
		confidence:   clamp01(p.Confidence),
		source:       models.SourceMetadata,
		modelVersion: p.ModelVersion,
		reason:       fmt.Sprintf("metadata model: popularity %d", t.Popularity),
	}
}

// previewML runs the audio-feature model and, when it beats both the audio
// answer and its own floor, the CNN.
func (r *Resolver) previewML(ctx context.Context, t models.Track) result {
	c := r.deps.Classifiers
	if c == nil || r.deps.Preview == nil {
		return result{}
	}
	caps := c.Capabilities()
	if caps.Audio == classifier.Unavailable && caps.CNN == classifier.Unavailable {
		return result{}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.PreviewTimeout)
	defer cancel()

	rc, hint, err := r.deps.Preview.Fetch(ctx, t)
	if err != nil {
		r.log.Debug().Err(err).Str("track", t.String()).Msg("no preview")
		return result{}
	}
	defer rc.Close()

	a, err := r.deps.Analyzer.Analyze(ctx, rc, hint, caps.CNN == classifier.Available)
	if err != nil {
		r.log.Debug().Err(err).Str("track", t.String()).Msg("feature extraction failed")
		return result{}
	}

	var best classifier.Prediction
	src := models.SourceAudioML
	if caps.Audio == classifier.Available {
		best = c.PredictAudio(a.Vector)
	}
	if a.Image != nil {
		cnn := c.PredictImage(*a.Image)
		if cnn.Confidence > best.Confidence && cnn.Confidence >= r.cfg.CNNMinConfidence {
			best, src = cnn, models.SourceCNN
		}
	}
	if best.Empty() {
		return result{}
	}

	preset, _ := r.deps.Mapping.PresetForMLGenre(best.Genre)
	return result{
		preset:       preset,
		genre:        best.Genre,
		confidence:   clamp01(best.Confidence),
		source:       src,
		alternatives: best.Top,
		modelVersion: best.ModelVersion,
		reason:       fmt.Sprintf("%s: %s", src, best.Genre),
	}
}

// finish applies boost and blend to ML answers, then the confidence guard.
func (r *Resolver) finish(raw result) models.Decision {
	d := models.Decision{
		Preset:       raw.preset,
		Genre:        raw.genre,
		Confidence:   raw.confidence,
		Source:       raw.source,
		Bands:        r.deps.Catalog.Bands(raw.preset),
		Alternatives: raw.alternatives,
		ModelVersion: raw.modelVersion,
		Reason:       raw.reason,
	}

	if raw.source == models.SourceAudioML || raw.source == models.SourceCNN {
		if r.cfg.Boost && r.deps.Profile != nil {
			boosted := Boost(d.Confidence, r.deps.Profile.GenreAffinity(d.Genre), r.deps.Profile.SkipRateForGenre(d.Genre))
			if boosted != d.Confidence {
				d.Reason += fmt.Sprintf(" (preference %+.2f)", boosted-d.Confidence)
			}
			d.Confidence = boosted
		}
		if plan, ok := planBlend(r.cfg.Blend, raw.alternatives, r.deps.Mapping); ok {
			bands := make([]models.Bands, len(plan.presets))
			for i, p := range plan.presets {
				bands[i] = r.deps.Catalog.Bands(p)
			}
			d.Preset = BlendLabel(plan.presets)
			d.Bands = Blend(bands, plan.weights)
			d.Custom = true
			d.Source = models.SourceBlend
			d.Reason += fmt.Sprintf("; blended %v", plan.weights)
		}
	}

	// the unresolved fallback passes; a default-source record that carries
	// its own preset (older logs had no source column) does not
	if !(d.Source == models.SourceDefault && d.Preset == r.cfg.Fallback) && d.Confidence < r.cfg.ConfidenceFloor {
		d.Reason = fmt.Sprintf("confidence %.2f below %.2f, was %s (%s)", d.Confidence, r.cfg.ConfidenceFloor, d.Preset, d.Source)
		d.Preset = r.cfg.Fallback
		d.Bands = r.deps.Catalog.Bands(r.cfg.Fallback)
		d.Custom = false
		d.Source = models.SourceConfidenceGuard
	}
	return d
}
