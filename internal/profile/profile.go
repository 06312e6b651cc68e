// Package profile holds the listener profile (per-genre affinity learned
// from playback behaviour) and the monitor that feeds it.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"auto-eq/internal/logging"
	"auto-eq/internal/metrics"
)

// Feedback actions.
const (
	ActionPlay      = "play"
	ActionSkip      = "skip"
	ActionCorrected = "corrected"
	ActionReplayed  = "replayed"
)

const (
	DefaultAffinity = 0.5
	// MetadataCap bounds affinities of genres labelled by the metadata model.
	MetadataCap    = 0.6
	MaxFeedbackLog = 500
	SkipDwell      = 10 * time.Second
	// TrainingMinPerGenre is the event count a genre needs before its
	// feedback is exported for training.
	TrainingMinPerGenre = 5

	playDelta         = 0.03
	playDeltaMetadata = 0.01
	skipDelta         = 0.05
	skipDeltaMetadata = 0.02
	correctedPenalty  = 0.10
	correctedReward   = 0.15
	replayReward      = 0.12

	metadataPrefix = "metadata"
)

type ListeningStats struct {
	TotalTracks  int `json:"total_tracks"`
	TotalSkips   int `json:"total_skips"`
	TotalReplays int `json:"total_replays"`
	Sessions     int `json:"sessions"`

	// TotalFeedback counts every feedback event ever logged; the log itself
	// is bounded.
	TotalFeedback int `json:"total_feedback"`
}

// FeedbackEvent is one entry in the bounded audit log. Play/skip events fill
// the prediction fields, manual feedback fills PredictedGenre/ActualGenre.
type FeedbackEvent struct {
	ID             string    `json:"id"`
	TrackID        string    `json:"track_id"`
	TrackName      string    `json:"track_name,omitempty"`
	Artist         string    `json:"artist,omitempty"`
	Genre          string    `json:"genre,omitempty"`
	Preset         string    `json:"preset,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
	Action         string    `json:"action"`
	DwellTimeSec   float64   `json:"dwell_time_sec,omitempty"`
	PredictedGenre string    `json:"predicted_genre,omitempty"`
	ActualGenre    string    `json:"actual_genre,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Data is the persisted form of the profile.
type Data struct {
	Created           time.Time            `json:"created"`
	LastUpdated       time.Time            `json:"last_updated"`
	ListeningStats    ListeningStats       `json:"listening_stats"`
	GenreAffinities   map[string]float64   `json:"genre_affinities"`
	PresetPreferences map[string][]float64 `json:"preset_preferences"`
	SkipPatterns      map[string]int       `json:"skip_patterns"`
	PlayPatterns      map[string]int       `json:"play_patterns"`
	ReplayPatterns    map[string]int       `json:"replay_patterns"`
	FeedbackLog       []FeedbackEvent      `json:"feedback_log"`
}

// Prediction is what the loop knows about a track when it is logged.
type Prediction struct {
	TrackID    string
	TrackName  string
	Artist     string
	Genre      string
	Preset     string
	Confidence float64
	Dwell      time.Duration
	// Skipped forces a skip regardless of dwell.
	Skipped    bool
}

type PresetStats struct {
	AvgConfidence float64 `json:"avg_confidence"`
	Count         int     `json:"count"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
}

// GenreScore pairs a genre with its affinity.
type GenreScore struct {
	Genre    string
	Affinity float64
}

// TrainingSample is a (genre, label) pair; label 0 is a skip, 1 a play or replay.
type TrainingSample struct {
	Genre string `json:"genre"`
	Label int    `json:"label"`
}

// Profile is safe for concurrent use. Every mutation persists the whole
// profile; a failed write leaves memory updated and is retried on the next
// mutation.
type Profile struct {
	mu    sync.Mutex
	path  string
	data  Data
	dirty bool
	now   func() time.Time
	log   zerolog.Logger
}

// Load reads the profile at path. A missing or corrupt file yields a fresh
// profile; corruption is logged.
func Load(path string) *Profile {
	p := &Profile{
		path: path,
		now:  time.Now,
		log:  logging.Component("profile"),
	}
	p.data = p.read()
	p.sanitize()
	return p
}

func newData(now time.Time) Data {
	return Data{
		Created:           now,
		LastUpdated:       now,
		GenreAffinities:   map[string]float64{},
		PresetPreferences: map[string][]float64{},
		SkipPatterns:      map[string]int{},
		PlayPatterns:      map[string]int{},
		ReplayPatterns:    map[string]int{},
	}
}

func (p *Profile) read() Data {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.Warn().Err(err).Str("path", p.path).Msg("profile unreadable, starting fresh")
		}
		return newData(p.now())
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		p.log.Warn().Err(err).Str("path", p.path).Msg("profile corrupt, starting fresh")
		return newData(p.now())
	}
	if d.Created.IsZero() {
		d.Created = p.now()
	}
	if d.GenreAffinities == nil {
		d.GenreAffinities = map[string]float64{}
	}
	if d.PresetPreferences == nil {
		d.PresetPreferences = map[string][]float64{}
	}
	if d.SkipPatterns == nil {
		d.SkipPatterns = map[string]int{}
	}
	if d.ReplayPatterns == nil {
		d.ReplayPatterns = map[string]int{}
	}
	if d.PlayPatterns == nil {
		// profiles written before play counts were kept
		d.PlayPatterns = map[string]int{}
		for _, ev := range d.FeedbackLog {
			if ev.Genre != "" && (ev.Action == ActionPlay || ev.Action == ActionSkip) {
				d.PlayPatterns[ev.Genre]++
			}
		}
		for g, n := range d.SkipPatterns {
			d.PlayPatterns[g] = max(d.PlayPatterns[g], n)
		}
	}
	d.ListeningStats.TotalFeedback = max(d.ListeningStats.TotalFeedback, len(d.FeedbackLog))
	return d
}

// sanitize drops empty preset keys and re-applies the metadata cap and the
// [0,1] bound, so hand-edited files cannot break the invariants.
func (p *Profile) sanitize() {
	delete(p.data.PresetPreferences, "")
	for g, a := range p.data.GenreAffinities {
		a = clamp01(a)
		if isMetadata(g) && a > MetadataCap {
			a = MetadataCap
		}
		p.data.GenreAffinities[g] = a
	}
	if n := len(p.data.FeedbackLog); n > MaxFeedbackLog {
		p.data.FeedbackLog = p.data.FeedbackLog[n-MaxFeedbackLog:]
	}
}

func isMetadata(genre string) bool {
	return strings.HasPrefix(genre, metadataPrefix)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// persistLocked writes the profile atomically. Callers hold mu.
func (p *Profile) persistLocked() error {
	p.sanitize()
	p.data.LastUpdated = p.now()

	err := writeAtomic(p.path, p.data)
	metrics.RecordProfileWrite(err)
	if err != nil {
		p.dirty = true
		p.log.Warn().Err(err).Str("path", p.path).Msg("profile write failed, will retry")
		return err
	}
	p.dirty = false
	return nil
}

func writeAtomic(path string, d Data) error {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".profile-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp profile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write profile: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace profile: %w", err)
	}
	return nil
}

func (p *Profile) appendEventLocked(ev FeedbackEvent) {
	ev.ID = uuid.NewString()
	ev.Timestamp = p.now()
	p.data.ListeningStats.TotalFeedback++
	p.data.FeedbackLog = append(p.data.FeedbackLog, ev)
	if n := len(p.data.FeedbackLog); n > MaxFeedbackLog {
		p.data.FeedbackLog = append([]FeedbackEvent(nil), p.data.FeedbackLog[n-MaxFeedbackLog:]...)
	}
}

func (p *Profile) affinityLocked(genre string) float64 {
	if a, ok := p.data.GenreAffinities[genre]; ok {
		return a
	}
	return DefaultAffinity
}

// LogTrackPrediction records a play or skip. A positive dwell under
// SkipDwell is a skip; zero or negative dwell counts as a play unless
// Skipped is set.
func (p *Profile) LogTrackPrediction(pred Prediction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	isSkip := pred.Skipped || (pred.Dwell > 0 && pred.Dwell < SkipDwell)
	meta := isMetadata(pred.Genre)

	p.data.ListeningStats.TotalTracks++
	p.data.PlayPatterns[pred.Genre]++
	if isSkip {
		p.data.ListeningStats.TotalSkips++
		p.data.SkipPatterns[pred.Genre]++
	}

	a := p.affinityLocked(pred.Genre)
	switch {
	case isSkip && meta:
		a -= skipDeltaMetadata
	case isSkip:
		a -= skipDelta
	case meta:
		a += playDeltaMetadata
	default:
		a += playDelta
	}
	a = clamp01(a)
	if meta && a > MetadataCap {
		a = MetadataCap
	}
	p.data.GenreAffinities[pred.Genre] = a

	if pred.Preset != "" {
		p.data.PresetPreferences[pred.Preset] = append(p.data.PresetPreferences[pred.Preset], clamp01(pred.Confidence))
	}

	action := ActionPlay
	if isSkip {
		action = ActionSkip
	}
	p.appendEventLocked(FeedbackEvent{
		TrackID:      pred.TrackID,
		TrackName:    pred.TrackName,
		Artist:       pred.Artist,
		Genre:        pred.Genre,
		Preset:       pred.Preset,
		Confidence:   clamp01(pred.Confidence),
		Action:       action,
		DwellTimeSec: pred.Dwell.Seconds(),
	})
	return p.persistLocked()
}

// LogManualFeedback records an explicit correction or a replay.
func (p *Profile) LogManualFeedback(trackID, predictedGenre, actualGenre, action string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch action {
	case ActionCorrected:
		p.data.GenreAffinities[predictedGenre] = clamp01(p.affinityLocked(predictedGenre) - correctedPenalty)
		p.data.GenreAffinities[actualGenre] = clamp01(p.affinityLocked(actualGenre) + correctedReward)
	case ActionReplayed:
		p.data.GenreAffinities[predictedGenre] = clamp01(p.affinityLocked(predictedGenre) + replayReward)
		p.data.ReplayPatterns[predictedGenre]++
		p.data.ListeningStats.TotalReplays++
	}

	p.appendEventLocked(FeedbackEvent{
		TrackID:        trackID,
		PredictedGenre: predictedGenre,
		ActualGenre:    actualGenre,
		Action:         action,
	})
	return p.persistLocked()
}

// StartSession bumps the session counter.
func (p *Profile) StartSession() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data.ListeningStats.Sessions++
	return p.persistLocked()
}

// Flush retries a previously failed write. It is a no-op when nothing is pending.
func (p *Profile) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dirty {
		return nil
	}
	return p.persistLocked()
}

func (p *Profile) GenreAffinity(genre string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.affinityLocked(genre)
}

// SkipRateForGenre is the genre's lifetime skips over its lifetime plays and
// skips.
func (p *Profile) SkipRateForGenre(genre string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	plays := p.data.PlayPatterns[genre]
	if plays == 0 {
		return 0
	}
	return clamp01(float64(p.data.SkipPatterns[genre]) / float64(plays))
}

// TopGenres returns the n genres with the highest affinity.
func (p *Profile) TopGenres(n int) []GenreScore {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]GenreScore, 0, len(p.data.GenreAffinities))
	for g, a := range p.data.GenreAffinities {
		out = append(out, GenreScore{Genre: g, Affinity: a})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Affinity != out[j].Affinity {
			return out[i].Affinity > out[j].Affinity
		}
		return out[i].Genre < out[j].Genre
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func (p *Profile) PresetStats(preset string) PresetStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	confs := p.data.PresetPreferences[preset]
	if len(confs) == 0 {
		return PresetStats{}
	}
	s := PresetStats{Count: len(confs), Min: confs[0], Max: confs[0]}
	var sum float64
	for _, c := range confs {
		sum += c
		s.Min = min(s.Min, c)
		s.Max = max(s.Max, c)
	}
	s.AvgConfidence = sum / float64(len(confs))
	return s
}

// ExportFeedbackForTraining returns labelled samples for genres with at least
// minPerGenre events.
func (p *Profile) ExportFeedbackForTraining(minPerGenre int) []TrainingSample {
	p.mu.Lock()
	defer p.mu.Unlock()

	labels := map[string][]int{}
	var order []string
	for _, ev := range p.data.FeedbackLog {
		if ev.Genre == "" {
			continue
		}
		label := 1
		if ev.Action == ActionSkip {
			label = 0
		}
		if _, ok := labels[ev.Genre]; !ok {
			order = append(order, ev.Genre)
		}
		labels[ev.Genre] = append(labels[ev.Genre], label)
	}

	var out []TrainingSample
	for _, g := range order {
		if len(labels[g]) < minPerGenre {
			continue
		}
		for _, l := range labels[g] {
			out = append(out, TrainingSample{Genre: g, Label: l})
		}
	}
	return out
}

// FeedbackCount is the current length of the feedback log.
func (p *Profile) FeedbackCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data.FeedbackLog)
}

// TotalFeedback counts every event logged over the profile's life,
// including those rotated out of the log.
func (p *Profile) TotalFeedback() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.ListeningStats.TotalFeedback
}

func (p *Profile) Stats() ListeningStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.ListeningStats
}

// Snapshot returns a deep copy of the profile data.
func (p *Profile) Snapshot() Data {
	p.mu.Lock()
	defer p.mu.Unlock()

	d := p.data
	d.GenreAffinities = make(map[string]float64, len(p.data.GenreAffinities))
	for k, v := range p.data.GenreAffinities {
		d.GenreAffinities[k] = v
	}
	d.PresetPreferences = make(map[string][]float64, len(p.data.PresetPreferences))
	for k, v := range p.data.PresetPreferences {
		d.PresetPreferences[k] = append([]float64(nil), v...)
	}
	d.SkipPatterns = copyCounts(p.data.SkipPatterns)
	d.PlayPatterns = copyCounts(p.data.PlayPatterns)
	d.ReplayPatterns = copyCounts(p.data.ReplayPatterns)
	d.FeedbackLog = append([]FeedbackEvent(nil), p.data.FeedbackLog...)
	return d
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (p *Profile) Path() string { return p.path }
