package profile

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"auto-eq/internal/logging"
	"auto-eq/internal/presets"
)

// Track-end actions reported to the monitor.
const (
	EndNormal = "normal"
	EndSkip   = "skip"
	EndReplay = "replay"
)

// RetrainEvery is the number of feedback events between retraining signals.
const RetrainEvery = 50

// Feedback is the part of the profile the monitor writes to.
type Feedback interface {
	LogTrackPrediction(Prediction) error
	LogManualFeedback(trackID, predictedGenre, actualGenre, action string) error
	FeedbackCount() int
	TotalFeedback() int
}

// Session is the transient state for the track currently playing.
type Session struct {
	TrackID    string
	TrackName  string
	Artist     string
	Genre      string
	Preset     string
	Confidence float64
	Start      time.Time
}

// Monitor turns playback behaviour into profile updates.
type Monitor struct {
	mu      sync.Mutex
	fb      Feedback
	session *Session
	now     func() time.Time
	log     zerolog.Logger
}

func NewMonitor(fb Feedback) *Monitor {
	return &Monitor{
		fb:  fb,
		now: time.Now,
		log: logging.Component("active_learning"),
	}
}

// OnTrackStarted opens a session; any previous session is discarded.
func (m *Monitor) OnTrackStarted(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Start.IsZero() {
		s.Start = m.now()
	}
	m.session = &s
}

// Current returns the open session, if any.
func (m *Monitor) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// OnTrackEnded closes the session. A normal end under SkipDwell becomes a
// skip. Skips and completed plays are logged as predictions, replays as
// manual feedback. Without an open session it does nothing.
func (m *Monitor) OnTrackEnded(action string) error {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()
	if s == nil {
		return nil
	}

	dwell := m.now().Sub(s.Start)
	if action == EndNormal && dwell < SkipDwell {
		action = EndSkip
	}

	trackID := orUnknown(s.TrackID)
	genre := orUnknown(s.Genre)
	switch action {
	case EndSkip:
		m.log.Debug().Str("track", trackID).Str("genre", genre).Dur("dwell", dwell).Msg("skip detected")
		return m.fb.LogTrackPrediction(Prediction{
			TrackID:    trackID,
			TrackName:  s.TrackName,
			Artist:     s.Artist,
			Genre:      genre,
			Confidence: 0.5,
			Dwell:      dwell,
			Skipped:    true,
		})
	case EndReplay:
		m.log.Debug().Str("track", trackID).Str("genre", genre).Msg("replay detected")
		return m.fb.LogManualFeedback(trackID, genre, genre, ActionReplayed)
	default:
		return m.fb.LogTrackPrediction(Prediction{
			TrackID:    trackID,
			TrackName:  s.TrackName,
			Artist:     s.Artist,
			Genre:      genre,
			Preset:     s.Preset,
			Confidence: s.Confidence,
			Dwell:      dwell,
		})
	}
}

// OnManualEQChange treats a manual preset switch as a genre correction when
// the preset's reverse-mapped genre differs from the prediction.
func (m *Monitor) OnManualEQChange(predictedGenre, newPreset string) (corrected bool, err error) {
	actual := presets.GenreForPreset(newPreset)
	if actual == predictedGenre {
		return false, nil
	}

	trackID := Unknown
	if s, ok := m.Current(); ok && s.TrackID != "" {
		trackID = s.TrackID
	}
	m.log.Info().Str("predicted", predictedGenre).Str("actual", actual).Msg("user corrected genre")
	return true, m.fb.LogManualFeedback(trackID, predictedGenre, actual, ActionCorrected)
}

// TrainingConfidence grades how much feedback has been collected.
func (m *Monitor) TrainingConfidence() float64 {
	n := m.fb.FeedbackCount()
	switch {
	case n < 10:
		return 0
	case n < 50:
		return 0.3
	case n < 100:
		return 0.6
	case n < 200:
		return 0.8
	default:
		return 1.0
	}
}

// ShouldTriggerRetraining is true on every RetrainEvery-th feedback event
// over the profile's life.
func (m *Monitor) ShouldTriggerRetraining() bool {
	n := m.fb.TotalFeedback()
	return n >= RetrainEvery && n%RetrainEvery == 0
}

// Unknown stands in for missing ids and genres.
const Unknown = "unknown"

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
