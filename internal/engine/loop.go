// Package engine runs the decision loop: poll the track source, resolve a
// preset on every track change, shape it for the hardware, apply it and
// feed playback behaviour back into the listener profile.
package engine

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"auto-eq/internal/dsp"
	"auto-eq/internal/logging"
	"auto-eq/internal/models"
	"auto-eq/internal/presets"
	"auto-eq/internal/profile"
)

const (
	// A track seen again past ReplayMinProgress that jumps back under
	// ReplayRestart counts as a replay.
	ReplayMinProgress = 30 * time.Second
	ReplayRestart     = 5 * time.Second

	restoreTimeout = 10 * time.Second
)

type TrackSource interface {
	NowPlaying(ctx context.Context) (*models.Track, error)
}

type Resolver interface {
	Resolve(ctx context.Context, t models.Track) models.Decision
}

type Shaper interface {
	Shape(bands models.Bands, rpm int) (models.Bands, []string)
	Ducking(rpm int) bool
}

// Writer applies a gain curve in software, e.g. an Equalizer APO include.
type Writer interface {
	Apply(name string, bands models.Bands) error
}

type Announcer interface {
	Announce(ctx context.Context, preset string, confidence float64) string
	Goodbye(ctx context.Context)
}

type RPMSource interface {
	RPM(ctx context.Context) int
}

// Monitor is the active-learning side of the profile.
type Monitor interface {
	OnTrackStarted(profile.Session)
	OnTrackEnded(action string) error
	OnManualEQChange(predictedGenre, newPreset string) (bool, error)
	ShouldTriggerRetraining() bool
}

type Config struct {
	Interval time.Duration `koanf:"interval" validate:"gte=0"`
	// Console accepts typed preset names as manual EQ changes.
	Console bool `koanf:"console"`
}

func DefaultConfig() Config {
	return Config{Interval: 3 * time.Second, Console: true}
}

// Deps wires the loop. Source, Resolver and Catalog are required; the rest
// may be nil.
type Deps struct {
	Source    TrackSource
	Resolver  Resolver
	Catalog   *presets.Catalog
	Shaper    Shaper
	DSP       dsp.Controller
	Writer    Writer
	Announcer Announcer
	Monitor   Monitor
	RPM       RPMSource
}

type Loop struct {
	cfg  Config
	deps Deps
	out  io.Writer
	log  zerolog.Logger

	mu       sync.Mutex
	lastID   string
	progress time.Duration
	decision models.Decision
	applied  string
	shaped   models.Bands
	ducking  bool
}

func New(cfg Config, deps Deps) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if deps.Catalog == nil {
		deps.Catalog = presets.NewCatalog()
	}
	if deps.DSP == nil {
		deps.DSP = dsp.Noop{}
	}
	return &Loop{
		cfg:  cfg,
		deps: deps,
		out:  color.Output,
		log:  logging.Component("loop"),
	}
}

func (l *Loop) String() string { return "eq-decision-loop" }

// Serve polls until ctx is done, then closes the open listening session,
// restores a flat EQ and says goodbye.
func (l *Loop) Serve(ctx context.Context) error {
	l.log.Info().Dur("interval", l.cfg.Interval).Str("dsp", l.deps.DSP.Method()).Msg("auto eq loop started")
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		l.safeCycle(ctx)
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Loop) safeCycle(ctx context.Context) {
	defer func() {
		if err := recover(); err != nil {
			l.log.Error().Interface("panic", err).Str("stack", string(debug.Stack())).Msg("poll cycle panicked")
		}
	}()
	l.Cycle(ctx)
}

// Cycle runs one poll. It never returns an error; every failure degrades to
// "try again next cycle".
func (l *Loop) Cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	t, err := l.deps.Source.NowPlaying(ctx)
	if err != nil {
		l.log.Warn().Err(err).Msg("track source unavailable")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if t == nil || !t.IsPlaying || t.ID == "" {
		if l.lastID != "" {
			l.endSession(profile.EndNormal)
			l.lastID = ""
			l.progress = 0
		}
		return
	}

	rpm := l.rpm(ctx)
	progress := time.Duration(t.ProgressMs) * time.Millisecond
	if t.ID == l.lastID {
		l.sameTrack(ctx, *t, progress, rpm)
		return
	}

	if l.lastID != "" {
		l.endSession(profile.EndNormal)
	}
	l.newTrack(ctx, *t, rpm)
	l.lastID = t.ID
	l.progress = progress
}

func (l *Loop) rpm(ctx context.Context) int {
	if l.deps.RPM == nil {
		return 0
	}
	return l.deps.RPM.RPM(ctx)
}

func (l *Loop) newTrack(ctx context.Context, t models.Track, rpm int) {
	d := l.deps.Resolver.Resolve(ctx, t)
	shaped, notes := l.shape(d.Bands, rpm)
	l.ducking = l.deps.Shaper != nil && l.deps.Shaper.Ducking(rpm)

	changed := d.Preset != l.applied || shaped != l.shaped
	if changed {
		l.apply(ctx, d, shaped)
	}
	l.decision = d
	l.report(t, d, notes, changed)

	if changed && l.deps.Announcer != nil {
		l.deps.Announcer.Announce(ctx, d.Preset, d.Confidence)
	}
	if l.deps.Monitor != nil {
		l.deps.Monitor.OnTrackStarted(profile.Session{
			TrackID:    t.ID,
			TrackName:  t.Name,
			Artist:     t.Artist,
			Genre:      d.Genre,
			Preset:     d.Preset,
			Confidence: d.Confidence,
		})
	}
}

// sameTrack never re-resolves. It only detects replays and re-shapes when
// the ducking state flips.
func (l *Loop) sameTrack(ctx context.Context, t models.Track, progress time.Duration, rpm int) {
	if l.progress >= ReplayMinProgress && progress < ReplayRestart {
		l.log.Info().Str("track", t.String()).Msg("replay detected")
		l.endSession(profile.EndReplay)
		if l.deps.Monitor != nil {
			l.deps.Monitor.OnTrackStarted(profile.Session{
				TrackID:    t.ID,
				TrackName:  t.Name,
				Artist:     t.Artist,
				Genre:      l.decision.Genre,
				Preset:     l.decision.Preset,
				Confidence: l.decision.Confidence,
			})
		}
	}
	l.progress = progress

	if l.deps.Shaper == nil {
		return
	}
	ducking := l.deps.Shaper.Ducking(rpm)
	if ducking == l.ducking {
		return
	}
	l.ducking = ducking
	shaped, notes := l.shape(l.decision.Bands, rpm)
	l.log.Info().Int("rpm", rpm).Bool("ducking", ducking).Strs("notes", notes).Msg("rpm ducking changed")
	if l.deps.Writer != nil {
		if err := l.deps.Writer.Apply(l.decision.Preset, shaped); err != nil {
			l.log.Warn().Err(err).Msg("software eq write failed")
			return
		}
	}
	l.shaped = shaped
}

func (l *Loop) shape(bands models.Bands, rpm int) (models.Bands, []string) {
	if l.deps.Shaper == nil {
		return bands, nil
	}
	return l.deps.Shaper.Shape(bands, rpm)
}

// apply pushes a preset to the hardware DSP and the software writer. Blends
// have no hardware slot and are written in software only.
func (l *Loop) apply(ctx context.Context, d models.Decision, shaped models.Bands) {
	if !d.Custom {
		if !l.deps.DSP.SetPreset(ctx, d.Preset) {
			l.log.Debug().Str("preset", d.Preset).Str("method", l.deps.DSP.Method()).Msg("dsp did not accept preset")
		}
	}
	if l.deps.Writer != nil {
		if err := l.deps.Writer.Apply(d.Preset, shaped); err != nil {
			l.log.Warn().Err(err).Str("preset", d.Preset).Msg("software eq write failed")
			return
		}
	}
	l.applied = d.Preset
	l.shaped = shaped
}

func (l *Loop) endSession(action string) {
	if l.deps.Monitor == nil {
		return
	}
	if err := l.deps.Monitor.OnTrackEnded(action); err != nil {
		l.log.Warn().Err(err).Str("action", action).Msg("profile update failed")
	}
	if l.deps.Monitor.ShouldTriggerRetraining() {
		l.log.Info().Msg("enough feedback collected, retraining recommended")
	}
}

var (
	nowPlaying = color.New(color.FgCyan, color.Bold)
	eqApplied  = color.New(color.FgGreen, color.Bold)
	reason     = color.New(color.FgHiBlack)
)

func (l *Loop) report(t models.Track, d models.Decision, notes []string, changed bool) {
	nowPlaying.Fprintf(l.out, "Now Playing: %s\n", t)
	if changed {
		eqApplied.Fprintf(l.out, "EQ applied: %s\n", d.Preset)
	} else {
		fmt.Fprintf(l.out, "EQ unchanged: %s\n", d.Preset)
	}
	cached := ""
	if d.Cached {
		cached = ", cached"
	}
	reason.Fprintf(l.out, "Reason: %s → %s (%.2f, %s%s)\n", d.Genre, d.Preset, d.Confidence, d.Source, cached)
	if len(notes) > 0 {
		reason.Fprintf(l.out, "Shaping: %s\n", strings.Join(notes, "; "))
	}
}

// ManualPresetChange applies a preset the listener picked by hand and
// reports it to the monitor as a possible correction.
func (l *Loop) ManualPresetChange(ctx context.Context, preset string) (bool, error) {
	p, ok := l.deps.Catalog.Get(preset)
	if !ok {
		return false, fmt.Errorf("%w: %s", dsp.ErrUnknownPreset, preset)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	shaped, _ := l.shape(p.Bands, l.rpm(ctx))
	d := models.Decision{Preset: p.Name, Bands: p.Bands, Genre: l.decision.Genre, Confidence: 1}
	l.apply(ctx, d, shaped)
	predicted := l.decision.Genre
	l.decision.Preset, l.decision.Bands, l.decision.Custom = p.Name, p.Bands, false

	if l.deps.Monitor == nil || predicted == "" {
		return false, nil
	}
	return l.deps.Monitor.OnManualEQChange(predicted, preset)
}

// Current returns the last decision and the preset actually applied.
func (l *Loop) Current() (models.Decision, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decision, l.applied
}

func (l *Loop) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()

	l.mu.Lock()
	if l.lastID != "" {
		l.endSession(profile.EndNormal)
	}
	flat := l.deps.Catalog.FlatPreset()
	l.apply(ctx, models.Decision{Preset: flat.Name, Bands: flat.Bands}, flat.Bands)
	l.lastID = ""
	l.mu.Unlock()

	l.log.Info().Msg("restored flat eq")
	if l.deps.Announcer != nil {
		l.deps.Announcer.Goodbye(ctx)
	}
}
