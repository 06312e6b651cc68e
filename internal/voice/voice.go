// Package voice speaks preset changes, gated by confidence and a cooldown.
package voice

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"auto-eq/internal/logging"
	"auto-eq/internal/metrics"
)

// Announcement outcomes, also used as metric labels.
const (
	Spoken        = "spoken"
	Cooldown      = "cooldown"
	LowConfidence = "low_confidence"
	Disabled      = "disabled"
	Failed        = "error"
)

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// NoopSpeaker swallows everything.
type NoopSpeaker struct{}

func (NoopSpeaker) Speak(context.Context, string) error { return nil }

// CommandSpeaker runs a TTS program. A "{text}" argument is replaced by the
// phrase; without one the phrase is appended.
type CommandSpeaker struct {
	args    []string
	timeout time.Duration
}

func NewCommandSpeaker(cmdline string, timeout time.Duration) *CommandSpeaker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommandSpeaker{args: strings.Fields(cmdline), timeout: timeout}
}

func (s *CommandSpeaker) argv(text string) []string {
	out := make([]string, 0, len(s.args)+1)
	placed := false
	for _, a := range s.args {
		if strings.Contains(a, "{text}") {
			a = strings.ReplaceAll(a, "{text}", text)
			placed = true
		}
		out = append(out, a)
	}
	if !placed {
		out = append(out, text)
	}
	return out
}

func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	if len(s.args) == 0 {
		return fmt.Errorf("no tts command configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	argv := s.argv(text)
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

type Config struct {
	Enabled         bool          `koanf:"enabled"`
	Driving         bool          `koanf:"driving"`
	Command         string        `koanf:"command"`
	MinConfidence   float64       `koanf:"min_confidence" validate:"gte=0,lte=1"`
	DrivingCooldown time.Duration `koanf:"driving_cooldown"`
	ParkedCooldown  time.Duration `koanf:"parked_cooldown"`
	Timeout         time.Duration `koanf:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Command:         "espeak-ng {text}",
		MinConfidence:   0.80,
		DrivingCooldown: 60 * time.Second,
		ParkedCooldown:  5 * time.Second,
		Timeout:         10 * time.Second,
	}
}

// Announcer drops announcements that arrive during the cooldown or below the
// confidence threshold. Nothing is queued.
type Announcer struct {
	mu       sync.Mutex
	speaker  Speaker
	enabled  bool
	driving  bool
	minConf  float64
	cooldown time.Duration
	last     time.Time
	now      func() time.Time
	log      zerolog.Logger
}

func NewAnnouncer(cfg Config, s Speaker) *Announcer {
	if s == nil {
		s = NoopSpeaker{}
	}
	cooldown := cfg.ParkedCooldown
	if cfg.Driving {
		cooldown = cfg.DrivingCooldown
	}
	return &Announcer{
		speaker:  s,
		enabled:  cfg.Enabled,
		driving:  cfg.Driving,
		minConf:  cfg.MinConfidence,
		cooldown: cooldown,
		now:      time.Now,
		log:      logging.Component("voice"),
	}
}

// Announce speaks the phrase for preset if the gate allows it. The cooldown
// restarts only after a successful announcement.
func (a *Announcer) Announce(ctx context.Context, preset string, confidence float64) string {
	outcome := a.announce(ctx, preset, confidence)
	metrics.RecordAnnouncement(outcome)
	return outcome
}

func (a *Announcer) announce(ctx context.Context, preset string, confidence float64) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return Disabled
	}
	if confidence < a.minConf {
		a.log.Debug().Float64("confidence", confidence).Float64("min", a.minConf).Msg("voice skipped, low confidence")
		return LowConfidence
	}
	now := a.now()
	if !a.last.IsZero() && now.Sub(a.last) < a.cooldown {
		return Cooldown
	}
	if err := a.speaker.Speak(ctx, Phrase(preset, a.driving)); err != nil {
		a.log.Warn().Err(err).Str("preset", preset).Msg("voice error")
		return Failed
	}
	a.last = now
	return Spoken
}

// Goodbye ignores the gate; it is the last thing said before exit.
func (a *Announcer) Goodbye(ctx context.Context) {
	if !a.enabled {
		return
	}
	phrase := "Auto EQ disabled. See you next time."
	if a.driving {
		phrase = "Auto EQ off."
	}
	if err := a.speaker.Speak(ctx, phrase); err != nil {
		a.log.Debug().Err(err).Msg("goodbye not spoken")
	}
}
