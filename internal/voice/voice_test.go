package voice

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

type recorder struct {
	said []string
	err  error
}

func (r *recorder) Speak(_ context.Context, text string) error {
	if r.err != nil {
		return r.err
	}
	r.said = append(r.said, text)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAnnouncer(driving bool) (*Announcer, *recorder, *clock) {
	cfg := DefaultConfig()
	cfg.Driving = driving
	rec := &recorder{}
	clk := &clock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	a := NewAnnouncer(cfg, rec)
	a.now = clk.now
	return a, rec, clk
}

func TestAnnouncerGate(t *testing.T) {
	ctx := context.Background()
	a, rec, clk := newTestAnnouncer(false)

	steps := []struct {
		advance    time.Duration
		preset     string
		confidence float64
		want       string
	}{
		{0, "rock", 0.95, Spoken},
		{2 * time.Second, "metal", 0.95, Cooldown},
		{0, "jazz", 0.5, LowConfidence},
		{4 * time.Second, "metal", 0.85, Spoken},
		{5 * time.Second, "v_shape", 0.80, Spoken},
	}
	for i, s := range steps {
		clk.advance(s.advance)
		if got := a.Announce(ctx, s.preset, s.confidence); got != s.want {
			t.Errorf("step %d: outcome %s, want %s", i, got, s.want)
		}
	}
	want := []string{
		"Switching to rock mode. Let's crank it up.",
		"Metal preset engaged. Time to headbang.",
		"V-shape EQ applied.",
	}
	if !reflect.DeepEqual(rec.said, want) {
		t.Errorf("said %q", rec.said)
	}
}

func TestDrivingCooldown(t *testing.T) {
	ctx := context.Background()
	a, rec, clk := newTestAnnouncer(true)
	a.Announce(ctx, "rock", 0.9)
	clk.advance(30 * time.Second)
	if got := a.Announce(ctx, "pop", 0.9); got != Cooldown {
		t.Errorf("30s later: %s", got)
	}
	clk.advance(31 * time.Second)
	if got := a.Announce(ctx, "pop", 0.9); got != Spoken {
		t.Errorf("61s later: %s", got)
	}
	if !reflect.DeepEqual(rec.said, []string{"EQ: Rock.", "EQ: Pop."}) {
		t.Errorf("said %q", rec.said)
	}
}

func TestFailedSpeechKeepsGateOpen(t *testing.T) {
	ctx := context.Background()
	a, rec, _ := newTestAnnouncer(false)
	rec.err = errors.New("no audio device")
	if got := a.Announce(ctx, "rock", 0.9); got != Failed {
		t.Fatalf("outcome %s", got)
	}
	rec.err = nil
	if got := a.Announce(ctx, "rock", 0.9); got != Spoken {
		t.Errorf("after failure: %s", got)
	}
}

func TestDisabledAndGoodbye(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	off := NewAnnouncer(Config{}, rec)
	if got := off.Announce(ctx, "rock", 1); got != Disabled {
		t.Errorf("outcome %s", got)
	}
	off.Goodbye(ctx)
	if len(rec.said) != 0 {
		t.Errorf("disabled announcer spoke %q", rec.said)
	}

	for _, driving := range []bool{false, true} {
		a, rec, _ := newTestAnnouncer(driving)
		a.Announce(ctx, "rock", 0.9)
		a.Goodbye(ctx)
		want := "Auto EQ disabled. See you next time."
		if driving {
			want = "Auto EQ off."
		}
		if rec.said[len(rec.said)-1] != want {
			t.Errorf("driving=%v goodbye %q", driving, rec.said)
		}
	}
}

func TestPhrase(t *testing.T) {
	tests := []struct {
		preset  string
		driving bool
		want    string
	}{
		{"hip_hop", true, "EQ: Hip-hop."},
		{"hip_hop", false, "Hip hop EQ. Feeling the beat."},
		{"lofi", true, "EQ: lofi."},
		{"vocal_presence", false, "EQ: vocal presence."},
		{"blend(rock+metal)", false, "Blending rock and metal."},
		{"blend(hip_hop+r_and_b)", false, "Blending hip hop and r and b."},
		{"blend(rock+metal)", true, "EQ: Blend."},
	}
	for _, tt := range tests {
		if got := Phrase(tt.preset, tt.driving); got != tt.want {
			t.Errorf("Phrase(%q, %v) = %q, want %q", tt.preset, tt.driving, got, tt.want)
		}
	}
}

func TestCommandSpeakerArgv(t *testing.T) {
	s := NewCommandSpeaker("espeak-ng -s 160 {text}", 0)
	if got := s.argv("EQ: Rock."); !reflect.DeepEqual(got, []string{"espeak-ng", "-s", "160", "EQ: Rock."}) {
		t.Errorf("argv = %q", got)
	}
	s = NewCommandSpeaker("say", 0)
	if got := s.argv("hi"); !reflect.DeepEqual(got, []string{"say", "hi"}) {
		t.Errorf("argv = %q", got)
	}
	if err := NewCommandSpeaker("", 0).Speak(context.Background(), "x"); err == nil {
		t.Error("empty command should fail")
	}
}
