package engine

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"auto-eq/internal/models"
)

func TestConsoleHandle(t *testing.T) {
	h := newHarness(map[string]models.Decision{"a": rockDecision}, playing("a", 0))
	h.cycles(1)
	var out bytes.Buffer
	c := NewConsole(h.loop, strings.NewReader(""), &out)

	c.Handle(context.Background(), "  Jazz ")
	if _, applied := h.loop.Current(); applied != "jazz" {
		t.Errorf("applied = %s", applied)
	}
	if !reflect.DeepEqual(h.monitor.corrections, [][2]string{{"rock", "jazz"}}) {
		t.Errorf("corrections = %v", h.monitor.corrections)
	}
	if !strings.Contains(out.String(), "EQ applied: jazz (manual)") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	c.Handle(context.Background(), "polka")
	if !strings.Contains(out.String(), `Unknown preset "polka"`) {
		t.Errorf("output = %q", out.String())
	}
	if _, applied := h.loop.Current(); applied != "jazz" {
		t.Errorf("unknown preset changed the eq to %s", applied)
	}

	out.Reset()
	c.Handle(context.Background(), "list")
	if !strings.Contains(out.String(), "v_shape") {
		t.Errorf("list output = %q", out.String())
	}
}

func TestConsoleServeStopsAtEOF(t *testing.T) {
	h := newHarness(map[string]models.Decision{"a": rockDecision}, playing("a", 0))
	h.cycles(1)
	c := NewConsole(h.loop, strings.NewReader("metal\n"), &bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Serve(ctx); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("Serve = %v", err)
	}
	if _, applied := h.loop.Current(); applied != "metal" {
		t.Errorf("applied = %s", applied)
	}
}
