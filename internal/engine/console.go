package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"auto-eq/internal/dsp"
	"auto-eq/internal/logging"
)

// Console reads preset names from a terminal and applies them as manual EQ
// changes. It implements suture.Service.
type Console struct {
	loop *Loop
	in   io.Reader
	out  io.Writer
	log  zerolog.Logger
}

func NewConsole(l *Loop, in io.Reader, out io.Writer) *Console {
	return &Console{loop: l, in: in, out: out, log: logging.Component("console")}
}

func (c *Console) String() string { return "manual-eq-console" }

// Serve stops for good when the input ends; a closed stdin is not an error.
func (c *Console) Serve(ctx context.Context) error {
	lines := make(chan string)
	done := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		done <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			if err != nil {
				c.log.Warn().Err(err).Msg("console input failed")
			}
			return suture.ErrDoNotRestart
		case line := <-lines:
			c.Handle(ctx, line)
		}
	}
}

// Handle runs one console line: a preset name, "list" or "help".
func (c *Console) Handle(ctx context.Context, line string) {
	cmd := strings.ToLower(strings.TrimSpace(line))
	switch cmd {
	case "":
		return
	case "help", "h", "?":
		fmt.Fprintln(c.out, "Type a preset name to switch the EQ by hand, or \"list\" to see them.")
		return
	case "list", "ls", "presets":
		fmt.Fprintln(c.out, strings.Join(c.loop.deps.Catalog.Names(), ", "))
		return
	}

	corrected, err := c.loop.ManualPresetChange(ctx, cmd)
	switch {
	case errors.Is(err, dsp.ErrUnknownPreset):
		fmt.Fprintf(c.out, "Unknown preset %q, type \"list\" to see them.\n", cmd)
		return
	case err != nil:
		c.log.Warn().Err(err).Str("preset", cmd).Msg("manual change not recorded")
	}
	eqApplied.Fprintf(c.out, "EQ applied: %s (manual)\n", cmd)
	if corrected {
		reason.Fprintf(c.out, "Logged as a genre correction\n")
	}
}
