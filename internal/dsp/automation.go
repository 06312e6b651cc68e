package dsp

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"auto-eq/internal/logging"
	"auto-eq/internal/metrics"
)

// AppPackage is the amplifier's companion app.
const AppPackage = "com.b2audio.dsp"

// Runner executes one command line.
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// AutomationDSP drives the companion app over adb: an intent broadcast
// when the preset has an id, otherwise a screen tap.
type AutomationDSP struct {
	device  string
	ids     map[string]int
	taps    map[string][2]int
	timeout time.Duration
	run     Runner
	log     zerolog.Logger
}

func NewAutomation(cfg Config) *AutomationDSP {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AutomationDSP{
		device:  cfg.ADBDevice,
		ids:     cfg.PresetIDs,
		taps:    cfg.Taps,
		timeout: timeout,
		run:     execRunner,
		log:     logging.Component("dsp"),
	}
}

func (a *AutomationDSP) Method() string { return MethodAndroid }

func (a *AutomationDSP) adb(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if a.device != "" {
		args = append([]string{"-s", a.device}, args...)
	}
	return a.run(ctx, "adb", args...)
}

// Broadcast sends the preset change intent.
func (a *AutomationDSP) Broadcast(ctx context.Context, id int) error {
	return a.adb(ctx, "shell", "am", "broadcast",
		"-a", AppPackage+".PRESET_CHANGE",
		"--ei", "preset_id", strconv.Itoa(id))
}

// Tap wakes the screen and taps at x, y.
func (a *AutomationDSP) Tap(ctx context.Context, x, y int) error {
	if err := a.adb(ctx, "shell", "input", "keyevent", "KEYCODE_WAKEUP"); err != nil {
		a.log.Debug().Err(err).Msg("wake failed")
	}
	return a.adb(ctx, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
}

func (a *AutomationDSP) SetPreset(ctx context.Context, name string) bool {
	var err error
	if id, ok := a.ids[name]; ok {
		err = a.Broadcast(ctx, id)
	} else if xy, ok := a.taps[name]; ok {
		err = a.Tap(ctx, xy[0], xy[1])
	} else {
		err = ErrUnknownPreset
	}
	metrics.RecordDSPCommand(err == nil)
	if err != nil {
		a.log.Error().Err(err).Str("preset", name).Msg("adb preset change failed")
		return false
	}
	a.log.Info().Str("preset", name).Msg("preset sent to companion app")
	return true
}

func (a *AutomationDSP) Close() error { return nil }
