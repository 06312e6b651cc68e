package dsp

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"auto-eq/internal/models"
)

type fakePort struct {
	written  [][]byte
	response []byte
	writeErr error
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written = append(p.written, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) { return copy(b, p.response), nil }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestProtocolBuild(t *testing.T) {
	off := 4
	p := DefaultProtocol()
	p["explicit"] = Template{Hex: "A50300FF00B8", Offset: &off}

	tests := []struct {
		name    string
		command string
		value   byte
		want    string
	}{
		{"first zero byte", CommandPresetChange, 0x02, "\xA5\x03\x02\xFF\x00\xB8"},
		{"volume", CommandVolumeSet, 50, "\xA5\x04\x32\xFF\x00\xC9"},
		{"explicit offset", "explicit", 0x02, "\xA5\x03\x00\xFF\x02\xB8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Build(tt.command, tt.value)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("Build = % X, want % X", got, []byte(tt.want))
			}
		})
	}

	if _, err := p.Build("reboot", 1); !errors.Is(err, ErrNoTemplate) {
		t.Errorf("missing command: err = %v", err)
	}
	p["nozero"] = Template{Hex: "A5A5"}
	if _, err := p.Build("nozero", 1); err == nil {
		t.Error("template without placeholder should fail")
	}
}

func TestLoadProtocol(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b2.json")
	body := `{"preset_change": {"template": "B60100", "description": "captured"}, "notes": {"template": ""}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProtocol(path)
	if err != nil {
		t.Fatal(err)
	}
	if p[CommandPresetChange].Hex != "B60100" || p[CommandVolumeSet].Hex != "A50400FF00C9" {
		t.Errorf("protocol = %+v", p)
	}

	bad := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(bad, []byte(`{"preset_change": {"template": "zz"}}`), 0o644)
	if p, err := LoadProtocol(bad); err == nil || !reflect.DeepEqual(p, DefaultProtocol()) {
		t.Errorf("bad hex: %v, %+v", err, p)
	}
	if p, err := LoadProtocol(filepath.Join(dir, "missing.json")); err == nil || len(p) != 2 {
		t.Errorf("missing file: %v, %+v", err, p)
	}
}

func TestSerialSetPreset(t *testing.T) {
	port := &fakePort{response: []byte{0x5A, 0x00}}
	s := NewSerialDSP(port, "fake", nil, map[string]int{"rock": 4})

	if !s.SetPreset(context.Background(), "rock") {
		t.Fatal("SetPreset failed")
	}
	if len(port.written) != 1 || !bytes.Equal(port.written[0], []byte{0xA5, 0x03, 0x04, 0xFF, 0x00, 0xB8}) {
		t.Errorf("written = % X", port.written)
	}
	if s.SetPreset(context.Background(), "jazz") {
		t.Error("unmapped preset reported success")
	}

	if err := s.SetVolume(140); err != nil {
		t.Fatal(err)
	}
	if got := port.written[1][2]; got != 100 {
		t.Errorf("volume byte = %d, want clamped 100", got)
	}

	port.writeErr = errors.New("device busy")
	if s.SetPreset(context.Background(), "rock") {
		t.Error("write failure reported success")
	}

	if err := s.Close(); err != nil || !port.closed {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Send([]byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send after close: %v", err)
	}
}

func TestNoopReportsNoHardware(t *testing.T) {
	var c Controller = Noop{}
	if c.SetPreset(context.Background(), "rock") {
		t.Error("noop controller reported a preset switch")
	}
	if c.Method() != MethodNone {
		t.Errorf("method = %s", c.Method())
	}
}

func TestAutomationCommands(t *testing.T) {
	var calls []string
	a := NewAutomation(Config{
		ADBDevice: "emulator-5554",
		PresetIDs: map[string]int{"rock": 4},
		Taps:      map[string][2]int{"jazz": {120, 640}},
		Timeout:   time.Second,
	})
	a.run = func(ctx context.Context, name string, args ...string) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("adb call without deadline")
		}
		calls = append(calls, name+" "+strings.Join(args, " "))
		return nil
	}

	if !a.SetPreset(context.Background(), "rock") || !a.SetPreset(context.Background(), "jazz") {
		t.Fatal("SetPreset failed")
	}
	if a.SetPreset(context.Background(), "metal") {
		t.Error("unknown preset reported success")
	}
	want := []string{
		"adb -s emulator-5554 shell am broadcast -a com.b2audio.dsp.PRESET_CHANGE --ei preset_id 4",
		"adb -s emulator-5554 shell input keyevent KEYCODE_WAKEUP",
		"adb -s emulator-5554 shell input tap 120 640",
	}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls:\n%s", strings.Join(calls, "\n"))
	}

	a.run = func(context.Context, string, ...string) error { return errors.New("no devices") }
	if a.SetPreset(context.Background(), "rock") {
		t.Error("adb failure reported success")
	}
}

func TestNewControllerFallback(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"none", Config{Method: MethodNone}, MethodNone},
		{"empty", Config{}, MethodNone},
		{"android", Config{Method: MethodAndroid}, MethodAndroid},
		{"serial without device", Config{Method: MethodSerial, Port: filepath.Join(t.TempDir(), "ttyNOPE")}, MethodAndroid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(tt.cfg)
			defer c.Close()
			if c.Method() != tt.want {
				t.Errorf("method = %s, want %s", c.Method(), tt.want)
			}
		})
	}
}

func TestAPOWriter(t *testing.T) {
	dir := t.TempDir()
	w := NewAPOWriter(dir)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	if s := w.Status(); !s.Installed || s.ConfigExists || s.Included {
		t.Errorf("fresh status = %+v", s)
	}
	cfg := filepath.Join(dir, APOMainConfig)
	if err := os.WriteFile(cfg, []byte("Device: all\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	bands := models.Bands{4, 3, 2, 0, -1, 0, 2, 3, 4, 3}
	for i := 0; i < 2; i++ {
		if err := w.Apply("rock", bands); err != nil {
			t.Fatal(err)
		}
	}
	raw, _ := os.ReadFile(filepath.Join(dir, APOIncludeFile))
	got := string(raw)
	for _, want := range []string{
		"# Preset: rock",
		"# Generated: 2026-03-01 09:30:00",
		"Preamp: -3 dB",
		"Filter: ON PK Fc 31 Hz Gain 4.0 dB Q 1.4",
		"Filter: ON PK Fc 500 Hz Gain -1.0 dB Q 1.4",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("eq file missing %q:\n%s", want, got)
		}
	}

	mainCfg, _ := os.ReadFile(cfg)
	if n := strings.Count(string(mainCfg), "Include: aria_eq.txt"); n != 1 {
		t.Errorf("include appears %d times:\n%s", n, mainCfg)
	}
	if s := w.Status(); !s.Installed || !s.ConfigExists || !s.Included {
		t.Errorf("status = %+v", s)
	}

	missing := NewAPOWriter(filepath.Join(dir, "nope"))
	if err := missing.Apply("rock", bands); err == nil {
		t.Error("apply without apo should fail")
	}
	if missing.Status().Installed {
		t.Error("missing dir reported installed")
	}
}
