package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autoeq.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("missing explicit file should fail, got %+v", cfg)
	}

	cfg, err = Load(writeFile(t, "{}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Poll.Interval != 3*time.Second || !cfg.Poll.Console {
		t.Errorf("poll = %+v", cfg.Poll)
	}
	if cfg.Resolver.Fallback != "v_shape" || cfg.Resolver.ConfidenceFloor != 0.6 {
		t.Errorf("resolver = %+v", cfg.Resolver)
	}
	if cfg.Resolver.Blend.MaxPresets != 2 || cfg.Resolver.Blend.MaxGap != 0.12 {
		t.Errorf("blend = %+v", cfg.Resolver.Blend)
	}
	if cfg.Voice.MinConfidence != 0.80 || cfg.Voice.DrivingCooldown != time.Minute {
		t.Errorf("voice = %+v", cfg.Voice)
	}
	if cfg.Cache.Backend != "csv" || cfg.Cache.MaxEntries != 5000 {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.DSP.PresetIDs["rock"] != 4 {
		t.Errorf("dsp preset ids = %v", cfg.DSP.PresetIDs)
	}
}

func TestFileAndEnvLayers(t *testing.T) {
	path := writeFile(t, `
poll:
  interval: 5s
resolver:
  confidence_floor: 0.7
  blend:
    max_gap: 0.2
cache:
  backend: badger
  path: /tmp/preds
voice:
  driving: true
`)
	t.Setenv("AUTOEQ_POLL__INTERVAL", "2s")
	t.Setenv("AUTOEQ_RESOLVER__BLEND__MAX_PRESETS", "3")
	t.Setenv("SPOTIFY_ID", "client-123")
	t.Setenv("SPOTIFY_SECRET", "shh")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Poll.Interval != 2*time.Second {
		t.Errorf("env should override file: interval = %v", cfg.Poll.Interval)
	}
	if cfg.Resolver.ConfidenceFloor != 0.7 || cfg.Resolver.Blend.MaxGap != 0.2 {
		t.Errorf("resolver = %+v", cfg.Resolver)
	}
	if cfg.Resolver.Blend.MaxPresets != 3 || cfg.Resolver.Blend.MinProb != 0.35 {
		t.Errorf("blend = %+v", cfg.Resolver.Blend)
	}
	if cfg.Cache.Backend != "badger" || !cfg.Voice.Driving {
		t.Errorf("cache = %+v, voice = %+v", cfg.Cache, cfg.Voice)
	}
	if cfg.Spotify.ClientID != "client-123" || cfg.Spotify.ClientSecret != "shh" {
		t.Errorf("spotify credentials = %q %q", cfg.Spotify.ClientID, cfg.Spotify.ClientSecret)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad backend", "cache:\n  backend: mongo\n", "Backend"},
		{"floor out of range", "resolver:\n  confidence_floor: 1.5\n", "ConfidenceFloor"},
		{"blend of one", "resolver:\n  blend:\n    max_presets: 1\n", "MaxPresets"},
		{"unknown fallback", "resolver:\n  fallback: polka\n", "polka"},
		{"bad dsp method", "dsp:\n  method: bluetooth\n", "Method"},
		{"obd without port", "obd:\n  enabled: true\n  port: \"\"\n", "obd.port"},
		{"metrics without addr", "metrics:\n  enabled: true\n  addr: \"\"\n", "Addr"},
		{"log level", "logging:\n  level: loud\n", "Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := map[string]string{
		"AUTOEQ_RESOLVER__BLEND__MAX_GAP": "resolver.blend.max_gap",
		"AUTOEQ_VOICE__ENABLED":           "voice.enabled",
		"AUTOEQ_CONFIG":                   "",
		"SPOTIFY_ID":                      "spotify.client_id",
		"HOME":                            "",
		"AUTOEQ_":                         "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
