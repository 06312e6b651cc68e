// Package config loads the engine configuration in layers: built-in
// defaults, then an optional YAML file, then the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"auto-eq/internal/classifier"
	"auto-eq/internal/dsp"
	"auto-eq/internal/engine"
	"auto-eq/internal/obd"
	"auto-eq/internal/predcache"
	"auto-eq/internal/presets"
	"auto-eq/internal/preview"
	"auto-eq/internal/resolver"
	"auto-eq/internal/shaper"
	"auto-eq/internal/spotify"
	"auto-eq/internal/voice"
)

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"autoeq.yaml",
	"autoeq.yml",
	"config/autoeq.yaml",
}

const (
	ConfigPathEnvVar = "AUTOEQ_CONFIG"
	EnvPrefix        = "AUTOEQ_"
)

type Config struct {
	Poll     engine.Config     `koanf:"poll"`
	Spotify  spotify.Config    `koanf:"spotify"`
	Preview  preview.Config    `koanf:"preview"`
	Dataset  DatasetConfig     `koanf:"dataset"`
	Mapping  MappingConfig     `koanf:"mapping"`
	Models   classifier.Config `koanf:"models"`
	Resolver resolver.Config   `koanf:"resolver"`
	Cache    CacheConfig       `koanf:"cache"`
	Profile  ProfileConfig     `koanf:"profile"`
	Shaper   shaper.Config     `koanf:"shaper"`
	DSP      dsp.Config        `koanf:"dsp"`
	APO      APOConfig         `koanf:"apo"`
	Voice    voice.Config      `koanf:"voice"`
	OBD      obd.Config        `koanf:"obd"`
	Metrics  MetricsConfig     `koanf:"metrics"`
	Logging  LoggingConfig     `koanf:"logging"`
}

type DatasetConfig struct {
	Path string `koanf:"path"`
}

type MappingConfig struct {
	Path string `koanf:"path"`
}

type CacheConfig struct {
	Backend    string `koanf:"backend" validate:"oneof=csv sqlite badger"`
	Path       string `koanf:"path" validate:"required"`
	MaxEntries int    `koanf:"max_entries" validate:"gte=1"`
}

type ProfileConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// APOConfig points at an Equalizer APO config directory. Empty disables
// the software writer.
type APOConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=console json"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Poll:     engine.DefaultConfig(),
		Spotify:  spotify.DefaultConfig(),
		Preview:  preview.DefaultConfig(),
		Dataset:  DatasetConfig{Path: "data/dataset.csv"},
		Mapping:  MappingConfig{Path: "config/genre_mapping.json"},
		Models:   classifier.Config{Dir: "models", MetadataModel: "metadata_model.json", AudioModel: "audio_model.json", CNNModel: "cnn_model.msgpack"},
		Resolver: resolver.DefaultConfig(),
		Cache:    CacheConfig{Backend: predcache.BackendCSV, Path: "data/predictions.csv", MaxEntries: predcache.DefaultMaxEntries},
		Profile:  ProfileConfig{Path: "data/listener_profile.json"},
		Shaper:   shaper.Config{RPMThreshold: 3500, DuckDB: -3},
		DSP:      dsp.DefaultConfig(),
		APO:      APOConfig{Dir: `C:\Program Files\EqualizerAPO\config`},
		Voice:    voice.DefaultConfig(),
		OBD:      obd.DefaultConfig(),
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9464"},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration. An empty path searches ConfigPathEnvVar and
// DefaultConfigPaths; a missing file is not an error. A .env file in the
// working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps AUTOEQ_RESOLVER__BLEND__MAX_GAP to
// resolver.blend.max_gap. The Spotify developer credentials keep their
// conventional names. Anything else is ignored.
func envTransformFunc(key string) string {
	switch key {
	case "SPOTIFY_ID", "SPOTIFY_CLIENT_ID":
		return "spotify.client_id"
	case "SPOTIFY_SECRET", "SPOTIFY_CLIENT_SECRET":
		return "spotify.client_secret"
	case ConfigPathEnvVar:
		return ""
	}
	rest, ok := strings.CutPrefix(key, EnvPrefix)
	if !ok || rest == "" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(rest), "__", ".")
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate runs the struct tags, then the checks that span sections.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return err
	}

	var errs []error
	if c.Resolver.Fallback != "" && !presets.NewCatalog().Has(c.Resolver.Fallback) {
		errs = append(errs, fmt.Errorf("resolver.fallback: unknown preset %q", c.Resolver.Fallback))
	}
	if (c.DSP.Method == dsp.MethodSerial || c.DSP.Method == "usb") && c.DSP.Port == "" {
		errs = append(errs, errors.New("dsp.port is required for the serial method"))
	}
	if c.OBD.Enabled && c.OBD.Port == "" {
		errs = append(errs, errors.New("obd.port is required when obd is enabled"))
	}
	if c.APO.Enabled && c.APO.Dir == "" {
		errs = append(errs, errors.New("apo.dir is required when apo is enabled"))
	}
	if c.Voice.Enabled && c.Voice.Command == "" {
		errs = append(errs, errors.New("voice.command is required when voice is enabled"))
	}
	return errors.Join(errs...)
}
