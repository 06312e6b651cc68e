// Package dsp switches hardware EQ presets and writes the software EQ file.
package dsp

import (
	"context"
	"errors"
	"time"

	"auto-eq/internal/logging"
)

// Methods accepted in Config.Method.
const (
	MethodSerial  = "serial"
	MethodAndroid = "android"
	MethodNone    = "none"
)

var (
	ErrNotConnected  = errors.New("dsp not connected")
	ErrUnknownPreset = errors.New("no dsp id for preset")
	ErrNoTemplate    = errors.New("protocol has no template")
)

// Controller applies a preset on the amplifier. SetPreset reports success
// and never panics; failures are logged.
type Controller interface {
	SetPreset(ctx context.Context, name string) bool
	Method() string
	Close() error
}

type Config struct {
	Method       string         `koanf:"method" validate:"oneof=serial usb android none"`
	Port         string         `koanf:"port"`
	BaudRate     int            `koanf:"baud_rate" validate:"gte=0"`
	ProtocolFile string         `koanf:"protocol_file"`
	ADBDevice    string         `koanf:"adb_device"`
	PresetIDs    map[string]int `koanf:"preset_ids"`
	// Taps maps preset names to screen coordinates for apps without an
	// intent receiver.
	Taps    map[string][2]int `koanf:"taps"`
	Timeout time.Duration     `koanf:"timeout"`

	// Volume is sent once after a serial connection; 0 leaves it alone.
	Volume int `koanf:"volume" validate:"gte=0,lte=100"`
}

func DefaultConfig() Config {
	return Config{
		Method:   MethodNone,
		Port:     "/dev/ttyUSB0",
		BaudRate: 115200,
		Timeout:  5 * time.Second,
		PresetIDs: map[string]int{
			"flat": 0, "bass_boost": 1, "v_shape": 2, "vocal_presence": 3,
			"rock": 4, "electronic": 5, "acoustic": 6, "treble_boost": 7,
		},
	}
}

// NewController builds the configured controller. A serial controller that
// cannot connect falls back to Android automation.
func NewController(cfg Config) Controller {
	log := logging.Component("dsp")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	switch cfg.Method {
	case MethodSerial, "usb":
		proto, err := LoadProtocol(cfg.ProtocolFile)
		if err != nil {
			log.Warn().Err(err).Str("file", cfg.ProtocolFile).Msg("protocol file unreadable, using built-in templates")
		}
		s, err := OpenSerial(cfg, proto)
		if err == nil {
			return s
		}
		log.Warn().Err(err).Str("port", cfg.Port).Msg("serial connection failed, falling back to android")
		return NewAutomation(cfg)
	case MethodAndroid:
		return NewAutomation(cfg)
	default:
		return Noop{}
	}
}

// Noop is used when no hardware is configured. SetPreset logs the request
// and reports false.
type Noop struct{}

func (Noop) SetPreset(_ context.Context, name string) bool {
	log := logging.Component("dsp")
	log.Debug().Str("preset", name).Msg("no dsp hardware configured")
	return false
}

func (Noop) Method() string { return MethodNone }
func (Noop) Close() error   { return nil }
