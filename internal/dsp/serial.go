package dsp

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"auto-eq/internal/logging"
	"auto-eq/internal/metrics"
)

const (
	readTimeout = time.Second
	maxResponse = 256
)

// Port is the part of a serial port the controller uses.
type Port interface {
	io.ReadWriter
	Close() error
}

// SerialDSP drives the amplifier over its USB serial link.
type SerialDSP struct {
	mu    sync.Mutex
	port  Port
	name  string
	proto Protocol
	ids   map[string]int
	log   zerolog.Logger
}

// OpenSerial opens the port at 8N1 with a one second read timeout and sets
// the configured volume.
func OpenSerial(cfg Config, proto Protocol) (*SerialDSP, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("%w: no port configured", ErrNotConnected)
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = 115200
	}
	p, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	s := NewSerialDSP(p, cfg.Port, proto, cfg.PresetIDs)
	s.log.Info().Str("port", cfg.Port).Int("baud", baud).Msg("connected to dsp")
	if cfg.Volume > 0 {
		if err := s.SetVolume(cfg.Volume); err != nil {
			s.log.Warn().Err(err).Int("volume", cfg.Volume).Msg("startup volume not set")
		}
	}
	return s, nil
}

// NewSerialDSP wraps an already open port.
func NewSerialDSP(p Port, name string, proto Protocol, ids map[string]int) *SerialDSP {
	if proto == nil {
		proto = DefaultProtocol()
	}
	return &SerialDSP{port: p, name: name, proto: proto, ids: ids, log: logging.Component("dsp")}
}

func (s *SerialDSP) Method() string { return MethodSerial }

// Send writes a raw command and returns whatever the device answers within
// the read timeout.
func (s *SerialDSP) Send(cmd []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil, ErrNotConnected
	}
	if _, err := s.port.Write(cmd); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	if d, ok := s.port.(interface{ Drain() error }); ok {
		if err := d.Drain(); err != nil {
			return nil, fmt.Errorf("drain: %w", err)
		}
	}
	buf := make([]byte, maxResponse)
	n, err := s.port.Read(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read: %w", err)
	}
	s.log.Debug().Str("sent", hex.EncodeToString(cmd)).Str("response", hex.EncodeToString(buf[:n])).Msg("dsp command")
	return buf[:n], nil
}

// SetPresetID sends the preset_change command for a numeric id.
func (s *SerialDSP) SetPresetID(id int) error {
	if id < 0 || id > 0xFF {
		return fmt.Errorf("preset id %d out of range", id)
	}
	cmd, err := s.proto.Build(CommandPresetChange, byte(id))
	if err != nil {
		return err
	}
	_, err = s.Send(cmd)
	return err
}

func (s *SerialDSP) SetPreset(_ context.Context, name string) bool {
	id, ok := s.ids[name]
	if !ok {
		s.log.Warn().Err(ErrUnknownPreset).Str("preset", name).Msg("preset not mapped")
		metrics.RecordDSPCommand(false)
		return false
	}
	err := s.SetPresetID(id)
	metrics.RecordDSPCommand(err == nil)
	if err != nil {
		s.log.Error().Err(err).Str("preset", name).Int("id", id).Msg("preset change failed")
		return false
	}
	s.log.Info().Str("preset", name).Int("id", id).Msg("dsp preset switched")
	return true
}

// SetVolume sends volume_set with a 0-100 level.
func (s *SerialDSP) SetVolume(level int) error {
	level = min(max(level, 0), 100)
	cmd, err := s.proto.Build(CommandVolumeSet, byte(level))
	if err != nil {
		return err
	}
	_, err = s.Send(cmd)
	metrics.RecordDSPCommand(err == nil)
	return err
}

func (s *SerialDSP) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.log.Info().Str("port", s.name).Msg("disconnected from dsp")
	return err
}
