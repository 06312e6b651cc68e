// Package obd reads engine RPM from an ELM327 OBD-II adapter.
package obd

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"auto-eq/internal/logging"
)

// Mode 01 PIDs.
const (
	PIDRPM   = "010C"
	PIDSpeed = "010D"
)

const (
	prompt       = '>'
	maxReply     = 512
	readDeadline = time.Second
)

var (
	ErrNoData     = errors.New("obd: no data")
	ErrBadReply   = errors.New("obd: malformed reply")
	errNoResponse = errors.New("obd: adapter did not answer")
)

// RPMSource reports engine speed. Zero means unknown or engine off.
type RPMSource interface {
	RPM(ctx context.Context) int
}

// NoRPM is used when no adapter is configured.
type NoRPM struct{}

func (NoRPM) RPM(context.Context) int { return 0 }

type Config struct {
	Enabled  bool   `koanf:"enabled"`
	Port     string `koanf:"port"`
	BaudRate int    `koanf:"baud_rate" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{Port: "/dev/ttyUSB1", BaudRate: 38400}
}

// Port is the part of a serial port the adapter needs.
type Port interface {
	io.ReadWriter
	Close() error
}

type ELM327 struct {
	mu   sync.Mutex
	port Port
	log  zerolog.Logger
}

// NewRPMSource opens the adapter, or returns NoRPM when it is disabled or
// cannot be reached.
func NewRPMSource(cfg Config) RPMSource {
	if !cfg.Enabled {
		return NoRPM{}
	}
	e, err := Open(cfg)
	if err != nil {
		log := logging.Component("obd")
		log.Warn().Err(err).Str("port", cfg.Port).Msg("obd adapter unavailable, rpm ducking disabled")
		return NoRPM{}
	}
	return e
}

func Open(cfg Config) (*ELM327, error) {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = 38400
	}
	p, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	if err := p.SetReadTimeout(readDeadline); err != nil {
		p.Close()
		return nil, err
	}
	e := NewELM327(p)
	if err := e.Init(); err != nil {
		p.Close()
		return nil, err
	}
	e.log.Info().Str("port", cfg.Port).Int("baud", baud).Msg("connected to obd adapter")
	return e, nil
}

func NewELM327(p Port) *ELM327 {
	return &ELM327{port: p, log: logging.Component("obd")}
}

// Init resets the adapter, turns echo, linefeeds and spaces off and picks
// the protocol automatically.
func (e *ELM327) Init() error {
	for _, cmd := range []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATSP0"} {
		if _, err := e.Query(cmd); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return nil
}

// Query sends one command and returns the reply up to the prompt.
func (e *ELM327) Query(cmd string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := io.WriteString(e.port, cmd+"\r"); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	var reply []byte
	buf := make([]byte, 64)
	for len(reply) < maxReply {
		n, err := e.port.Read(buf)
		reply = append(reply, buf[:n]...)
		if bytes.IndexByte(reply, prompt) >= 0 {
			break
		}
		if err != nil || n == 0 {
			if len(reply) == 0 {
				return "", errNoResponse
			}
			break
		}
	}
	text := strings.TrimSpace(strings.TrimRight(string(reply), string(prompt)))
	return text, nil
}

// ParseReply extracts the data bytes that follow the mode 01 echo of pid.
func ParseReply(reply, pid string) ([]byte, error) {
	compact := strings.ToUpper(strings.Join(strings.Fields(reply), ""))
	if strings.Contains(compact, "NODATA") {
		return nil, ErrNoData
	}
	// 010C is answered as 410C...
	head := "4" + pid[1:]
	i := strings.Index(compact, head)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrBadReply, reply)
	}
	data := compact[i+len(head):]
	if j := strings.IndexFunc(data, func(r rune) bool { return !strings.ContainsRune("0123456789ABCDEF", r) }); j >= 0 {
		data = data[:j]
	}
	if len(data)%2 == 1 {
		data = data[:len(data)-1]
	}
	b, err := hex.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	return b, nil
}

// ParseRPM decodes a 010C reply as (256A + B) / 4.
func ParseRPM(reply string) (int, error) {
	b, err := ParseReply(reply, PIDRPM)
	if err != nil {
		return 0, err
	}
	if len(b) < 2 {
		return 0, fmt.Errorf("%w: rpm needs two bytes", ErrBadReply)
	}
	return (256*int(b[0]) + int(b[1])) / 4, nil
}

// RPM returns 0 on any adapter error.
func (e *ELM327) RPM(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	reply, err := e.Query(PIDRPM)
	if err != nil {
		e.log.Debug().Err(err).Msg("rpm query failed")
		return 0
	}
	rpm, err := ParseRPM(reply)
	if err != nil {
		e.log.Debug().Err(err).Msg("rpm reply unreadable")
		return 0
	}
	return rpm
}

// Speed returns km/h, or 0 on error.
func (e *ELM327) Speed(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	reply, err := e.Query(PIDSpeed)
	if err != nil {
		return 0
	}
	b, err := ParseReply(reply, PIDSpeed)
	if err != nil || len(b) == 0 {
		return 0
	}
	return int(b[0])
}

func (e *ELM327) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port.Close()
}
