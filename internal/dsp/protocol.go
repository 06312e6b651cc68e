package dsp

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// Command names in a protocol file.
const (
	CommandPresetChange = "preset_change"
	CommandVolumeSet    = "volume_set"
)

// Template is one captured command. The placeholder byte is at Offset when
// set, otherwise it is the first 0x00 in the template.
type Template struct {
	Hex         string `json:"template"`
	Offset      *int   `json:"offset,omitempty"`
	Description string `json:"description,omitempty"`
}

type Protocol map[string]Template

// DefaultProtocol holds the templates captured from the B2 amplifier.
func DefaultProtocol() Protocol {
	return Protocol{
		CommandPresetChange: {Hex: "A50300FF00B8", Description: "switch to preset id"},
		CommandVolumeSet:    {Hex: "A50400FF00C9", Description: "volume 0-100"},
	}
}

// LoadProtocol reads a protocol file. Commands it does not define keep
// their built-in templates. An empty path returns the defaults.
func LoadProtocol(path string) (Protocol, error) {
	p := DefaultProtocol()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read protocol: %w", err)
	}
	var file map[string]Template
	if err := json.Unmarshal(raw, &file); err != nil {
		return p, fmt.Errorf("parse protocol: %w", err)
	}
	for name, t := range file {
		if t.Hex == "" {
			continue
		}
		if _, err := hex.DecodeString(t.Hex); err != nil {
			return DefaultProtocol(), fmt.Errorf("command %s: %w", name, err)
		}
		p[name] = t
	}
	return p, nil
}

// Build fills the placeholder of a named command with value.
func (p Protocol) Build(name string, value byte) ([]byte, error) {
	t, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTemplate, name)
	}
	cmd, err := hex.DecodeString(t.Hex)
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", name, err)
	}
	idx := bytes.IndexByte(cmd, 0x00)
	if t.Offset != nil {
		idx = *t.Offset
	}
	if idx < 0 || idx >= len(cmd) {
		return nil, fmt.Errorf("command %s has no placeholder byte", name)
	}
	cmd[idx] = value
	return cmd, nil
}
