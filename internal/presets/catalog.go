package presets

import (
	"sort"

	"auto-eq/internal/models"
)

const (
	Flat = "flat"
	// DefaultFallback is used when nothing better is configured.
	DefaultFallback = "v_shape"

	MaxGain = 12.0
	MinGain = -12.0
)

// 10-band curves, 31 Hz .. 16 kHz.
var builtinPresets = map[string]models.Bands{
	"flat":           {0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	"bass_boost":     {6, 5, 4, 2, 0, 0, 0, 0, 0, 0},
	"treble_boost":   {0, 0, 0, 0, 0, 0, 2, 4, 5, 6},
	"v_shape":        {5, 4, 2, 0, -2, -2, 0, 2, 4, 5},
	"vocal_presence": {-2, -1, 0, 2, 4, 4, 3, 2, 0, -1},
	"rock":           {4, 3, 2, 0, -1, 0, 2, 3, 4, 3},
	"metal":          {4, 3, 1, 0, -2, -1, 1, 4, 5, 4},
	"electronic":     {5, 4, 2, 0, 1, 2, 1, 3, 4, 4},
	"acoustic":       {-2, 0, 1, 2, 3, 2, 1, 2, 2, 1},
	"hip_hop":        {6, 5, 3, 1, 0, 0, 1, 1, 2, 2},
	"classical":      {0, 0, 0, 0, 0, 0, -1, -1, -2, -3},
	"jazz":           {0, 1, 2, 2, 1, 0, 1, 2, 2, 1},
	"phonk":          {7, 6, 4, 1, -2, -2, 0, 3, 5, 4},
	"edm":            {6, 5, 3, 0, 0, 1, 2, 4, 5, 5},
	"lofi":           {3, 3, 2, 1, 0, 0, -1, -1, -2, -3},
	"pop":            {1, 2, 3, 2, 1, 0, 1, 2, 3, 2},
	"latin":          {4, 4, 3, 1, 0, 1, 2, 3, 3, 2},
	"country":        {2, 2, 2, 2, 2, 1, 2, 3, 3, 2},
	"r_and_b":        {5, 4, 3, 2, 1, 0, 1, 2, 2, 1},
}

// Catalog is the immutable set of named presets.
type Catalog struct {
	presets map[string]models.EQPreset
	names   []string
}

// NewCatalog returns the built-in catalog.
func NewCatalog() *Catalog {
	c := &Catalog{presets: make(map[string]models.EQPreset, len(builtinPresets))}
	for name, bands := range builtinPresets {
		c.presets[name] = models.EQPreset{Name: name, Bands: bands}
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c
}

// Get returns a copy of the named preset.
func (c *Catalog) Get(name string) (models.EQPreset, bool) {
	p, ok := c.presets[name]
	return p, ok
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.presets[name]
	return ok
}

// Names lists preset names alphabetically.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// FlatPreset returns the identity preset.
func (c *Catalog) FlatPreset() models.EQPreset {
	return c.presets[Flat]
}

// Bands returns the named preset's gains, or the flat curve when unknown.
func (c *Catalog) Bands(name string) models.Bands {
	if p, ok := c.presets[name]; ok {
		return p.Bands
	}
	return models.Bands{}
}
