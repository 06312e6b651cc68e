package presets

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"auto-eq/internal/logging"
)

// DefaultKey holds the fallback entry in a genre table. It never matches a tag.
const DefaultKey = "default"

// Match confidences by strength.
const (
	ExactConfidence     = 1.0
	SubstringConfidence = 0.85
	TokenConfidence     = 0.70
)

type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExact
	MatchSubstring
	MatchToken
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchSubstring:
		return "substring"
	case MatchToken:
		return "token"
	default:
		return "none"
	}
}

// MatchResult describes how a list of tags resolved to a preset.
type MatchResult struct {
	Preset     string
	Genre      string // the tag that matched
	Key        string // the table key it matched
	Kind       MatchKind
	Confidence float64
}

// Mapping holds the genre→preset and classifier-genre→preset tables.
// Every preset it can return exists in the catalog it was built against.
type Mapping struct {
	genres   map[string]string
	mlGenres map[string]string
	keys     []string // substring probe order
	fallback string
	log      zerolog.Logger
}

type mappingFile struct {
	GenreEQMap map[string]any `json:"genre_eq_map"`
	GTZANToEQ  map[string]any `json:"gtzan_to_eq"`
}

// NewMapping builds a mapping from the built-in tables.
func NewMapping(catalog *Catalog, fallback string) *Mapping {
	return newMapping(catalog, fallback, builtinGenreMap, builtinMLGenreMap)
}

// LoadMapping reads the tables from a JSON file. A missing or malformed file,
// or a missing table within it, falls back to the built-in table.
func LoadMapping(path string, catalog *Catalog, fallback string) *Mapping {
	log := logging.Component("presets")
	genres, ml := builtinGenreMap, builtinMLGenreMap

	if path == "" {
		return newMapping(catalog, fallback, genres, ml)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("mapping file unreadable, using built-in tables")
		}
		return newMapping(catalog, fallback, genres, ml)
	}

	var f mappingFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("mapping file malformed, using built-in tables")
		return newMapping(catalog, fallback, genres, ml)
	}
	if g := stringTable(f.GenreEQMap); len(g) > 0 {
		genres = g
	}
	if m := stringTable(f.GTZANToEQ); len(m) > 0 {
		ml = m
	}
	log.Info().Int("genres", len(genres)).Int("ml_genres", len(ml)).Str("path", path).Msg("loaded genre mappings")
	return newMapping(catalog, fallback, genres, ml)
}

// stringTable drops comment keys and non-string values.
func stringTable(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if strings.HasPrefix(k, "_") {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[normalize(k)] = strings.TrimSpace(s)
	}
	return out
}

func newMapping(catalog *Catalog, fallback string, genres, ml map[string]string) *Mapping {
	m := &Mapping{
		genres:   make(map[string]string, len(genres)),
		mlGenres: make(map[string]string, len(ml)),
		log:      logging.Component("presets"),
	}

	if !catalog.Has(fallback) {
		m.log.Warn().Str("preset", fallback).Msg("fallback preset not in catalog, using " + DefaultFallback)
		fallback = DefaultFallback
	}
	m.fallback = fallback

	for k, v := range genres {
		m.genres[normalize(k)] = m.checked(catalog, k, v)
	}
	for k, v := range ml {
		m.mlGenres[normalize(k)] = m.checked(catalog, k, v)
	}

	for k := range m.genres {
		if k != DefaultKey {
			m.keys = append(m.keys, k)
		}
	}
	// Longest keys first so "drift phonk" wins over "phonk".
	sort.Slice(m.keys, func(i, j int) bool {
		if len(m.keys[i]) != len(m.keys[j]) {
			return len(m.keys[i]) > len(m.keys[j])
		}
		return m.keys[i] < m.keys[j]
	})
	return m
}

func (m *Mapping) checked(catalog *Catalog, key, preset string) string {
	if catalog.Has(preset) {
		return preset
	}
	m.log.Warn().Str("genre", key).Str("preset", preset).Str("fallback", m.fallback).Msg("mapping references unknown preset")
	return m.fallback
}

// Fallback is the preset used when nothing matches.
func (m *Mapping) Fallback() string { return m.fallback }

// Len reports the number of genre keys, excluding the default entry.
func (m *Mapping) Len() int { return len(m.keys) }

// Match resolves tags against the genre table: exact on every tag first, then
// substring in either direction, then normalized tokens.
func (m *Mapping) Match(tags []string) (MatchResult, bool) {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		if n := normalize(t); n != "" {
			clean = append(clean, n)
		}
	}

	for _, tag := range clean {
		if tag == DefaultKey {
			continue
		}
		if p, ok := m.genres[tag]; ok {
			return MatchResult{Preset: p, Genre: tag, Key: tag, Kind: MatchExact, Confidence: ExactConfidence}, true
		}
	}

	for _, tag := range clean {
		for _, key := range m.keys {
			if strings.Contains(tag, key) || strings.Contains(key, tag) {
				return MatchResult{Preset: m.genres[key], Genre: tag, Key: key, Kind: MatchSubstring, Confidence: SubstringConfidence}, true
			}
		}
	}

	for _, tag := range clean {
		tokens := tokenize(tag)
		if joined := strings.Join(tokens, " "); joined != tag {
			if p, ok := m.genres[joined]; ok && joined != DefaultKey {
				return MatchResult{Preset: p, Genre: tag, Key: joined, Kind: MatchToken, Confidence: TokenConfidence}, true
			}
		}
		for _, tok := range tokens {
			if tok == DefaultKey {
				continue
			}
			if p, ok := m.genres[tok]; ok {
				return MatchResult{Preset: p, Genre: tag, Key: tok, Kind: MatchToken, Confidence: TokenConfidence}, true
			}
		}
	}

	return MatchResult{Preset: m.fallback}, false
}

// PresetForMLGenre maps a classifier genre to a preset, or the fallback.
func (m *Mapping) PresetForMLGenre(genre string) (string, bool) {
	p, ok := m.mlGenres[normalize(genre)]
	if !ok {
		return m.fallback, false
	}
	return p, true
}

// PresetForGenre maps one genre through the tag matcher.
func (m *Mapping) PresetForGenre(genre string) string {
	r, _ := m.Match([]string{genre})
	return r.Preset
}

// GenreForPreset is the reverse guess used when a listener picks a preset by hand.
func GenreForPreset(preset string) string {
	if g, ok := presetGenreGuess[preset]; ok {
		return g
	}
	return "unknown"
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// tokenize splits on anything that is not a letter, digit or '&'.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch {
		case r == '&':
			return false
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			return false
		}
		return true
	})
}

// String is used in diagnostics.
func (r MatchResult) String() string {
	if r.Kind == MatchNone {
		return "no match"
	}
	return fmt.Sprintf("%s~%s (%s)", r.Genre, r.Key, r.Kind)
}
