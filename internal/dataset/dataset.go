// Package dataset is the local track → genres table consulted before any
// classifier runs.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"auto-eq/internal/presets"
)

// MatchThreshold is the minimum Jaro-Winkler similarity for a fuzzy hit.
const MatchThreshold = 0.85

// NoCluster marks rows without a cluster id.
const NoCluster = -1

// canonical header mapping
var headerAliases = map[string]string{
	"track_id":    "id",
	"id":          "id",
	"spotify_id":  "id",
	"track_name":  "name",
	"track":       "name",
	"title":       "name",
	"name":        "name",
	"artist":      "artist",
	"artist_name": "artist",
	"artists":     "artist",
	"genres":      "genres",
	"genre":       "genres",
	"cluster":     "cluster",
	"youtube_id":  "youtube",
	"video_id":    "youtube",
}

type Row struct {
	TrackID   string
	TrackName string
	Artist    string
	Genres    []string
	Cluster   int
	YouTubeID string
}

// Dataset is read-only after Load and safe for concurrent readers.
type Dataset struct {
	rows []Row
	byID map[string]int
	jw   *metrics.JaroWinkler
}

// Empty is a dataset with no rows; every lookup misses.
func Empty() *Dataset {
	return &Dataset{byID: map[string]int{}, jw: metrics.NewJaroWinkler()}
}

// Load reads the dataset CSV at path.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Empty(), fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (*Dataset, error) {
	d := Empty()
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	rawHeaders, err := reader.Read()
	if err != nil {
		return d, fmt.Errorf("read dataset header: %w", err)
	}
	columnMap := make(map[int]string)
	for i, h := range rawHeaders {
		if canonical, ok := headerAliases[normalize(h)]; ok {
			columnMap[i] = canonical
		}
	}
	if len(columnMap) == 0 {
		return d, errors.New("dataset has no recognizable columns")
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return d, fmt.Errorf("read dataset row %d: %w", len(d.rows)+1, err)
		}

		row := Row{Cluster: NoCluster}
		for i, v := range record {
			field, ok := columnMap[i]
			if !ok {
				continue
			}
			val := strings.TrimSpace(v)
			if val == "" {
				continue
			}
			switch field {
			case "id":
				row.TrackID = val
			case "name":
				row.TrackName = val
			case "artist":
				row.Artist = val
			case "genres":
				row.Genres = splitGenres(val)
			case "cluster":
				if n, err := strconv.Atoi(val); err == nil {
					row.Cluster = n
				}
			case "youtube":
				row.YouTubeID = val
			}
		}

		// Skip totally empty rows
		if row.TrackID == "" && row.TrackName == "" && row.Artist == "" {
			continue
		}
		if row.TrackID != "" {
			if _, dup := d.byID[row.TrackID]; !dup {
				d.byID[row.TrackID] = len(d.rows)
			}
		}
		d.rows = append(d.rows, row)
	}
	return d, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func splitGenres(s string) []string {
	var out []string
	for _, g := range strings.Split(s, ",") {
		if g = normalize(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

func (d *Dataset) Len() int { return len(d.rows) }

// ByID returns the row for an exact track id.
func (d *Dataset) ByID(id string) (Row, bool) {
	if i, ok := d.byID[id]; ok {
		return d.rows[i], true
	}
	return Row{}, false
}

// Lookup finds a track by id, then by case-insensitive containment of both
// name and artist, then by Jaro-Winkler similarity of "artist name".
func (d *Dataset) Lookup(id, name, artist string) (Row, bool) {
	if id != "" {
		if r, ok := d.ByID(id); ok {
			return r, true
		}
	}
	if name == "" && artist == "" {
		return Row{}, false
	}

	names := []string{normalize(name)}
	if clean := normalize(CleanTitle(name)); clean != names[0] && clean != "" {
		names = append(names, clean)
	}
	a := normalize(artist)
	for _, n := range names {
		for _, r := range d.rows {
			if strings.Contains(strings.ToLower(r.TrackName), n) && strings.Contains(strings.ToLower(r.Artist), a) {
				return r, true
			}
		}
	}

	query := strings.ToLower(artist + " " + CleanTitle(name))
	var (
		best      Row
		bestScore float64
	)
	for _, r := range d.rows {
		cand := strings.ToLower(r.Artist + " " + r.TrackName)
		score := strutil.Similarity(query, cand, d.jw)
		if score > bestScore && score >= MatchThreshold {
			bestScore = score
			best = r
		}
	}
	return best, bestScore > 0
}

// Search returns up to limit rows whose name or artist contains query.
func (d *Dataset) Search(query string, limit int) []Row {
	q := normalize(query)
	if q == "" || limit <= 0 {
		return nil
	}
	var out []Row
	for _, r := range d.rows {
		if strings.Contains(strings.ToLower(r.TrackName), q) || strings.Contains(strings.ToLower(r.Artist), q) {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// ClusterPreset returns the most common preset among a cluster's rows, or
// the mapping's fallback when the cluster is empty or nothing matches.
func (d *Dataset) ClusterPreset(cluster int, m *presets.Mapping) string {
	counts := map[string]int{}
	for _, r := range d.rows {
		if r.Cluster != cluster {
			continue
		}
		if res, ok := m.Match(r.Genres); ok {
			counts[res.Preset]++
		} else {
			counts[m.Fallback()]++
		}
	}
	if len(counts) == 0 {
		return m.Fallback()
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names[0]
}
