package predcache

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"auto-eq/internal/logging"
	"auto-eq/internal/models"
)

// csvColumns is the current on-disk column order.
var csvColumns = []string{
	"track_id", "track_name", "artist", "genre_predicted", "preset",
	"confidence", "top_3", "source", "timestamp", "model_version",
}

// canonical header mapping; older files used shorter names
var headerAliases = map[string]string{
	"track_id":        "track_id",
	"id":              "track_id",
	"track_name":      "track_name",
	"name":            "track_name",
	"title":           "track_name",
	"artist":          "artist",
	"artist_name":     "artist",
	"genre_predicted": "genre_predicted",
	"genre":           "genre_predicted",
	"preset":          "preset",
	"eq_preset":       "preset",
	"confidence":      "confidence",
	"top_3":           "top_3",
	"top3":            "top_3",
	"source":          "source",
	"timestamp":       "timestamp",
	"time":            "timestamp",
	"model_version":   "model_version",
	"version":         "model_version",
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CSVLog is a human-auditable prediction log.
type CSVLog struct {
	mu   sync.Mutex
	path string
}

func OpenCSVLog(path string) (*CSVLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	l := &CSVLog{path: path}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func currentHeader(header []string) bool {
	if len(header) != len(csvColumns) {
		return false
	}
	for i, h := range header {
		if normalizeHeader(h) != csvColumns[i] {
			return false
		}
	}
	return true
}

// migrate rewrites a log written under an older header into the current
// column order. Columns the old file lacks are filled with "unknown" and
// rows without a track id are dropped.
func (l *CSVLog) migrate() error {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open prediction log: %w", err)
	}
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	all, err := reader.ReadAll()
	f.Close()
	if err != nil {
		return fmt.Errorf("read prediction log: %w", err)
	}
	if len(all) == 0 || currentHeader(all[0]) {
		return nil
	}

	source := make(map[string]int)
	for i, h := range all[0] {
		if canonical, ok := headerAliases[normalizeHeader(h)]; ok {
			if _, dup := source[canonical]; !dup {
				source[canonical] = i
			}
		}
	}
	if _, ok := source["track_id"]; !ok {
		return errors.New("prediction log has no track_id column")
	}

	rows := make([][]string, 0, len(all)-1)
	for _, old := range all[1:] {
		if i := source["track_id"]; i >= len(old) || strings.TrimSpace(old[i]) == "" {
			continue
		}
		row := make([]string, len(csvColumns))
		for j, col := range csvColumns {
			row[j] = Unknown
			if i, ok := source[col]; ok && i < len(old) {
				if v := strings.TrimSpace(old[i]); v != "" {
					row[j] = v
				}
			}
		}
		rows = append(rows, row)
	}
	if err := l.writeRows(rows); err != nil {
		return fmt.Errorf("migrate prediction log: %w", err)
	}
	log := logging.Component("cache")
	log.Info().
		Str("path", l.path).
		Strs("from", all[0]).
		Int("rows", len(rows)).
		Msg("prediction log migrated to current columns")
	return nil
}

func (l *CSVLog) Append(rec models.PredictionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open prediction log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat prediction log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvColumns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(toRow(rec)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	return f.Sync()
}

func (l *CSVLog) Iterate(fn func(models.PredictionRecord) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iterate(fn)
}

func (l *CSVLog) iterate(fn func(models.PredictionRecord) error) error {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open prediction log: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rawHeaders, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	columnMap := make(map[int]string)
	for i, h := range rawHeaders {
		if canonical, ok := headerAliases[normalizeHeader(h)]; ok {
			columnMap[i] = canonical
		}
	}
	if len(columnMap) == 0 {
		return errors.New("prediction log has no recognizable columns")
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		rec, ok := fromRow(record, columnMap)
		if !ok {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Truncate rewrites the file atomically with the newest max rows.
func (l *CSVLog) Truncate(max int) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var all []models.PredictionRecord
	if err := l.iterate(func(r models.PredictionRecord) error {
		all = append(all, r)
		return nil
	}); err != nil {
		return 0, 0, err
	}
	if max < 0 {
		max = 0
	}
	if len(all) <= max {
		return len(all), 0, nil
	}
	keep := all[len(all)-max:]

	rows := make([][]string, 0, len(keep))
	for _, r := range keep {
		rows = append(rows, toRow(r))
	}
	if err := l.writeRows(rows); err != nil {
		return 0, 0, err
	}
	return len(keep), len(all) - len(keep), nil
}

// writeRows atomically replaces the file with the current header and rows.
func (l *CSVLog) writeRows(rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".predictions-*.csv")
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	_ = w.Write(csvColumns)
	_ = w.WriteAll(rows)
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace prediction log: %w", err)
	}
	return nil
}

func (l *CSVLog) Close() error { return nil }

func toRow(r models.PredictionRecord) []string {
	return []string{
		r.TrackID,
		r.TrackName,
		r.Artist,
		orUnknown(r.Genre),
		r.Preset,
		strconv.FormatFloat(r.Confidence, 'f', 4, 64),
		FormatAlternatives(r.TopAlternatives),
		r.Source.String(),
		formatTime(r.Timestamp),
		orUnknown(r.ModelVersion),
	}
}

func fromRow(row []string, columnMap map[int]string) (models.PredictionRecord, bool) {
	rec := models.PredictionRecord{
		Genre:        Unknown,
		Preset:       Unknown,
		ModelVersion: Unknown,
		TrackName:    Unknown,
		Artist:       Unknown,
	}
	for i, v := range row {
		field, ok := columnMap[i]
		if !ok {
			continue
		}
		val := strings.TrimSpace(v)
		if val == "" {
			continue
		}
		switch field {
		case "track_id":
			rec.TrackID = val
		case "track_name":
			rec.TrackName = val
		case "artist":
			rec.Artist = val
		case "genre_predicted":
			rec.Genre = val
		case "preset":
			rec.Preset = val
		case "confidence":
			if c, err := strconv.ParseFloat(val, 64); err == nil {
				rec.Confidence = clamp01(c)
			}
		case "top_3":
			rec.TopAlternatives = ParseAlternatives(val)
		case "source":
			rec.Source = models.ParseSource(val)
		case "timestamp":
			rec.Timestamp = parseTime(val)
		case "model_version":
			rec.ModelVersion = val
		}
	}
	return rec, rec.TrackID != ""
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
