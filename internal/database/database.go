// Package database stores the prediction log in SQLite.
package database

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"auto-eq/internal/models"
)

//go:embed schema.sql
var schema string

// PredictionRow is one stored prediction with its text-encoded columns.
type PredictionRow struct {
	Seq          int64
	TrackID      string
	TrackName    string
	Artist       string
	Genre        string
	Preset       string
	Confidence   float64
	Top3         string
	Source       string
	Timestamp    string
	ModelVersion string
}

// migrations lists columns added after the first schema, with their defaults.
// A database created by an older build gains them on open.
var migrations = []struct {
	column string
	ddl    string
}{
	{"top_3", "TEXT NOT NULL DEFAULT ''"},
	{"source", "TEXT NOT NULL DEFAULT 'default'"},
	{"model_version", "TEXT NOT NULL DEFAULT 'unknown'"},
}

// Open opens the database file, creating its directory if needed.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; the loop is single-threaded anyway
	db.SetMaxOpenConns(1)
	if err := InitDatabase(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InitDatabase runs the embedded schema, sets PRAGMAs and migrates old tables.
func InitDatabase(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=FULL; PRAGMA cache_size=-2000;"); err != nil {
		return fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return migrate(db)
}

func migrate(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(predictions)")
	if err != nil {
		return fmt.Errorf("read table info: %w", err)
	}
	have := map[string]bool{}
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("scan table info: %w", err)
		}
		have[name] = true
	}
	rows.Close()

	for _, m := range migrations {
		if have[m.column] {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf("ALTER TABLE predictions ADD COLUMN %s %s", m.column, m.ddl)); err != nil {
			return fmt.Errorf("add column %s: %w", m.column, err)
		}
	}
	return nil
}

// InsertPrediction appends one row.
func InsertPrediction(db *sql.DB, r PredictionRow) error {
	if db == nil {
		return nil
	}
	query := `
	INSERT INTO predictions (track_id, track_name, artist, genre_predicted, preset,
		confidence, top_3, source, timestamp, model_version)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	_, err := db.Exec(query, r.TrackID, r.TrackName, r.Artist, r.Genre, r.Preset,
		r.Confidence, r.Top3, r.Source, r.Timestamp, r.ModelVersion)
	return err
}

// EachPrediction visits rows in insertion order.
func EachPrediction(db *sql.DB, fn func(PredictionRow) error) error {
	rows, err := db.Query(`SELECT seq, track_id, track_name, artist, genre_predicted, preset,
		confidence, top_3, source, timestamp, model_version FROM predictions ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r PredictionRow
		if err := rows.Scan(&r.Seq, &r.TrackID, &r.TrackName, &r.Artist, &r.Genre, &r.Preset,
			&r.Confidence, &r.Top3, &r.Source, &r.Timestamp, &r.ModelVersion); err != nil {
			return fmt.Errorf("scan prediction: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// KeepNewest deletes all but the newest max rows and returns (kept, deleted).
func KeepNewest(db *sql.DB, max int) (int, int, error) {
	if max < 0 {
		max = 0
	}
	var total int
	if err := db.QueryRow("SELECT COUNT(*) FROM predictions").Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("count predictions: %w", err)
	}
	if total <= max {
		return total, 0, nil
	}
	res, err := db.Exec(`DELETE FROM predictions WHERE seq NOT IN
		(SELECT seq FROM predictions ORDER BY seq DESC LIMIT ?)`, max)
	if err != nil {
		return 0, 0, fmt.Errorf("prune predictions: %w", err)
	}
	n, _ := res.RowsAffected()
	return total - int(n), int(n), nil
}

// ToRow converts a record into its stored form. Encoding of the list and
// time columns is supplied by the caller so both logs share one format.
func ToRow(rec models.PredictionRecord, top3, timestamp string) PredictionRow {
	return PredictionRow{
		TrackID:      rec.TrackID,
		TrackName:    rec.TrackName,
		Artist:       rec.Artist,
		Genre:        rec.Genre,
		Preset:       rec.Preset,
		Confidence:   rec.Confidence,
		Top3:         top3,
		Source:       rec.Source.String(),
		Timestamp:    timestamp,
		ModelVersion: rec.ModelVersion,
	}
}
