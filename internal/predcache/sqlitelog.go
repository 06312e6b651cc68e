package predcache

import (
	"database/sql"
	"sync"

	"auto-eq/internal/database"
	"auto-eq/internal/models"
)

// SQLiteLog keeps the prediction log in an embedded SQL database.
type SQLiteLog struct {
	mu sync.Mutex
	db *sql.DB
}

func OpenSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteLog{db: db}, nil
}

func (l *SQLiteLog) Append(rec models.PredictionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row := database.ToRow(rec, FormatAlternatives(rec.TopAlternatives), formatTime(rec.Timestamp))
	row.Genre = orUnknown(row.Genre)
	row.ModelVersion = orUnknown(row.ModelVersion)
	return database.InsertPrediction(l.db, row)
}

func (l *SQLiteLog) Iterate(fn func(models.PredictionRecord) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return database.EachPrediction(l.db, func(r database.PredictionRow) error {
		return fn(models.PredictionRecord{
			TrackID:         r.TrackID,
			TrackName:       r.TrackName,
			Artist:          r.Artist,
			Genre:           orUnknown(r.Genre),
			Preset:          orUnknown(r.Preset),
			Confidence:      clamp01(r.Confidence),
			TopAlternatives: ParseAlternatives(r.Top3),
			Source:          models.ParseSource(r.Source),
			ModelVersion:    orUnknown(r.ModelVersion),
			Timestamp:       parseTime(r.Timestamp),
		})
	})
}

func (l *SQLiteLog) Truncate(max int) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return database.KeepNewest(l.db, max)
}

func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
