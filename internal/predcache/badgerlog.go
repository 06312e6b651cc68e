package predcache

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"auto-eq/internal/models"
)

var badgerPrefix = []byte("pred/")

type badgerRecord struct {
	TrackID      string  `json:"track_id"`
	TrackName    string  `json:"track_name"`
	Artist       string  `json:"artist"`
	Genre        string  `json:"genre_predicted"`
	Preset       string  `json:"preset"`
	Confidence   float64 `json:"confidence"`
	Top3         string  `json:"top_3"`
	Source       string  `json:"source"`
	Timestamp    string  `json:"timestamp"`
	ModelVersion string  `json:"model_version"`
}

// BadgerLog keeps the prediction log in an embedded key-value store, keyed
// by a big-endian sequence number so iteration order is insertion order.
type BadgerLog struct {
	mu  sync.Mutex
	db  *badger.DB
	seq uint64
}

// OpenBadgerLog opens a store in dir. An empty dir opens an in-memory store.
func OpenBadgerLog(dir string) (*BadgerLog, error) {
	opts := badger.DefaultOptions(dir).WithSyncWrites(true).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	l := &BadgerLog{db: db}
	if err := l.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *BadgerLog) loadSeq() error {
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, badgerPrefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seekKey)
		if it.ValidForPrefix(badgerPrefix) {
			l.seq = binary.BigEndian.Uint64(it.Item().Key()[len(badgerPrefix):])
		}
		return nil
	})
}

func badgerKey(seq uint64) []byte {
	k := make([]byte, len(badgerPrefix)+8)
	copy(k, badgerPrefix)
	binary.BigEndian.PutUint64(k[len(badgerPrefix):], seq)
	return k
}

func (l *BadgerLog) Append(rec models.PredictionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	val, err := json.Marshal(badgerRecord{
		TrackID:      rec.TrackID,
		TrackName:    rec.TrackName,
		Artist:       rec.Artist,
		Genre:        orUnknown(rec.Genre),
		Preset:       rec.Preset,
		Confidence:   rec.Confidence,
		Top3:         FormatAlternatives(rec.TopAlternatives),
		Source:       rec.Source.String(),
		Timestamp:    formatTime(rec.Timestamp),
		ModelVersion: orUnknown(rec.ModelVersion),
	})
	if err != nil {
		return fmt.Errorf("encode prediction: %w", err)
	}

	next := l.seq + 1
	if err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(next), val)
	}); err != nil {
		return fmt.Errorf("write prediction: %w", err)
	}
	l.seq = next
	return nil
}

func (l *BadgerLog) Iterate(fn func(models.PredictionRecord) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(badgerPrefix); it.ValidForPrefix(badgerPrefix); it.Next() {
			var br badgerRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &br)
			}); err != nil {
				continue
			}
			if br.TrackID == "" {
				continue
			}
			rec := models.PredictionRecord{
				TrackID:         br.TrackID,
				TrackName:       orUnknown(br.TrackName),
				Artist:          orUnknown(br.Artist),
				Genre:           orUnknown(br.Genre),
				Preset:          orUnknown(br.Preset),
				Confidence:      clamp01(br.Confidence),
				TopAlternatives: ParseAlternatives(br.Top3),
				Source:          models.ParseSource(br.Source),
				ModelVersion:    orUnknown(br.ModelVersion),
				Timestamp:       parseTime(br.Timestamp),
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *BadgerLog) Truncate(max int) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if max < 0 {
		max = 0
	}
	var keys [][]byte
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(badgerPrefix); it.ValidForPrefix(badgerPrefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("scan predictions: %w", err)
	}
	if len(keys) <= max {
		return len(keys), 0, nil
	}

	drop := keys[:len(keys)-max]
	wb := l.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range drop {
		if err := wb.Delete(k); err != nil {
			return 0, 0, fmt.Errorf("delete prediction: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, 0, fmt.Errorf("flush deletes: %w", err)
	}
	return max, len(drop), nil
}

func (l *BadgerLog) Close() error {
	return l.db.Close()
}
