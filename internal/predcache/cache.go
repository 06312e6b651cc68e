// Package predcache is the bounded track-id → prediction store.
//
// The in-memory map answers lookups; every Put is also appended to a durable
// Log. When an append fails the record stays in memory and the write is
// retried on the next Put.
package predcache

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"auto-eq/internal/logging"
	"auto-eq/internal/metrics"
	"auto-eq/internal/models"
)

// DefaultMaxEntries bounds the cache when no limit is configured.
const DefaultMaxEntries = 5000

type Cache struct {
	mu         sync.Mutex
	store      Log
	maxEntries int
	records    map[string]models.PredictionRecord
	order      []string // insertion order, oldest first
	pending    []models.PredictionRecord
	log        zerolog.Logger
}

// Open loads every record from the log (later records for an id supersede
// earlier ones) and prunes to maxEntries if the log has outgrown it.
func Open(l Log, maxEntries int) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Cache{
		store:      l,
		maxEntries: maxEntries,
		records:    make(map[string]models.PredictionRecord),
		log:        logging.Component("cache"),
	}

	rows := 0
	if err := l.Iterate(func(r models.PredictionRecord) error {
		rows++
		c.insert(r)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load prediction log: %w", err)
	}
	c.log.Info().Int("records", len(c.order)).Int("rows", rows).Msg("prediction cache loaded")
	metrics.SetCacheEntries(len(c.order))

	if rows > maxEntries {
		kept, pruned, err := c.Prune(maxEntries)
		if err != nil {
			c.log.Warn().Err(err).Msg("startup prune failed")
		} else {
			c.log.Info().Int("kept", kept).Int("pruned", pruned).Msg("prediction cache pruned at startup")
		}
	}
	return c, nil
}

func (c *Cache) insert(r models.PredictionRecord) {
	if _, ok := c.records[r.TrackID]; ok {
		c.removeFromOrder(r.TrackID)
	}
	c.records[r.TrackID] = r
	c.order = append(c.order, r.TrackID)
}

func (c *Cache) removeFromOrder(id string) {
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Get returns the cached record for a track id.
func (c *Cache) Get(trackID string) (models.PredictionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[trackID]
	return r, ok
}

// Put stores a record in memory and appends it to the log. On a log error the
// memory copy is kept and the append is queued for the next call.
func (c *Cache) Put(r models.PredictionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.insert(r)
	metrics.SetCacheEntries(len(c.order))
	c.pending = append(c.pending, r)
	return c.flushLocked()
}

// Flush retries any appends that failed earlier.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *Cache) flushLocked() error {
	for len(c.pending) > 0 {
		if err := c.store.Append(c.pending[0]); err != nil {
			c.log.Warn().Err(err).Int("pending", len(c.pending)).Msg("prediction log append failed, will retry")
			return fmt.Errorf("append prediction: %w", err)
		}
		c.pending = c.pending[1:]
	}
	return nil
}

// Prune keeps the newest max records in memory and in the log.
// Pruning an already pruned store changes nothing.
func (c *Cache) Prune(max int) (kept, pruned int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if max < 0 {
		max = 0
	}
	if err := c.flushLocked(); err != nil {
		return len(c.order), 0, err
	}

	before := len(c.order)
	if before > max {
		for _, id := range c.order[:before-max] {
			delete(c.records, id)
		}
		c.order = append([]string(nil), c.order[before-max:]...)
	}
	metrics.SetCacheEntries(len(c.order))

	if _, _, err := c.store.Truncate(max); err != nil {
		return len(c.order), before - len(c.order), fmt.Errorf("truncate prediction log: %w", err)
	}
	return len(c.order), before - len(c.order), nil
}

// Len is the number of cached track ids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// MaxEntries is the configured bound.
func (c *Cache) MaxEntries() int { return c.maxEntries }

// Records returns a snapshot in insertion order.
func (c *Cache) Records() []models.PredictionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.PredictionRecord, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id])
	}
	return out
}

// Stats aggregates the in-memory records, or the log when memory is empty.
func (c *Cache) Stats() (Stats, error) {
	recs := c.Records()
	if len(recs) > 0 {
		return computeStats(recs), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Iterate(func(r models.PredictionRecord) error {
		recs = append(recs, r)
		return nil
	}); err != nil {
		return Stats{}, fmt.Errorf("read prediction log: %w", err)
	}
	return computeStats(recs), nil
}

// Close flushes pending appends and closes the log.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.flushLocked(); err != nil {
		c.log.Error().Err(err).Int("lost", len(c.pending)).Msg("closing with unwritten predictions")
	}
	return c.store.Close()
}
