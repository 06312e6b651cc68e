package predcache

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"auto-eq/internal/models"
)

// Unknown fills fields absent from older log schemas.
const Unknown = "unknown"

// Log is the durable, append-only record of predictions.
type Log interface {
	// Append durably writes one record before returning.
	Append(rec models.PredictionRecord) error
	// Iterate visits records oldest first, stopping at the first error fn returns.
	Iterate(fn func(models.PredictionRecord) error) error
	// Truncate keeps only the newest max records.
	Truncate(max int) (kept, pruned int, err error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// OpenLog opens the log backend at path.
func OpenLog(backend, path string) (Log, error) {
	switch backend {
	case BackendCSV, "":
		return OpenCSVLog(path)
	case BackendSQLite:
		return OpenSQLiteLog(path)
	case BackendBadger:
		return OpenBadgerLog(path)
	}
	return nil, fmt.Errorf("unknown prediction log backend %q", backend)
}

// FormatAlternatives renders top alternatives as "rock:0.420|metal:0.380".
func FormatAlternatives(alts []models.Alternative) string {
	parts := make([]string, 0, len(alts))
	for _, a := range alts {
		parts = append(parts, fmt.Sprintf("%s:%.3f", a.Genre, a.Probability))
	}
	return strings.Join(parts, "|")
}

// ParseAlternatives reverses FormatAlternatives, skipping malformed pairs.
func ParseAlternatives(s string) []models.Alternative {
	s = strings.TrimSpace(s)
	if s == "" || s == Unknown {
		return nil
	}
	var out []models.Alternative
	for _, part := range strings.Split(s, "|") {
		i := strings.LastIndex(part, ":")
		if i <= 0 {
			continue
		}
		p, err := strconv.ParseFloat(part[i+1:], 64)
		if err != nil {
			continue
		}
		out = append(out, models.Alternative{Genre: part[:i], Probability: p})
		if len(out) == 3 {
			break
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return Unknown
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}
