// Package report renders the one-shot CLI outputs: cache statistics, prune
// results, dataset searches and the listener profile.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"auto-eq/internal/dataset"
	"auto-eq/internal/predcache"
	"auto-eq/internal/profile"
)

var (
	primaryColor = lipgloss.Color("#1E90FF")
	mutedColor   = lipgloss.Color("#888888")
	textColor    = lipgloss.Color("#FFFFFF")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	KeyStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(18)

	ValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

const barWidth = 20

func kv(b *strings.Builder, key string, value any) {
	fmt.Fprintf(b, "%s %s\n", KeyStyle.Render(key), ValueStyle.Render(fmt.Sprint(value)))
}

func bar(frac float64) string {
	frac = min(max(frac, 0), 1)
	n := int(frac*barWidth + 0.5)
	return lipgloss.NewStyle().Foreground(primaryColor).Render(strings.Repeat("█", n)) +
		lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")).Render(strings.Repeat("░", barWidth-n))
}

func day(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

// CacheStats renders the prediction cache summary.
func CacheStats(s predcache.Stats, maxEntries int) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Prediction cache") + "\n")
	if s.Total == 0 {
		b.WriteString(KeyStyle.Render("empty") + "\n")
		return b.String()
	}

	kv(&b, "Entries", fmt.Sprintf("%d / %d", s.Total, maxEntries))
	kv(&b, "Mean confidence", fmt.Sprintf("%.2f", s.MeanConfidence))
	kv(&b, "Oldest", day(s.Oldest))
	kv(&b, "Newest", day(s.Newest))

	b.WriteString("\n" + KeyStyle.Render("Top presets") + "\n")
	for _, c := range s.TopPresets {
		fmt.Fprintf(&b, "  %-16s %s %d\n", c.Name, bar(float64(c.Count)/float64(s.Total)), c.Count)
	}
	b.WriteString("\n" + KeyStyle.Render("Top genres") + "\n")
	for _, c := range s.TopGenres {
		fmt.Fprintf(&b, "  %-16s %d\n", c.Name, c.Count)
	}
	b.WriteString("\n" + KeyStyle.Render("Sources") + "\n")
	for _, k := range sortedKeys(s.Sources) {
		fmt.Fprintf(&b, "  %-16s %d\n", k, s.Sources[k])
	}
	b.WriteString("\n" + KeyStyle.Render("Model versions") + "\n")
	for _, k := range sortedKeys(s.ModelVersions) {
		fmt.Fprintf(&b, "  %-16s %d\n", k, s.ModelVersions[k])
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

// Pruned renders the result of a manual prune.
func Pruned(kept, pruned, max int) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Prune") + "\n")
	kv(&b, "Limit", max)
	kv(&b, "Kept", kept)
	kv(&b, "Removed", pruned)
	return b.String()
}

// DatasetMatches lists search hits with the preset each would resolve to.
func DatasetMatches(query string, rows []dataset.Row, presetFor func(dataset.Row) string) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Dataset matches for %q", query)) + "\n")
	if len(rows) == 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render("no matches") + "\n")
		return b.String()
	}
	for _, r := range rows {
		genres := strings.Join(r.Genres, ", ")
		if genres == "" {
			genres = "-"
		}
		kv(&b, r.TrackID, fmt.Sprintf("%s - %s  [%s] → %s", r.Artist, r.TrackName, genres, presetFor(r)))
	}
	return b.String()
}

// ProfileSource is the read side of a listener profile.
type ProfileSource interface {
	Snapshot() profile.Data
	TopGenres(n int) []profile.GenreScore
	SkipRateForGenre(genre string) float64
	PresetStats(preset string) profile.PresetStats
	ExportFeedbackForTraining(minPerGenre int) []profile.TrainingSample
	Path() string
}

// Profile renders listening stats, the strongest genre affinities and the
// confidence recorded per preset.
func Profile(p ProfileSource, top int, trainingConfidence float64) string {
	d := p.Snapshot()
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Listener profile") + "\n")
	kv(&b, "File", p.Path())
	kv(&b, "Created", day(d.Created))
	kv(&b, "Updated", day(d.LastUpdated))
	kv(&b, "Sessions", d.ListeningStats.Sessions)
	kv(&b, "Tracks", d.ListeningStats.TotalTracks)
	kv(&b, "Skips", d.ListeningStats.TotalSkips)
	kv(&b, "Replays", d.ListeningStats.TotalReplays)
	kv(&b, "Feedback events", fmt.Sprintf("%d (%d lifetime)", len(d.FeedbackLog), d.ListeningStats.TotalFeedback))
	kv(&b, "Training data", fmt.Sprintf("%.0f%%", trainingConfidence*100))
	kv(&b, "Training samples", len(p.ExportFeedbackForTraining(profile.TrainingMinPerGenre)))

	genres := p.TopGenres(top)
	if len(genres) > 0 {
		b.WriteString("\n" + KeyStyle.Render("Genre affinity") + "\n")
		for _, g := range genres {
			fmt.Fprintf(&b, "  %-16s %s %.2f  skip %.0f%%\n",
				g.Genre, bar(g.Affinity), g.Affinity, p.SkipRateForGenre(g.Genre)*100)
		}
	}

	names := make([]string, 0, len(d.PresetPreferences))
	for name := range d.PresetPreferences {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := len(d.PresetPreferences[names[i]]), len(d.PresetPreferences[names[j]])
		if ci != cj {
			return ci > cj
		}
		return names[i] < names[j]
	})
	if len(names) > top {
		names = names[:top]
	}
	if len(names) > 0 {
		b.WriteString("\n" + KeyStyle.Render("Preset confidence") + "\n")
		for _, name := range names {
			st := p.PresetStats(name)
			fmt.Fprintf(&b, "  %-16s %3d  avg %.2f  min %.2f  max %.2f\n", name, st.Count, st.AvgConfidence, st.Min, st.Max)
		}
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

// Print writes a rendered report.
func Print(w io.Writer, s string) {
	fmt.Fprint(w, s)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
