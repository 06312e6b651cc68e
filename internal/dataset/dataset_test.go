package dataset

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"auto-eq/internal/presets"
)

const sample = `track_id,track_name,artist,genres,cluster,youtube_id
1a,Enter Sandman,Metallica,"metal, hard rock, thrash metal",3,yt1
2b,So What,Miles Davis,"jazz, cool jazz",5,
3c,Bohemian Rhapsody - Remastered 2011,Queen,"classic rock, glam rock",3,yt3
4d,Unknown Song,Nobody,,x,
,,,,,
5e,Master of Puppets,Metallica,"metal, thrash metal",3,
`

func load(t *testing.T) *Dataset {
	t.Helper()
	d, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestParse(t *testing.T) {
	d := load(t)
	if d.Len() != 5 {
		t.Fatalf("Len = %d, want 5", d.Len())
	}
	r, ok := d.ByID("1a")
	if !ok {
		t.Fatal("1a missing")
	}
	if len(r.Genres) != 3 || r.Genres[1] != "hard rock" || r.Cluster != 3 || r.YouTubeID != "yt1" {
		t.Errorf("row = %+v", r)
	}
	if r, _ := d.ByID("4d"); r.Cluster != NoCluster || r.Genres != nil {
		t.Errorf("bad cluster/empty genres: %+v", r)
	}
}

func TestParseAliasedHeaders(t *testing.T) {
	d, err := Parse(strings.NewReader("Title,Artist_Name,Genre\nHello,Adele,\"pop, soul\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	r, ok := d.Lookup("", "hello", "adele")
	if !ok || r.Genres[0] != "pop" {
		t.Errorf("Lookup = %+v, %v", r, ok)
	}
}

func TestLookup(t *testing.T) {
	d := load(t)
	tests := []struct {
		name   string
		id     string
		track  string
		artist string
		want   string
	}{
		{"by id", "2b", "", "", "2b"},
		{"containment", "", "sandman", "metallica", "1a"},
		{"case insensitive", "", "SO WHAT", "miles", "2b"},
		{"cleaned title", "", "Bohemian Rhapsody (Official Video)", "Queen", "3c"},
		{"fuzzy", "", "Master of Pupets", "Metalica", "5e"},
		{"no match", "", "Completely Different", "Someone Else", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := d.Lookup(tt.id, tt.track, tt.artist)
			if tt.want == "" {
				if ok {
					t.Errorf("unexpected match %+v", r)
				}
				return
			}
			if !ok || r.TrackID != tt.want {
				t.Errorf("Lookup = %q, %v; want %q", r.TrackID, ok, tt.want)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	d := load(t)
	if got := d.Search("metallica", 10); len(got) != 2 {
		t.Errorf("Search = %d rows, want 2", len(got))
	}
	if got := d.Search("metallica", 1); len(got) != 1 || got[0].TrackID != "1a" {
		t.Errorf("limited Search = %v", got)
	}
	if d.Search("", 5) != nil {
		t.Error("empty query should return nil")
	}
}

func TestClusterPreset(t *testing.T) {
	d := load(t)
	m := presets.NewMapping(presets.NewCatalog(), presets.DefaultFallback)
	if got := d.ClusterPreset(3, m); got != "metal" {
		t.Errorf("cluster 3 = %s, want metal", got)
	}
	if got := d.ClusterPreset(99, m); got != presets.DefaultFallback {
		t.Errorf("empty cluster = %s", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	d, err := Load(filepath.Join(t.TempDir(), "missing.csv"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v", err)
	}
	if d == nil || d.Len() != 0 {
		t.Error("missing file should yield an empty dataset")
	}
}

func TestCleanTitle(t *testing.T) {
	tests := map[string]string{
		"Song (Official Video)":          "Song",
		"Song (feat. Someone)":           "Song",
		"Song - 2011 Remaster":           "Song",
		"Song [HD]":                      "Song",
		"Left Behind":                    "Left Behind",
		"Bohemian Rhapsody - Remastered": "Bohemian Rhapsody",
	}
	for in, want := range tests {
		if got := CleanTitle(in); got != want {
			t.Errorf("CleanTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitVideoTitle(t *testing.T) {
	a, title := SplitVideoTitle("Metallica - Enter Sandman (Official Music Video)", "MetallicaTV")
	if a != "Metallica" || title != "Enter Sandman" {
		t.Errorf("got %q / %q", a, title)
	}
	a, title = SplitVideoTitle("Enter Sandman", "Metallica - Topic")
	if a != "Metallica" || title != "Enter Sandman" {
		t.Errorf("uploader fallback got %q / %q", a, title)
	}
	if s := Similarity("Metallica", "Enter Sandman", "metallica", "Enter Sandman (Remastered)"); s < MatchThreshold {
		t.Errorf("Similarity = %v", s)
	}
}
