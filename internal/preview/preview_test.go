package preview

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"auto-eq/internal/dataset"
	"auto-eq/internal/models"
)

func TestFetchPreviewURL(t *testing.T) {
	body := strings.Repeat("ID3", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != UserAgent {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		io.WriteString(w, body)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MinInterval = 0
	cfg.MaxBytes = 120
	cfg.YouTube = false
	f := New(cfg, nil)

	rc, hint, err := f.Fetch(context.Background(), models.Track{PreviewURL: srv.URL + "/mp3-preview/abc"})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if hint != "mp3" || len(got) != 120 {
		t.Errorf("hint %q, %d bytes", hint, len(got))
	}

	_, _, err = f.Fetch(context.Background(), models.Track{PreviewURL: srv.URL + "/missing"})
	if err == nil || errors.Is(err, ErrNoPreview) {
		t.Errorf("404 should be a fetch error, got %v", err)
	}
}

func TestNoPreview(t *testing.T) {
	f := New(DefaultConfig(), nil)
	if _, _, err := f.Fetch(context.Background(), models.Track{Name: "Song"}); !errors.Is(err, ErrNoPreview) {
		t.Errorf("err = %v", err)
	}
}

type ids map[string]string

func (m ids) Lookup(_, name, _ string) (dataset.Row, bool) {
	v, ok := m[name]
	return dataset.Row{YouTubeID: v}, ok
}

func TestVideoID(t *testing.T) {
	f := New(DefaultConfig(), ids{"Song": "dQw4w9WgXcQ"})
	tests := []struct {
		track models.Track
		want  string
	}{
		{models.Track{YouTubeID: "own", Name: "Song"}, "own"},
		{models.Track{Name: "Song"}, "dQw4w9WgXcQ"},
		{models.Track{Name: "Other"}, ""},
	}
	for _, tt := range tests {
		if got := f.videoID(tt.track); got != tt.want {
			t.Errorf("videoID(%+v) = %q, want %q", tt.track, got, tt.want)
		}
	}
}

func TestHintFor(t *testing.T) {
	tests := map[[2]string]string{
		{"audio/mpeg", ""}:                       "mp3",
		{`audio/webm; codecs="opus"`, ""}:        "webm",
		{`audio/mp4; codecs="mp4a.40.2"`, ""}:    "m4a",
		{"application/octet-stream", "/a.OGG"}:   "ogg",
		{"", "https://x/clip.wav?sig=1"}:         "wav",
		{"", "https://p.scdn.co/mp3-preview/ab"}: "",
	}
	for in, want := range tests {
		if got := hintFor(in[0], in[1]); got != want {
			t.Errorf("hintFor(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestTitleMatches(t *testing.T) {
	tests := []struct {
		name     string
		track    models.Track
		title    string
		uploader string
		want     bool
	}{
		{"same song", models.Track{Name: "Enter Sandman", Artist: "Metallica"}, "Metallica - Enter Sandman (Official Music Video)", "MetallicaTV", true},
		{"topic channel", models.Track{Name: "Enter Sandman (Remastered)", Artist: "Metallica"}, "Enter Sandman", "Metallica - Topic", true},
		{"different song", models.Track{Name: "Hello", Artist: "Adele"}, "Rick Astley - Never Gonna Give You Up (Official Video)", "Rick Astley", false},
		{"nothing to compare", models.Track{ID: "x"}, "anything", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, ok := titleMatches(tt.track, tt.title, tt.uploader)
			if ok != tt.want {
				t.Errorf("titleMatches = %.2f, %v, want %v", score, ok, tt.want)
			}
		})
	}
}
