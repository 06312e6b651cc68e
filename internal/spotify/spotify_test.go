package spotify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

type fakeAPI struct {
	playing     *spotify.CurrentlyPlaying
	playErr     error
	artists     map[spotify.ID][]string
	artistErr   error
	artistCalls int
}

func (f *fakeAPI) PlayerCurrentlyPlaying(context.Context, ...spotify.RequestOption) (*spotify.CurrentlyPlaying, error) {
	return f.playing, f.playErr
}

func (f *fakeAPI) GetArtist(_ context.Context, id spotify.ID) (*spotify.FullArtist, error) {
	f.artistCalls++
	if f.artistErr != nil {
		return nil, f.artistErr
	}
	a := &spotify.FullArtist{}
	a.Genres = f.artists[id]
	return a, nil
}

func playing(id string) *spotify.CurrentlyPlaying {
	ft := spotify.FullTrack{
		SimpleTrack: spotify.SimpleTrack{
			ID:   spotify.ID(id),
			Name: "Umbrella",
			Artists: []spotify.SimpleArtist{
				{Name: "Rihanna", ID: "a1"},
				{Name: "JAY-Z", ID: "a2"},
			},
			PreviewURL: "https://p.scdn.co/mp3-preview/x",
		},
		Album:      spotify.SimpleAlbum{Name: "Good Girl Gone Bad"},
		Popularity: 84,
	}
	return &spotify.CurrentlyPlaying{Playing: true, Progress: 42000, Item: &ft}
}

func TestNowPlaying(t *testing.T) {
	api := &fakeAPI{
		playing: playing("t1"),
		artists: map[spotify.ID][]string{
			"a1": {"barbadian pop", "dance pop"},
			"a2": {"hip hop", "dance pop"},
		},
	}
	s := NewSource(api, Config{})

	for i := 0; i < 2; i++ {
		tr, err := s.NowPlaying(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if tr.ID != "t1" || tr.Artist != "Rihanna" || tr.Album != "Good Girl Gone Bad" || tr.Popularity != 84 {
			t.Errorf("track = %+v", tr)
		}
		if !tr.IsPlaying || tr.ProgressMs != 42000 || tr.PreviewURL == "" {
			t.Errorf("playback fields = %+v", tr)
		}
		want := []string{"barbadian pop", "dance pop", "hip hop"}
		if !reflect.DeepEqual(tr.GenreTags, want) {
			t.Errorf("genres = %v, want %v", tr.GenreTags, want)
		}
	}
	if api.artistCalls != 2 {
		t.Errorf("artist lookups = %d, want 2 (memoised)", api.artistCalls)
	}
}

func TestNothingPlaying(t *testing.T) {
	s := NewSource(&fakeAPI{playing: &spotify.CurrentlyPlaying{}}, Config{})
	tr, err := s.NowPlaying(context.Background())
	if tr != nil || err != nil {
		t.Errorf("got %+v, %v", tr, err)
	}
}

func TestArtistFailureIsRetried(t *testing.T) {
	api := &fakeAPI{playing: playing("t1"), artistErr: errors.New("502")}
	s := NewSource(api, Config{})
	tr, err := s.NowPlaying(context.Background())
	if err != nil || len(tr.GenreTags) != 0 || !tr.TagsPartial {
		t.Fatalf("got %+v, %v", tr, err)
	}
	api.artistErr = nil
	api.artists = map[spotify.ID][]string{"a1": {"pop"}}
	tr, _ = s.NowPlaying(context.Background())
	if !reflect.DeepEqual(tr.GenreTags, []string{"pop"}) || tr.TagsPartial {
		t.Errorf("genres after recovery = %v, partial %v", tr.GenreTags, tr.TagsPartial)
	}
}

func TestBreakerOpens(t *testing.T) {
	api := &fakeAPI{playErr: errors.New("timeout")}
	s := NewSource(api, Config{})
	for i := 0; i < 5; i++ {
		if _, err := s.NowPlaying(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	}
	_, err := s.NowPlaying(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want open breaker", err)
	}
}

func TestTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "token.json")
	store := TokenStore{Path: path}
	expiry := time.Unix(1767225600, 500_000_000)
	in := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", Expiry: expiry}
	if err := store.Save(in); err != nil {
		t.Fatal(err)
	}
	out, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if out.AccessToken != "at" || out.RefreshToken != "rt" || out.Expiry.Sub(expiry).Abs() > time.Millisecond {
		t.Errorf("token = %+v", out)
	}

	_ = os.WriteFile(path, []byte(`{"access_token": ""}`), 0o600)
	if _, err := store.Load(); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("empty token: err = %v", err)
	}
}

func TestHTTPClientNeedsLogin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenFile = filepath.Join(t.TempDir(), "none.json")
	if _, err := HTTPClient(context.Background(), cfg); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("err = %v", err)
	}
}

func TestSavingSourceKeepsFreshToken(t *testing.T) {
	tok := &oauth2.Token{AccessToken: "at", Expiry: time.Now().Add(time.Hour)}
	s := &savingSource{tok: tok}
	got, err := s.Token()
	if err != nil || got != tok {
		t.Errorf("got %v, %v", got, err)
	}

	s.tok = &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(10 * time.Second)}
	if _, err := s.Token(); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expiring token without refresh: err = %v", err)
	}
}
