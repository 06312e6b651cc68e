// Package spotify polls the listener's player for the current track.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/time/rate"

	"auto-eq/internal/logging"
	"auto-eq/internal/metrics"
	"auto-eq/internal/models"
)

type Config struct {
	ClientID     string        `koanf:"client_id"`
	ClientSecret string        `koanf:"client_secret"`
	RedirectURL  string        `koanf:"redirect_url" validate:"omitempty,url"`
	TokenFile    string        `koanf:"token_file"`
	Timeout      time.Duration `koanf:"timeout"`
	LoginTimeout time.Duration `koanf:"login_timeout"`
	// MinInterval spaces API calls.
	MinInterval time.Duration `koanf:"min_interval"`
}

func DefaultConfig() Config {
	return Config{
		RedirectURL:  "http://127.0.0.1:8888/callback",
		TokenFile:    "data/spotify_token.json",
		Timeout:      5 * time.Second,
		LoginTimeout: 2 * time.Minute,
		MinInterval:  500 * time.Millisecond,
	}
}

// API is the subset of the Web API client the source calls.
type API interface {
	PlayerCurrentlyPlaying(ctx context.Context, opts ...spotify.RequestOption) (*spotify.CurrentlyPlaying, error)
	GetArtist(ctx context.Context, id spotify.ID) (*spotify.FullArtist, error)
}

// Source reports the track in the listener's player. Artist genres are
// fetched once per artist and kept for the life of the source.
type Source struct {
	api     API
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*models.Track]
	timeout time.Duration

	mu     sync.Mutex
	genres map[spotify.ID][]string

	log zerolog.Logger
}

// New wires a source to the Web API through an authenticated client.
func New(ctx context.Context, cfg Config) (*Source, error) {
	hc, err := HTTPClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewSource(spotify.New(hc), cfg), nil
}

func NewSource(api API, cfg Config) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	log := logging.Component("spotify")
	return &Source{
		api:     api,
		limiter: rate.NewLimiter(limit, 1),
		breaker: newBreaker("spotify", log),
		timeout: cfg.Timeout,
		genres:  make(map[spotify.ID][]string),
		log:     log,
	}
}

func newBreaker(name string, log zerolog.Logger) *gobreaker.CircuitBreaker[*models.Track] {
	return gobreaker.NewCircuitBreaker[*models.Track](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] state change")
			metrics.RecordBreakerState(name, int(to))
		},
	})
}

// NowPlaying returns nil, nil when nothing is playing.
func (s *Source) NowPlaying(ctx context.Context) (*models.Track, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	t, err := s.breaker.Execute(func() (*models.Track, error) {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		cp, err := s.api.PlayerCurrentlyPlaying(cctx)
		if err != nil {
			return nil, fmt.Errorf("currently playing: %w", err)
		}
		if cp == nil || cp.Item == nil {
			return nil, nil
		}
		t := transform(*cp.Item)
		t.IsPlaying = cp.Playing
		t.ProgressMs = int(cp.Progress)
		return &t, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("spotify unavailable: %w", err)
		}
		return nil, err
	}
	if t != nil {
		t.GenreTags, t.TagsPartial = s.artistGenres(ctx, t.ArtistIDs)
	}
	return t, nil
}

// artistGenres merges the genres of every credited artist. Lookup failures
// are not cached so the next poll retries them; partial reports whether any
// happened.
func (s *Source) artistGenres(ctx context.Context, ids []string) (out []string, partial bool) {
	seen := map[string]bool{}
	for _, raw := range ids {
		id := spotify.ID(raw)
		s.mu.Lock()
		g, ok := s.genres[id]
		s.mu.Unlock()
		if !ok {
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			a, err := s.api.GetArtist(cctx, id)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Str("artist_id", raw).Msg("artist genres unavailable")
				partial = true
				continue
			}
			g = a.Genres
			s.mu.Lock()
			s.genres[id] = g
			s.mu.Unlock()
		}
		for _, genre := range g {
			if !seen[genre] {
				seen[genre] = true
				out = append(out, genre)
			}
		}
	}
	return out, partial
}

func transform(st spotify.FullTrack) models.Track {
	var names, ids []string
	for _, a := range st.Artists {
		names = append(names, a.Name)
		ids = append(ids, string(a.ID))
	}
	t := models.Track{
		ID:         string(st.ID),
		Name:       st.Name,
		ArtistIDs:  ids,
		Album:      st.Album.Name,
		Popularity: int(st.Popularity),
		PreviewURL: st.PreviewURL,
	}
	// the dataset and announcements key on the lead artist
	if len(names) > 0 {
		t.Artist = names[0]
	}
	return t
}
