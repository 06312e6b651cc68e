// Package preview fetches a short audio clip for a track: the Spotify
// preview when there is one, otherwise the track's YouTube audio.
package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"auto-eq/internal/dataset"
	"auto-eq/internal/logging"
	"auto-eq/internal/metrics"
	"auto-eq/internal/models"
)

const UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// MinTitleSimilarity is the lowest Jaro-Winkler score between the track and
// a YouTube video's "artist title" for the video's audio to be used.
const MinTitleSimilarity = 0.65

// ErrNoPreview means the track has no clip anywhere. It is an expected
// outcome, not a failure.
var ErrNoPreview = errors.New("no preview available")

type Config struct {
	Timeout     time.Duration `koanf:"timeout"`
	MinInterval time.Duration `koanf:"min_interval"`
	MaxBytes    int64         `koanf:"max_bytes" validate:"gte=0"`
	YouTube     bool          `koanf:"youtube"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MinInterval: 666 * time.Millisecond,
		MaxBytes:    8 << 20,
		YouTube:     true,
	}
}

// VideoIDs finds a YouTube id for tracks the player does not link.
type VideoIDs interface {
	Lookup(id, name, artist string) (dataset.Row, bool)
}

type Fetcher struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]
	yt      *youtube.Client
	ids     VideoIDs
	log     zerolog.Logger
}

func New(cfg Config, ids VideoIDs) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig().MaxBytes
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	log := logging.Component("preview")
	f := &Fetcher{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		ids:     ids,
		log:     log,
	}
	f.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "preview",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] state change")
			metrics.RecordBreakerState(name, int(to))
		},
	})
	if cfg.YouTube {
		f.yt = &youtube.Client{HTTPClient: f.http}
	}
	return f
}

// Fetch returns the clip and a format hint ("mp3", "webm", ...).
func (f *Fetcher) Fetch(ctx context.Context, t models.Track) (io.ReadCloser, string, error) {
	var errs []error
	if t.PreviewURL != "" {
		rc, hint, err := f.fetchURL(ctx, t.PreviewURL)
		if err == nil {
			return rc, hint, nil
		}
		f.log.Debug().Err(err).Str("track", t.String()).Msg("preview url failed")
		errs = append(errs, err)
	}

	if vid := f.videoID(t); vid != "" && f.yt != nil {
		rc, hint, err := f.fetchYouTube(ctx, vid, t)
		if err == nil {
			return rc, hint, nil
		}
		f.log.Debug().Err(err).Str("video_id", vid).Msg("youtube audio failed")
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil, "", ErrNoPreview
	}
	return nil, "", errors.Join(errs...)
}

func (f *Fetcher) videoID(t models.Track) string {
	if t.YouTubeID != "" {
		return t.YouTubeID
	}
	if f.ids == nil {
		return ""
	}
	if row, ok := f.ids.Lookup(t.ID, t.Name, t.Artist); ok {
		return row.YouTubeID
	}
	return ""
}

func (f *Fetcher) fetchURL(ctx context.Context, url string) (io.ReadCloser, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	resp, err := f.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", UserAgent)
		req.Header.Set("Accept", "audio/*")
		resp, err := f.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, fmt.Errorf("preview request: status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, "", err
	}
	return f.limit(resp.Body), hintFor(resp.Header.Get("Content-Type"), url), nil
}

// fetchYouTube streams the lowest-bitrate audio-only format of a video
// whose title matches the track.
func (f *Fetcher) fetchYouTube(ctx context.Context, id string, t models.Track) (io.ReadCloser, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	video, err := f.yt.GetVideoContext(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("get video %s: %w", id, err)
	}
	if score, ok := titleMatches(t, video.Title, video.Author); !ok {
		return nil, "", fmt.Errorf("video %s %q does not match %s (similarity %.2f)", id, video.Title, t, score)
	}
	formats := video.Formats.Type("audio")
	if len(formats) == 0 {
		return nil, "", fmt.Errorf("video %s has no audio-only format", id)
	}
	sort.SliceStable(formats, func(i, j int) bool { return formats[i].Bitrate < formats[j].Bitrate })
	format := formats[0]

	stream, _, err := f.yt.GetStreamContext(ctx, video, &format)
	if err != nil {
		return nil, "", fmt.Errorf("open stream: %w", err)
	}
	return f.limit(stream), hintFor(format.MimeType, ""), nil
}

// titleMatches scores a video title against the track it should carry.
// Tracks without a name or artist cannot be checked and always match.
func titleMatches(t models.Track, videoTitle, uploader string) (float64, bool) {
	if t.Name == "" || t.Artist == "" {
		return 1, true
	}
	artist, title := dataset.SplitVideoTitle(videoTitle, uploader)
	score := dataset.Similarity(t.Artist, t.Name, artist, title)
	return score, score >= MinTitleSimilarity
}

type limitedBody struct {
	io.Reader
	io.Closer
}

func (f *Fetcher) limit(rc io.ReadCloser) io.ReadCloser {
	return limitedBody{Reader: io.LimitReader(rc, f.cfg.MaxBytes), Closer: rc}
}

// hintFor names the container from a MIME type, falling back to the URL
// extension.
func hintFor(contentType, url string) string {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/webm":
		return "webm"
	case "audio/mp4", "audio/aac", "audio/x-m4a":
		return "m4a"
	case "audio/ogg":
		return "ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	}
	if ext := strings.TrimPrefix(path.Ext(strings.SplitN(url, "?", 2)[0]), "."); ext != "" {
		return strings.ToLower(ext)
	}
	return ""
}
