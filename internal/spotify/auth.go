package spotify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"auto-eq/internal/logging"
)

var (
	ErrNotAuthenticated = errors.New("spotify: not authenticated, run with --login")
	ErrLoginTimeout     = errors.New("spotify: timed out waiting for authorization")
)

// refreshMargin renews tokens shortly before they expire.
const refreshMargin = time.Minute

// TokenStore keeps the user token as {access_token, refresh_token, expires_at}
// with expires_at in unix seconds.
type TokenStore struct {
	Path string
}

type tokenFile struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    float64 `json:"expires_at"`
}

func (s TokenStore) Load() (*oauth2.Token, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	var f tokenFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if f.AccessToken == "" && f.RefreshToken == "" {
		return nil, ErrNotAuthenticated
	}
	sec, frac := math.Modf(f.ExpiresAt)
	return &oauth2.Token{
		AccessToken:  f.AccessToken,
		RefreshToken: f.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Unix(int64(sec), int64(frac*1e9)),
	}, nil
}

func (s TokenStore) Save(t *oauth2.Token) error {
	f := tokenFile{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
	if !t.Expiry.IsZero() {
		f.ExpiresAt = float64(t.Expiry.UnixNano()) / 1e9
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	return os.WriteFile(s.Path, raw, 0o600)
}

func newAuthenticator(cfg Config) *spotifyauth.Authenticator {
	return spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithRedirectURL(cfg.RedirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadCurrentlyPlaying,
			spotifyauth.ScopeUserReadPlaybackState,
		),
	)
}

// savingSource refreshes through the authenticator and writes every new
// token back to the store.
type savingSource struct {
	mu    sync.Mutex
	ctx   context.Context
	auth  *spotifyauth.Authenticator
	store TokenStore
	tok   *oauth2.Token
	log   zerolog.Logger
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok.AccessToken != "" && time.Until(s.tok.Expiry) > refreshMargin {
		return s.tok, nil
	}
	if s.tok.RefreshToken == "" {
		return nil, ErrNotAuthenticated
	}
	fresh, err := s.auth.RefreshToken(s.ctx, s.tok)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = s.tok.RefreshToken
	}
	s.tok = fresh
	if err := s.store.Save(fresh); err != nil {
		s.log.Warn().Err(err).Str("path", s.store.Path).Msg("refreshed token not saved")
	}
	return fresh, nil
}

// HTTPClient returns a client that authenticates with the stored token and
// refreshes it when needed.
func HTTPClient(ctx context.Context, cfg Config) (*http.Client, error) {
	store := TokenStore{Path: cfg.TokenFile}
	tok, err := store.Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	c := oauth2.NewClient(ctx, &savingSource{
		ctx:   ctx,
		auth:  newAuthenticator(cfg),
		store: store,
		tok:   tok,
		log:   logging.Component("spotify"),
	})
	c.Timeout = cfg.Timeout
	return c, nil
}

// Login runs the authorization code flow: it prints the consent URL via
// show, waits on the redirect address for the callback and stores the
// token.
func Login(ctx context.Context, cfg Config, show func(authURL string)) error {
	redirect, err := url.Parse(cfg.RedirectURL)
	if err != nil {
		return fmt.Errorf("redirect url: %w", err)
	}
	auth := newAuthenticator(cfg)
	state := uuid.NewString()

	type outcome struct {
		tok *oauth2.Token
		err error
	}
	done := make(chan outcome, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		tok, err := auth.Token(r.Context(), state, r)
		if err != nil {
			http.Error(w, "authorization failed", http.StatusBadRequest)
			select {
			case done <- outcome{err: err}:
			default:
			}
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body style="font-family: sans-serif; text-align: center; padding: 50px;">`+
			`<h1>Authorized</h1><p>You can close this window.</p></body></html>`)
		select {
		case done <- outcome{tok: tok}:
		default:
		}
	})

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("listen for callback: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go srv.Serve(ln)
	defer srv.Close()

	show(auth.AuthURL(state))

	ctx, cancel := context.WithTimeout(ctx, cfg.LoginTimeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return ErrLoginTimeout
	case o := <-done:
		if o.err != nil {
			return fmt.Errorf("exchange code: %w", o.err)
		}
		return TokenStore{Path: cfg.TokenFile}.Save(o.tok)
	}
}
