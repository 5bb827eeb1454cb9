package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tunez/scrobbled/internal/scrobble"
)

// DefaultAPIURL is the Last.fm 2.0 web service root.
const DefaultAPIURL = "https://ws.audioscrobbler.com/2.0/"

// SessionProvider exposes the session key obtained through the browser
// authorization flow.
type SessionProvider interface {
	HasSession() bool
	SessionKey() string
}

// Config holds Last.fm sink configuration.
type Config struct {
	APIURL    string
	APIKey    string
	APISecret string
	Session   SessionProvider
	Timeout   time.Duration
	// Limiter throttles outbound requests; nil means 5 per second.
	Limiter *rate.Limiter
	Client  *http.Client
}

// Sink implements scrobble.Sink for Last.fm track.scrobble.
type Sink struct {
	id        string
	apiURL    string
	apiKey    string
	apiSecret string
	session   SessionProvider
	client    *http.Client
	limiter   *rate.Limiter
}

// New creates a new Last.fm sink.
func New(id string, cfg Config) *Sink {
	if id == "" {
		id = "lastfm"
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(rate.Limit(5), 1)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Sink{
		id:        id,
		apiURL:    cfg.APIURL,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		session:   cfg.Session,
		client:    client,
		limiter:   cfg.Limiter,
	}
}

func (s *Sink) ID() string   { return s.id }
func (s *Sink) Name() string { return "Last.fm" }

// IsEnabled returns true when API credentials and a session are available.
func (s *Sink) IsEnabled() bool {
	return s.apiKey != "" && s.apiSecret != "" && s.session != nil && s.session.HasSession()
}

// Submit scrobbles a single listen.
func (s *Sink) Submit(ctx context.Context, l scrobble.Listen) error {
	if !s.IsEnabled() {
		return fmt.Errorf("lastfm: %w", scrobble.ErrMissingCredential)
	}

	params := map[string]string{
		"method":    "track.scrobble",
		"artist":    l.Artist,
		"track":     l.Track,
		"timestamp": strconv.FormatInt(l.ListenedAt.Unix(), 10),
		"api_key":   s.apiKey,
		"sk":        s.session.SessionKey(),
	}

	return s.signedPost(ctx, params)
}

func (s *Sink) signedPost(ctx context.Context, params map[string]string) error {
	params["api_sig"] = Sign(params, s.apiSecret)
	params["format"] = "json"

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("lastfm: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("lastfm: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if err := scrobble.CheckResponse("lastfm", resp); err != nil {
		if decodeErr == nil && result.Message != "" {
			if herr, ok := err.(*scrobble.HTTPError); ok {
				herr.Message = result.Message
			}
		}
		return err
	}
	if decodeErr == nil && result.Error != 0 {
		return &scrobble.HTTPError{
			Service:    "lastfm",
			StatusCode: resp.StatusCode,
			Status:     fmt.Sprintf("api error %d", result.Error),
			Message:    result.Message,
			Err:        apiError(result.Error),
		}
	}

	return nil
}

// apiError maps Last.fm error codes onto the shared sentinels.
func apiError(code int) error {
	switch code {
	case 4, 9, 14: // authentication failed, invalid session key, unauthorized token
		return scrobble.ErrUnauthorized
	case 29:
		return scrobble.ErrRateLimited
	default:
		return nil
	}
}

// Sign computes the Last.fm api_sig: every parameter except format and
// api_sig, sorted by name, concatenated as name+value, followed by the shared
// secret, MD5-hashed and hex encoded.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "format" && k != "api_sig" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var sig strings.Builder
	for _, k := range keys {
		sig.WriteString(k)
		sig.WriteString(params[k])
	}
	sig.WriteString(secret)

	hash := md5.Sum([]byte(sig.String()))
	return hex.EncodeToString(hash[:])
}
