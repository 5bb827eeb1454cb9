package listenbrainz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tunez/scrobbled/internal/scrobble"
)

// DefaultBaseURL is the public ListenBrainz API.
const DefaultBaseURL = "https://api.listenbrainz.org"

// TokenProvider supplies the current user token. It is consulted on every
// submission so a token change takes effect immediately.
type TokenProvider interface {
	Token() string
}

// Config holds ListenBrainz sink configuration.
type Config struct {
	BaseURL       string
	TokenProvider TokenProvider
	Timeout       time.Duration
	// Limiter throttles outbound requests; nil means 5 per second.
	Limiter *rate.Limiter
	Client  *http.Client
}

// Sink implements scrobble.Sink for the ListenBrainz submit-listens API.
type Sink struct {
	id            string
	baseURL       string
	tokenProvider TokenProvider
	client        *http.Client
	limiter       *rate.Limiter
}

type submitRequest struct {
	ListenType string          `json:"listen_type"`
	Payload    []listenPayload `json:"payload"`
}

type listenPayload struct {
	ListenedAt    int64         `json:"listened_at"`
	TrackMetadata trackMetadata `json:"track_metadata"`
}

type trackMetadata struct {
	ArtistName string `json:"artist_name"`
	TrackName  string `json:"track_name"`
}

// New creates a new ListenBrainz sink.
func New(id string, cfg Config) *Sink {
	if id == "" {
		id = "listenbrainz"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
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
		id:            id,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		tokenProvider: cfg.TokenProvider,
		client:        client,
		limiter:       cfg.Limiter,
	}
}

func (s *Sink) ID() string   { return s.id }
func (s *Sink) Name() string { return "ListenBrainz" }

// IsEnabled returns true when a token is available.
func (s *Sink) IsEnabled() bool {
	return s.getToken() != ""
}

func (s *Sink) getToken() string {
	if s.tokenProvider == nil {
		return ""
	}
	return strings.TrimSpace(s.tokenProvider.Token())
}

// Submit posts a single listen.
func (s *Sink) Submit(ctx context.Context, l scrobble.Listen) error {
	token := s.getToken()
	if token == "" {
		return fmt.Errorf("listenbrainz: %w", scrobble.ErrMissingCredential)
	}

	body, err := json.Marshal(submitRequest{
		ListenType: "single",
		Payload: []listenPayload{{
			ListenedAt: l.ListenedAt.Unix(),
			TrackMetadata: trackMetadata{
				ArtistName: l.Artist,
				TrackName:  l.Track,
			},
		}},
	})
	if err != nil {
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("listenbrainz: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/1/submit-listens", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("listenbrainz: %w", err)
	}
	defer resp.Body.Close()

	if err := scrobble.CheckResponse("listenbrainz", resp); err != nil {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			if herr, ok := err.(*scrobble.HTTPError); ok {
				herr.Message = apiErr.Error
			}
		}
		return err
	}
	return nil
}
