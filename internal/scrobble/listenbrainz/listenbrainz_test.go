package listenbrainz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunez/scrobbled/internal/scrobble"
)

type tokenFunc func() string

func (f tokenFunc) Token() string { return f() }

func staticToken(tok string) TokenProvider {
	return tokenFunc(func() string { return tok })
}

func TestSubmitContract(t *testing.T) {
	var got submitRequest
	var auth, contentType, path, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	s := New("", Config{BaseURL: srv.URL + "/", TokenProvider: staticToken("tok-123")})
	err := s.Submit(context.Background(), scrobble.Listen{
		Artist:     "Artist",
		Track:      "Track",
		ListenedAt: time.Unix(1700000000, 0),
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/1/submit-listens", path)
	assert.Equal(t, "Token tok-123", auth)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "single", got.ListenType)
	require.Len(t, got.Payload, 1)
	assert.Equal(t, int64(1700000000), got.Payload[0].ListenedAt)
	assert.Equal(t, "Artist", got.Payload[0].TrackMetadata.ArtistName)
	assert.Equal(t, "Track", got.Payload[0].TrackMetadata.TrackName)
}

func TestSubmitMissingTokenSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	s := New("", Config{BaseURL: srv.URL, TokenProvider: tokenFunc(func() string { return "  " })})
	assert.False(t, s.IsEnabled())

	err := s.Submit(context.Background(), scrobble.Listen{Artist: "A", Track: "T", ListenedAt: time.Now()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, scrobble.ErrMissingCredential))
	assert.Equal(t, scrobble.OutcomeMissingCredential, scrobble.Classify(err))
	assert.Zero(t, calls.Load())
}

func TestSubmitReadsTokenEachTime(t *testing.T) {
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	token := "first"
	s := New("", Config{BaseURL: srv.URL, TokenProvider: tokenFunc(func() string { return token })})
	listen := scrobble.Listen{Artist: "A", Track: "T", ListenedAt: time.Now()}

	require.NoError(t, s.Submit(context.Background(), listen))
	token = "second"
	require.NoError(t, s.Submit(context.Background(), listen))

	assert.Equal(t, []string{"Token first", "Token second"}, auths)
}

func TestSubmitHTTPErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantIs  error
		wantMsg string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"code":401,"error":"Invalid authorization token."}`, scrobble.ErrUnauthorized, "Invalid authorization token."},
		{"rate limited", http.StatusTooManyRequests, ``, scrobble.ErrRateLimited, ""},
		{"server error", http.StatusInternalServerError, `oops`, nil, ""},
		{"bad request", http.StatusBadRequest, `{"code":400,"error":"bad"}`, nil, "bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := New("", Config{BaseURL: srv.URL, TokenProvider: staticToken("tok")})
			err := s.Submit(context.Background(), scrobble.Listen{Artist: "A", Track: "T", ListenedAt: time.Now()})
			require.Error(t, err)

			var herr *scrobble.HTTPError
			require.True(t, errors.As(err, &herr))
			assert.Equal(t, tt.status, herr.StatusCode)
			assert.Equal(t, tt.wantMsg, herr.Message)
			if tt.wantIs != nil {
				assert.True(t, errors.Is(err, tt.wantIs))
			}
			assert.Equal(t, scrobble.OutcomeHTTPError, scrobble.Classify(err))
		})
	}
}

func TestSubmitTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := New("", Config{BaseURL: url, TokenProvider: staticToken("tok"), Timeout: time.Second})
	err := s.Submit(context.Background(), scrobble.Listen{Artist: "A", Track: "T", ListenedAt: time.Now()})
	require.Error(t, err)
	assert.Equal(t, scrobble.OutcomeTransportError, scrobble.Classify(err))
}
