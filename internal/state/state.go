// Package state persists the scrobbler's durable records: the ListenBrainz
// token and last submitted listen (config record) and the Last.fm session
// key (session record).
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Record keys as they appear on disk.
const (
	KeyListenBrainzToken = "listenbrainz_token"
	KeyLastArtist        = "last_submitted_artist"
	KeyLastTrack         = "last_submitted_track"
	KeySessionKey        = "session_key"
)

// File names inside the state directory.
const (
	ConfigFileName  = "scrobbler_config.json"
	SessionFileName = "lastfm_session.json"
	DBFileName      = "state.db"
)

var (
	// ConfigKeys are the keys of the config record.
	ConfigKeys = []string{KeyListenBrainzToken, KeyLastArtist, KeyLastTrack}
	// SessionKeys are the keys of the session record.
	SessionKeys = []string{KeySessionKey}
)

var (
	// ErrUnknownKey is returned when writing a key a record does not declare.
	ErrUnknownKey = errors.New("state: unknown key")
	// ErrCorrupt is returned when a record file exists but cannot be parsed.
	ErrCorrupt = errors.New("state: corrupt record")
)

// CorruptSuffix is appended to a corrupt record file before it is replaced.
const CorruptSuffix = ".corrupt"

// KV is a small record of string values with a fixed key set. Missing keys
// read as "".
type KV interface {
	Load(ctx context.Context) (map[string]string, error)
	// Update merges values into the record in one atomic write.
	Update(ctx context.Context, values map[string]string) error
	// Check verifies the record can be read and written without changing it.
	Check(ctx context.Context) error
}

// Record is the last listen the primary sink accepted.
type Record struct {
	Artist string
	Track  string
}

// IsZero reports whether nothing has been submitted yet.
func (r Record) IsZero() bool {
	return r.Artist == "" && r.Track == ""
}

// Store combines the config and session records and serves as the credential
// provider for both sinks. Credentials are re-read on every call so updates
// made by another command are picked up.
type Store struct {
	config  KV
	session KV
	logger  *slog.Logger
	timeout time.Duration
}

// NewStore creates a Store over the two records.
func NewStore(config, session KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{config: config, session: session, logger: logger, timeout: 5 * time.Second}
}

// OpenJSON opens the JSON-file backed store in dir.
func OpenJSON(dir string, logger *slog.Logger) *Store {
	return NewStore(
		NewJSONFile(filepath.Join(dir, ConfigFileName), ConfigKeys),
		NewJSONFile(filepath.Join(dir, SessionFileName), SessionKeys),
		logger,
	)
}

// Record returns the durable submission record.
func (s *Store) Record(ctx context.Context) (Record, error) {
	values, err := s.config.Load(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("load submission record: %w", err)
	}
	return Record{
		Artist: strings.TrimSpace(values[KeyLastArtist]),
		Track:  strings.TrimSpace(values[KeyLastTrack]),
	}, nil
}

// Check verifies both records without modifying them.
func (s *Store) Check(ctx context.Context) error {
	var errs []error
	if err := s.config.Check(ctx); err != nil {
		errs = append(errs, fmt.Errorf("config record: %w", err))
	}
	if err := s.session.Check(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session record: %w", err))
	}
	return errors.Join(errs...)
}

// SaveRecord overwrites the durable submission record.
func (s *Store) SaveRecord(ctx context.Context, r Record) error {
	err := s.config.Update(ctx, map[string]string{
		KeyLastArtist: r.Artist,
		KeyLastTrack:  r.Track,
	})
	if err != nil {
		return fmt.Errorf("save submission record: %w", err)
	}
	return nil
}

// Token returns the ListenBrainz token, or "" when unset or unreadable.
func (s *Store) Token() string {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	values, err := s.config.Load(ctx)
	if err != nil {
		s.logger.Warn("read listenbrainz token", slog.Any("err", err))
	}
	return strings.TrimSpace(values[KeyListenBrainzToken])
}

// SetToken stores a new ListenBrainz token. Surrounding whitespace is removed.
func (s *Store) SetToken(ctx context.Context, token string) error {
	if err := s.config.Update(ctx, map[string]string{KeyListenBrainzToken: strings.TrimSpace(token)}); err != nil {
		return fmt.Errorf("save listenbrainz token: %w", err)
	}
	return nil
}

// SessionKey returns the Last.fm session key, or "".
func (s *Store) SessionKey() string {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	values, err := s.session.Load(ctx)
	if err != nil {
		s.logger.Warn("read lastfm session", slog.Any("err", err))
	}
	return strings.TrimSpace(values[KeySessionKey])
}

// HasSession reports whether a Last.fm session key is stored.
func (s *Store) HasSession() bool {
	return s.SessionKey() != ""
}

// SaveSession stores the Last.fm session key; "" unlinks the account.
func (s *Store) SaveSession(ctx context.Context, key string) error {
	if err := s.session.Update(ctx, map[string]string{KeySessionKey: strings.TrimSpace(key)}); err != nil {
		return fmt.Errorf("save lastfm session: %w", err)
	}
	return nil
}

func checkKeys(allowed []string, values map[string]string) error {
	for k := range values {
		if !slices.Contains(allowed, k) {
			return fmt.Errorf("%w: %s", ErrUnknownKey, k)
		}
	}
	return nil
}

func defaults(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = ""
	}
	return out
}
