package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"

	"github.com/tunez/scrobbled/internal/sources/mpv"
)

// AppName names the config, state and log directories.
const AppName = "scrobbled"

// Source types.
const (
	SourceAppleMusic = "applemusic"
	SourceMPV        = "mpv"
	SourceMPRIS      = "mpris"
	SourceMPD        = "mpd"
)

// State backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config holds scrobbled runtime configuration loaded from TOML.
type Config struct {
	ConfigVersion int                `toml:"config_version"`
	Poll          PollConfig         `toml:"poll"`
	Source        SourceConfig       `toml:"source"`
	State         StateConfig        `toml:"state"`
	ListenBrainz  ListenBrainzConfig `toml:"listenbrainz"`
	LastFM        LastFMConfig       `toml:"lastfm"`
	HTTP          HTTPConfig         `toml:"http"`
	UI            UIConfig           `toml:"ui"`
	Log           LogConfig          `toml:"log"`
}

// PollConfig controls the tick loop.
type PollConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	TimeoutMS       int `toml:"timeout_ms"` // per probe
	// GuardSeconds is how long a recently attempted listen is suppressed
	// within one run. Zero means four intervals.
	GuardSeconds int `toml:"guard_seconds"`
}

type SourceConfig struct {
	Type        string `toml:"type"` // applemusic, mpv, mpris, mpd
	MPVIPC      string `toml:"mpv_ipc"`
	MPRISPlayer string `toml:"mpris_player"` // bus name suffix, empty picks the first playing player
	MPDNetwork  string `toml:"mpd_network"`
	MPDAddr     string `toml:"mpd_addr"`
	MPDPassword string `toml:"mpd_password"`
}

type StateConfig struct {
	Backend string `toml:"backend"` // json, sqlite
	Dir     string `toml:"dir"`
}

// ListenBrainzConfig configures the primary sink. It cannot be disabled.
type ListenBrainzConfig struct {
	APIURL string `toml:"api_url"`
}

type LastFMConfig struct {
	Enabled bool `toml:"enabled"`
	// APIURL redirects track.scrobble only. The browser login always talks
	// to the public endpoint built into lastfm-go.
	APIURL    string `toml:"api_url"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
}

type HTTPConfig struct {
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

type UIConfig struct {
	Theme   string `toml:"theme"`
	NoColor bool   `toml:"no_color"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		ConfigVersion: 1,
		LastFM:        LastFMConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from disk. If path is empty, the XDG config
// location is used. A missing file yields defaults.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = DefaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	data, err := os.ReadFile(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), cfgPath, nil
	}
	if err != nil {
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

// Parse decodes TOML, fills defaults and validates.
func Parse(data []byte) (*Config, error) {
	// Last.fm is on unless the file turns it off.
	cfg := Config{LastFM: LastFMConfig{Enabled: true}}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultPath returns <XDG config>/scrobbled/config.toml.
func DefaultPath() (string, error) {
	return xdg.ConfigFile(filepath.Join(AppName, "config.toml"))
}

// DefaultStateDir returns the directory holding the durable records.
func DefaultStateDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DefaultSource picks the probe that works out of the box on this OS.
func DefaultSource() string {
	if runtime.GOOS == "darwin" {
		return SourceAppleMusic
	}
	return SourceMPRIS
}

func applyDefaults(cfg *Config) {
	if cfg.ConfigVersion == 0 {
		cfg.ConfigVersion = 1
	}
	if cfg.Poll.IntervalSeconds == 0 {
		cfg.Poll.IntervalSeconds = 15
	}
	if cfg.Poll.TimeoutMS == 0 {
		cfg.Poll.TimeoutMS = 5000
	}
	if cfg.Source.Type == "" {
		cfg.Source.Type = DefaultSource()
	}
	if cfg.Source.MPVIPC == "" {
		cfg.Source.MPVIPC = mpv.DefaultIPCPath
	}
	if cfg.Source.MPDNetwork == "" {
		cfg.Source.MPDNetwork = "tcp"
	}
	if cfg.Source.MPDAddr == "" {
		cfg.Source.MPDAddr = "localhost:6600"
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = BackendJSON
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = DefaultStateDir()
	}
	if cfg.ListenBrainz.APIURL == "" {
		cfg.ListenBrainz.APIURL = "https://api.listenbrainz.org"
	}
	if cfg.LastFM.APIURL == "" {
		cfg.LastFM.APIURL = "https://ws.audioscrobbler.com/2.0/"
	}
	if cfg.HTTP.TimeoutSeconds == 0 {
		cfg.HTTP.TimeoutSeconds = 10
	}
	if cfg.HTTP.RequestsPerSecond == 0 {
		cfg.HTTP.RequestsPerSecond = 5
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = "rainbow"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate performs semantic validation of config.
func Validate(cfg Config) error {
	if cfg.ConfigVersion != 1 {
		return fmt.Errorf("unsupported config_version %d", cfg.ConfigVersion)
	}
	if cfg.Poll.IntervalSeconds < 1 {
		return errors.New("poll.interval_seconds must be at least 1")
	}
	if cfg.Poll.TimeoutMS < 0 {
		return errors.New("poll.timeout_ms must not be negative")
	}
	if cfg.Poll.GuardSeconds < 0 {
		return errors.New("poll.guard_seconds must not be negative")
	}

	switch cfg.Source.Type {
	case SourceAppleMusic, SourceMPV, SourceMPRIS:
	case SourceMPD:
		if cfg.Source.MPDNetwork != "tcp" && cfg.Source.MPDNetwork != "unix" {
			return fmt.Errorf("source.mpd_network must be tcp or unix, got %q", cfg.Source.MPDNetwork)
		}
	default:
		return fmt.Errorf("unknown source type: %s", cfg.Source.Type)
	}

	switch cfg.State.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("unknown state backend: %s", cfg.State.Backend)
	}

	if err := validateURL("listenbrainz.api_url", cfg.ListenBrainz.APIURL); err != nil {
		return err
	}
	if err := validateURL("lastfm.api_url", cfg.LastFM.APIURL); err != nil {
		return err
	}
	if (cfg.LastFM.APIKey == "") != (cfg.LastFM.APISecret == "") {
		return errors.New("lastfm.api_key and lastfm.api_secret must be set together")
	}

	if cfg.HTTP.TimeoutSeconds < 1 {
		return errors.New("http.timeout_seconds must be at least 1")
	}
	if cfg.HTTP.RequestsPerSecond < 0 {
		return errors.New("http.requests_per_second must not be negative")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log.level: %s", cfg.Log.Level)
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL", field)
	}
	return nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

func (c Config) PollTimeout() time.Duration {
	return time.Duration(c.Poll.TimeoutMS) * time.Millisecond
}

func (c Config) GuardWindow() time.Duration {
	return time.Duration(c.Poll.GuardSeconds) * time.Second
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
