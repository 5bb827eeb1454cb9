package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/tunez/scrobbled/internal/config"
	"github.com/tunez/scrobbled/internal/logging"
	"github.com/tunez/scrobbled/internal/nowplaying"
	"github.com/tunez/scrobbled/internal/scrobble"
	"github.com/tunez/scrobbled/internal/scrobble/lastfm"
	"github.com/tunez/scrobbled/internal/scrobble/listenbrainz"
	"github.com/tunez/scrobbled/internal/sources"
	"github.com/tunez/scrobbled/internal/state"
	"github.com/tunez/scrobbled/internal/tracker"
)

// Runner holds process-wide IO and provides one method per command.
type Runner struct {
	output      io.Writer
	input       io.Reader
	logWriter   io.Writer
	openBrowser func(string) error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Output io.Writer
	Input  io.Reader
	// LogWriter receives headless logs. Defaults to stderr.
	LogWriter   io.Writer
	OpenBrowser func(string) error
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.LogWriter == nil {
		opts.LogWriter = os.Stderr
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = lastfm.OpenBrowser
	}
	return &Runner{
		output:      opts.Output,
		input:       opts.Input,
		logWriter:   opts.LogWriter,
		openBrowser: opts.OpenBrowser,
	}
}

// env is the wiring for one command invocation.
type env struct {
	cfg     *config.Config
	cfgPath string
	logger  *slog.Logger
	store   *state.Store
	closers []io.Closer
}

// setup loads config, logging and the state store. toFile sends logs to the
// dated log file instead of the log writer.
func (r *Runner) setup(cmd *cli.Command, toFile bool) (*env, error) {
	cfg, cfgPath, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if l := cmd.String("log-level"); l != "" {
		level = l
	}

	logger, logCloser, err := logging.Setup(logging.Options{Level: level, ToFile: toFile, Writer: r.logWriter})
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	e := &env{cfg: cfg, cfgPath: cfgPath, logger: logger, closers: []io.Closer{logCloser}}
	logger.Debug("config loaded", slog.String("config", cfgPath), slog.String("state_dir", cfg.State.Dir))

	if err := e.openState(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) openState() error {
	switch e.cfg.State.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(e.cfg.State.Dir, 0o700); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
		db, err := state.OpenSQLite(filepath.Join(e.cfg.State.Dir, state.DBFileName))
		if err != nil {
			return err
		}
		e.closers = append(e.closers, db)
		e.store = db.Store(e.logger)
	default:
		e.store = state.OpenJSON(e.cfg.State.Dir, e.logger)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i].Close()
	}
}

func (e *env) limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(e.cfg.HTTP.RequestsPerSecond), 1)
}

// sinks returns ListenBrainz as the primary sink and Last.fm, when enabled,
// as the only secondary. A Last.fm sink without credentials is kept so its
// missing-credential result stays visible.
func (e *env) sinks() (scrobble.Sink, []scrobble.Sink) {
	client := &http.Client{Timeout: e.cfg.HTTPTimeout()}

	primary := listenbrainz.New("listenbrainz", listenbrainz.Config{
		BaseURL:       e.cfg.ListenBrainz.APIURL,
		TokenProvider: e.store,
		Timeout:       e.cfg.HTTPTimeout(),
		Limiter:       e.limiter(),
		Client:        client,
	})

	var secondary []scrobble.Sink
	if e.cfg.LastFM.Enabled {
		secondary = append(secondary, lastfm.New("lastfm", lastfm.Config{
			APIURL:    e.cfg.LastFM.APIURL,
			APIKey:    e.cfg.LastFM.APIKey,
			APISecret: e.cfg.LastFM.APISecret,
			Session:   e.store,
			Timeout:   e.cfg.HTTPTimeout(),
			Limiter:   e.limiter(),
			Client:    client,
		}))
	}
	return primary, secondary
}

func (e *env) dispatcher() *scrobble.Dispatcher {
	primary, secondary := e.sinks()
	return scrobble.NewDispatcher(e.logger, primary, secondary...)
}

// source builds the configured probe and closes it with the env.
func (e *env) source() (nowplaying.Source, error) {
	src, err := sources.New(e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	if c, ok := src.(io.Closer); ok {
		e.closers = append(e.closers, c)
	}
	return src, nil
}

func (e *env) tracker(ctx context.Context) (*tracker.Tracker, *scrobble.Dispatcher, error) {
	src, err := e.source()
	if err != nil {
		return nil, nil, err
	}
	d := e.dispatcher()
	t, err := tracker.New(ctx, tracker.Options{
		Source:      src,
		Dispatcher:  d,
		Store:       e.store,
		Interval:    e.cfg.PollInterval(),
		GuardWindow: e.cfg.GuardWindow(),
		Logger:      e.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return t, d, nil
}

var errLastFMNotConfigured = errors.New("lastfm.api_key and lastfm.api_secret are not configured")

// login returns the Last.fm browser flow, or nil without API credentials.
func (e *env) login(open func(string) error) *lastfm.Login {
	if e.cfg.LastFM.APIKey == "" || e.cfg.LastFM.APISecret == "" {
		return nil
	}
	return &lastfm.Login{
		Auth:  lastfm.NewAuthorizer(e.cfg.LastFM.APIKey, e.cfg.LastFM.APISecret),
		Store: e.store,
		Open:  open,
	}
}

func secondaryNames(d *scrobble.Dispatcher) []string {
	sinks := d.Sinks()
	names := make([]string, 0, len(sinks)-1)
	for _, s := range sinks[1:] {
		names = append(names, s.Name())
	}
	return names
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.output, format, args...)
}
