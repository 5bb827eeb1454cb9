// Package mpd reads the current song from a Music Player Daemon.
package mpd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fhs/gompd/v2/mpd"

	"github.com/tunez/scrobbled/internal/nowplaying"
)

type Options struct {
	Network  string // tcp or unix
	Addr     string
	Password string
	Logger   *slog.Logger
}

// Source dials MPD on every poll. MPD drops idle clients, so a short-lived
// connection is simpler than keeping one alive.
type Source struct {
	opts Options

	// Held for the whole exchange. gompd cannot be interrupted, so a poll
	// stuck on a hung server makes later polls return at once instead of
	// piling up connections behind it.
	busy sync.Mutex
}

func New(opts Options) *Source {
	if opts.Network == "" {
		opts.Network = "tcp"
	}
	if opts.Addr == "" {
		opts.Addr = "localhost:6600"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Source{opts: opts}
}

func (s *Source) ID() string   { return "mpd" }
func (s *Source) Name() string { return "MPD" }

// Poll checks ctx only before dialing; gompd has no context support.
func (s *Source) Poll(ctx context.Context) (nowplaying.Sample, bool) {
	if ctx.Err() != nil {
		return nowplaying.Sample{}, false
	}
	if !s.busy.TryLock() {
		s.opts.Logger.Debug("previous mpd poll still pending", slog.String("addr", s.opts.Addr))
		return nowplaying.Sample{}, false
	}
	defer s.busy.Unlock()

	sample, err := s.poll()
	if err != nil {
		s.opts.Logger.Debug("mpd poll failed", slog.String("addr", s.opts.Addr), slog.Any("err", err))
		return nowplaying.Sample{}, false
	}
	return nowplaying.NewSample(sample.Artist, sample.Track)
}

func (s *Source) poll() (nowplaying.Sample, error) {
	c, err := s.dial()
	if err != nil {
		return nowplaying.Sample{}, fmt.Errorf("%w: %w", nowplaying.ErrUnavailable, err)
	}
	defer c.Close()

	status, err := c.Status()
	if err != nil {
		return nowplaying.Sample{}, fmt.Errorf("status: %w", err)
	}
	if status["state"] != "play" {
		return nowplaying.Sample{}, nil
	}

	song, err := c.CurrentSong()
	if err != nil {
		return nowplaying.Sample{}, fmt.Errorf("currentsong: %w", err)
	}
	artist := song["Artist"]
	if artist == "" {
		artist = song["AlbumArtist"]
	}
	return nowplaying.Sample{Artist: artist, Track: song["Title"]}, nil
}

func (s *Source) dial() (*mpd.Client, error) {
	if s.opts.Password != "" {
		return mpd.DialAuthenticated(s.opts.Network, s.opts.Addr, s.opts.Password)
	}
	return mpd.Dial(s.opts.Network, s.opts.Addr)
}
