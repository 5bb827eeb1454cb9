// Package sources builds the configured now-playing probe.
package sources

import (
	"fmt"
	"log/slog"

	"github.com/tunez/scrobbled/internal/config"
	"github.com/tunez/scrobbled/internal/nowplaying"
	"github.com/tunez/scrobbled/internal/sources/applemusic"
	"github.com/tunez/scrobbled/internal/sources/mpd"
	"github.com/tunez/scrobbled/internal/sources/mpris"
	"github.com/tunez/scrobbled/internal/sources/mpv"
)

// New returns the probe for cfg.Source.Type, bounded by cfg.PollTimeout.
func New(cfg *config.Config, logger *slog.Logger) (nowplaying.Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("source", cfg.Source.Type))

	var src nowplaying.Source
	switch cfg.Source.Type {
	case config.SourceAppleMusic:
		src = applemusic.New(applemusic.Options{Logger: logger})
	case config.SourceMPV:
		src = mpv.New(mpv.Options{IPCPath: cfg.Source.MPVIPC, Logger: logger})
	case config.SourceMPRIS:
		src = mpris.New(mpris.Options{Player: cfg.Source.MPRISPlayer, Logger: logger})
	case config.SourceMPD:
		src = mpd.New(mpd.Options{
			Network:  cfg.Source.MPDNetwork,
			Addr:     cfg.Source.MPDAddr,
			Password: cfg.Source.MPDPassword,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("unknown source type: %s", cfg.Source.Type)
	}
	return nowplaying.Bounded(src, cfg.PollTimeout()), nil
}
