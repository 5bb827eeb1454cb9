//go:build !linux

package mpris

import (
	"context"

	"github.com/tunez/scrobbled/internal/nowplaying"
)

// Source is a no-op on platforms without a session bus.
type Source struct {
	opts Options
}

func New(opts Options) *Source {
	return &Source{opts: opts}
}

func (s *Source) Poll(_ context.Context) (nowplaying.Sample, bool) {
	return nowplaying.Sample{}, false
}

func (s *Source) Close() error { return nil }
