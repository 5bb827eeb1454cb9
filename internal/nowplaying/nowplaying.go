// Package nowplaying defines the contract for "what is the local player
// playing right now" probes.
package nowplaying

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrUnavailable is returned by probes that cannot reach the player. It never
// escapes Poll; callers only ever see "nothing playing".
var ErrUnavailable = errors.New("nowplaying: probe unavailable")

// Sentinel separates artist and track in raw probe output.
const Sentinel = "|||SCROBBLED|||"

// DefaultTimeout bounds a single poll when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Sample is one observation of the player.
type Sample struct {
	Artist string
	Track  string
}

func (s Sample) String() string {
	return s.Artist + " - " + s.Track
}

// Source is implemented by every player probe.
type Source interface {
	// ID returns the configured source type, e.g. "mpv".
	ID() string
	// Name returns a human-readable name for status display.
	Name() string
	// Poll reports the current track. ok is false when nothing is playing,
	// the player is paused or not running, or the probe failed.
	Poll(ctx context.Context) (s Sample, ok bool)
}

// ParseProbeOutput splits "<artist><Sentinel><track>" output. Any other shape,
// or an empty artist or track, is treated as nothing playing.
func ParseProbeOutput(out string) (Sample, bool) {
	out = strings.TrimSpace(out)
	if out == "" {
		return Sample{}, false
	}
	artist, track, found := strings.Cut(out, Sentinel)
	if !found {
		return Sample{}, false
	}
	return NewSample(artist, track)
}

// NewSample trims both fields and reports whether the result is usable.
func NewSample(artist, track string) (Sample, bool) {
	s := Sample{Artist: strings.TrimSpace(artist), Track: strings.TrimSpace(track)}
	if s.Artist == "" || s.Track == "" {
		return Sample{}, false
	}
	return s, true
}

type bounded struct {
	src     Source
	timeout time.Duration
}

// Bounded wraps src so that a single Poll never outlives timeout. A probe that
// ignores its context is abandoned and reported as nothing playing.
func Bounded(src Source, timeout time.Duration) Source {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &bounded{src: src, timeout: timeout}
}

func (b *bounded) ID() string   { return b.src.ID() }
func (b *bounded) Name() string { return b.src.Name() }

func (b *bounded) Poll(ctx context.Context) (Sample, bool) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		s  Sample
		ok bool
	}
	ch := make(chan result, 1)
	go func() {
		s, ok := b.src.Poll(ctx)
		ch <- result{s, ok}
	}()

	select {
	case r := <-ch:
		return r.s, r.ok
	case <-ctx.Done():
		return Sample{}, false
	}
}

// Close closes the wrapped source when it holds a connection.
func (b *bounded) Close() error {
	if c, ok := b.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
