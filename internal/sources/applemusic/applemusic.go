// Package applemusic reads the current track from Music.app via osascript.
package applemusic

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/tunez/scrobbled/internal/nowplaying"
)

// Script returns artist and track joined by nowplaying.Sentinel while Music is
// playing, and an empty string otherwise. It checks that Music is running
// first so that polling never launches the app.
var Script = `if application "Music" is running then
	tell application "Music"
		if player state is playing then
			return (artist of current track) & "` + nowplaying.Sentinel + `" & (name of current track)
		end if
	end tell
end if
return ""`

// Runner executes a command and returns its stdout and stderr.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

type Options struct {
	Runner Runner
	Logger *slog.Logger
	// GOOS overrides runtime.GOOS.
	GOOS string
}

// Source polls Music.app. On any other OS it always reports nothing playing.
type Source struct {
	opts Options
}

func New(opts Options) *Source {
	if opts.Runner == nil {
		opts.Runner = execRunner
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	return &Source{opts: opts}
}

func (s *Source) ID() string   { return "applemusic" }
func (s *Source) Name() string { return "Apple Music" }

func (s *Source) Poll(ctx context.Context) (nowplaying.Sample, bool) {
	if s.opts.GOOS != "darwin" {
		return nowplaying.Sample{}, false
	}
	stdout, stderr, err := s.opts.Runner(ctx, "osascript", "-e", Script)
	if err != nil {
		s.opts.Logger.Debug("osascript failed", slog.Any("err", err))
		return nowplaying.Sample{}, false
	}
	if msg := strings.TrimSpace(string(stderr)); msg != "" {
		s.opts.Logger.Debug("osascript error", slog.String("stderr", msg))
		return nowplaying.Sample{}, false
	}
	return nowplaying.ParseProbeOutput(string(stdout))
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
