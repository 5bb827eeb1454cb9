// Package mpv reads the current track from a running mpv over its JSON IPC
// socket (--input-ipc-server).
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"

	"github.com/tunez/scrobbled/internal/nowplaying"
)

// errIdle means mpv answered but is not playing anything usable.
var errIdle = errors.New("mpv: idle")

// DefaultIPCPath is the socket path mpv's documentation uses for
// --input-ipc-server.
const DefaultIPCPath = "/tmp/mpvsocket"

// Options configures the Source.
type Options struct {
	IPCPath string
	Logger  *slog.Logger
	Dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	// Retries is the number of dial attempts per poll. Defaults to 3.
	Retries int
}

// Source keeps one IPC connection open across polls and reconnects after
// any transport error.
type Source struct {
	opts Options

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID int
}

func New(opts Options) *Source {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IPCPath == "" {
		opts.IPCPath = DefaultIPCPath
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	return &Source{opts: opts}
}


func (s *Source) ID() string   { return "mpv" }
func (s *Source) Name() string { return "mpv" }

func (s *Source) Poll(ctx context.Context) (nowplaying.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample, err := s.poll(ctx)
	if err != nil {
		var perr *propertyError
		if !errors.Is(err, errIdle) && !errors.As(err, &perr) {
			s.opts.Logger.Debug("mpv poll failed", slog.String("ipc_path", s.opts.IPCPath), slog.Any("err", err))
			s.closeLocked()
		}
		return nowplaying.Sample{}, false
	}
	return sample, true
}

// Close drops the IPC connection. mpv itself keeps running.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Source) poll(ctx context.Context) (nowplaying.Sample, error) {
	if err := s.connect(ctx); err != nil {
		return nowplaying.Sample{}, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(nowplaying.DefaultTimeout)
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return nowplaying.Sample{}, err
	}

	var paused bool
	if err := s.getProperty("pause", &paused); err != nil {
		return nowplaying.Sample{}, err
	}
	if paused {
		return nowplaying.Sample{}, errIdle
	}

	// Unavailable while no file is loaded.
	var meta map[string]string
	if err := s.getProperty("metadata", &meta); err != nil {
		return nowplaying.Sample{}, err
	}
	artist := lookup(meta, "artist", "album_artist")
	title := lookup(meta, "title")

	if artist == "" || title == "" {
		var path string
		if err := s.getProperty("path", &path); err == nil {
			a, t := readTags(path)
			if artist == "" {
				artist = a
			}
			if title == "" {
				title = t
			}
		}
	}

	sample, ok := nowplaying.NewSample(artist, title)
	if !ok {
		return nowplaying.Sample{}, errIdle
	}
	return sample, nil
}

func (s *Source) connect(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	dial := s.opts.Dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: 2 * time.Second}).DialContext
	}
	var conn net.Conn
	var err error
	baseDelay := 50 * time.Millisecond
	maxDelay := 500 * time.Millisecond
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < s.opts.Retries; i++ {
		conn, err = dial(ctx, "unix", s.opts.IPCPath)
		if err == nil {
			s.conn = conn
			s.reader = bufio.NewReader(conn)
			s.opts.Logger.Debug("connected to mpv ipc", slog.String("ipc_path", s.opts.IPCPath), slog.Int("attempt", i+1))
			return nil
		}

		if i < s.opts.Retries-1 {
			delay := baseDelay * time.Duration(1<<uint(i))
			if delay > maxDelay {
				delay = maxDelay
			}
			jitter := time.Duration(float64(delay) * 0.2 * rng.Float64())
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: connect mpv ipc: %w", nowplaying.ErrUnavailable, ctx.Err())
			case <-time.After(delay + jitter):
			}
		}
	}
	return fmt.Errorf("%w: connect mpv ipc: %w", nowplaying.ErrUnavailable, err)
}

func (s *Source) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
		s.reader = nil
	}
}

func (s *Source) send(cmd map[string]any) error {
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(append(b, '\n'))
	return err
}

// getProperty issues get_property and decodes the matching reply into v.
// Unsolicited event lines are skipped.
func (s *Source) getProperty(name string, v any) error {
	s.nextID++
	id := s.nextID
	if err := s.send(map[string]any{
		"command":    []any{"get_property", name},
		"request_id": id,
	}); err != nil {
		return err
	}

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("read mpv reply: %w", err)
		}
		var msg ipcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if msg.Event != "" || msg.RequestID != id {
			continue
		}
		if msg.Error != "success" {
			return &propertyError{Name: name, Reason: msg.Error}
		}
		if err := json.Unmarshal(msg.Data, v); err != nil {
			return &propertyError{Name: name, Reason: err.Error()}
		}
		return nil
	}
}

type ipcMessage struct {
	Event     string          `json:"event"`
	RequestID int             `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
}

// propertyError is an mpv-level failure such as "property unavailable"; the
// connection is still usable.
type propertyError struct {
	Name   string
	Reason string
}

func (e *propertyError) Error() string {
	return fmt.Sprintf("mpv property %s: %s", e.Name, e.Reason)
}

// lookup finds the first non-empty value among keys, ignoring key case since
// mpv passes container tags through verbatim.
func lookup(meta map[string]string, keys ...string) string {
	for _, want := range keys {
		for k, v := range meta {
			if strings.EqualFold(k, want) && strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	return ""
}

// readTags reads artist and title from a local file. Streams and relative
// paths yield nothing.
func readTags(path string) (artist, title string) {
	if path == "" || strings.Contains(path, "://") || !filepath.IsAbs(path) {
		return "", ""
	}
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", ""
	}
	artist = m.Artist()
	if artist == "" {
		artist = m.AlbumArtist()
	}
	return artist, m.Title()
}
