//go:build linux

package mpris

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/tunez/scrobbled/internal/nowplaying"
)

// Source polls MPRIS players over the session bus.
type Source struct {
	opts Options

	mu   sync.Mutex
	conn *dbus.Conn
}

func New(opts Options) *Source {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Source{opts: opts}
}

func (s *Source) Poll(ctx context.Context) (nowplaying.Sample, bool) {
	conn, err := s.bus()
	if err != nil {
		s.opts.Logger.Debug("session bus unavailable", slog.Any("err", err))
		return nowplaying.Sample{}, false
	}

	var names []string
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		s.opts.Logger.Debug("list bus names", slog.Any("err", err))
		return nowplaying.Sample{}, false
	}

	for _, name := range playerNames(names, s.opts.Player) {
		obj := conn.Object(name, objectPath)

		status, err := getProperty(ctx, obj, "PlaybackStatus")
		if err != nil {
			s.opts.Logger.Debug("mpris status", slog.String("player", name), slog.Any("err", err))
			continue
		}
		if st, _ := status.Value().(string); st != "Playing" {
			continue
		}

		meta, err := getProperty(ctx, obj, "Metadata")
		if err != nil {
			s.opts.Logger.Debug("mpris metadata", slog.String("player", name), slog.Any("err", err))
			continue
		}
		m, ok := meta.Value().(map[string]dbus.Variant)
		if !ok {
			continue
		}
		if sample, ok := sampleFromMetadata(m); ok {
			return sample, true
		}
	}
	return nowplaying.Sample{}, false
}

func (s *Source) bus() (*dbus.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn.Connected() {
		return s.conn, nil
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	s.conn = conn
	return conn, nil
}

// Close releases the bus connection.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func getProperty(ctx context.Context, obj dbus.BusObject, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, playerIface, prop).Store(&v)
	return v, err
}
