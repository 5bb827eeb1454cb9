// Package mpris reads the current track from any MPRIS media player on the
// D-Bus session bus.
package mpris

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/tunez/scrobbled/internal/nowplaying"
)

const (
	busPrefix   = "org.mpris.MediaPlayer2."
	objectPath  = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	playerIface = "org.mpris.MediaPlayer2.Player"
)

type Options struct {
	// Player restricts polling to one player, e.g. "spotify" or "vlc".
	// Empty polls every player and takes the first one that is playing.
	Player string
	Logger *slog.Logger
}

func (s *Source) ID() string { return "mpris" }

func (s *Source) Name() string {
	if s.opts.Player != "" {
		return "MPRIS (" + s.opts.Player + ")"
	}
	return "MPRIS"
}

// playerNames returns the MPRIS bus names in polling order.
func playerNames(names []string, want string) []string {
	var out []string
	for _, n := range names {
		if !strings.HasPrefix(n, busPrefix) {
			continue
		}
		if want != "" {
			// Players may append an instance suffix, e.g. vlc.instance1234.
			suffix := strings.TrimPrefix(n, busPrefix)
			if suffix != want && !strings.HasPrefix(suffix, want+".") {
				continue
			}
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// sampleFromMetadata reads xesam:artist and xesam:title.
func sampleFromMetadata(meta map[string]dbus.Variant) (nowplaying.Sample, bool) {
	var artist string
	if v, ok := meta["xesam:artist"]; ok {
		switch a := v.Value().(type) {
		case []string:
			artist = strings.Join(a, ", ")
		case string:
			artist = a
		}
	}
	var title string
	if v, ok := meta["xesam:title"]; ok {
		title, _ = v.Value().(string)
	}
	return nowplaying.NewSample(artist, title)
}
