package mpris

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"

	"github.com/tunez/scrobbled/internal/nowplaying"
)

func TestPlayerNames(t *testing.T) {
	names := []string{
		"org.freedesktop.DBus",
		":1.42",
		"org.mpris.MediaPlayer2.vlc.instance1234",
		"org.mpris.MediaPlayer2.spotify",
		"org.mpris.MediaPlayer2.spotifyd",
	}

	assert.Equal(t, []string{
		"org.mpris.MediaPlayer2.spotify",
		"org.mpris.MediaPlayer2.spotifyd",
		"org.mpris.MediaPlayer2.vlc.instance1234",
	}, playerNames(names, ""))
	assert.Equal(t, []string{"org.mpris.MediaPlayer2.spotify"}, playerNames(names, "spotify"))
	assert.Equal(t, []string{"org.mpris.MediaPlayer2.vlc.instance1234"}, playerNames(names, "vlc"))
	assert.Empty(t, playerNames(names, "mpv"))
}

func TestSampleFromMetadata(t *testing.T) {
	tests := []struct {
		name   string
		meta   map[string]dbus.Variant
		want   nowplaying.Sample
		wantOK bool
	}{
		{
			name: "artist list",
			meta: map[string]dbus.Variant{
				"xesam:artist": dbus.MakeVariant([]string{"Daft Punk", "Pharrell"}),
				"xesam:title":  dbus.MakeVariant("Get Lucky"),
			},
			want:   nowplaying.Sample{Artist: "Daft Punk, Pharrell", Track: "Get Lucky"},
			wantOK: true,
		},
		{
			name: "artist string",
			meta: map[string]dbus.Variant{
				"xesam:artist": dbus.MakeVariant("Autechre"),
				"xesam:title":  dbus.MakeVariant(" Gantz Graf "),
			},
			want:   nowplaying.Sample{Artist: "Autechre", Track: "Gantz Graf"},
			wantOK: true,
		},
		{
			name: "no artist",
			meta: map[string]dbus.Variant{"xesam:title": dbus.MakeVariant("Untitled")},
		},
		{
			name: "wrong types",
			meta: map[string]dbus.Variant{
				"xesam:artist": dbus.MakeVariant(42),
				"xesam:title":  dbus.MakeVariant(true),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sampleFromMetadata(tt.meta)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "MPRIS", New(Options{}).Name())
	assert.Equal(t, "MPRIS (vlc)", New(Options{Player: "vlc"}).Name())
	assert.Equal(t, "mpris", New(Options{}).ID())
}
