package logging

import (
	"bytes"
	"testing"

	charmlog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    charmlog.Level
		wantErr bool
	}{
		{"", charmlog.InfoLevel, false},
		{"debug", charmlog.DebugLevel, false},
		{" WARN ", charmlog.WarnLevel, false},
		{"error", charmlog.ErrorLevel, false},
		{"trace", charmlog.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSetupWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := Setup(Options{Level: "info", Writer: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("listen submitted", "sink", "listenbrainz")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "listen submitted")
	assert.Contains(t, out, "listenbrainz")
}

func TestSetupRejectsBadLevel(t *testing.T) {
	_, _, err := Setup(Options{Level: "loud"})
	assert.Error(t, err)
}
