package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunez/scrobbled/internal/state"
)

type harness struct {
	dir    string
	config string
	out    *bytes.Buffer
}

func newHarness(t *testing.T, extra string) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := `config_version = 1

[poll]
timeout_ms = 300

[source]
type = "mpd"
mpd_network = "tcp"
mpd_addr = "127.0.0.1:1"

[state]
dir = "` + filepath.ToSlash(filepath.Join(dir, "state")) + `"
` + extra
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return &harness{dir: dir, config: path, out: &bytes.Buffer{}}
}

func (h *harness) run(t *testing.T, input string, args ...string) error {
	t.Helper()
	h.out.Reset()
	r := NewRunner(RunnerOpts{
		Output:      h.out,
		Input:       strings.NewReader(input),
		LogWriter:   io.Discard,
		OpenBrowser: func(string) error { return nil },
	})
	argv := append([]string{"scrobbled", "--config", h.config}, args...)
	return r.App().Run(context.Background(), argv)
}

func (h *harness) configRecord(t *testing.T) map[string]string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.dir, "state", state.ConfigFileName))
	require.NoError(t, err)
	var values map[string]string
	require.NoError(t, json.Unmarshal(data, &values))
	return values
}

func TestTokenSetFromArgument(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run(t, "", "token", "set", "abc123"))
	assert.Contains(t, h.out.String(), "ListenBrainz token set")
	assert.Equal(t, "abc123", h.configRecord(t)[state.KeyListenBrainzToken])

	require.NoError(t, h.run(t, "", "token", "set", "def456"))
	assert.Contains(t, h.out.String(), "ListenBrainz token updated")
	assert.Equal(t, "def456", h.configRecord(t)[state.KeyListenBrainzToken])
}

func TestTokenSetFromInput(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run(t, "  fromstdin \n", "token", "set"))
	assert.Equal(t, "fromstdin", h.configRecord(t)[state.KeyListenBrainzToken])
}

func TestTokenSetRejectsEmpty(t *testing.T) {
	h := newHarness(t, "")

	err := h.run(t, "\n", "token", "set")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")
}

func TestTokenClear(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run(t, "", "token", "set", "abc123"))
	require.NoError(t, h.run(t, "", "token", "clear"))
	assert.Equal(t, "", h.configRecord(t)[state.KeyListenBrainzToken])
}

func TestStatus(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run(t, "", "status"))
	out := h.out.String()
	assert.Contains(t, out, "no token")
	assert.Contains(t, out, "not logged in")
	assert.Contains(t, out, "Last listen:   none")

	require.NoError(t, h.run(t, "", "token", "set", "abc123"))
	require.NoError(t, h.run(t, "", "status"))
	assert.Contains(t, h.out.String(), "token set")
}

func TestStatusShowsLastfmDisabled(t *testing.T) {
	h := newHarness(t, "\n[lastfm]\nenabled = false\n")

	require.NoError(t, h.run(t, "", "status"))
	assert.Contains(t, h.out.String(), "Last.fm:       disabled")
}

func TestStatusWithSQLiteBackend(t *testing.T) {
	h := newHarness(t, "")
	cfg, err := os.ReadFile(h.config)
	require.NoError(t, err)
	cfg = bytes.Replace(cfg, []byte("[state]\n"), []byte("[state]\nbackend = \"sqlite\"\n"), 1)
	require.NoError(t, os.WriteFile(h.config, cfg, 0o600))

	require.NoError(t, h.run(t, "", "token", "set", "abc123"))
	require.NoError(t, h.run(t, "", "status"))
	assert.Contains(t, h.out.String(), "token set")
	assert.FileExists(t, filepath.Join(h.dir, "state", state.DBFileName))
}

func TestOnceWithNothingPlaying(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run(t, "", "once"))
	assert.Equal(t, "nothing playing\n", h.out.String())
}

func TestDoctorReportsMissingCredentials(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run(t, "", "doctor"))
	out := h.out.String()
	assert.Contains(t, out, "Config: OK")
	assert.Contains(t, out, "State (json): OK")
	assert.Contains(t, out, "nothing playing or player not reachable")
	assert.Contains(t, out, "ListenBrainz: missing credential")
	assert.Contains(t, out, "Last.fm: missing credential")
}

func TestAuthLastFMRequiresAPIKey(t *testing.T) {
	h := newHarness(t, "")

	err := h.run(t, "", "auth", "lastfm")
	assert.ErrorIs(t, err, errLastFMNotConfigured)
}

func TestBadConfigFails(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, os.WriteFile(h.config, []byte("[poll\n"), 0o600))

	err := h.run(t, "", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestDoctorDoesNotRewriteCorruptState(t *testing.T) {
	h := newHarness(t, "")
	stateDir := filepath.Join(h.dir, "state")
	require.NoError(t, os.MkdirAll(stateDir, 0o700))
	corrupt := []byte(`{"listenbrainz_token": "secret-token",}`)
	path := filepath.Join(stateDir, state.ConfigFileName)
	require.NoError(t, os.WriteFile(path, corrupt, 0o600))

	require.NoError(t, h.run(t, "", "doctor"))
	assert.Contains(t, h.out.String(), "State (json): ERROR")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, corrupt, data)
}

func TestDoctorNotesCustomLastfmURL(t *testing.T) {
	h := newHarness(t, "\n[lastfm]\napi_url = \"http://127.0.0.1:9/2.0/\"\n")

	require.NoError(t, h.run(t, "", "doctor"))
	assert.Contains(t, h.out.String(), "login still uses https://ws.audioscrobbler.com/2.0/")

	h = newHarness(t, "")
	require.NoError(t, h.run(t, "", "doctor"))
	assert.NotContains(t, h.out.String(), "login still uses")
}
