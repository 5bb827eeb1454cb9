package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/tunez/scrobbled/internal/tracker"
	"github.com/tunez/scrobbled/internal/ui"
)

// ErrEmptyToken is shown when the first-run prompt is submitted empty.
var ErrEmptyToken = errors.New("token must not be empty")

// Tracker is the part of *tracker.Tracker the UI drives.
type Tracker interface {
	Start(ctx context.Context) bool
	Stop()
	Running() bool
	Status() tracker.Status
}

// TokenStore holds the ListenBrainz token and reports the Last.fm session.
type TokenStore interface {
	Token() string
	SetToken(ctx context.Context, token string) error
	HasSession() bool
}

// LastFMLogin runs the browser authorization flow.
type LastFMLogin interface {
	Begin(ctx context.Context) (authURL, token string, err error)
	Finish(ctx context.Context, token string) error
}

type Options struct {
	Tracker Tracker
	Tokens  TokenStore
	// Login is nil when no Last.fm API key is configured.
	Login LastFMLogin
	Theme ui.Theme
	// SecondaryNames label the secondary sinks before anything is submitted.
	SecondaryNames []string
	Autostart      bool
	Refresh        time.Duration
	Logger         *slog.Logger
}

type mode int

const (
	modeStatus mode = iota
	modeTokenPrompt
	modeLastFMConfirm
)

type Model struct {
	ctx  context.Context
	opts Options

	keys       keyMap
	promptKeys promptKeys
	help       help.Model
	input      textinput.Model

	mode           mode
	promptRequired bool
	promptErr      string
	lfmURL         string
	lfmToken       string

	status   tracker.Status
	message  string
	// Credential state read from the store; reloaded once per poll tick.
	hasToken   bool
	hasSession bool
	errorMsg string
	showHelp bool
	showDiag bool
	diag     *DiagnosticsState
	width    int
	height   int
}

type refreshMsg time.Time

type tokenSavedMsg struct {
	updated bool
	err     error
}

type lastfmBeginMsg struct {
	url   string
	token string
	err   error
}

type lastfmDoneMsg struct {
	err error
}

type clearErrorMsg struct{}

// New builds the status screen. With no ListenBrainz token stored it opens
// straight into the token prompt and refuses an empty value.
func New(ctx context.Context, opts Options) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	input := textinput.New()
	input.Placeholder = "ListenBrainz user token"
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '•'
	input.CharLimit = 128
	input.Width = 40

	m := Model{
		ctx:        ctx,
		opts:       opts,
		keys:       defaultKeyMap(),
		promptKeys: defaultPromptKeys(),
		help:       help.New(),
		input:      input,
		status:     opts.Tracker.Status(),
		diag:       NewDiagnosticsState(),
	}
	m = m.loadCredentials()
	if !m.hasToken {
		m = m.openTokenPrompt(true)
	}
	return m
}

func (m Model) loadCredentials() Model {
	m.hasToken = strings.TrimSpace(m.opts.Tokens.Token()) != ""
	m.hasSession = m.opts.Tokens.HasSession()
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.refreshCmd()}
	if m.mode == modeTokenPrompt {
		cmds = append(cmds, textinput.Blink)
	}
	if m.opts.Autostart {
		cmds = append(cmds, m.startCmd())
	}
	return tea.Batch(cmds...)
}

func (m Model) refreshCmd() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m Model) startCmd() tea.Cmd {
	return func() tea.Msg {
		m.opts.Tracker.Start(m.ctx)
		return refreshMsg(time.Now())
	}
}

func (m Model) saveTokenCmd(token string, updated bool) tea.Cmd {
	return func() tea.Msg {
		return tokenSavedMsg{updated: updated, err: m.opts.Tokens.SetToken(m.ctx, token)}
	}
}

func (m Model) lastfmBeginCmd() tea.Cmd {
	return func() tea.Msg {
		u, token, err := m.opts.Login.Begin(m.ctx)
		return lastfmBeginMsg{url: u, token: token, err: err}
	}
}

func (m Model) lastfmFinishCmd(token string) tea.Cmd {
	return func() tea.Msg {
		return lastfmDoneMsg{err: m.opts.Login.Finish(m.ctx, token)}
	}
}

func (m Model) clearErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg { return clearErrorMsg{} })
}

func (m Model) setError(err error) (Model, tea.Cmd) {
	m.errorMsg = err.Error()
	m.opts.Logger.Warn("ui error", slog.Any("err", err))
	return m, m.clearErrorCmd()
}

func (m Model) openTokenPrompt(required bool) Model {
	m.mode = modeTokenPrompt
	m.promptRequired = required
	m.promptErr = ""
	m.input.Reset()
	m.input.EchoMode = textinput.EchoPassword
	m.input.Focus()
	return m
}

func (m Model) closePrompt() Model {
	m.mode = modeStatus
	m.promptErr = ""
	m.input.Blur()
	m.input.Reset()
	return m
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil
	case refreshMsg:
		m = m.refresh()
		return m, m.refreshCmd()
	case clearErrorMsg:
		m.errorMsg = ""
		return m, nil
	case tokenSavedMsg:
		if msg.err != nil {
			return m.setError(fmt.Errorf("save token: %w", msg.err))
		}
		m.hasToken = true
		if msg.updated {
			m.message = "ListenBrainz token updated"
		} else {
			m.message = "ListenBrainz token set"
		}
		return m, nil
	case lastfmBeginMsg:
		if msg.err != nil {
			return m.setError(fmt.Errorf("last.fm login: %w", msg.err))
		}
		m.mode = modeLastFMConfirm
		m.lfmURL, m.lfmToken = msg.url, msg.token
		return m, nil
	case lastfmDoneMsg:
		m.mode = modeStatus
		m.lfmURL, m.lfmToken = "", ""
		if msg.err != nil {
			return m.setError(fmt.Errorf("last.fm login: %w", msg.err))
		}
		m.hasSession = true
		m.message = "Logged in to Last.fm"
		return m, nil
	case tea.KeyMsg:
		switch m.mode {
		case modeTokenPrompt:
			return m.updatePrompt(msg)
		case modeLastFMConfirm:
			return m.updateLastFMConfirm(msg)
		}
		return m.updateStatus(msg)
	}

	if m.mode == modeTokenPrompt {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) refresh() Model {
	st := m.opts.Tracker.Status()
	if !st.LastSubmittedAt.IsZero() && !st.LastSubmittedAt.Equal(m.status.LastSubmittedAt) {
		m.diag.RecordSubmission()
	}
	if st.LastError != "" && st.LastError != m.status.LastError {
		m.diag.RecordError(st.LastError)
	}
	if !st.LastTickAt.Equal(m.status.LastTickAt) {
		m = m.loadCredentials()
	}
	m.status = st
	return m
}

func (m Model) updateStatus(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.opts.Tracker.Stop()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Start):
		if m.opts.Tracker.Start(m.ctx) {
			m.message = "Listening"
		} else {
			m.message = "Already listening"
		}
		return m.refresh(), nil
	case key.Matches(msg, m.keys.Stop):
		m.opts.Tracker.Stop()
		m.message = "Stopped"
		return m.refresh(), nil
	case key.Matches(msg, m.keys.Token):
		m = m.openTokenPrompt(false)
		return m, textinput.Blink
	case key.Matches(msg, m.keys.LastFM):
		if m.opts.Login == nil {
			return m.setError(errors.New("last.fm api_key and api_secret are not configured"))
		}
		m.message = "Requesting Last.fm token…"
		return m, m.lastfmBeginCmd()
	case key.Matches(msg, m.keys.Diagnostics):
		m.showDiag = !m.showDiag
		return m, nil
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		return m, nil
	}
	return m, nil
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC:
		m.opts.Tracker.Stop()
		return m, tea.Quit
	case key.Matches(msg, m.promptKeys.Cancel):
		return m.closePrompt(), nil
	case key.Matches(msg, m.promptKeys.Reveal):
		if m.input.EchoMode == textinput.EchoPassword {
			m.input.EchoMode = textinput.EchoNormal
		} else {
			m.input.EchoMode = textinput.EchoPassword
		}
		return m, nil
	case key.Matches(msg, m.promptKeys.Submit):
		token := strings.TrimSpace(m.input.Value())
		if token == "" {
			if m.promptRequired {
				m.promptErr = ErrEmptyToken.Error()
				return m, nil
			}
			// Empty leaves the stored token unchanged.
			return m.closePrompt(), nil
		}
		updated := !m.promptRequired
		m = m.closePrompt()
		return m, m.saveTokenCmd(token, updated)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateLastFMConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC:
		m.opts.Tracker.Stop()
		return m, tea.Quit
	case key.Matches(msg, m.promptKeys.Cancel):
		m.mode = modeStatus
		m.lfmURL, m.lfmToken = "", ""
		m.message = "Last.fm login cancelled"
		return m, nil
	case key.Matches(msg, m.promptKeys.Submit):
		m.message = "Completing Last.fm login…"
		return m, m.lastfmFinishCmd(m.lfmToken)
	}
	return m, nil
}

func (m Model) View() string {
	switch {
	case m.mode == modeTokenPrompt:
		return m.renderTokenPrompt()
	case m.mode == modeLastFMConfirm:
		return m.renderLastFMConfirm()
	case m.showDiag:
		return m.diag.Render(&m)
	}

	t := m.opts.Theme
	top := t.Title.Render("scrobbled") + t.Dim.Render(" ▸ "+m.status.Source)

	state := t.Dim.Render("idle")
	if m.status.State == tracker.StateActive {
		state = t.Success.Render("listening")
	}

	nowPlaying := m.status.NowPlaying
	if nowPlaying == "" {
		nowPlaying = "none"
	}

	lines := []string{
		top,
		"",
		t.Accent.Render("State:        ") + state,
		t.Accent.Render("Now playing:  ") + t.Text.Render(nowPlaying),
		m.renderSink("ListenBrainz", m.status.Primary),
	}
	lines = append(lines, m.renderSecondary()...)

	if !m.status.LastSubmitted.IsZero() {
		last := m.status.LastSubmitted.String()
		if !m.status.LastSubmittedAt.IsZero() {
			last += t.Dim.Render(" (" + humanize.Time(m.status.LastSubmittedAt) + ")")
		}
		lines = append(lines, t.Accent.Render("Last saved:   ")+t.Text.Render(last))
	}

	lines = append(lines, "")
	switch {
	case m.errorMsg != "":
		lines = append(lines, t.Error.Render(m.errorMsg))
	case m.status.LastError != "":
		lines = append(lines, t.Warning.Render(m.status.LastError))
	default:
		lines = append(lines, t.Dim.Render(m.message))
	}
	lines = append(lines, m.help.View(m.keys))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderSink(name string, s tracker.SinkStatus) string {
	t := m.opts.Theme
	failed := strings.HasPrefix(s.Text, "error") || strings.HasPrefix(s.Text, "missing")
	label := fmt.Sprintf("%-14s", name+":")
	line := t.Accent.Render(label) + t.Status(s.OK, failed).Render(s.Text)
	if !s.UpdatedAt.IsZero() {
		line += t.Dim.Render(" (" + humanize.Time(s.UpdatedAt) + ")")
	}
	return line
}

func (m Model) renderSecondary() []string {
	if len(m.status.Secondary) > 0 {
		out := make([]string, 0, len(m.status.Secondary))
		for _, s := range m.status.Secondary {
			out = append(out, m.renderSink(s.Name, s))
		}
		return out
	}
	// Nothing submitted yet: show the Last.fm session state instead.
	out := make([]string, 0, len(m.opts.SecondaryNames))
	for _, name := range m.opts.SecondaryNames {
		s := tracker.SinkStatus{Name: name, Text: "not logged in"}
		if m.hasSession {
			s.Text, s.OK = "logged in", true
		}
		out = append(out, m.renderSink(name, s))
	}
	return out
}

func (m Model) renderTokenPrompt() string {
	t := m.opts.Theme
	title := "ListenBrainz token"
	current := t.Error.Render("Current: not set")
	if m.promptRequired {
		title = "A ListenBrainz token is required on first run"
	} else if m.hasToken {
		current = t.Success.Render("Current: set (hidden)")
	}

	lines := []string{
		t.Title.Render(title),
		"",
		m.input.View(),
		current,
	}
	if m.promptErr != "" {
		lines = append(lines, t.Error.Render(m.promptErr))
	}
	lines = append(lines, "", m.help.View(m.promptKeys))
	return t.Border.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) renderLastFMConfirm() string {
	t := m.opts.Theme
	lines := []string{
		t.Title.Render("Last.fm login"),
		"",
		t.Text.Render("Approve access in your browser, then press enter."),
		t.Dim.Render("If no browser opened, visit:"),
		t.Accent.Render(m.lfmURL),
		"",
		m.help.View(m.promptKeys),
	}
	return t.Border.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
