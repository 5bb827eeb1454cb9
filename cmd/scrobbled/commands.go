package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/tunez/scrobbled/internal/app"
	"github.com/tunez/scrobbled/internal/scrobble/lastfm"
	"github.com/tunez/scrobbled/internal/tracker"
	"github.com/tunez/scrobbled/internal/ui"
)

// shutdownTimeout bounds how long an in-flight tick may delay exit.
const shutdownTimeout = 30 * time.Second

// TUI runs the interactive status screen.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	e, err := r.setup(cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()
	e.logger.Info("starting scrobbled", slog.String("config", e.cfgPath), slog.String("version", version))

	t, d, err := e.tracker(ctx)
	if err != nil {
		return err
	}

	noColor := os.Getenv("NO_COLOR") != "" || e.cfg.UI.NoColor
	opts := app.Options{
		Tracker:        t,
		Tokens:         e.store,
		Theme:          ui.GetTheme(e.cfg.UI.Theme, noColor),
		SecondaryNames: secondaryNames(d),
		Autostart:      cmd.Bool("start"),
		Logger:         e.logger,
	}
	if l := e.login(r.openBrowser); l != nil {
		opts.Login = l
	}

	model := app.New(ctx, opts)
	_, runErr := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()

	t.Stop()
	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := t.Wait(waitCtx); err != nil {
		e.logger.Warn("poll loop did not stop in time", slog.Any("err", err))
	}
	if runErr != nil {
		e.logger.Error("run tui", slog.Any("err", runErr))
		return fmt.Errorf("tui: %w", runErr)
	}
	return nil
}

// Run polls in the foreground until SIGINT or SIGTERM.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	e, err := r.setup(cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	t, _, err := e.tracker(ctx)
	if err != nil {
		return err
	}
	if e.store.Token() == "" {
		e.logger.Warn("no ListenBrainz token stored; run `scrobbled token set` to add one")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The signal only stops the loop; a submission in progress finishes.
	t.Start(context.WithoutCancel(ctx))
	<-ctx.Done()
	e.logger.Info("shutting down")
	t.Stop()

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return t.Wait(waitCtx)
}

// Once runs a single tick and prints the outcome.
func (r *Runner) Once(ctx context.Context, cmd *cli.Command) error {
	e, err := r.setup(cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	t, _, err := e.tracker(ctx)
	if err != nil {
		return err
	}
	decision, err := t.Step(ctx)
	if err != nil {
		return err
	}

	st := t.Status()
	r.printf("%s\n", decision)
	if decision != tracker.DecisionSubmitted {
		return nil
	}
	r.printf("  %s\n", st.NowPlaying)
	for _, s := range append([]tracker.SinkStatus{st.Primary}, st.Secondary...) {
		r.printf("  %-13s %s\n", s.Name+":", s.Text)
	}
	if st.LastError != "" {
		r.printf("  warning: %s\n", st.LastError)
	}
	return nil
}

// Status prints the durable state without touching the network.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	e, err := r.setup(cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	r.printf("Config:        %s\n", e.cfgPath)
	r.printf("State:         %s (%s)\n", e.cfg.State.Dir, e.cfg.State.Backend)
	r.printf("Source:        %s\n", e.cfg.Source.Type)
	r.printf("ListenBrainz:  %s\n", setOrNot(e.store.Token() != "", "token set", "no token"))
	if e.cfg.LastFM.Enabled {
		r.printf("Last.fm:       %s\n", setOrNot(e.store.HasSession(), "logged in", "not logged in"))
	} else {
		r.printf("Last.fm:       disabled\n")
	}

	rec, err := e.store.Record(ctx)
	if err != nil {
		return err
	}
	if rec.IsZero() {
		r.printf("Last listen:   none\n")
	} else {
		r.printf("Last listen:   %s - %s\n", rec.Artist, rec.Track)
	}
	return nil
}

// Doctor checks each moving part and reports what it found.
func (r *Runner) Doctor(ctx context.Context, cmd *cli.Command) error {
	e, err := r.setup(cmd, false)
	if err != nil {
		r.printf("Config: ERROR - %v\n", err)
		return err
	}
	defer e.Close()

	r.printf("scrobbled doctor\n")
	r.printf("Config: OK (%s)\n", e.cfgPath)

	if err := e.store.Check(ctx); err != nil {
		r.printf("State (%s): ERROR - %v\n", e.cfg.State.Backend, err)
	} else {
		r.printf("State (%s): OK (%s)\n", e.cfg.State.Backend, e.cfg.State.Dir)
	}

	src, err := e.source()
	if err != nil {
		r.printf("Source (%s): ERROR - %v\n", e.cfg.Source.Type, err)
	} else {
		start := time.Now()
		if sample, ok := src.Poll(ctx); ok {
			r.printf("Source (%s): OK, playing %s (%s)\n", src.Name(), sample, time.Since(start).Round(time.Millisecond))
		} else {
			r.printf("Source (%s): nothing playing or player not reachable\n", src.Name())
		}
	}

	for _, s := range e.dispatcher().Sinks() {
		ready := true
		if en, ok := s.(interface{ IsEnabled() bool }); ok {
			ready = en.IsEnabled()
		}
		r.printf("%s: %s\n", s.Name(), setOrNot(ready, "credentials OK", "missing credential"))
	}
	if e.cfg.LastFM.Enabled && e.login(nil) == nil {
		r.printf("Last.fm: %v\n", errLastFMNotConfigured)
	}
	if e.cfg.LastFM.Enabled && e.cfg.LastFM.APIURL != lastfm.DefaultAPIURL {
		r.printf("Last.fm: scrobbles go to %s, login still uses %s\n", e.cfg.LastFM.APIURL, lastfm.DefaultAPIURL)
	}

	if rec, err := e.store.Record(ctx); err != nil {
		r.printf("Last listen: ERROR - %v\n", err)
	} else if !rec.IsZero() {
		r.printf("Last listen: %s - %s\n", rec.Artist, rec.Track)
	}
	return nil
}

// TokenSet stores the ListenBrainz token from the argument or stdin.
func (r *Runner) TokenSet(ctx context.Context, cmd *cli.Command) error {
	e, err := r.setup(cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	token := strings.TrimSpace(cmd.Args().First())
	if token == "" {
		r.printf("ListenBrainz token: ")
		line, err := bufio.NewReader(r.input).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		return app.ErrEmptyToken
	}

	updated := e.store.Token() != ""
	if err := e.store.SetToken(ctx, token); err != nil {
		return err
	}
	r.printf("%s\n", setOrNot(updated, "ListenBrainz token updated", "ListenBrainz token set"))
	return nil
}

// TokenClear removes the stored token.
func (r *Runner) TokenClear(ctx context.Context, cmd *cli.Command) error {
	e, err := r.setup(cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.store.SetToken(ctx, ""); err != nil {
		return err
	}
	r.printf("ListenBrainz token cleared\n")
	return nil
}

// AuthLastFM runs the browser authorization flow on the terminal.
func (r *Runner) AuthLastFM(ctx context.Context, cmd *cli.Command) error {
	e, err := r.setup(cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	login := e.login(r.openBrowser)
	if login == nil {
		return errLastFMNotConfigured
	}

	authURL, token, err := login.Begin(ctx)
	if err != nil {
		return err
	}
	r.printf("Approve access in your browser, then press Enter.\n")
	r.printf("If no browser opened, visit:\n  %s\n", authURL)

	if _, err := bufio.NewReader(r.input).ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if err := login.Finish(ctx, token); err != nil {
		return err
	}
	r.printf("Logged in to Last.fm\n")
	return nil
}

func setOrNot(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

