// Package tracker runs the poll, detect, dedupe and submit loop.
//
// A Tracker keeps two identities. sessionLast is the last listen accepted for
// submission; it is seeded from the durable submission record so a restart
// does not resubmit the track that was playing when the process stopped.
// tickLastAttempted is cleared every time the loop starts and suppresses a
// resubmission when the player flaps between tracks within one run: it
// remembers each identity attempted in the run for a guard window.
// Both are owned by the worker goroutine; other goroutines only flip the
// running flag and read Status.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tunez/scrobbled/internal/nowplaying"
	"github.com/tunez/scrobbled/internal/scrobble"
	"github.com/tunez/scrobbled/internal/state"
)

// DefaultInterval is the fixed delay between ticks.
const DefaultInterval = 15 * time.Second

// DefaultGuardTicks sizes the flap guard window in ticks when Options.GuardWindow
// is zero.
const DefaultGuardTicks = 4

// ErrRunning is returned by Step while the poll loop is active.
var ErrRunning = errors.New("tracker: poll loop is running")

// Identity is the dedupe key. Equality is exact; no normalization.
type Identity struct {
	Artist string
	Track  string
}

func (i Identity) IsZero() bool { return i.Artist == "" && i.Track == "" }

func (i Identity) String() string {
	if i.IsZero() {
		return ""
	}
	return i.Artist + " - " + i.Track
}

// Decision is what a tick did with its sample.
type Decision int

const (
	DecisionNothingPlaying Decision = iota
	DecisionUnchanged
	DecisionRecentlyAttempted
	DecisionSubmitted
)

func (d Decision) String() string {
	switch d {
	case DecisionNothingPlaying:
		return "nothing playing"
	case DecisionUnchanged:
		return "unchanged"
	case DecisionRecentlyAttempted:
		return "recently attempted"
	case DecisionSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// Dispatcher submits a listen to every sink.
type Dispatcher interface {
	Submit(ctx context.Context, l scrobble.Listen) scrobble.Report
}

// Store holds the durable submission record.
type Store interface {
	Record(ctx context.Context) (state.Record, error)
	SaveRecord(ctx context.Context, r state.Record) error
}

// Options configures a Tracker.
type Options struct {
	Source      nowplaying.Source
	Dispatcher  Dispatcher
	Store       Store
	Interval    time.Duration
	// GuardWindow is how long an attempted identity suppresses a
	// resubmission within one run. Zero means DefaultGuardTicks intervals.
	GuardWindow time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// Tracker is the listen state machine.
type Tracker struct {
	opts   Options
	logger *slog.Logger

	// Worker-owned.
	sessionLast       Identity
	tickLastAttempted *attempts

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	statusMu sync.RWMutex
	status   Status
}

// New creates an idle Tracker and seeds the session identity from the
// durable record. A record that cannot be read is logged and treated as
// empty.
func New(ctx context.Context, opts Options) (*Tracker, error) {
	if opts.Source == nil {
		return nil, errors.New("tracker: source is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("tracker: dispatcher is required")
	}
	if opts.Store == nil {
		return nil, errors.New("tracker: store is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.GuardWindow <= 0 {
		opts.GuardWindow = DefaultGuardTicks * opts.Interval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	t := &Tracker{
		opts:              opts,
		logger:            opts.Logger,
		tickLastAttempted: newAttempts(opts.GuardWindow),
		status: Status{
			State:   StateIdle,
			Source:  opts.Source.Name(),
			Primary: SinkStatus{Text: "not submitted"},
		},
	}

	rec, err := opts.Store.Record(ctx)
	if err != nil {
		t.logger.Error("load submission record", slog.Any("err", err))
		t.status.LastError = err.Error()
	}
	t.sessionLast = Identity{Artist: rec.Artist, Track: rec.Track}
	t.status.LastSubmitted = t.sessionLast
	if !t.sessionLast.IsZero() {
		t.logger.Debug("restored last submission", slog.String("listen", t.sessionLast.String()))
	}

	return t, nil
}

// Start launches the poll loop. It returns false if the loop is already
// active. ctx is only checked between ticks: cancelling it ends the run like
// Stop, and a tick already in progress still completes its submission.
func (t *Tracker) Start(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return false
	}
	t.running = true

	prev := t.done
	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done

	t.updateStatus(func(s *Status) {
		s.State = StateActive
		s.Primary.Text, s.Primary.UpdatedAt = "listening", time.Time{}
	})
	t.logger.Info("poll loop started", slog.String("source", t.opts.Source.ID()), slog.Duration("interval", t.opts.Interval))

	go t.loop(ctx, prev, stop, done)
	return true
}

// Stop asks the loop to exit. A tick already in progress, including its
// submission, runs to completion. Stop does not wait; use Wait for that.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.running = false
	close(t.stop)

	t.updateStatus(func(s *Status) {
		s.State = StateIdle
		s.Primary.Text, s.Primary.UpdatedAt = "stopped", time.Time{}
	})
	t.logger.Info("poll loop stopping")
}

// Running reports whether the loop is active.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Wait blocks until the most recently started loop has exited or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Step runs exactly one tick on the caller's goroutine. It fails with
// ErrRunning while the loop is active or still winding down.
func (t *Tracker) Step(ctx context.Context) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return DecisionNothingPlaying, ErrRunning
	}
	if t.done != nil {
		select {
		case <-t.done:
		default:
			return DecisionNothingPlaying, ErrRunning
		}
	}
	return t.tick(ctx), nil
}

func (t *Tracker) loop(ctx context.Context, prev <-chan struct{}, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		t.mu.Lock()
		if t.done == done && t.running {
			// ctx ended the run rather than Stop.
			t.running = false
			t.updateStatus(func(s *Status) {
				s.State = StateIdle
				s.Primary.Text, s.Primary.UpdatedAt = "stopped", time.Time{}
			})
		}
		t.mu.Unlock()
		close(done)
		t.logger.Info("poll loop stopped")
	}()

	// A previous run may still be finishing its last tick.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	t.tickLastAttempted.reset()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// Stop wins over a timer that fired at the same moment.
		select {
		case <-stop:
			return
		default:
		}

		// Sinks and probes carry their own timeouts.
		decision := t.tick(context.WithoutCancel(ctx))
		t.logger.Debug("tick", slog.String("decision", decision.String()))
		timer.Reset(t.opts.Interval)
	}
}

func (t *Tracker) tick(ctx context.Context) Decision {
	sample, ok := t.opts.Source.Poll(ctx)
	now := t.opts.Now()
	t.updateStatus(func(s *Status) { s.LastTickAt = now })

	if !ok || sample.Artist == "" || sample.Track == "" {
		return DecisionNothingPlaying
	}

	candidate := Identity{Artist: sample.Artist, Track: sample.Track}
	if candidate == t.sessionLast {
		return DecisionUnchanged
	}
	if t.tickLastAttempted.contains(candidate, now) {
		return DecisionRecentlyAttempted
	}

	// Commit both guards before the network call so a slow or failing
	// submission is not retried by the next tick.
	t.sessionLast = candidate
	t.tickLastAttempted.add(candidate, now)

	t.updateStatus(func(s *Status) { s.NowPlaying = candidate.String() })
	t.logger.Info("new listen", slog.String("artist", candidate.Artist), slog.String("track", candidate.Track))

	report := t.opts.Dispatcher.Submit(ctx, scrobble.Listen{
		Artist:     candidate.Artist,
		Track:      candidate.Track,
		ListenedAt: now,
	})
	t.applyReport(report, now)

	if !report.Primary.OK() {
		// Durable state is left alone; a restart may retry this listen.
		return DecisionSubmitted
	}

	rec := state.Record{Artist: candidate.Artist, Track: candidate.Track}
	if err := t.opts.Store.SaveRecord(context.WithoutCancel(ctx), rec); err != nil {
		t.logger.Error("persist submission record",
			slog.String("submission_id", report.ID),
			slog.Any("err", err))
		t.updateStatus(func(s *Status) { s.LastError = err.Error() })
		return DecisionSubmitted
	}

	t.updateStatus(func(s *Status) {
		s.LastSubmitted = candidate
		s.LastSubmittedAt = now
		s.LastError = ""
	})
	return DecisionSubmitted
}

func (t *Tracker) applyReport(report scrobble.Report, at time.Time) {
	t.updateStatus(func(s *Status) {
		s.Primary = sinkStatus(report.Primary, at)
		s.Secondary = make([]SinkStatus, len(report.Secondary))
		for i, r := range report.Secondary {
			s.Secondary[i] = sinkStatus(r, at)
		}
	})
}
