package scrobble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Outcome classifies the result of one sink submission.
type Outcome int

const (
	OutcomeSubmitted Outcome = iota
	OutcomeMissingCredential
	OutcomeHTTPError
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeMissingCredential:
		return "missing credential"
	case OutcomeHTTPError:
		return "http error"
	case OutcomeTransportError:
		return "transport error"
	default:
		return "unknown"
	}
}

// Classify maps a sink error to an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSubmitted
	}
	if errors.Is(err, ErrMissingCredential) {
		return OutcomeMissingCredential
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		return OutcomeHTTPError
	}
	return OutcomeTransportError
}

// Result is the outcome of submitting one listen to one sink.
type Result struct {
	SinkID   string
	SinkName string
	Outcome  Outcome
	Err      error
	Elapsed  time.Duration
}

// OK reports whether the sink accepted the listen.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSubmitted && r.Err == nil
}

// Status renders the result for a status line.
func (r Result) Status() string {
	switch r.Outcome {
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeMissingCredential:
		return "missing credential, not submitted"
	default:
		if r.Err != nil {
			return "error: " + r.Err.Error()
		}
		return "error"
	}
}

// Report holds the per-sink results of one dispatch.
type Report struct {
	ID        string
	Listen    Listen
	Primary   Result
	Secondary []Result
}

// All returns the primary result followed by the secondary results.
func (r Report) All() []Result {
	out := make([]Result, 0, 1+len(r.Secondary))
	out = append(out, r.Primary)
	return append(out, r.Secondary...)
}

// Dispatcher fans a listen out to one primary sink and any number of
// secondary sinks. Only the primary result decides whether the tracker
// commits the listen to durable state.
type Dispatcher struct {
	primary   Sink
	secondary []Sink
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. primary must not be nil.
func NewDispatcher(logger *slog.Logger, primary Sink, secondary ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{primary: primary, secondary: secondary, logger: logger}
}

// Sinks returns all sinks, primary first.
func (d *Dispatcher) Sinks() []Sink {
	out := make([]Sink, 0, 1+len(d.secondary))
	out = append(out, d.primary)
	return append(out, d.secondary...)
}

// Submit calls every sink concurrently and waits for all of them. It never
// returns an error: each failure is captured in its sink's Result.
func (d *Dispatcher) Submit(ctx context.Context, l Listen) Report {
	report := Report{
		ID:        uuid.NewString(),
		Listen:    l,
		Secondary: make([]Result, len(d.secondary)),
	}
	logger := d.logger.With(slog.String("submission_id", report.ID))

	var g errgroup.Group
	g.Go(func() error {
		report.Primary = d.submitOne(ctx, logger, d.primary, l)
		return nil
	})
	for i, s := range d.secondary {
		g.Go(func() error {
			report.Secondary[i] = d.submitOne(ctx, logger, s, l)
			return nil
		})
	}
	_ = g.Wait()

	return report
}

func (d *Dispatcher) submitOne(ctx context.Context, logger *slog.Logger, s Sink, l Listen) (res Result) {
	res = Result{SinkID: s.ID(), SinkName: s.Name()}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("%s: panic: %v", s.Name(), p)
			res.Outcome = OutcomeTransportError
		}
		res.Elapsed = time.Since(start)
		if res.OK() {
			logger.Info("listen submitted",
				slog.String("sink", res.SinkID),
				slog.String("artist", l.Artist),
				slog.String("track", l.Track),
				slog.Duration("elapsed", res.Elapsed))
		} else {
			logger.Warn("listen not submitted",
				slog.String("sink", res.SinkID),
				slog.String("outcome", res.Outcome.String()),
				slog.Any("err", res.Err))
		}
	}()

	res.Err = s.Submit(ctx, l)
	res.Outcome = Classify(res.Err)
	return res
}
