package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunez/scrobbled/internal/nowplaying"
	"github.com/tunez/scrobbled/internal/scrobble"
	"github.com/tunez/scrobbled/internal/scrobble/listenbrainz"
	"github.com/tunez/scrobbled/internal/state"
)

var (
	trackA = nowplaying.Sample{Artist: "A", Track: "T"}
	trackB = nowplaying.Sample{Artist: "B", Track: "U"}
)

type memStore struct {
	mu      sync.Mutex
	rec     state.Record
	saves   int
	loadErr error
	saveErr error
}

func (m *memStore) Record(ctx context.Context) (state.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec, m.loadErr
}

func (m *memStore) SaveRecord(ctx context.Context, r state.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.rec = r
	m.saves++
	return nil
}

func (m *memStore) snapshot() (state.Record, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec, m.saves
}

type fakeSink struct {
	id      string
	err     error
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	calls  []scrobble.Listen
	ctxErr error
}

func (f *fakeSink) ID() string   { return f.id }
func (f *fakeSink) Name() string { return f.id }

func (f *fakeSink) Submit(ctx context.Context, l scrobble.Listen) error {
	f.mu.Lock()
	f.calls = append(f.calls, l)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.ctxErr = ctx.Err()
	f.mu.Unlock()
	return f.err
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// scripted plays samples in order and then repeats the last one. A zero
// sample means nothing is playing.
type scripted struct {
	mu      sync.Mutex
	samples []nowplaying.Sample
	i       int
}

func (s *scripted) ID() string   { return "scripted" }
func (s *scripted) Name() string { return "Scripted" }

func (s *scripted) Poll(ctx context.Context) (nowplaying.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return nowplaying.Sample{}, false
	}
	cur := s.samples[min(s.i, len(s.samples)-1)]
	s.i++
	return cur, cur != nowplaying.Sample{}
}

func play(samples ...nowplaying.Sample) *scripted {
	return &scripted{samples: samples}
}

// stepClock advances by step on every call.
func stepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 10, 3, 2, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTracker(t *testing.T, src nowplaying.Source, store Store, primary scrobble.Sink, secondary ...scrobble.Sink) *Tracker {
	t.Helper()
	tr, err := New(context.Background(), Options{
		Source:     src,
		Dispatcher: scrobble.NewDispatcher(discard(), primary, secondary...),
		Store:      store,
		Interval:   15 * time.Second,
		Now:        stepClock(15 * time.Second),
		Logger:     discard(),
	})
	require.NoError(t, err)
	return tr
}

func steps(t *testing.T, tr *Tracker, n int) []Decision {
	t.Helper()
	out := make([]Decision, 0, n)
	for range n {
		d, err := tr.Step(context.Background())
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}

func TestIdempotentRestart(t *testing.T) {
	store := &memStore{rec: state.Record{Artist: "A", Track: "T"}}
	lb, lfm := &fakeSink{id: "lb"}, &fakeSink{id: "lfm"}
	tr := newTracker(t, play(trackA), store, lb, lfm)

	for _, d := range steps(t, tr, 5) {
		assert.Equal(t, DecisionUnchanged, d)
	}
	assert.Zero(t, lb.count())
	assert.Zero(t, lfm.count())
	assert.Equal(t, Identity{Artist: "A", Track: "T"}, tr.Status().LastSubmitted)
}

func TestNewThenRepeat(t *testing.T) {
	store := &memStore{}
	lb, lfm := &fakeSink{id: "lb"}, &fakeSink{id: "lfm"}
	tr := newTracker(t, play(trackA, trackA, trackA), store, lb, lfm)

	assert.Equal(t,
		[]Decision{DecisionSubmitted, DecisionUnchanged, DecisionUnchanged},
		steps(t, tr, 3))
	assert.Equal(t, 1, lb.count())
	assert.Equal(t, 1, lfm.count())

	rec, saves := store.snapshot()
	assert.Equal(t, state.Record{Artist: "A", Track: "T"}, rec)
	assert.Equal(t, 1, saves)

	st := tr.Status()
	assert.Equal(t, "A - T", st.NowPlaying)
	assert.Equal(t, "submitted", st.Primary.Text)
	assert.False(t, st.Primary.UpdatedAt.IsZero())
	require.Len(t, st.Secondary, 1)
	assert.True(t, st.Secondary[0].OK)
}

func TestNothingPlaying(t *testing.T) {
	lb := &fakeSink{id: "lb"}
	tr := newTracker(t, play(nowplaying.Sample{}, nowplaying.Sample{Artist: "A"}), &memStore{}, lb)

	assert.Equal(t, []Decision{DecisionNothingPlaying, DecisionNothingPlaying}, steps(t, tr, 2))
	assert.Zero(t, lb.count())
}

func TestFlapSuppression(t *testing.T) {
	store := &memStore{}
	lb := &fakeSink{id: "lb"}
	tr := newTracker(t, play(trackA, trackB, trackA), store, lb)

	assert.Equal(t,
		[]Decision{DecisionSubmitted, DecisionSubmitted, DecisionRecentlyAttempted},
		steps(t, tr, 3))
	assert.Equal(t, 2, lb.count())

	rec, _ := store.snapshot()
	assert.Equal(t, state.Record{Artist: "B", Track: "U"}, rec)

	// After a restart only the durable record survives, so A is new again.
	restarted := newTracker(t, play(trackA, trackB, trackA), store, lb)
	d, err := restarted.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionSubmitted, d)
	assert.Equal(t, 3, lb.count())
}

func TestFlapGuardExpires(t *testing.T) {
	lb := &fakeSink{id: "lb"}
	tr, err := New(context.Background(), Options{
		Source:      play(trackA, trackB, trackA),
		Dispatcher:  scrobble.NewDispatcher(discard(), lb),
		Store:       &memStore{},
		Interval:    15 * time.Second,
		GuardWindow: time.Minute,
		Now:         stepClock(45 * time.Second),
		Logger:      discard(),
	})
	require.NoError(t, err)

	assert.Equal(t,
		[]Decision{DecisionSubmitted, DecisionSubmitted, DecisionSubmitted},
		steps(t, tr, 3))
	assert.Equal(t, 3, lb.count())
}

func TestStartResetsFlapGuard(t *testing.T) {
	src := play(trackA, trackB, trackA)
	lb := &fakeSink{id: "lb"}
	tr := newTracker(t, src, &memStore{}, lb)

	steps(t, tr, 2)
	require.Equal(t, 2, lb.count())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, tr.Start(ctx))

	assert.Eventually(t, func() bool { return lb.count() == 3 }, time.Second, 5*time.Millisecond)
	tr.Stop()
	require.NoError(t, tr.Wait(ctx))
}

func TestIndependentSinkFailure(t *testing.T) {
	store := &memStore{}
	lb := &fakeSink{id: "lb"}
	lfm := &fakeSink{id: "lfm", err: errors.New("dial tcp: connection refused")}
	tr := newTracker(t, play(trackA), store, lb, lfm)

	assert.Equal(t, []Decision{DecisionSubmitted}, steps(t, tr, 1))

	rec, saves := store.snapshot()
	assert.Equal(t, state.Record{Artist: "A", Track: "T"}, rec)
	assert.Equal(t, 1, saves)

	st := tr.Status()
	assert.True(t, st.Primary.OK)
	require.Len(t, st.Secondary, 1)
	assert.False(t, st.Secondary[0].OK)
	assert.Contains(t, st.Secondary[0].Text, "connection refused")
}

func TestPrimaryFailureBlocksPersistence(t *testing.T) {
	store := &memStore{rec: state.Record{Artist: "Old", Track: "Song"}}
	lb := &fakeSink{id: "lb", err: &scrobble.HTTPError{Service: "listenbrainz", StatusCode: 500, Status: "500 Internal Server Error"}}
	lfm := &fakeSink{id: "lfm"}
	tr := newTracker(t, play(trackA, trackA), store, lb, lfm)

	// The second tick sees the in-memory identity even though nothing was
	// persisted.
	assert.Equal(t, []Decision{DecisionSubmitted, DecisionUnchanged}, steps(t, tr, 2))
	assert.Equal(t, 1, lfm.count())

	rec, saves := store.snapshot()
	assert.Equal(t, state.Record{Artist: "Old", Track: "Song"}, rec)
	assert.Zero(t, saves)

	st := tr.Status()
	assert.False(t, st.Primary.OK)
	assert.Contains(t, st.Primary.Text, "500")
	assert.Equal(t, Identity{Artist: "Old", Track: "Song"}, st.LastSubmitted)
}

func TestMissingCredential(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	store := &memStore{}
	lb := listenbrainz.New("", listenbrainz.Config{BaseURL: srv.URL})
	lfm := &fakeSink{id: "lfm"}
	tr := newTracker(t, play(trackA), store, lb, lfm)

	assert.Equal(t, []Decision{DecisionSubmitted}, steps(t, tr, 1))
	assert.Zero(t, hits.Load())
	assert.Equal(t, 1, lfm.count())

	st := tr.Status()
	assert.Equal(t, "missing credential, not submitted", st.Primary.Text)
	assert.True(t, st.Secondary[0].OK)

	_, saves := store.snapshot()
	assert.Zero(t, saves)
}

func TestPersistenceErrorIsNotFatal(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	lb := &fakeSink{id: "lb"}
	tr := newTracker(t, play(trackA, trackA), store, lb)

	assert.Equal(t, []Decision{DecisionSubmitted, DecisionUnchanged}, steps(t, tr, 2))
	assert.Equal(t, "disk full", tr.Status().LastError)
}

func TestRecordLoadErrorStartsEmpty(t *testing.T) {
	store := &memStore{loadErr: errors.New("corrupt")}
	lb := &fakeSink{id: "lb"}
	tr := newTracker(t, play(trackA), store, lb)

	assert.Equal(t, "corrupt", tr.Status().LastError)
	assert.Equal(t, []Decision{DecisionSubmitted}, steps(t, tr, 1))
}

func TestStartIsIdempotent(t *testing.T) {
	lb := &fakeSink{id: "lb"}
	tr := newTracker(t, play(trackA), &memStore{}, lb)
	assert.Equal(t, "not submitted", tr.Status().Primary.Text)

	ctx := context.Background()
	assert.True(t, tr.Start(ctx))
	assert.False(t, tr.Start(ctx))
	assert.True(t, tr.Running())
	assert.Equal(t, StateActive, tr.Status().State)

	assert.Eventually(t, func() bool { return lb.count() == 1 }, time.Second, 5*time.Millisecond)

	tr.Stop()
	tr.Stop()
	require.NoError(t, tr.Wait(ctx))
	assert.False(t, tr.Running())
	assert.Equal(t, StateIdle, tr.Status().State)
	assert.Equal(t, 1, lb.count())
}

func TestStopShowsStopped(t *testing.T) {
	tr := newTracker(t, play(), &memStore{}, &fakeSink{id: "lb"})
	ctx := context.Background()

	tr.Start(ctx)
	assert.Equal(t, "listening", tr.Status().Primary.Text)
	tr.Stop()
	require.NoError(t, tr.Wait(ctx))
	assert.Equal(t, "stopped", tr.Status().Primary.Text)
}

func TestStopLetsInFlightTickFinish(t *testing.T) {
	store := &memStore{}
	lb := &fakeSink{id: "lb", entered: make(chan struct{}, 1), release: make(chan struct{})}
	tr := newTracker(t, play(trackA), store, lb)

	ctx := context.Background()
	require.True(t, tr.Start(ctx))
	<-lb.entered

	tr.Stop()
	assert.False(t, tr.Running())

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Wait(short), context.DeadlineExceeded)

	_, err := tr.Step(ctx)
	assert.ErrorIs(t, err, ErrRunning)

	close(lb.release)
	require.NoError(t, tr.Wait(ctx))

	rec, saves := store.snapshot()
	assert.Equal(t, state.Record{Artist: "A", Track: "T"}, rec)
	assert.Equal(t, 1, saves)
}

func TestCancelLetsInFlightSubmissionFinish(t *testing.T) {
	store := &memStore{}
	lb := &fakeSink{id: "lb", entered: make(chan struct{}, 1), release: make(chan struct{})}
	tr := newTracker(t, play(trackA), store, lb)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, tr.Start(ctx))
	<-lb.entered

	cancel()
	tr.Stop()
	close(lb.release)
	require.NoError(t, tr.Wait(context.Background()))

	lb.mu.Lock()
	assert.NoError(t, lb.ctxErr)
	lb.mu.Unlock()

	st := tr.Status()
	assert.True(t, st.Primary.OK)
	rec, saves := store.snapshot()
	assert.Equal(t, state.Record{Artist: "A", Track: "T"}, rec)
	assert.Equal(t, 1, saves)
}

func TestStepRefusedWhileRunning(t *testing.T) {
	tr := newTracker(t, play(), &memStore{}, &fakeSink{id: "lb"})
	ctx, cancel := context.WithCancel(context.Background())

	tr.Start(ctx)
	_, err := tr.Step(ctx)
	assert.ErrorIs(t, err, ErrRunning)

	// Cancelling the run context also returns the tracker to idle.
	cancel()
	require.NoError(t, tr.Wait(context.Background()))
	assert.False(t, tr.Running())

	_, err = tr.Step(context.Background())
	assert.NoError(t, err)
}
