package tracker

import (
	"time"

	"github.com/tunez/scrobbled/internal/scrobble"
)

// RunState is Idle or Active.
type RunState int

const (
	StateIdle RunState = iota
	StateActive
)

func (s RunState) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// SinkStatus is the last outcome shown for one sink.
type SinkStatus struct {
	Name      string
	Text      string
	OK        bool
	UpdatedAt time.Time
}

// Status is a point-in-time snapshot for display.
type Status struct {
	State      RunState
	Source     string
	NowPlaying string
	// Primary starts out as "not submitted" and follows Start/Stop until the
	// first submission replaces it.
	Primary   SinkStatus
	Secondary []SinkStatus

	LastSubmitted   Identity
	LastSubmittedAt time.Time
	LastTickAt      time.Time
	LastError       string
}

// Status returns a copy of the current status.
func (t *Tracker) Status() Status {
	t.statusMu.RLock()
	defer t.statusMu.RUnlock()
	return t.status.clone()
}

func (s Status) clone() Status {
	c := s
	if s.Secondary != nil {
		c.Secondary = append([]SinkStatus(nil), s.Secondary...)
	}
	return c
}

func (t *Tracker) updateStatus(fn func(*Status)) {
	t.statusMu.Lock()
	defer t.statusMu.Unlock()
	fn(&t.status)
}

func sinkStatus(r scrobble.Result, at time.Time) SinkStatus {
	return SinkStatus{
		Name:      r.SinkName,
		Text:      r.Status(),
		OK:        r.OK(),
		UpdatedAt: at,
	}
}
