package tracker

import "time"

// attempts is the run-scoped flap guard. It holds the identities attempted
// since the loop started; each expires window after its attempt, except the
// most recent one which is kept until the next reset.
type attempts struct {
	window time.Duration
	last   Identity
	seen   map[Identity]time.Time
}

func newAttempts(window time.Duration) *attempts {
	return &attempts{window: window, seen: make(map[Identity]time.Time)}
}

func (a *attempts) reset() {
	a.last = Identity{}
	clear(a.seen)
}

func (a *attempts) add(id Identity, at time.Time) {
	a.last = id
	a.seen[id] = at
	a.prune(at)
}

func (a *attempts) contains(id Identity, now time.Time) bool {
	if id == a.last && !id.IsZero() {
		return true
	}
	at, ok := a.seen[id]
	return ok && now.Sub(at) < a.window
}

func (a *attempts) prune(now time.Time) {
	for id, at := range a.seen {
		if id != a.last && now.Sub(at) >= a.window {
			delete(a.seen, id)
		}
	}
}
