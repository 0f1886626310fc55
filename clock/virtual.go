package clock

import (
	"sort"
	"sync"
	"time"
)

// Virtual is a Clock that only advances when Advance is called. It exists
// so dispatch/safety/recovery tests can assert exact fire_ts ordering
// without sleeping real wall-clock time.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*virtualWaiter
	tickers []*virtualTicker
}

type virtualWaiter struct {
	due time.Time
	ch  chan time.Time
}

// NewVirtual returns a Virtual clock seeded at t0.
func NewVirtual(t0 time.Time) *Virtual {
	return &Virtual{now: t0}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) After(d time.Duration) <-chan time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan time.Time, 1)
	due := v.now.Add(d)
	if !due.After(v.now) {
		ch <- v.now
		return ch
	}
	v.waiters = append(v.waiters, &virtualWaiter{due: due, ch: ch})
	return ch
}

func (v *Virtual) NewTicker(d time.Duration) Ticker {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &virtualTicker{v: v, period: d, due: v.now.Add(d), ch: make(chan time.Time, 1)}
	v.tickers = append(v.tickers, t)
	return t
}

// Advance moves the clock forward by d, firing every waiter and ticker whose
// due time has passed, in due-time order.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)

	sort.Slice(v.waiters, func(i, j int) bool { return v.waiters[i].due.Before(v.waiters[j].due) })
	var remaining []*virtualWaiter
	for _, w := range v.waiters {
		if !w.due.After(v.now) {
			select {
			case w.ch <- v.now:
			default:
			}
		} else {
			remaining = append(remaining, w)
		}
	}
	v.waiters = remaining

	for _, t := range v.tickers {
		if t.stopped {
			continue
		}
		for !t.due.After(v.now) {
			select {
			case t.ch <- v.now:
			default:
			}
			t.due = t.due.Add(t.period)
		}
	}
}

type virtualTicker struct {
	v       *Virtual
	period  time.Duration
	due     time.Time
	ch      chan time.Time
	stopped bool
}

func (t *virtualTicker) C() <-chan time.Time { return t.ch }

func (t *virtualTicker) Stop() {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	t.stopped = true
}
