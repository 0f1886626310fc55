// Package clock supplies monotonic time and timer primitives to the rest of
// the core. Every long-running loop takes a Clock instead of calling
// time.Now/time.After directly, so tests can swap in a Virtual clock that
// only advances when told to.
package clock

import "time"

// Clock is the contract every scheduling/timing component depends on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker closely enough that callers can range over C
// and call Stop without caring which Clock produced it.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real wraps the standard library's wall/monotonic clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
