package gpio

import (
	"sorterctl/clock"
	"time"
)

// Edge is a transition direction on a digital input.
type Edge int

const (
	Rising  Edge = 1
	Falling Edge = -1
)

// EdgeEvent is one debounced transition.
type EdgeEvent struct {
	Ts   time.Time
	Edge Edge
}

// EdgeSensor polls a digital input (camera trigger, e-stop) at PollInterval
// and emits a debounced, coalesced stream of edges. Two edges closer than
// Debounce are collapsed into one event. The output channel is bounded; a
// slow consumer causes the newest event to overwrite the buffered one
// rather than blocking the poll loop.
type EdgeSensor struct {
	Pin          DigitalIn
	Clock        clock.Clock
	PollInterval time.Duration
	Debounce     time.Duration
	ActiveHigh   bool

	out chan EdgeEvent
}

// NewEdgeSensor returns a sensor with a single-slot coalescing output
// channel.
func NewEdgeSensor(pin DigitalIn, clk clock.Clock, pollInterval, debounce time.Duration, activeHigh bool) *EdgeSensor {
	return &EdgeSensor{
		Pin: pin, Clock: clk, PollInterval: pollInterval, Debounce: debounce,
		ActiveHigh: activeHigh,
		out:        make(chan EdgeEvent, 1),
	}
}

// Events returns the coalescing output channel.
func (s *EdgeSensor) Events() <-chan EdgeEvent { return s.out }

// Run polls until ctx-like cancellation via the done channel closes.
func (s *EdgeSensor) Run(done <-chan struct{}) error {
	ticker := s.Clock.NewTicker(s.PollInterval)
	defer ticker.Stop()

	last, err := s.Pin.Read()
	if err != nil {
		return err
	}
	var lastEdgeTs time.Time

	for {
		select {
		case <-done:
			return nil
		case now := <-ticker.C():
			cur, err := s.Pin.Read()
			if err != nil {
				return err
			}
			if cur == last {
				continue
			}
			if !lastEdgeTs.IsZero() && now.Sub(lastEdgeTs) < s.Debounce {
				last = cur
				continue
			}
			last = cur
			lastEdgeTs = now

			edge := Falling
			active := cur
			if !s.ActiveHigh {
				active = !cur
			}
			if active {
				edge = Rising
			}
			s.emit(EdgeEvent{Ts: now, Edge: edge})
		}
	}
}

func (s *EdgeSensor) emit(ev EdgeEvent) {
	select {
	case s.out <- ev:
	default:
		// Coalesce: drop the stale buffered event, keep the newest.
		select {
		case <-s.out:
		default:
		}
		select {
		case s.out <- ev:
		default:
		}
	}
}
