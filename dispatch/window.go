package dispatch

import "time"

// window is an activation's occupied time span on the belt, used to detect
// overlap between pending fires.
type window struct {
	start time.Time
	end   time.Time
}

func (w window) overlaps(o window) bool {
	return w.start.Before(o.end) && o.start.Before(w.end)
}

// pruneStale drops windows that have already fully elapsed, so the
// overlap check only ever considers live reservations.
func pruneStale(windows []window, now time.Time) []window {
	out := windows[:0]
	for _, w := range windows {
		if w.end.After(now) {
			out = append(out, w)
		}
	}
	return out
}

// latestEnd returns the latest end time among windows, or zero time if
// windows is empty.
func latestEnd(windows []window) time.Time {
	var latest time.Time
	for _, w := range windows {
		if w.end.After(latest) {
			latest = w.end
		}
	}
	return latest
}
