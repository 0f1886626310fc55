package dispatch

import (
	"container/heap"
	"time"

	"sorterctl/classify"
)

// pendingFire is a scheduled, not-yet-activated actuation. generation
// records enqueue order only. Cancellation sets cancelled, and only on
// fires still in the queue; a fire that dispatchDue has already popped is
// not cancelled and goes on to activate.
type pendingFire struct {
	item       Item
	category   classify.Category
	fireTs     time.Time
	generation uint64
	cancelled  bool
	index      int
}

// fireQueue orders pending fires by fire_ts, then trigger_ts, then item id,
// matching spec.md 4.6's tie-break rule.
type fireQueue []*pendingFire

func (q fireQueue) Len() int { return len(q) }

func (q fireQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if !a.fireTs.Equal(b.fireTs) {
		return a.fireTs.Before(b.fireTs)
	}
	if !a.item.TriggerTs.Equal(b.item.TriggerTs) {
		return a.item.TriggerTs.Before(b.item.TriggerTs)
	}
	return a.item.ID < b.item.ID
}

func (q fireQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *fireQueue) Push(x any) {
	f := x.(*pendingFire)
	f.index = len(*q)
	*q = append(*q, f)
}

func (q *fireQueue) Pop() any {
	old := *q
	n := len(old)
	f := old[n-1]
	old[n-1] = nil
	f.index = -1
	*q = old[:n-1]
	return f
}

// peekDue pops every fire whose fire_ts has arrived, in tie-break order.
func peekDue(q *fireQueue, now time.Time) []*pendingFire {
	var due []*pendingFire
	for q.Len() > 0 && !(*q)[0].fireTs.After(now) {
		due = append(due, heap.Pop(q).(*pendingFire))
	}
	return due
}
