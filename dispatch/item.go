package dispatch

import (
	"time"

	"sorterctl/classify"
)

// Outcome is the terminal disposition of an Item.
type Outcome string

const (
	Delivered Outcome = "delivered"
	Dropped   Outcome = "dropped"
	Failed    Outcome = "failed"
)

// Item tracks one detected object from trigger through classification,
// timed dispatch, and actuation, per spec.md 3.
type Item struct {
	ID           uint64
	TriggerTs    time.Time
	ImageRef     string // opaque, minted by the orchestrator (uuid)
	Category     classify.Category
	Confidence   float64
	BBox         *classify.BBox
	ClassifyTs   time.Time
	FireDeadline time.Time
	Actuated     bool
	Outcome      Outcome
}
