// Package classify defines the vision classifier capability the dispatch
// scheduler depends on, plus a thin client that fails over from a primary
// model to a configured backup. The inference engine itself is an external
// collaborator; only its interface lives here.
package classify

import (
	"context"
	"errors"
	"time"
)

// Category is the closed set of canonical material classes.
type Category string

const (
	Metal   Category = "metal"
	Plastic Category = "plastic"
	Glass   Category = "glass"
	Carton  Category = "carton"
	Other   Category = "other"
)

// BBox is a detection bounding box in frame coordinates.
type BBox struct {
	X, Y, W, H float64
}

// Result is one classification outcome.
type Result struct {
	Category      Category
	Confidence    float64
	BBox          *BBox
	LowConfidence bool // true when Confidence < min_confidence and Category was forced to the fallback
}

// ErrTimeout is returned when inference exceeds max_inference_time_ms.
var ErrTimeout = errors.New("classify: inference timeout")

// ErrModelError is returned on a classifier driver/init failure.
var ErrModelError = errors.New("classify: model error")

// Classifier is the capability the scheduler calls for every triggered item.
type Classifier interface {
	Classify(ctx context.Context, frame []byte, deadline time.Time) (Result, error)
}

// Client wraps a primary classifier with a backup. It switches to the
// backup only when FailoverToBackup is called; a primary ErrModelError is
// returned to the caller as is. FallbackCategory and MinConfidence convert
// a low-confidence primary result into a classified-but-flagged item rather
// than an error, per spec.md 4.5.
type Client struct {
	Primary          Classifier
	Backup           Classifier // nil if none configured
	MinConfidence    float64
	FallbackCategory Category

	usingBackup bool
}

// UsingBackup reports whether the client has failed over to the backup
// model. The recovery supervisor drives FailoverToBackup/Restore; this
// client only remembers which one is currently active.
func (c *Client) UsingBackup() bool { return c.usingBackup }

// FailoverToBackup switches subsequent Classify calls to the backup model.
// Returns an error if no backup is configured.
func (c *Client) FailoverToBackup() error {
	if c.Backup == nil {
		return errors.New("classify: no backup model configured")
	}
	c.usingBackup = true
	return nil
}

// RestorePrimary switches back to the primary model, typically after the
// recovery supervisor reloads it successfully.
func (c *Client) RestorePrimary() { c.usingBackup = false }

// Classify delegates to whichever model is currently active and applies
// the low-confidence fallback rule.
func (c *Client) Classify(ctx context.Context, frame []byte, deadline time.Time) (Result, error) {
	active := c.Primary
	if c.usingBackup && c.Backup != nil {
		active = c.Backup
	}

	res, err := active.Classify(ctx, frame, deadline)
	if err != nil {
		return Result{}, err
	}

	if res.Confidence < c.MinConfidence {
		res.Category = c.FallbackCategory
		res.LowConfidence = true
	}
	return res, nil
}
