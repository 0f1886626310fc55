// Package telemetry wraps the topic-trie publish/subscribe bus with the
// typed event shapes named in spec.md 6: item.actuated, item.dropped,
// metrics, state.changed, alert, bin.changed. Every publication on a given
// topic is totally ordered per publisher, per spec.md 5's ordering
// guarantee; callers get that for free because bus.Bus serializes Publish
// under a single lock.
package telemetry

import (
	"time"

	"sorterctl/bus"
	"sorterctl/classify"
	"sorterctl/errcode"
	"sorterctl/x/timex"
)

// Topics, as dot-paths matching the bus's Topic type.
var (
	TopicItemActuated = bus.Topic{"item", "actuated"}
	TopicItemDropped  = bus.Topic{"item", "dropped"}
	TopicMetrics      = bus.Topic{"metrics"}
	TopicStateChanged = bus.Topic{"state", "changed"}
	TopicAlert        = bus.Topic{"alert"}
	TopicBinChanged   = bus.Topic{"bin", "changed"}
)

// ItemActuated is published when a scheduled fire completes successfully.
type ItemActuated struct {
	ItemID         uint64
	TriggerTs      time.Time
	ClassifyTs     time.Time
	FireTs         time.Time
	Category       classify.Category
	Confidence     float64
	BBox           *classify.BBox
	DiverterOpCount uint64
}

// ItemDropped is published whenever an item is removed from the pipeline
// without actuation.
type ItemDropped struct {
	ItemID    uint64
	TriggerTs time.Time
	Reason    errcode.Code
}

// StateChanged is published on every system-state transition.
type StateChanged struct {
	From   string
	To     string
	Reason string
}

// Severity is the Alert severity enum.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is published by any component reporting a fault or notable event.
// TSms is a wall-clock Unix-millisecond stamp taken at publish time,
// independent of whatever clock.Clock is driving the rest of the system —
// useful for correlating alerts against real time when the domain clock is
// virtual (tests, simulation).
type Alert struct {
	Severity  Severity
	Kind      errcode.Code
	Component string
	Message   string
	TSms      int64
}

// Metrics mirrors MetricsSnapshot (spec.md 3), published every
// metrics_interval_s.
type Metrics struct {
	Ts                time.Time
	ItemsProcessed    uint64
	ItemsPerMinute    float64
	AvgConfidence     float64
	PerCategoryCounts map[classify.Category]uint64
	CPUPct            float64
	MemPct            float64
	TempC             float64
}

// BinChanged is published whenever a bin's fill state transitions.
type BinChanged struct {
	Category classify.Category
	Fraction float64
	State    string
}

// Telemetry is the typed publish surface used by pipeline components. It
// wraps one bus connection; Close tears down every subscription opened
// through it.
type Telemetry struct {
	conn *bus.Connection
}

// New wraps a fresh connection on b.
func New(b *bus.Bus) *Telemetry {
	return &Telemetry{conn: b.NewConnection()}
}

func (t *Telemetry) PublishItemActuated(e ItemActuated) {
	t.conn.Publish(&bus.Message{Topic: TopicItemActuated, Payload: e})
}

func (t *Telemetry) PublishItemDropped(e ItemDropped) {
	t.conn.Publish(&bus.Message{Topic: TopicItemDropped, Payload: e})
}

// PublishStateChanged retains the latest transition so late subscribers
// (e.g. a dashboard reconnecting) immediately learn the current state.
func (t *Telemetry) PublishStateChanged(e StateChanged) {
	t.conn.Publish(&bus.Message{Topic: TopicStateChanged, Payload: e, Retained: true})
}

func (t *Telemetry) PublishAlert(e Alert) {
	if e.TSms == 0 {
		e.TSms = timex.NowMs()
	}
	t.conn.Publish(&bus.Message{Topic: TopicAlert, Payload: e})
}

func (t *Telemetry) PublishMetrics(e Metrics) {
	t.conn.Publish(&bus.Message{Topic: TopicMetrics, Payload: e, Retained: true})
}

func (t *Telemetry) PublishBinChanged(e BinChanged) {
	t.conn.Publish(&bus.Message{Topic: TopicBinChanged, Payload: e, Retained: true})
}

// Subscribe returns the raw bus subscription for topic; callers type-assert
// Message.Payload to the event struct matching the topic they subscribed
// to.
func (t *Telemetry) Subscribe(topic bus.Topic) *bus.Subscription {
	return t.conn.Subscribe(topic)
}

// Close disconnects every subscription opened on this Telemetry.
func (t *Telemetry) Close() { t.conn.Disconnect() }
