package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"sorterctl/dispatch"
	"sorterctl/errcode"
	"sorterctl/gpio"
	"sorterctl/telemetry"
)

// runPipeline consumes debounced camera-trigger edges and spawns one
// handleTrigger per rising edge. Each item's classify-then-schedule work
// happens on its own goroutine so a slow classification never delays the
// next trigger.
func (o *Orchestrator) runPipeline(done <-chan struct{}) {
	events := o.cameraTrigger.Events()
	for {
		select {
		case <-done:
			return
		case ev := <-events:
			if ev.Edge != gpio.Rising {
				continue
			}
			go o.handleTrigger(ev)
		}
	}
}

// handleTrigger captures a frame, classifies it, and schedules the
// resulting item, or drops it with a typed reason at the first failing
// step. A scheduled item ends in ItemActuated or ItemDropped, except when
// its activation fails (reported as an Alert only) or its pending fire is
// cancelled (no event is published).
func (o *Orchestrator) handleTrigger(ev gpio.EdgeEvent) {
	id := o.nextItemID()

	if o.captureFrame == nil {
		o.dropItem(id, ev, errcode.DropClassifierError)
		return
	}
	frame, err := o.captureFrame()
	if err != nil {
		o.recoverySup.ReportFault(errcode.CameraFailure, "camera", err)
		o.dropItem(id, ev, errcode.DropClassifierError)
		return
	}

	snap := o.cfg.Load()
	deadline := ev.Ts.Add(snap.AIModel.MaxInferenceTime)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	result, err := o.classifier.Classify(ctx, frame, deadline)
	cancel()
	if err != nil {
		o.recoverySup.ReportFault(errcode.AIModelFailure, "classifier", err)
		o.dropItem(id, ev, errcode.DropClassifierError)
		return
	}

	item := dispatch.Item{
		ID: id, TriggerTs: ev.Ts, ImageRef: uuid.NewString(),
		Category: result.Category, Confidence: result.Confidence, BBox: result.BBox,
		ClassifyTs: o.clk.Now(),
	}
	o.scheduler.Schedule(item)
	o.recordItem(item.Category, item.Confidence)
}

func (o *Orchestrator) dropItem(id uint64, ev gpio.EdgeEvent, reason errcode.Code) {
	if o.tel != nil {
		o.tel.PublishItemDropped(telemetry.ItemDropped{ItemID: id, TriggerTs: ev.Ts, Reason: reason})
	}
}
