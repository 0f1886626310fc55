package orchestrator

import (
	"time"

	"sorterctl/classify"
	"sorterctl/telemetry"
)

// recordItem folds one classified item into the running metrics
// accumulator. Called once per item regardless of its eventual
// actuated/dropped outcome, matching items_processed's definition as
// "items the pipeline classified".
func (o *Orchestrator) recordItem(category classify.Category, confidence float64) {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()
	o.itemsProcessed++
	o.confidenceSum += confidence
	o.categoryCounts[category]++
}

// runMetricsLoop publishes a retained Metrics snapshot every
// MetricsInterval and keeps the last few in a ring buffer for GetMetrics.
func (o *Orchestrator) runMetricsLoop(done <-chan struct{}) {
	ticker := o.clk.NewTicker(o.metricsInterval)
	defer ticker.Stop()

	var lastProcessed uint64
	lastTs := o.clk.Now()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C():
			o.metricsMu.Lock()
			processed := o.itemsProcessed
			confidenceSum := o.confidenceSum
			counts := make(map[classify.Category]uint64, len(o.categoryCounts))
			for k, v := range o.categoryCounts {
				counts[k] = v
			}
			o.metricsMu.Unlock()

			elapsedMin := now.Sub(lastTs).Minutes()
			var perMinute float64
			if elapsedMin > 0 {
				perMinute = float64(processed-lastProcessed) / elapsedMin
			}
			var avgConfidence float64
			if processed > 0 {
				avgConfidence = confidenceSum / float64(processed)
			}

			m := telemetry.Metrics{
				Ts: now, ItemsProcessed: processed, ItemsPerMinute: perMinute,
				AvgConfidence: avgConfidence, PerCategoryCounts: counts,
				CPUPct: o.readPercent(o.cpuPercent), MemPct: o.readPercent(o.memPercent), TempC: o.tempC(),
			}
			o.tel.PublishMetrics(m)

			o.metricsMu.Lock()
			o.metricsRing = append(o.metricsRing, m)
			if len(o.metricsRing) > 120 {
				o.metricsRing = o.metricsRing[len(o.metricsRing)-120:]
			}
			o.metricsMu.Unlock()

			lastProcessed = processed
			lastTs = now
		}
	}
}

func (o *Orchestrator) readPercent(f func() float64) float64 {
	if f == nil {
		return 0
	}
	return f()
}

// GetMetrics returns every ring-buffered snapshot newer than window ago.
func (o *Orchestrator) GetMetrics(window time.Duration) []telemetry.Metrics {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()
	if window <= 0 {
		out := make([]telemetry.Metrics, len(o.metricsRing))
		copy(out, o.metricsRing)
		return out
	}
	cutoff := o.clk.Now().Add(-window)
	var out []telemetry.Metrics
	for _, m := range o.metricsRing {
		if m.Ts.After(cutoff) {
			out = append(out, m)
		}
	}
	return out
}
