package main

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"sorterctl/classify"
)

// simPin is an in-memory DigitalOut/DigitalIn pair: writes to it are
// visible to reads, matching a wired GPIO loopback without real hardware.
type simPin struct {
	mu   sync.Mutex
	high bool
}

func (p *simPin) Write(high bool) error {
	p.mu.Lock()
	p.high = high
	p.mu.Unlock()
	return nil
}

func (p *simPin) Read() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high, nil
}

// simPWM records the last frequency and duty cycle written; it drives
// nothing physical.
type simPWM struct {
	mu       sync.Mutex
	freqHz   uint32
	dutyPct  float64
}

func (p *simPWM) SetFrequency(hz uint32) error {
	p.mu.Lock()
	p.freqHz = hz
	p.mu.Unlock()
	return nil
}

func (p *simPWM) SetDutyCycle(pct float64) error {
	p.mu.Lock()
	p.dutyPct = pct
	p.mu.Unlock()
	return nil
}

func (p *simPWM) duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dutyPct
}

// simTrigger flips the camera trigger pin high and back on an interval,
// standing in for an object breaking a light curtain.
type simTrigger struct {
	pin      *simPin
	interval time.Duration
}

func (s *simTrigger) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.pin.Write(true)
			time.Sleep(20 * time.Millisecond)
			_ = s.pin.Write(false)
		}
	}
}

// simEchoMeter returns a distance that drifts slowly toward fullM, looping
// back to emptyM once reached, so a demo run visibly fills and empties a
// bin over time without any real ultrasonic hardware attached.
type simEchoMeter struct {
	mu             sync.Mutex
	distanceM      float64
	emptyM, fullM  float64
	stepM          float64
}

func newSimEchoMeter(emptyM, fullM float64) *simEchoMeter {
	return &simEchoMeter{distanceM: emptyM, emptyM: emptyM, fullM: fullM, stepM: (emptyM - fullM) / 40}
}

func (m *simEchoMeter) Measure(timeout time.Duration) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.distanceM -= m.stepM
	if m.distanceM <= m.fullM {
		m.distanceM = m.emptyM
	}
	return m.distanceM, nil
}

// simClassifier returns a uniformly random category at a fixed confidence,
// standing in for the vision model.
type simClassifier struct {
	confidence float64
	categories []classify.Category
	rng        *rand.Rand
}

func newSimClassifier(confidence float64) *simClassifier {
	return &simClassifier{
		confidence: confidence,
		categories: []classify.Category{classify.Metal, classify.Plastic, classify.Glass, classify.Carton, classify.Other},
		rng:        rand.New(rand.NewSource(1)),
	}
}

func (c *simClassifier) Classify(ctx context.Context, frame []byte, deadline time.Time) (classify.Result, error) {
	cat := c.categories[c.rng.Intn(len(c.categories))]
	return classify.Result{Category: cat, Confidence: c.confidence}, nil
}

func captureFakeFrame() ([]byte, error) {
	return []byte{0x00}, nil
}
