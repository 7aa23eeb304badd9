package pipeline

import (
	"sync"
	"time"
)

// HealthState is one of the four states a stage's health can occupy
// (spec.md section 4.6).
type HealthState string

const (
	Healthy     HealthState = "healthy"
	Warning     HealthState = "warning"
	Error       HealthState = "error"
	Unavailable HealthState = "unavailable"
)

// HealthStatus is a stage's current health, with a message when degraded.
type HealthStatus struct {
	State   HealthState
	Message string
}

// StageHealth tracks one stage's success/error counters and last-output
// time, and derives its HealthStatus per the thresholds in spec.md section
// 4.6: Warning above a 5% error rate over the last minute, Error once the
// stage has gone silent for 3x its expected output period.
type StageHealth struct {
	mu              sync.Mutex
	name            string
	expectedPeriod  time.Duration
	lastOutput      time.Time
	window          []outcome
	essential       bool
	unavailable     bool
	unavailableWhy  string
}

type outcome struct {
	at      time.Time
	isError bool
}

// NewStageHealth creates a health tracker. expectedPeriod is the nominal
// interval between this stage's outputs (e.g. the configured chunk step for
// C1, or a provider's typical latency for C2/C4); essential marks a stage
// whose Error state forces the session to Stopping (C1, C5 per spec.md
// section 4.6).
func NewStageHealth(name string, expectedPeriod time.Duration, essential bool) *StageHealth {
	return &StageHealth{
		name:           name,
		expectedPeriod: expectedPeriod,
		lastOutput:     time.Now(),
		essential:      essential,
	}
}

// RecordSuccess marks that the stage produced output just now.
func (h *StageHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.lastOutput = now
	h.window = append(h.window, outcome{at: now, isError: false})
	h.trimLocked(now)
}

// RecordError marks a stage-local failure without necessarily suppressing
// output (e.g. a retried provider call that eventually succeeded still
// counts its failed attempts here).
func (h *StageHealth) RecordError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.window = append(h.window, outcome{at: now, isError: true})
	h.trimLocked(now)
}

// MarkUnavailable flags the stage as fatally misconfigured or missing an
// essential dependency (e.g. no provider registered). This overrides the
// rate-based computation until cleared.
func (h *StageHealth) MarkUnavailable(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unavailable = true
	h.unavailableWhy = reason
}

func (h *StageHealth) trimLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := h.window[:0]
	for _, o := range h.window {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	h.window = kept
}

// Status derives the current HealthStatus from recorded outcomes.
func (h *StageHealth) Status() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.unavailable {
		return HealthStatus{State: Unavailable, Message: h.unavailableWhy}
	}

	if h.expectedPeriod > 0 && time.Since(h.lastOutput) > 3*h.expectedPeriod {
		return HealthStatus{State: Error, Message: "no output for 3x the expected period"}
	}

	var total, errs int
	for _, o := range h.window {
		total++
		if o.isError {
			errs++
		}
	}
	if total > 0 && float64(errs)/float64(total) > 0.05 {
		return HealthStatus{State: Warning, Message: "error rate exceeds 5% over the last minute"}
	}

	return HealthStatus{State: Healthy}
}

// Essential reports whether this stage's Error state should force the
// session into Stopping.
func (h *StageHealth) Essential() bool {
	return h.essential
}

// ErrorCount returns how many errors this stage has recorded in the last
// minute, for the error-count snapshot SystemStatus reports alongside
// per-stage health (spec.md section 4.6).
func (h *StageHealth) ErrorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trimLocked(time.Now())
	var errs int
	for _, o := range h.window {
		if o.isError {
			errs++
		}
	}
	return errs
}
