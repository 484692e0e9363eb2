// Package events carries the phase lifecycle notifications consumed by the
// event store, metrics, the build report and the optional NATS sink.
package events

import "time"

// Event is anything publishable on the bus.
type Event interface {
	Name() string
	Run() string
}

// PhaseStarted is emitted before a phase executor runs.
type PhaseStarted struct {
	RunID string    `json:"run_id"`
	Phase string    `json:"phase"`
	Index int       `json:"index"`
	At    time.Time `json:"at"`
}

func (e PhaseStarted) Name() string { return "phase.started" }
func (e PhaseStarted) Run() string  { return e.RunID }

// PhaseFinished is emitted after a phase executor returns.
type PhaseFinished struct {
	RunID    string        `json:"run_id"`
	Phase    string        `json:"phase"`
	Status   string        `json:"status"` // completed, failed, warned, skipped
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

func (e PhaseFinished) Name() string { return "phase.finished" }
func (e PhaseFinished) Run() string  { return e.RunID }

// BuildFinished closes a run.
type BuildFinished struct {
	RunID   string    `json:"run_id"`
	Outcome string    `json:"outcome"` // succeeded, failed
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

func (e BuildFinished) Name() string { return "build.finished" }
func (e BuildFinished) Run() string  { return e.RunID }
