package models

import (
	"time"
)

// Outcome classifies a finished tracking session.
type Outcome string

const (
	// OutcomeUp means the last successful sample was at or above the baseline.
	OutcomeUp Outcome = "up"
	// OutcomeDown means the last successful sample was below the baseline.
	OutcomeDown Outcome = "down"
	// OutcomeUnknown means the window was not measured: no sample was obtained,
	// or the session was cut short. Never counted as a success.
	OutcomeUnknown Outcome = "unknown"
)

// Success reports whether the outcome counts toward the success rate.
func (o Outcome) Success() bool {
	return o == OutcomeUp
}

// Valid reports whether o is one of the defined outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeUp, OutcomeDown, OutcomeUnknown:
		return true
	}
	return false
}

// ClassifyRatio maps a final change ratio to an outcome. A zero ratio is a success.
func ClassifyRatio(ratio float64, samples int) Outcome {
	if samples == 0 {
		return OutcomeUnknown
	}
	if ratio >= 0.0 {
		return OutcomeUp
	}
	return OutcomeDown
}

type TrackingResult struct {
	SessionID string
	Event     Event

	BasePrice     float64
	BaseTimestamp int64
	FinalRatio    float64

	// Samples counts successful samples taken after the baseline.
	Samples  int
	Failures int
	Outcome  Outcome

	StartedAt  time.Time
	FinishedAt time.Time
}

// Record is one persisted history entry.
type Record struct {
	ID         string
	Event      Event
	Outcome    Outcome
	FinalRatio float64
	BasePrice  float64
	Samples    int
	Failures   int
	RecordedAt time.Time
}

// NewRecord builds a history entry from a finished session.
func NewRecord(r TrackingResult, recordedAt time.Time) Record {
	return Record{
		ID:         r.SessionID,
		Event:      r.Event,
		Outcome:    r.Outcome,
		FinalRatio: r.FinalRatio,
		BasePrice:  r.BasePrice,
		Samples:    r.Samples,
		Failures:   r.Failures,
		RecordedAt: recordedAt,
	}
}

// Snapshot is a consistent copy of the running statistics.
type Snapshot struct {
	Watermark    int64
	SuccessCount int
	UnknownCount int
	Total        int
	SuccessRate  float64
	MeanRatio    float64
	StdDevRatio  float64
}
