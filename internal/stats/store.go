// Package stats holds the running event-follow statistics shared by all sessions.
package stats

import (
	"sync"

	"github.com/rewired-gh/eventdrift/internal/models"
)

// Store owns the aggregate. All mutation goes through RecordOutcome; every
// method takes the same lock, so readers never see a partial update.
//
// The watermark kept here is the timestamp of the last recorded event. Sessions
// finish out of order, so it can move backwards and must not drive polling.
type Store struct {
	mu sync.Mutex

	watermark    int64
	successCount int
	unknownCount int
	successRate  float64
	history      []models.Record
	ratios       welford
}

func New() *Store {
	return &Store{}
}

// RecordOutcome appends a finished session and returns the snapshot right after it.
// Unknown outcomes count toward the total but never toward successes, and
// their ratio is left out of the ratio statistics.
func (s *Store) RecordOutcome(rec models.Record) models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(rec)
	return s.snapshotLocked()
}

// Restore seeds the store with previously persisted history, oldest first.
func (s *Store) Restore(records []models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.apply(rec)
	}
}

func (s *Store) apply(rec models.Record) {
	s.history = append(s.history, rec)
	s.watermark = rec.Event.Timestamp

	switch rec.Outcome {
	case models.OutcomeUp:
		s.successCount++
		s.ratios.update(rec.FinalRatio)
	case models.OutcomeDown:
		s.ratios.update(rec.FinalRatio)
	default:
		s.unknownCount++
	}

	s.successRate = float64(s.successCount) / float64(len(s.history))
}

// Snapshot returns a consistent copy of the counters.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() models.Snapshot {
	return models.Snapshot{
		Watermark:    s.watermark,
		SuccessCount: s.successCount,
		UnknownCount: s.unknownCount,
		Total:        len(s.history),
		SuccessRate:  s.successRate,
		MeanRatio:    s.ratios.mean,
		StdDevRatio:  s.ratios.stddev(),
	}
}

// History returns a copy of the recorded entries in completion order.
func (s *Store) History() []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Record, len(s.history))
	copy(out, s.history)
	return out
}
