// Package monitor drives the detection loop and dispatches one tracking session per event.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/eventdrift/internal/logger"
	"github.com/rewired-gh/eventdrift/internal/models"
	"github.com/rewired-gh/eventdrift/internal/stats"
)

// EventSource reports the newest event strictly after a watermark, or nil.
type EventSource interface {
	Poll(ctx context.Context, after int64) (*models.Event, error)
}

// SessionRunner measures the price drift following one event.
type SessionRunner interface {
	Track(ctx context.Context, event models.Event) models.TrackingResult
}

// RecordStore persists finished sessions.
type RecordStore interface {
	AddRecord(rec *models.Record) error
}

// Notifier delivers alerts to an operator channel.
type Notifier interface {
	SendEventAlert(event models.Event, snap models.Snapshot) error
	SendOutcome(result models.TrackingResult, snap models.Snapshot) error
	SendError(err error) error
	SendRecovery(failureCount int) error
}

type Config struct {
	PollInterval time.Duration
	InitialSkew  time.Duration
	MaxSessions  int // 0 = unbounded
}

// Monitor owns the polling cursor. The cursor only moves at dispatch time and
// never backwards; the stats store keeps its own, informational watermark.
type Monitor struct {
	events   EventSource
	sessions SessionRunner
	stats    *stats.Store
	records  RecordStore
	notifier Notifier
	config   Config
	now      func() time.Time

	cursor  atomic.Int64
	results chan models.TrackingResult
	slots   chan struct{}
	active  sync.WaitGroup

	consecutiveFailures int
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithRecords persists every recorded outcome.
func WithRecords(r RecordStore) Option {
	return func(m *Monitor) { m.records = r }
}

// WithNotifier sends alerts for detections, outcomes and detection failures.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithClock overrides the time source used for the initial cursor and record times.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func New(events EventSource, sessions SessionRunner, store *stats.Store, config Config, opts ...Option) *Monitor {
	m := &Monitor{
		events:   events,
		sessions: sessions,
		stats:    store,
		config:   config,
		now:      time.Now,
		results:  make(chan models.TrackingResult, 16),
	}
	for _, opt := range opts {
		opt(m)
	}
	if config.MaxSessions > 0 {
		m.slots = make(chan struct{}, config.MaxSessions)
	}
	m.cursor.Store(m.now().Add(-config.InitialSkew).Unix())
	return m
}

// Cursor returns the polling watermark.
func (m *Monitor) Cursor() int64 {
	return m.cursor.Load()
}

// Run polls until ctx is cancelled. On return every dispatched session has
// finished and been recorded. Run must be called at most once.
func (m *Monitor) Run(ctx context.Context) error {
	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		for res := range m.results {
			m.record(res)
		}
	}()

	logger.Info("Starting detection loop (interval: %v, cursor: %d, max_sessions: %d)",
		m.config.PollInterval, m.Cursor(), m.config.MaxSessions)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Detection loop stopped, waiting for in-flight sessions")
			m.active.Wait()
			close(m.results)
			<-recorderDone
			logger.Info("All sessions recorded")
			return nil

		case <-timer.C:
			m.pollOnce(ctx)
			logger.Debug("Next scan in %v", m.config.PollInterval)
			timer.Reset(m.config.PollInterval)
		}
	}
}

// pollOnce runs one detection step. It never blocks on a session.
// Failures only feed the consecutive failure count; the cursor stays put.
func (m *Monitor) pollOnce(ctx context.Context) {
	cursor := m.Cursor()
	event, err := m.events.Poll(ctx, cursor)
	if err != nil {
		if ctx.Err() == nil {
			m.pollFailed(err)
		}
		return
	}
	m.pollSucceeded()

	if event == nil {
		logger.Debug("No new event after %d", cursor)
		return
	}
	if event.Timestamp <= cursor {
		logger.Warn("Ignoring event at %d, not newer than cursor %d", event.Timestamp, cursor)
		return
	}

	m.cursor.Store(event.Timestamp)

	snap := m.stats.Snapshot()
	logger.Session(event.Timestamp).Info("Event published, estimated success rate:%.3f%% (%d events)",
		snap.SuccessRate*100, snap.Total)

	m.dispatch(ctx, *event)

	if m.notifier != nil {
		if err := m.notifier.SendEventAlert(*event, snap); err != nil {
			logger.Warn("Failed to send event alert: %v", err)
		}
	}
}

func (m *Monitor) pollFailed(err error) {
	m.consecutiveFailures++
	logger.Error("Event detection failed: %v", err)
	if m.consecutiveFailures == 1 && m.notifier != nil {
		if sendErr := m.notifier.SendError(err); sendErr != nil {
			logger.Warn("Failed to send error notification: %v", sendErr)
		}
	}
}

func (m *Monitor) pollSucceeded() {
	if m.consecutiveFailures > 0 && m.notifier != nil {
		if sendErr := m.notifier.SendRecovery(m.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
	m.consecutiveFailures = 0
}

// dispatch starts the session goroutine and returns immediately. With a
// session bound the goroutine waits for a slot before sampling.
func (m *Monitor) dispatch(ctx context.Context, event models.Event) {
	m.active.Add(1)
	go func() {
		defer m.active.Done()

		if m.slots != nil {
			select {
			case m.slots <- struct{}{}:
				defer func() { <-m.slots }()
			case <-ctx.Done():
				logger.Session(event.Timestamp).Warn("Shutdown before a session slot was free, outcome unknown")
				m.results <- models.TrackingResult{
					SessionID: uuid.NewString(),
					Event:     event,
					Outcome:   models.OutcomeUnknown,
				}
				return
			}
		}

		m.results <- m.sessions.Track(ctx, event)
	}()
}

// record is the single writer routing finished sessions into the store.
func (m *Monitor) record(res models.TrackingResult) {
	rec := models.NewRecord(res, m.now())
	snap := m.stats.RecordOutcome(rec)

	logger.Session(res.Event.Timestamp).Info(
		"Recorded outcome=%s; stats: watermark=%d success=%d unknown=%d total=%d rate=%.3f%% mean=%.5f%% stddev=%.5f%%",
		res.Outcome, snap.Watermark, snap.SuccessCount, snap.UnknownCount, snap.Total,
		snap.SuccessRate*100, snap.MeanRatio*100, snap.StdDevRatio*100)

	if m.records != nil {
		if err := m.records.AddRecord(&rec); err != nil {
			logger.Warn("Failed to persist outcome for event %d: %v", res.Event.Timestamp, err)
		}
	}
	if m.notifier != nil {
		if err := m.notifier.SendOutcome(res, snap); err != nil {
			logger.Warn("Failed to send outcome notification: %v", err)
		}
	}
}
