package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/eventdrift/internal/models"
	"github.com/rewired-gh/eventdrift/internal/stats"
	"github.com/rewired-gh/eventdrift/internal/tracker"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type pollResponse struct {
	event *models.Event
	err   error
}

// fakeEvents replays responses in order, then reports nothing new.
type fakeEvents struct {
	mu        sync.Mutex
	responses []pollResponse
	afters    []int64
}

func (f *fakeEvents) Poll(ctx context.Context, after int64) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afters = append(f.afters, after)
	if len(f.responses) == 0 {
		return nil, nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.event, r.err
}

func (f *fakeEvents) Afters() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.afters...)
}

func eventAt(ts int64) pollResponse {
	return pollResponse{event: &models.Event{Timestamp: ts, Content: "post"}}
}

// fakeSessions returns a fixed outcome after an optional per-event delay.
type fakeSessions struct {
	mu      sync.Mutex
	delays  map[int64]time.Duration
	outcome models.Outcome
	release chan struct{}

	running    int
	maxRunning int
}

func (f *fakeSessions) Track(ctx context.Context, event models.Event) models.TrackingResult {
	f.mu.Lock()
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	delay := f.delays[event.Timestamp]
	f.mu.Unlock()

	if f.release != nil {
		<-f.release
	}
	time.Sleep(delay)

	f.mu.Lock()
	f.running--
	f.mu.Unlock()

	outcome := f.outcome
	if outcome == "" {
		outcome = models.OutcomeUp
	}
	return models.TrackingResult{SessionID: "s", Event: event, Outcome: outcome, Samples: 1}
}

func (f *fakeSessions) MaxRunning() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

type fakeRecords struct {
	mu      sync.Mutex
	records []models.Record
}

func (f *fakeRecords) AddRecord(rec *models.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *rec)
	return nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	alerts     int
	outcomes   int
	errors     int
	recoveries []int
}

func (f *fakeNotifier) SendEventAlert(models.Event, models.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts++
	return nil
}

func (f *fakeNotifier) SendOutcome(models.TrackingResult, models.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes++
	return nil
}

func (f *fakeNotifier) SendError(error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors++
	return nil
}

func (f *fakeNotifier) SendRecovery(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveries = append(f.recoveries, n)
	return nil
}

// scriptedPrices replays quotes; a zero entry or an exhausted script is a failed fetch.
type scriptedPrices struct {
	mu     sync.Mutex
	prices []float64
	calls  int
}

func (s *scriptedPrices) GetQuote(ctx context.Context) (models.PriceQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.prices) || s.prices[i] == 0 {
		return models.PriceQuote{}, errors.New("unreachable")
	}
	return models.PriceQuote{Timestamp: 1000, Price: s.prices[i]}, nil
}

func (s *scriptedPrices) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fixedClock(ts int64) func() time.Time {
	return func() time.Time { return time.Unix(ts, 0) }
}

func fastConfig() Config {
	return Config{PollInterval: 2 * time.Millisecond, InitialSkew: 2 * time.Minute}
}

// runUntil runs the monitor until cond holds, then shuts it down and waits for Run to return.
func runUntil(t *testing.T, m *Monitor, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestNew_InitialCursorIsSkewed(t *testing.T) {
	m := New(&fakeEvents{}, &fakeSessions{}, stats.New(), fastConfig(), WithClock(fixedClock(10_000)))
	if got := m.Cursor(); got != 10_000-120 {
		t.Errorf("initial cursor: got %d, want %d", got, 10_000-120)
	}
}

func TestPollOnce_CursorIsMonotonic(t *testing.T) {
	events := &fakeEvents{responses: []pollResponse{
		eventAt(1000),
		{err: errors.New("scraper failed")},
		{},
		eventAt(900), // older than cursor, must be ignored
		eventAt(1000),
		eventAt(2000),
	}}
	m := New(events, &fakeSessions{}, stats.New(), fastConfig(), WithClock(fixedClock(500)))

	ctx := context.Background()
	prev := m.Cursor()
	for i := 0; i < 6; i++ {
		m.pollOnce(ctx)
		cur := m.Cursor()
		if cur < prev {
			t.Fatalf("cursor went backwards at step %d: %d -> %d", i, prev, cur)
		}
		prev = cur
	}
	if m.Cursor() != 2000 {
		t.Errorf("final cursor: got %d, want 2000", m.Cursor())
	}

	want := []int64{380, 1000, 1000, 1000, 1000, 1000}
	got := events.Afters()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("poll %d used watermark %d, want %d", i, got[i], want[i])
		}
	}

	m.active.Wait()
	close(m.results)
	n := 0
	for range m.results {
		n++
	}
	if n != 2 {
		t.Errorf("dispatched %d sessions, want 2", n)
	}
}

func TestPollOnce_AdapterErrorLeavesCursor(t *testing.T) {
	events := &fakeEvents{responses: []pollResponse{{err: errors.New("exit status 1")}}}
	m := New(events, &fakeSessions{}, stats.New(), fastConfig(), WithClock(fixedClock(1000)))

	before := m.Cursor()
	m.pollOnce(context.Background())
	if m.consecutiveFailures != 1 {
		t.Errorf("consecutive failures: got %d, want 1", m.consecutiveFailures)
	}
	if m.Cursor() != before {
		t.Errorf("cursor changed on adapter error: %d -> %d", before, m.Cursor())
	}
}

func TestPollOnce_DoesNotWaitForSession(t *testing.T) {
	sessions := &fakeSessions{release: make(chan struct{})}
	events := &fakeEvents{responses: []pollResponse{eventAt(1000)}}
	m := New(events, sessions, stats.New(), fastConfig(), WithClock(fixedClock(900)))

	done := make(chan struct{})
	go func() {
		m.pollOnce(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pollOnce blocked on a running session")
	}
	if m.Cursor() != 1000 {
		t.Errorf("cursor not advanced at dispatch: %d", m.Cursor())
	}

	close(sessions.release)
	m.active.Wait()
}

func TestRun_EndToEndScenario(t *testing.T) {
	events := &fakeEvents{responses: []pollResponse{eventAt(1000)}}
	prices := &scriptedPrices{prices: []float64{100.0, 101.0, 0, 99.0}}
	tr := tracker.New(prices, tracker.Config{SampleCount: 3, SampleInterval: time.Millisecond})
	store := stats.New()
	records := &fakeRecords{}

	m := New(events, tr, store, fastConfig(), WithClock(fixedClock(900)), WithRecords(records))
	runUntil(t, m, func() bool { return store.Snapshot().Total == 1 })

	snap := store.Snapshot()
	if snap.Total != 1 || snap.SuccessCount != 0 || snap.SuccessRate != 0.0 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	h := store.History()
	if h[0].Outcome != models.OutcomeDown || h[0].FinalRatio != -0.01 {
		t.Errorf("unexpected record: %+v", h[0])
	}
	if len(records.records) != 1 || records.records[0].Event.Timestamp != 1000 {
		t.Errorf("record not persisted: %+v", records.records)
	}
}

func TestRun_AlwaysFailingPriceSourceIsNotSuccess(t *testing.T) {
	events := &fakeEvents{responses: []pollResponse{eventAt(1000)}}
	tr := tracker.New(&scriptedPrices{}, tracker.Config{SampleCount: 3, SampleInterval: time.Millisecond})
	store := stats.New()

	m := New(events, tr, store, fastConfig(), WithClock(fixedClock(900)))
	runUntil(t, m, func() bool { return store.Snapshot().Total == 1 })

	snap := store.Snapshot()
	if snap.SuccessCount != 0 || snap.UnknownCount != 1 {
		t.Errorf("failed session counted wrongly: %+v", snap)
	}
	if store.History()[0].Outcome != models.OutcomeUnknown {
		t.Errorf("outcome: got %s, want unknown", store.History()[0].Outcome)
	}
}

func TestRun_OverlappingSessionsAreBothRecorded(t *testing.T) {
	events := &fakeEvents{responses: []pollResponse{eventAt(1000), eventAt(1030)}}
	// The first event's session outlives the second one.
	sessions := &fakeSessions{delays: map[int64]time.Duration{1000: 80 * time.Millisecond}}
	store := stats.New()

	m := New(events, sessions, store, fastConfig(), WithClock(fixedClock(900)))
	runUntil(t, m, func() bool { return store.Snapshot().Total == 2 })

	snap := store.Snapshot()
	if snap.SuccessCount != 2 || snap.SuccessRate != 1.0 {
		t.Errorf("lost update: %+v", snap)
	}
	h := store.History()
	if h[0].Event.Timestamp != 1030 || h[1].Event.Timestamp != 1000 {
		t.Errorf("history not in completion order: %d, %d", h[0].Event.Timestamp, h[1].Event.Timestamp)
	}
	// The store watermark regressed; the polling cursor did not.
	if snap.Watermark != 1000 {
		t.Errorf("store watermark: got %d, want 1000", snap.Watermark)
	}
	if m.Cursor() != 1030 {
		t.Errorf("cursor: got %d, want 1030", m.Cursor())
	}
}

func TestRun_MaxSessionsBound(t *testing.T) {
	events := &fakeEvents{responses: []pollResponse{eventAt(1000), eventAt(1001), eventAt(1002)}}
	sessions := &fakeSessions{delays: map[int64]time.Duration{
		1000: 20 * time.Millisecond,
		1001: 20 * time.Millisecond,
		1002: 20 * time.Millisecond,
	}}
	store := stats.New()
	cfg := fastConfig()
	cfg.MaxSessions = 1

	m := New(events, sessions, store, cfg, WithClock(fixedClock(900)))
	runUntil(t, m, func() bool { return store.Snapshot().Total == 3 })

	if sessions.MaxRunning() != 1 {
		t.Errorf("max concurrent sessions: got %d, want 1", sessions.MaxRunning())
	}
}

func TestRun_ShutdownWaitsForSessions(t *testing.T) {
	events := &fakeEvents{responses: []pollResponse{eventAt(1000)}}
	sessions := &fakeSessions{delays: map[int64]time.Duration{1000: 50 * time.Millisecond}}
	store := stats.New()

	m := New(events, sessions, store, fastConfig(), WithClock(fixedClock(900)))
	runUntil(t, m, func() bool { return m.Cursor() == 1000 })

	// Run has returned, so the in-flight session must already be recorded.
	if store.Snapshot().Total != 1 {
		t.Errorf("session not recorded before shutdown completed: %+v", store.Snapshot())
	}
}

func TestRun_ShutdownMidWindowRecordsUnknown(t *testing.T) {
	events := &fakeEvents{responses: []pollResponse{eventAt(1000)}}
	// One rising sample before shutdown; the remaining window would have fallen.
	prices := &scriptedPrices{prices: []float64{100, 101, 50, 50}}
	tr := tracker.New(prices, tracker.Config{SampleCount: 3, SampleInterval: 200 * time.Millisecond})
	store := stats.New()
	records := &fakeRecords{}

	m := New(events, tr, store, fastConfig(), WithClock(fixedClock(900)), WithRecords(records))
	runUntil(t, m, func() bool { return prices.Calls() >= 2 })

	snap := store.Snapshot()
	if snap.Total != 1 || snap.SuccessCount != 0 || snap.UnknownCount != 1 {
		t.Errorf("truncated session counted as measured: %+v", snap)
	}
	if len(records.records) != 1 || records.records[0].Outcome != models.OutcomeUnknown {
		t.Errorf("persisted record: %+v", records.records)
	}
}

func TestRun_Notifications(t *testing.T) {
	events := &fakeEvents{responses: []pollResponse{
		{err: errors.New("boom")},
		{err: errors.New("boom")},
		eventAt(1000),
	}}
	notifier := &fakeNotifier{}
	store := stats.New()

	m := New(events, &fakeSessions{}, store, fastConfig(), WithClock(fixedClock(900)), WithNotifier(notifier))
	runUntil(t, m, func() bool { return store.Snapshot().Total == 1 })

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.errors != 1 {
		t.Errorf("error notifications: got %d, want 1", notifier.errors)
	}
	if len(notifier.recoveries) != 1 || notifier.recoveries[0] != 2 {
		t.Errorf("recoveries: got %v, want [2]", notifier.recoveries)
	}
	if notifier.alerts != 1 || notifier.outcomes != 1 {
		t.Errorf("alerts/outcomes: got %d/%d, want 1/1", notifier.alerts, notifier.outcomes)
	}
}
