// Package tracker samples the market price after an event and classifies the drift.
package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/eventdrift/internal/logger"
	"github.com/rewired-gh/eventdrift/internal/models"
	"github.com/rewired-gh/eventdrift/internal/price"
)

// PriceSource returns the current market quote.
type PriceSource interface {
	GetQuote(ctx context.Context) (models.PriceQuote, error)
}

type Config struct {
	SampleCount    int
	SampleInterval time.Duration
}

// Tracker runs one sampling session per event. It holds no per-session
// state, so a single Tracker serves any number of concurrent sessions.
type Tracker struct {
	prices PriceSource
	config Config
}

func New(prices PriceSource, config Config) *Tracker {
	return &Tracker{prices: prices, config: config}
}

// Track captures a baseline quote, then takes SampleCount samples spaced by
// SampleInterval. Only the last successful sample decides the ratio. A failed
// baseline or zero successful samples yields OutcomeUnknown.
// Cancelling ctx ends sampling early. A session that did not cover its whole
// window is OutcomeUnknown; FinalRatio then only reports the last sample seen.
func (t *Tracker) Track(ctx context.Context, event models.Event) models.TrackingResult {
	log := logger.Session(event.Timestamp)
	result := models.TrackingResult{
		SessionID: uuid.NewString(),
		Event:     event,
		Outcome:   models.OutcomeUnknown,
		StartedAt: time.Now(),
	}

	log.Info("Fetching baseline price")
	base, err := t.prices.GetQuote(ctx)
	if err != nil {
		log.Warn("Baseline fetch failed, outcome unknown: %v", err)
		result.Failures++
		result.FinishedAt = time.Now()
		return result
	}
	result.BasePrice = base.Price
	result.BaseTimestamp = base.Timestamp
	log.Info("base_price:%v, base_time:%d", base.Price, base.Timestamp)

	truncated := false
	for i := 0; i < t.config.SampleCount; i++ {
		log.Debug("Sample %d/%d in %v", i+1, t.config.SampleCount, t.config.SampleInterval)
		if !sleep(ctx, t.config.SampleInterval) {
			log.Warn("Session cancelled after %d of %d samples", i, t.config.SampleCount)
			truncated = true
			break
		}

		q, err := t.prices.GetQuote(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Warn("Session cancelled during sample %d: %v", i+1, err)
				truncated = true
				break
			}
			result.Failures++
			log.Warn("Sample %d failed, skipping: %v", i+1, err)
			continue
		}

		result.FinalRatio = price.ChangeRatio(base.Price, q.Price)
		result.Samples++
		log.Info("price:%v, time:%d, range:%.5f%%", q.Price, q.Timestamp, result.FinalRatio*100)
	}

	if truncated {
		result.Outcome = models.OutcomeUnknown
	} else {
		result.Outcome = models.ClassifyRatio(result.FinalRatio, result.Samples)
	}
	log.Info("Session finished: outcome=%s ratio=%.5f%% samples=%d failures=%d",
		result.Outcome, result.FinalRatio*100, result.Samples, result.Failures)
	result.FinishedAt = time.Now()
	return result
}

// sleep waits for d or until ctx is done. It reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
