// Package models defines the core domain entities: events, price quotes, and tracking results.
package models

import (
	"errors"
	"math"
	"time"
)

// Event is a single publication detected on the monitored account.
// Timestamp is in epoch seconds.
type Event struct {
	Timestamp int64  `json:"timestamp"`
	Content   string `json:"content"`
}

// Validate checks event field constraints.
func (e *Event) Validate() error {
	if e.Timestamp <= 0 {
		return errors.New("event timestamp must be positive")
	}
	return nil
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.Unix(e.Timestamp, 0)
}

// PriceQuote is one price observation as reported by the market data endpoint.
type PriceQuote struct {
	Timestamp int64   `json:"ts"`
	Price     float64 `json:"price"`
}

// Validate checks quote field constraints.
func (q *PriceQuote) Validate() error {
	if math.IsNaN(q.Price) || math.IsInf(q.Price, 0) {
		return errors.New("price must be finite")
	}
	if q.Price <= 0 {
		return errors.New("price must be positive")
	}
	return nil
}
