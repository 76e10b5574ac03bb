// Package price fetches market quotes from an HTTP JSON endpoint.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rewired-gh/eventdrift/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrBadStatus is returned when the endpoint answers with a non-2xx code or a non-ok status field.
	ErrBadStatus = errors.New("bad response status")
	// ErrParse is returned when the response body is not a usable quote.
	ErrParse = errors.New("malformed quote")
)

// Client provides access to a merged-ticker style market data endpoint
type Client struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
}

// tickerResponse is the subset of the endpoint payload we read.
// The close price may arrive as a JSON number or a string; decimal accepts both.
type tickerResponse struct {
	Status string `json:"status"`
	ErrMsg string `json:"err-msg"`
	TS     int64  `json:"ts"`
	Tick   *struct {
		Close decimal.Decimal `json:"close"`
	} `json:"tick"`
}

// NewClient creates a new quote client. Each request is bounded by timeout.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// GetQuote fetches the current price. It does not retry; callers own retry policy.
func (c *Client) GetQuote(ctx context.Context) (models.PriceQuote, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return models.PriceQuote{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.PriceQuote{}, fmt.Errorf("failed to fetch quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.PriceQuote{}, fmt.Errorf("%w: http %d", ErrBadStatus, resp.StatusCode)
	}

	return decodeQuote(resp.Body)
}

func decodeQuote(r io.Reader) (models.PriceQuote, error) {
	var tr tickerResponse
	if err := json.NewDecoder(r).Decode(&tr); err != nil {
		return models.PriceQuote{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if tr.Status != "" && tr.Status != "ok" {
		return models.PriceQuote{}, fmt.Errorf("%w: %s %s", ErrBadStatus, tr.Status, tr.ErrMsg)
	}
	if tr.Tick == nil {
		return models.PriceQuote{}, fmt.Errorf("%w: missing tick", ErrParse)
	}

	q := models.PriceQuote{
		Timestamp: tr.TS,
		Price:     tr.Tick.Close.InexactFloat64(),
	}
	if err := q.Validate(); err != nil {
		return models.PriceQuote{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return q, nil
}

// ChangeRatio returns (price - base) / base, computed in decimal to keep
// round numbers exact. base must be positive.
func ChangeRatio(base, price float64) float64 {
	b := decimal.NewFromFloat(base)
	if b.IsZero() {
		return 0
	}
	return decimal.NewFromFloat(price).Sub(b).Div(b).InexactFloat64()
}
