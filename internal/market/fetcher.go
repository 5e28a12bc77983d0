// Package market fetches the coin listing from a CoinGecko-compatible
// market-data API.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/neelesh18904/CryptoProject/internal/metrics"
	"github.com/neelesh18904/CryptoProject/internal/model"
)

// DefaultBaseURL is the public CoinGecko v3 API.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// ErrFetch wraps every failed fetch.
var ErrFetch = errors.New("market: fetch failed")

// Fetcher retrieves coin listings. It is safe for concurrent use.
type Fetcher struct {
	rest *resty.Client
}

// Config configures a Fetcher.
type Config struct {
	BaseURL string
	Timeout time.Duration
	PerPage int
}

// NewFetcher creates a Fetcher for cfg.
func NewFetcher(cfg Config) *Fetcher {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = 100
	}

	rest := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{
			"order":     "market_cap_desc",
			"per_page":  fmt.Sprint(perPage),
			"page":      "1",
			"sparkline": "false",
		})
	return &Fetcher{rest: rest}
}

// Fetch returns the coin listing priced in currency, ordered by market cap.
func (f *Fetcher) Fetch(ctx context.Context, currency string) ([]model.Coin, error) {
	cur := strings.ToLower(currency)
	start := time.Now()
	defer func() {
		metrics.CoinFetchLatency.WithLabelValues(cur).Observe(time.Since(start).Seconds())
	}()

	var coins []model.Coin
	resp, err := f.rest.R().
		SetContext(ctx).
		SetQueryParam("vs_currency", cur).
		SetResult(&coins).
		Get("/coins/markets")
	if err != nil {
		metrics.CoinFetches.WithLabelValues(cur, metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, cur, err)
	}
	if !resp.IsSuccess() {
		metrics.CoinFetches.WithLabelValues(cur, metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("%w: %s: status %d", ErrFetch, cur, resp.StatusCode())
	}

	metrics.CoinFetches.WithLabelValues(cur, metrics.OutcomeSuccess).Inc()
	if coins == nil {
		coins = []model.Coin{}
	}
	return coins, nil
}
