// Package oddsapi implements the odds source port against The Odds API v4.
package oddsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

const (
	defaultBase = "https://api.the-odds-api.com"

	// Free-tier quota is monthly, not per-second; one request in flight at a
	// time is plenty for a poll loop.
	requestsPerSec = 1

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client is the HTTP client for The Odds API with rate limiting and retries.
type Client struct {
	http    *http.Client
	base    string
	apiKey  string
	limiter *rate.Limiter
}

// NewClient creates a Client for the given API key. An empty base uses the
// production URL.
func NewClient(apiKey, base string) *Client {
	if base == "" {
		base = defaultBase
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    base,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(requestsPerSec, 2),
	}
}

// marketKey maps a market type onto The Odds API market key.
func marketKey(m domain.MarketType) string {
	switch m {
	case domain.MarketMoneyline:
		return "h2h"
	case domain.MarketSpread:
		return "spreads"
	case domain.MarketTotal:
		return "totals"
	default:
		return ""
	}
}

func marketType(key string) (domain.MarketType, bool) {
	switch key {
	case "h2h":
		return domain.MarketMoneyline, true
	case "spreads":
		return domain.MarketSpread, true
	case "totals":
		return domain.MarketTotal, true
	default:
		return "", false
	}
}

// FetchQuotes retrieves american odds for the given sport and markets,
// restricted to a single reference bookmaker, and flattens them into one
// quote per selection.
func (c *Client) FetchQuotes(ctx context.Context, sport string, markets []domain.MarketType, bookmakerKey string) ([]domain.OddsQuote, error) {
	keys := make([]string, 0, len(markets))
	for _, m := range markets {
		if k := marketKey(m); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("oddsapi.FetchQuotes: no valid markets requested")
	}

	q := url.Values{}
	q.Set("apiKey", c.apiKey)
	q.Set("regions", "us")
	q.Set("oddsFormat", "american")
	q.Set("markets", strings.Join(keys, ","))
	q.Set("bookmakers", bookmakerKey)

	var events []event
	u := fmt.Sprintf("%s/v4/sports/%s/odds?%s", c.base, url.PathEscape(sport), q.Encode())
	if err := c.get(ctx, u, &events); err != nil {
		return nil, fmt.Errorf("oddsapi.FetchQuotes: %w", err)
	}

	now := time.Now()
	var quotes []domain.OddsQuote
	for _, ev := range events {
		for _, bk := range ev.Bookmakers {
			if bk.Key != bookmakerKey {
				continue
			}
			for _, mkt := range bk.Markets {
				mt, ok := marketType(mkt.Key)
				if !ok {
					continue
				}
				for _, out := range mkt.Outcomes {
					if out.Price == 0 {
						continue
					}
					quotes = append(quotes, domain.OddsQuote{
						Line: domain.MarketLine{
							EventID:   ev.ID,
							Market:    mt,
							Selection: out.Name,
							Point:     out.Point,
						},
						AmericanOdds: out.Price,
						CommenceTime: ev.CommenceTime,
						ObservedAt:   now,
					})
				}
			}
		}
	}
	return quotes, nil
}

// get performs a GET with rate limiting and retries.
func (c *Client) get(ctx context.Context, url string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by odds API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep waits with exponential backoff, respecting the context.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
