// Package prophetx implements the exchange port against the ProphetX
// market-maker REST API, plus an in-memory simulator for dry runs.
package prophetx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

const (
	defaultBase = "https://api.prophetx.co"

	// Documented MM limit is 10 req/s; run at 60% of it.
	requestsPerSec = 6

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond

	// Refresh the access token a minute before it expires.
	tokenSlack = time.Minute
)

// Client is the authenticated ProphetX HTTP client with rate limiting
// and retries.
type Client struct {
	http      *http.Client
	base      string
	accessKey string
	secretKey string
	limiter   *rate.Limiter

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a Client for the given API key pair. An empty base uses
// the production URL.
func NewClient(accessKey, secretKey, base string) *Client {
	if base == "" {
		base = defaultBase
	}
	return &Client{
		http:      &http.Client{Timeout: 10 * time.Second},
		base:      base,
		accessKey: accessKey,
		secretKey: secretKey,
		limiter:   rate.NewLimiter(requestsPerSec, 3),
	}
}

// ensureToken logs in (or re-logs-in) when the cached access token is
// missing or about to expire.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenSlack)) {
		return c.accessToken, nil
	}

	body, err := json.Marshal(loginRequest{AccessKey: c.accessKey, SecretKey: c.secretKey})
	if err != nil {
		return "", fmt.Errorf("marshal login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/partner/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login status %d: %s", resp.StatusCode, b)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("decode login: %w", err)
	}
	c.accessToken = lr.Data.AccessToken
	c.tokenExpiry = time.Unix(lr.Data.AccessExpireTime, 0)
	return c.accessToken, nil
}

// SubmitWager places a wager, idempotent on externalID.
func (c *Client) SubmitWager(ctx context.Context, target domain.TargetWager, externalID string) (domain.SubmitResult, error) {
	req := placeWagerRequest{
		ExternalID: externalID,
		LineID:     target.Line.Key(),
		Odds:       target.Odds,
		Stake:      roundCents(target.Stake),
	}
	var resp placeWagerResponse
	if err := c.do(ctx, http.MethodPost, "/partner/mm/place_wager", req, &resp); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("prophetx.SubmitWager: %w", err)
	}
	return domain.SubmitResult{
		WagerID:    resp.Data.Wager.ID,
		ExternalID: externalID,
	}, nil
}

// CancelWager cancels the unmatched portion of a wager.
func (c *Client) CancelWager(ctx context.Context, wagerID string) error {
	if err := c.do(ctx, http.MethodPost, "/partner/mm/cancel_wager", cancelWagerRequest{WagerID: wagerID}, nil); err != nil {
		return fmt.Errorf("prophetx.CancelWager: %w", err)
	}
	return nil
}

// ListWagers returns the account's wagers matching the filters, following
// pagination cursors.
func (c *Client) ListWagers(ctx context.Context, filters domain.WagerFilters) ([]domain.Wager, error) {
	q := url.Values{}
	if !filters.Since.IsZero() {
		q.Set("updated_at_from", filters.Since.UTC().Format(time.RFC3339))
	}
	for _, id := range filters.EventIDs {
		q.Add("sport_event_id", id)
	}

	var wagers []domain.Wager
	cursor := ""
	for {
		if cursor != "" {
			q.Set("next_cursor", cursor)
		}
		path := "/partner/mm/get_wager_histories"
		if enc := q.Encode(); enc != "" {
			path += "?" + enc
		}
		var resp listWagersResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("prophetx.ListWagers: %w", err)
		}
		for _, wp := range resp.Data.Wagers {
			wagers = append(wagers, toDomain(wp))
		}
		if resp.Data.NextCursor == "" {
			return wagers, nil
		}
		cursor = resp.Data.NextCursor
	}
}

// GetWager fetches a single wager by exchange id.
func (c *Client) GetWager(ctx context.Context, wagerID string) (domain.Wager, error) {
	var resp getWagerResponse
	path := "/partner/mm/get_wager?wager_id=" + url.QueryEscape(wagerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return domain.Wager{}, fmt.Errorf("prophetx.GetWager: %w", err)
	}
	return toDomain(resp.Data.Wager), nil
}

// do executes an authenticated request with rate limiting and retries. The
// bearer token is re-read on every attempt so refreshes take effect.
func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyBytes []byte
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		bodyBytes = b
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		token, err := c.ensureToken(ctx)
		if err != nil {
			return err
		}

		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bodyReader)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			// Token expired server-side; force a fresh login on retry.
			c.mu.Lock()
			c.accessToken = ""
			c.mu.Unlock()
			if attempt == maxRetries {
				return fmt.Errorf("unauthorized after %d retries: %s", maxRetries, respBody)
			}
			c.sleep(ctx, attempt)
			continue
		case resp.StatusCode == http.StatusTooManyRequests:
			slog.Warn("rate limited by exchange", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 500:
			if attempt == maxRetries {
				return fmt.Errorf("server error %d: %s", resp.StatusCode, respBody)
			}
			c.sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 400:
			return fmt.Errorf("client error %d: %s", resp.StatusCode, respBody)
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// toDomain converts an exchange wager payload into the domain type.
func toDomain(wp wagerPayload) domain.Wager {
	return domain.Wager{
		WagerID:    wp.ID,
		ExternalID: wp.ExternalID,
		Line: domain.MarketLine{
			EventID:   wp.EventID,
			Market:    domain.MarketType(wp.MarketKey),
			Selection: wp.Selection,
			Point:     wp.Point,
		},
		Odds:           wp.Odds,
		Stake:          wp.Stake,
		MatchedStake:   wp.MatchedStake,
		UnmatchedStake: wp.UnmatchedStake,
		Status:         domain.WagerStatus(wp.Status),
		MatchingStatus: domain.MatchingStatus(wp.MatchingStatus),
		PlacedAt:       wp.CreatedAt,
		UpdatedAt:      wp.UpdatedAt,
	}
}

// roundCents trims a stake to cent precision before it goes on the wire.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
