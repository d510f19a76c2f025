package prophetx

import "time"

// loginRequest is the body for POST /partner/auth/login.
type loginRequest struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

type loginResponse struct {
	Data struct {
		AccessToken        string `json:"access_token"`
		AccessExpireTime   int64  `json:"access_expire_time"`
		RefreshToken       string `json:"refresh_token"`
		RefreshExpireTime  int64  `json:"refresh_expire_time"`
	} `json:"data"`
}

// placeWagerRequest is the body for POST /partner/mm/place_wager.
type placeWagerRequest struct {
	ExternalID string  `json:"external_id"`
	LineID     string  `json:"line_id"`
	Odds       int     `json:"odds"`
	Stake      float64 `json:"stake"`
}

type placeWagerResponse struct {
	Data struct {
		Wager wagerPayload `json:"wager"`
	} `json:"data"`
}

type cancelWagerRequest struct {
	WagerID string `json:"wager_id"`
}

type listWagersResponse struct {
	Data struct {
		Wagers     []wagerPayload `json:"wagers"`
		NextCursor string         `json:"next_cursor"`
	} `json:"data"`
}

type getWagerResponse struct {
	Data struct {
		Wager wagerPayload `json:"wager"`
	} `json:"data"`
}

// wagerPayload is a wager as the exchange reports it.
type wagerPayload struct {
	ID             string    `json:"id"`
	ExternalID     string    `json:"external_id"`
	LineID         string    `json:"line_id"`
	EventID        string    `json:"sport_event_id"`
	MarketKey      string    `json:"market"`
	Selection      string    `json:"selection"`
	Point          float64   `json:"point"`
	Odds           int       `json:"odds"`
	Stake          float64   `json:"stake"`
	MatchedStake   float64   `json:"matched_stake"`
	UnmatchedStake float64   `json:"unmatched_stake"`
	Status         string    `json:"status"`
	MatchingStatus string    `json:"matching_status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
