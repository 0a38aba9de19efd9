package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PriceFeed supplies external index prices, wad-scaled.
type PriceFeed interface {
	IndexPrice(ctx context.Context, marketID string) (*big.Int, error)
}

// HTTPPriceFeed fetches index prices from a JSON endpoint of the form
// {baseURL}?symbol={marketID} returning {"symbol": "...", "price": "..."}.
type HTTPPriceFeed struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPriceFeed(baseURL string, timeout time.Duration) *HTTPPriceFeed {
	return &HTTPPriceFeed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type priceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (f *HTTPPriceFeed) IndexPrice(ctx context.Context, marketID string) (*big.Int, error) {
	u := fmt.Sprintf("%s?symbol=%s", f.baseURL, url.QueryEscape(marketID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch price for %s: %w", marketID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price feed returned %d for %s", resp.StatusCode, marketID)
	}

	var pr priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}

	price, err := ParseDecimalWad(pr.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q for %s: %w", pr.Price, marketID, err)
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive price %q for %s", pr.Price, marketID)
	}
	return price, nil
}

// ParseDecimalWad converts a decimal string like "65123.45" into a
// wad-scaled integer. Fractional digits past 18 are rejected rather than
// silently truncated.
func ParseDecimalWad(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty decimal")
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 18 {
		return nil, fmt.Errorf("more than 18 fractional digits in %q", s)
	}
	frac += strings.Repeat("0", 18-len(frac))

	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("malformed decimal %q", s)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}
