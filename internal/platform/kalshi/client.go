// Package kalshi is the REST and WebSocket client for the Kalshi exchange
// API. It implements domain.Gateway; request signing (RSA-PSS) lives entirely
// here and never leaks into the decision core.
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

const (
	maxRetries     = 3
	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// Client is the REST client for the Kalshi exchange API.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client

	// Separate limiters: market-data reads are cheap, order placement is not.
	readLimiter  *rate.Limiter
	orderLimiter *rate.Limiter
}

// ClientConfig holds client construction parameters.
type ClientConfig struct {
	BaseURL         string
	ApiKeyID        string
	ReadsPerSecond  float64
	OrdersPerSecond float64
}

// NewClient creates a new Kalshi REST client. The RSA key must be supplied
// separately via SetRSAPrivateKey before any request is made.
func NewClient(cfg ClientConfig) *Client {
	reads := cfg.ReadsPerSecond
	if reads <= 0 {
		reads = 10
	}
	orders := cfg.OrdersPerSecond
	if orders <= 0 {
		orders = 2
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKeyID: cfg.ApiKeyID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		readLimiter:  rate.NewLimiter(rate.Limit(reads), int(reads)+1),
		orderLimiter: rate.NewLimiter(rate.Limit(orders), 1),
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// ListOpenMarkets returns open markets matching the filter, mapped to domain
// snapshots. Pagination cursors are followed until the filter limit is hit.
func (c *Client) ListOpenMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.MarketSnapshot, error) {
	status := filter.Status
	if status == "" {
		status = "open"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	var snaps []domain.MarketSnapshot
	cursor := ""
	for {
		params := url.Values{}
		params.Set("status", status)
		params.Set("limit", strconv.Itoa(limit))
		if !filter.MinCloseTs.IsZero() {
			params.Set("min_close_ts", strconv.FormatInt(filter.MinCloseTs.Unix(), 10))
		}
		if !filter.MaxCloseTs.IsZero() {
			params.Set("max_close_ts", strconv.FormatInt(filter.MaxCloseTs.Unix(), 10))
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, err := c.doSignedRequest(ctx, c.readLimiter, http.MethodGet, "/markets?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("kalshi: list markets: %w", err)
		}

		var resp struct {
			Markets []Market `json:"markets"`
			Cursor  string   `json:"cursor"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("kalshi: decode markets: %w", err)
		}

		for _, m := range resp.Markets {
			if !matchesSeries(m.Ticker, filter.SeriesIn) {
				continue
			}
			snaps = append(snaps, toSnapshot(m))
		}

		cursor = resp.Cursor
		if cursor == "" || len(snaps) >= limit {
			break
		}
	}
	return snaps, nil
}

// GetMarket returns a single market snapshot by its ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (domain.MarketSnapshot, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(ticker))

	body, err := c.doSignedRequest(ctx, c.readLimiter, http.MethodGet, path, nil)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market Market `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("kalshi: decode market: %w", err)
	}
	return toSnapshot(resp.Market), nil
}

// GetOrderbook returns the current orderbook for the given market ticker.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (domain.OrderBook, error) {
	path := fmt.Sprintf("/markets/%s/orderbook", url.PathEscape(ticker))

	body, err := c.doSignedRequest(ctx, c.readLimiter, http.MethodGet, path, nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("kalshi: get orderbook %s: %w", ticker, err)
	}

	var resp struct {
		Orderbook Orderbook `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("kalshi: decode orderbook: %w", err)
	}

	ob := domain.OrderBook{Ticker: ticker, FetchedAt: time.Now().UTC()}
	for _, l := range resp.Orderbook.YesBids {
		ob.YesBids = append(ob.YesBids, domain.PriceLevel{PriceCents: l.Price, Count: l.Quantity})
	}
	for _, l := range resp.Orderbook.NoBids {
		ob.NoBids = append(ob.NoBids, domain.PriceLevel{PriceCents: l.Price, Count: l.Quantity})
	}
	return ob, nil
}

// PlaceOrder submits a limit order. Kalshi wants the yes-denominated price:
// for a no-side order the field still carries 100 - price.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	yesPrice := req.PriceCents
	if req.Side == domain.SideNo {
		yesPrice = 100 - req.PriceCents
	}
	order := Order{
		Ticker:        req.Ticker,
		Action:        req.Action,
		Side:          string(req.Side),
		Type:          "limit",
		Count:         req.Count,
		YesPrice:      &yesPrice,
		ClientOrderID: uuid.New().String(),
	}

	body, err := c.doSignedRequest(ctx, c.orderLimiter, http.MethodPost, "/portfolio/orders", order)
	if err != nil {
		return domain.OrderResult{Status: domain.OrderStatusFailed}, fmt.Errorf("kalshi: place order: %w", err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{Status: domain.OrderStatusFailed}, fmt.Errorf("kalshi: decode order response: %w", err)
	}

	res := domain.OrderResult{
		OrderID:          resp.Order.OrderID,
		FilledPriceCents: req.PriceCents,
	}
	switch resp.Order.Status {
	case "canceled":
		res.Status = domain.OrderStatusCanceled
		return res, fmt.Errorf("kalshi: order immediately cancelled: %w", domain.ErrOrderRejected)
	case "executed":
		res.Status = domain.OrderStatusFilled
		res.Success = true
	default:
		res.Status = domain.OrderStatusResting
		res.Success = true
	}
	return res, nil
}

// GetPortfolioPositions returns the exchange's authoritative open holdings.
func (c *Client) GetPortfolioPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	body, err := c.doSignedRequest(ctx, c.readLimiter, http.MethodGet, "/portfolio/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get positions: %w", err)
	}

	var resp struct {
		Positions []PortfolioPosition `json:"market_positions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode positions: %w", err)
	}

	out := make([]domain.BrokerPosition, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		if p.Position == 0 {
			continue
		}
		bp := domain.BrokerPosition{Ticker: p.Ticker}
		if p.Position > 0 {
			bp.Side = domain.SideYes
			bp.Count = p.Position
		} else {
			bp.Side = domain.SideNo
			bp.Count = -p.Position
		}
		if bp.Count > 0 && p.TotalTraded > 0 {
			bp.AvgPriceCents = p.TotalTraded / bp.Count
		}
		out = append(out, bp)
	}
	return out, nil
}

// GetBalance returns the account balance in cents.
func (c *Client) GetBalance(ctx context.Context) (int64, error) {
	body, err := c.doSignedRequest(ctx, c.readLimiter, http.MethodGet, "/portfolio/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("kalshi: get balance: %w", err)
	}

	var resp BalanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("kalshi: decode balance: %w", err)
	}
	return resp.Balance, nil
}

// GetSettlements returns recent settled-market outcomes for the realized-PnL
// summary.
func (c *Client) GetSettlements(ctx context.Context, limit int) ([]Settlement, error) {
	if limit <= 0 {
		limit = 100
	}
	path := fmt.Sprintf("/portfolio/settlements?limit=%d", limit)

	body, err := c.doSignedRequest(ctx, c.readLimiter, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get settlements: %w", err)
	}

	var resp struct {
		Settlements []Settlement `json:"settlements"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode settlements: %w", err)
	}
	return resp.Settlements, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// toSnapshot maps a Kalshi market DTO to the domain snapshot, applying the
// documented defaulting rules: missing prices stay zero (snapshot reads as
// decided), missing close_time stays the zero time.
func toSnapshot(m Market) domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		Ticker:    m.Ticker,
		Title:     m.Title,
		YesBid:    m.YesBid,
		YesAsk:    m.YesAsk,
		NoBid:     m.NoBid,
		NoAsk:     m.NoAsk,
		CloseTime: parseTime(m.CloseTime),
		Volume:    m.Volume,
		FetchedAt: time.Now().UTC(),
	}
	if m.StrikeType != "" && m.FloorStrike != 0 {
		fs := m.FloorStrike
		snap.FloorStrike = &fs
	}
	return snap
}

func matchesSeries(ticker string, series []string) bool {
	if len(series) == 0 {
		return true
	}
	for _, s := range series {
		if len(ticker) >= len(s) && ticker[:len(s)] == s {
			return true
		}
	}
	return false
}

// doSignedRequest builds, signs, sends, and reads an HTTP request against the
// Kalshi API. Transient failures are retried with capped exponential backoff;
// auth failures and order rejections are returned immediately.
func (c *Client) doSignedRequest(ctx context.Context, limiter *rate.Limiter, method, path string, reqBody any) ([]byte, error) {
	var jsonBody []byte
	if reqBody != nil {
		var err error
		jsonBody, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.doOnce(ctx, method, path, jsonBody)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !domain.Transient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, jsonBody []byte) ([]byte, error) {
	var bodyReader io.Reader
	if jsonBody != nil {
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if err := c.signRequest(req, method); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %v: %w", err, domain.ErrTransient)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %v: %w", err, domain.ErrTransient)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest adds RSA authentication headers. Kalshi uses RSA-PSS-SHA256
// signatures over the timestamp + method + path message string; query strings
// are excluded from the signed path.
func (c *Client) signRequest(req *http.Request, method string) error {
	if c.privateKey == nil {
		// Unauthenticated clients can still read public market data; the
		// portfolio endpoints will come back 401 and map to ErrAuth.
		return nil
	}

	// URL.Path already carries the /trade-api/v2 prefix from the base URL
	// and never the query string, which matches the signed message Kalshi
	// expects.
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + method + req.URL.Path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// checkStatus maps non-2xx HTTP status codes to domain error classes so
// callers can branch with errors.Is.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr ErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("kalshi: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrAuth)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("kalshi: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrRateLimited)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("kalshi: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case statusCode == http.StatusBadRequest || statusCode == http.StatusConflict:
		return fmt.Errorf("kalshi: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrOrderRejected)
	case statusCode >= 500:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s): %w", statusCode, apiErr.Message, apiErr.Code, domain.ErrTransient)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
