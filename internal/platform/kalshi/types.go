package kalshi

import (
	"encoding/json"
	"time"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// Market represents a market as returned by the Kalshi REST API.
type Market struct {
	Ticker          string  `json:"ticker"`
	EventTicker     string  `json:"event_ticker"`
	Title           string  `json:"title"`
	Status          string  `json:"status"` // "open", "closed", "settled"
	YesBid          int64   `json:"yes_bid"`
	YesAsk          int64   `json:"yes_ask"`
	NoBid           int64   `json:"no_bid"`
	NoAsk           int64   `json:"no_ask"`
	LastPrice       int64   `json:"last_price"`
	Volume          int64   `json:"volume"`
	Volume24H       int64   `json:"volume_24h"`
	OpenInterest    int64   `json:"open_interest"`
	CloseTime       string  `json:"close_time"`
	ExpirationTime  string  `json:"expiration_time"`
	StrikeType      string  `json:"strike_type"`
	FloorStrike     float64 `json:"floor_strike"`
	CapStrike       float64 `json:"cap_strike"`
	Result          string  `json:"result"` // "yes", "no", "" (unsettled)
	CanCloseEarly   bool    `json:"can_close_early"`
	SettlementTimer int64   `json:"settlement_timer_seconds"`
}

// Orderbook represents the orderbook for a Kalshi market. Each side lists
// resting bids as [price, quantity] pairs sorted ascending by price.
type Orderbook struct {
	Ticker  string       `json:"-"`
	YesBids []PriceLevel `json:"yes"`
	NoBids  []PriceLevel `json:"no"`
}

// PriceLevel is a single [price_cents, quantity] entry. Kalshi encodes levels
// as two-element JSON arrays.
type PriceLevel struct {
	Price    int64
	Quantity int64
}

// UnmarshalJSON decodes the [price, quantity] array form.
func (p *PriceLevel) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	p.Price = pair[0]
	p.Quantity = pair[1]
	return nil
}

// MarshalJSON encodes back to the [price, quantity] array form.
func (p PriceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{p.Price, p.Quantity})
}

// Order represents an order to be placed on the Kalshi exchange.
type Order struct {
	Ticker        string `json:"ticker"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Type          string `json:"type"`   // "market" or "limit"
	Count         int64  `json:"count"`
	YesPrice      *int64 `json:"yes_price,omitempty"` // limit price in cents (1-99)
	NoPrice       *int64 `json:"no_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
	Expiration    *int64 `json:"expiration_ts,omitempty"`
	BuyMaxCost    *int64 `json:"buy_max_cost,omitempty"`
}

// OrderResponse represents the API response after placing an order.
type OrderResponse struct {
	Order struct {
		OrderID        string `json:"order_id"`
		Ticker         string `json:"ticker"`
		Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
		Action         string `json:"action"`
		Side           string `json:"side"`
		YesPrice       int64  `json:"yes_price"`
		NoPrice        int64  `json:"no_price"`
		RemainingCount int64  `json:"remaining_count"`
		TakerFillCount int64  `json:"taker_fill_count"`
		TakerFillCost  int64  `json:"taker_fill_cost"`
		MakerFillCount int64  `json:"maker_fill_count"`
	} `json:"order"`
}

// PortfolioPosition is one holding as reported by /portfolio/positions.
type PortfolioPosition struct {
	Ticker       string `json:"ticker"`
	Position     int64  `json:"position"` // signed: positive yes, negative no
	TotalTraded  int64  `json:"total_traded"`
	RestingCount int64  `json:"resting_orders_count"`
	AvgPrice     int64  `json:"market_exposure"`
	TotalReturn  int64  `json:"realized_pnl"`
}

// BalanceResponse is the /portfolio/balance payload.
type BalanceResponse struct {
	Balance int64 `json:"balance"` // cents
}

// Settlement is one settled market outcome from /portfolio/settlements.
type Settlement struct {
	Ticker       string `json:"ticker"`
	MarketResult string `json:"market_result"`
	Revenue      int64  `json:"revenue"`
	YesCount     int64  `json:"yes_count"`
	YesTotalCost int64  `json:"yes_total_cost"`
	NoCount      int64  `json:"no_count"`
	NoTotalCost  int64  `json:"no_total_cost"`
	SettledTime  string `json:"settled_time"`
}

// ErrorResponse represents a Kalshi API error payload.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSMessage is the envelope for Kalshi WebSocket messages.
type WSMessage struct {
	Type string          `json:"type"` // "ticker", "orderbook_snapshot", ...
	Msg  json.RawMessage `json:"msg"`
	SID  int64           `json:"sid"`
}

// WSTicker is the ticker-channel payload carrying top-of-book updates.
type WSTicker struct {
	Ticker string `json:"market_ticker"`
	YesBid int64  `json:"yes_bid"`
	YesAsk int64  `json:"yes_ask"`
	NoBid  int64  `json:"no_bid"`
	NoAsk  int64  `json:"no_ask"`
	Price  int64  `json:"price"`
	Volume int64  `json:"volume"`
	Ts     int64  `json:"ts"`
}

// WSSubscribeCmd is the command sent to subscribe to WebSocket channels.
type WSSubscribeCmd struct {
	ID     int64             `json:"id"`
	Cmd    string            `json:"cmd"` // "subscribe" or "unsubscribe"
	Params WSSubscribeParams `json:"params"`
}

// WSSubscribeParams defines the subscription parameters.
type WSSubscribeParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers"`
}

// parseTime parses the RFC3339 timestamps Kalshi returns, tolerating the
// trailing-Z form. Returns the zero time on failure; callers treat a zero
// close time as "unknown, skip".
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
