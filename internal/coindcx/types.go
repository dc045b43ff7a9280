package coindcx

import (
	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order statuses as seen by callers. The exchange reports a few more
// (init, rejected, partially_cancelled); they are folded into these.
const (
	StatusOpen            = "open"
	StatusPartiallyFilled = "partially_filled"
	StatusFilled          = "filled"
	StatusCancelled       = "cancelled"
)

const orderTypeLimit = "limit_order"

// Ticker is a snapshot of one market.
type Ticker struct {
	Market    string
	LastPrice float64
	High24h   float64
	Low24h    float64
	Change24h float64
	Volume24h float64
	Bid       float64
	Ask       float64
	Timestamp int64
}

// tickerResponse is one element of the /exchange/ticker array.
// Numbers arrive as strings or JSON numbers depending on the field.
type tickerResponse struct {
	Market    string          `json:"market"`
	LastPrice decimal.Decimal `json:"last_price"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Change24h decimal.Decimal `json:"change_24_hour"`
	Volume    decimal.Decimal `json:"volume"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp int64           `json:"timestamp"`
}

func (t tickerResponse) toTicker() *Ticker {
	return &Ticker{
		Market:    t.Market,
		LastPrice: t.LastPrice.InexactFloat64(),
		High24h:   t.High.InexactFloat64(),
		Low24h:    t.Low.InexactFloat64(),
		Change24h: t.Change24h.InexactFloat64(),
		Volume24h: t.Volume.InexactFloat64(),
		Bid:       t.Bid.InexactFloat64(),
		Ask:       t.Ask.InexactFloat64(),
		Timestamp: t.Timestamp,
	}
}

// BalanceEntry is one currency row of the account balances.
type BalanceEntry struct {
	Currency      string  `json:"currency"`
	Balance       float64 `json:"balance"`
	LockedBalance float64 `json:"locked_balance"`
}

type balanceResponse struct {
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	LockedBalance decimal.Decimal `json:"locked_balance"`
}

// Order is an order as reported by the exchange.
type Order struct {
	ID                string  `json:"id"`
	ClientOrderID     string  `json:"client_order_id"`
	Market            string  `json:"market"`
	Side              string  `json:"side"`
	Status            string  `json:"status"`
	PricePerUnit      float64 `json:"price_per_unit"`
	TotalQuantity     float64 `json:"total_quantity"`
	RemainingQuantity float64 `json:"remaining_quantity"`
	AvgPrice          float64 `json:"avg_price"`
	FeeAmount         float64 `json:"fee_amount"`
	CreatedAt         int64   `json:"created_at"`
}

type orderResponse struct {
	ID                string          `json:"id"`
	ClientOrderID     string          `json:"client_order_id"`
	Market            string          `json:"market"`
	Side              string          `json:"side"`
	Status            string          `json:"status"`
	PricePerUnit      decimal.Decimal `json:"price_per_unit"`
	TotalQuantity     decimal.Decimal `json:"total_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	AvgPrice          decimal.Decimal `json:"avg_price"`
	FeeAmount         decimal.Decimal `json:"fee_amount"`
	CreatedAt         int64           `json:"created_at"`
}

func (o orderResponse) toOrder() Order {
	return Order{
		ID:                o.ID,
		ClientOrderID:     o.ClientOrderID,
		Market:            o.Market,
		Side:              o.Side,
		Status:            NormalizeStatus(o.Status),
		PricePerUnit:      o.PricePerUnit.InexactFloat64(),
		TotalQuantity:     o.TotalQuantity.InexactFloat64(),
		RemainingQuantity: o.RemainingQuantity.InexactFloat64(),
		AvgPrice:          o.AvgPrice.InexactFloat64(),
		FeeAmount:         o.FeeAmount.InexactFloat64(),
		CreatedAt:         o.CreatedAt,
	}
}

type createOrderResponse struct {
	Orders []orderResponse `json:"orders"`
}

type createOrderRequest struct {
	Side          string  `json:"side"`
	OrderType     string  `json:"order_type"`
	Market        string  `json:"market"`
	PricePerUnit  float64 `json:"price_per_unit"`
	TotalQuantity float64 `json:"total_quantity"`
	ClientOrderID string  `json:"client_order_id"`
	Timestamp     int64   `json:"timestamp"`
}

type orderIDRequest struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

type timestampRequest struct {
	Timestamp int64 `json:"timestamp"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// NormalizeStatus maps exchange statuses onto the four the engine knows.
func NormalizeStatus(status string) string {
	switch status {
	case "init", "open":
		return StatusOpen
	case "partially_filled":
		return StatusPartiallyFilled
	case "filled":
		return StatusFilled
	case "cancelled", "partially_cancelled", "rejected":
		return StatusCancelled
	default:
		return status
	}
}

// IsTerminal reports whether no further fills can happen for status.
func IsTerminal(status string) bool {
	return status == StatusFilled || status == StatusCancelled
}
