package models

import "gorm.io/gorm"

// Trade represents a completed round trip (filled buy then filled sell).
type Trade struct {
	gorm.Model
	Symbol        string  `json:"symbol"`
	BuyOrderID    string  `json:"buy_order_id"`
	SellOrderID   string  `json:"sell_order_id"`
	BuyPrice      float64 `json:"buy_price"`
	Price         float64 `json:"price"` // sell price
	Quantity      float64 `json:"quantity"`
	QuoteQuantity float64 `json:"quote_quantity"`
	Fees          float64 `json:"fees"`
	Timestamp     int64   `json:"timestamp"` // unix milliseconds
	IsSimulation  bool    `json:"is_simulation"`
	Profit        float64 `json:"profit"`
}
