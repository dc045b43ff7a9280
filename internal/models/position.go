package models

import "gorm.io/gorm"

// PositionState is the durable snapshot of the trading engine.
// There is one row per market and mode; dry-run and live positions never
// share a row.
type PositionState struct {
	gorm.Model
	Market           string `gorm:"uniqueIndex:idx_position_market_mode;not null"`
	DryRun           bool   `gorm:"uniqueIndex:idx_position_market_mode"`
	State            string `gorm:"not null"`
	PendingOrderID   string
	BuyOrderID       string
	InPosition       bool
	BuyOrderPrice    float64
	BuyOrderQuantity float64
}
