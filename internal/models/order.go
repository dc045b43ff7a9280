package models

import "time"

// OrderRecord is an order this process placed. Records are never deleted;
// terminal orders keep their final status.
type OrderRecord struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	OrderID   string    `gorm:"uniqueIndex;not null" json:"order_id"`
	Market    string    `gorm:"index;not null" json:"market"`
	Side      string    `gorm:"not null" json:"side"` // "buy" or "sell"
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Total     float64   `json:"total"`
	Status    string    `gorm:"index" json:"status"`
	DryRun    bool      `json:"dry_run"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the order can no longer change.
func (o *OrderRecord) Terminal() bool {
	return o.Status == "filled" || o.Status == "cancelled"
}
