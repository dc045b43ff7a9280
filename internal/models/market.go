package models

// PriceSample is one observed price.
type PriceSample struct {
	Timestamp int64   `json:"timestamp"` // unix seconds
	Price     float64 `json:"price"`
}

// Holding is the balance of one currency.
type Holding struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
}

// Balance is the account balance split along the trading pair.
type Balance struct {
	Crypto Holding `json:"crypto"`
	Fiat   Holding `json:"fiat"`
}
