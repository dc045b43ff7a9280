package trader

import (
	"math"

	"crypto-manager-go/internal/coindcx"
	"crypto-manager-go/internal/models"
	"github.com/shopspring/decimal"
)

// Sizing policy.
const (
	FeeBuffer         = 0.95   // share of available fiat spent on a buy
	MaxSpend          = 1000.0 // per trade, in fiat
	MinSpend          = 10.0   // buys at or below this are skipped
	QuantityPrecision = 8
)

// SplitPair returns the crypto and fiat currency codes of pair. An explicit
// base and quote take precedence. Otherwise the first three characters are
// the crypto code, which is wrong for pairs like USDTINR; set base/quote
// for those.
func SplitPair(pair, base, quote string) (crypto, fiat string) {
	if base != "" && quote != "" {
		return base, quote
	}
	if len(pair) <= 3 {
		return pair, ""
	}
	return pair[:3], pair[3:]
}

// SplitBalances picks the crypto and fiat rows out of the account balances.
// Missing currencies are reported as zero.
func SplitBalances(entries []coindcx.BalanceEntry, crypto, fiat string) models.Balance {
	b := models.Balance{
		Crypto: models.Holding{Currency: crypto},
		Fiat:   models.Holding{Currency: fiat},
	}
	for _, e := range entries {
		switch e.Currency {
		case crypto:
			b.Crypto.Available = e.Balance
			b.Crypto.Locked = e.LockedBalance
		case fiat:
			b.Fiat.Available = e.Balance
			b.Fiat.Locked = e.LockedBalance
		}
	}
	return b
}

// BuySize returns how much fiat to spend and the quantity to buy at price.
// The quantity is truncated, never rounded up, to QuantityPrecision decimals.
func BuySize(availableFiat, price float64) (spend, quantity float64) {
	spend = math.Min(availableFiat*FeeBuffer, MaxSpend)
	if price <= 0 || spend <= 0 {
		return spend, 0
	}
	quantity, _ = decimal.NewFromFloat(spend).
		Div(decimal.NewFromFloat(price)).
		Truncate(QuantityPrecision).
		Float64()
	return spend, quantity
}
