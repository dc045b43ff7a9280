package trader

// DefaultFeePercent is the exchange fee charged on each side of a trade.
const DefaultFeePercent = 0.1

// ProfitLoss is the result of a completed buy and sell.
type ProfitLoss struct {
	BuyPrice         float64 `json:"buy_price"`
	SellPrice        float64 `json:"sell_price"`
	Quantity         float64 `json:"quantity"`
	BuyTotal         float64 `json:"buy_total"`
	SellTotal        float64 `json:"sell_total"`
	BuyFee           float64 `json:"buy_fee"`
	SellFee          float64 `json:"sell_fee"`
	GrossProfit      float64 `json:"gross_profit"`
	NetProfit        float64 `json:"net_profit"`
	ProfitPercentage float64 `json:"profit_percentage"`
}

// CalculateProfitLoss computes the result of buying and selling quantity,
// with feePercent charged on both legs.
func CalculateProfitLoss(buyPrice, sellPrice, quantity, feePercent float64) ProfitLoss {
	buyTotal := buyPrice * quantity
	sellTotal := sellPrice * quantity
	buyFee := buyTotal * feePercent / 100
	sellFee := sellTotal * feePercent / 100
	gross := sellTotal - buyTotal
	net := gross - buyFee - sellFee

	pct := 0.0
	if buyTotal != 0 {
		pct = net / buyTotal * 100
	}

	return ProfitLoss{
		BuyPrice:         buyPrice,
		SellPrice:        sellPrice,
		Quantity:         quantity,
		BuyTotal:         buyTotal,
		SellTotal:        sellTotal,
		BuyFee:           buyFee,
		SellFee:          sellFee,
		GrossProfit:      gross,
		NetProfit:        net,
		ProfitPercentage: pct,
	}
}
