package trader

import "fmt"

// Strategy decides when the engine should enter or leave a position.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// ShouldBuy reports whether a flat engine should buy at price.
	ShouldBuy(price float64) bool

	// ShouldSell reports whether a long engine should sell at price.
	ShouldSell(price float64) bool
}

// ThresholdStrategy buys at or below BuyPrice and sells at or above SellPrice.
type ThresholdStrategy struct {
	BuyPrice  float64
	SellPrice float64
}

func (s ThresholdStrategy) Name() string {
	return fmt.Sprintf("Threshold(buy<=%g, sell>=%g)", s.BuyPrice, s.SellPrice)
}

func (s ThresholdStrategy) ShouldBuy(price float64) bool {
	return price > 0 && price <= s.BuyPrice
}

func (s ThresholdStrategy) ShouldSell(price float64) bool {
	return price > 0 && price >= s.SellPrice
}
