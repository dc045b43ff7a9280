package tracker

// Indicators is a snapshot of simple technical indicators over the history.
// Fields are zero when there are not enough samples.
type Indicators struct {
	Period  int     `json:"period"`
	Samples int     `json:"samples"`
	SMA     float64 `json:"sma"`
	EMA     float64 `json:"ema"`
	RSI     float64 `json:"rsi"`
}

// ComputeIndicators calculates SMA, EMA and RSI for period over prices.
func ComputeIndicators(prices []float64, period int) Indicators {
	return Indicators{
		Period:  period,
		Samples: len(prices),
		SMA:     SMA(prices, period),
		EMA:     EMA(prices, period),
		RSI:     RSI(prices, period),
	}
}

// SMA is the mean of the last period prices.
func SMA(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return 0
	}
	var sum float64
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period)
}

// EMA seeds with the SMA of the first period prices and smooths the rest.
func EMA(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return 0
	}
	k := 2 / float64(period+1)
	ema := SMA(prices[:period], period)
	for _, p := range prices[period:] {
		ema = p*k + ema*(1-k)
	}
	return ema
}

// RSI uses Wilder smoothing and needs period+1 prices.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) <= period {
		return 0
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		diff := prices[i] - prices[i-1]
		if diff > 0 {
			gain += diff
		} else {
			loss -= diff
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(prices); i++ {
		diff := prices[i] - prices[i-1]
		var g, l float64
		if diff > 0 {
			g = diff
		} else {
			l = -diff
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
