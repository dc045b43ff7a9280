package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"crypto-manager-go/internal/coindcx"
	"crypto-manager-go/internal/models"
	"go.uber.org/zap"
)

// TickerFetcher is the part of the exchange client the tracker needs.
type TickerFetcher interface {
	GetTicker(ctx context.Context, market string) (*coindcx.Ticker, error)
}

// Callback observes each newly recorded price.
type Callback func(ctx context.Context, price float64) error

type namedCallback struct {
	name string
	fn   Callback
}

// Summary is the 24 hour view of the market.
type Summary struct {
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
	High24h   float64 `json:"high_24h"`
	Low24h    float64 `json:"low_24h"`
	Volume24h float64 `json:"volume_24h"`
}

// PriceTracker is the single source of the current price and price history
// for one market. It fans out every new price to registered callbacks.
type PriceTracker struct {
	market  string
	client  TickerFetcher
	logger  *zap.Logger
	history *History
	now     func() time.Time

	mu        sync.RWMutex
	lastPrice float64
	callbacks []namedCallback

	running atomic.Bool
	stopped atomic.Bool
	wake    chan struct{}
}

// NewPriceTracker creates a tracker for market.
func NewPriceTracker(market string, client TickerFetcher, logger *zap.Logger) *PriceTracker {
	return &PriceTracker{
		market:  market,
		client:  client,
		logger:  logger.Named("tracker").With(zap.String("market", market)),
		history: NewHistory(DefaultHistorySize),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// Market returns the tracked market symbol.
func (t *PriceTracker) Market() string {
	return t.market
}

// CurrentPrice fetches the latest price. On failure it logs and returns the
// last known price, or 0 if none was ever observed. It never fails.
func (t *PriceTracker) CurrentPrice(ctx context.Context) float64 {
	ticker, err := t.client.GetTicker(ctx, t.market)
	if err != nil {
		cached := t.LastPrice()
		t.logger.Error("Error getting current price, using cached value", zap.Error(err), zap.Float64("cached_price", cached))
		return cached
	}

	t.mu.Lock()
	t.lastPrice = ticker.LastPrice
	t.mu.Unlock()
	return ticker.LastPrice
}

// LastPrice returns the cached price without touching the network.
func (t *PriceTracker) LastPrice() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastPrice
}

// RegisterCallback adds an observer. Observers run in registration order.
func (t *PriceTracker) RegisterCallback(name string, fn Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, namedCallback{name: name, fn: fn})
}

// Observe records price in the history and runs every callback. A failing
// or panicking callback is logged and does not affect the others. A price
// that is not positive means none is known yet; the cycle is skipped.
func (t *PriceTracker) Observe(ctx context.Context, price float64) {
	if price <= 0 {
		t.logger.Warn("No price available, skipping cycle")
		return
	}
	t.history.Append(models.PriceSample{Timestamp: t.now().Unix(), Price: price})

	t.mu.RLock()
	callbacks := make([]namedCallback, len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.RUnlock()

	for _, cb := range callbacks {
		if err := runCallback(ctx, cb, price); err != nil {
			t.logger.Error("Error in price callback", zap.String("callback", cb.name), zap.Error(err))
		}
	}
}

func runCallback(ctx context.Context, cb namedCallback, price float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return cb.fn(ctx, price)
}

// Start runs the tracking loop until ctx is done or Stop is called. Each
// cycle fetches the price, records it, runs the callbacks, then waits for
// interval.
func (t *PriceTracker) Start(ctx context.Context, interval time.Duration) error {
	if !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("price tracker for %s is already running", t.market)
	}
	defer t.running.Store(false)
	t.stopped.Store(false)

	t.logger.Info("Starting price tracking", zap.Duration("interval", interval))

	for {
		if t.stopped.Load() {
			t.logger.Info("Price tracking stopped")
			return nil
		}

		t.Observe(ctx, t.CurrentPrice(ctx))

		if !Sleep(ctx, interval, t.wake) {
			t.logger.Info("Price tracking stopped", zap.Error(ctx.Err()))
			return nil
		}
	}
}

// Stop asks the loop to exit. The current cycle is allowed to finish.
func (t *PriceTracker) Stop() {
	t.stopped.Store(true)
	select {
	case t.wake <- struct{}{}:
	default:
	}
	t.logger.Info("Stopping price tracking")
}

// Running reports whether the loop is active.
func (t *PriceTracker) Running() bool {
	return t.running.Load()
}

// History returns the most recent limit samples, or all when limit <= 0.
func (t *PriceTracker) History(limit int) []models.PriceSample {
	return t.history.Last(limit)
}

// PriceChange24h returns the 24h market summary. On failure it returns zeros
// with the last known price.
func (t *PriceTracker) PriceChange24h(ctx context.Context) Summary {
	ticker, err := t.client.GetTicker(ctx, t.market)
	if err != nil {
		t.logger.Error("Error getting 24h price change", zap.Error(err))
		return Summary{Price: t.LastPrice()}
	}
	return Summary{
		Price:     ticker.LastPrice,
		Change24h: ticker.Change24h,
		High24h:   ticker.High24h,
		Low24h:    ticker.Low24h,
		Volume24h: ticker.Volume24h,
	}
}

// Indicators computes moving averages and RSI over the stored history.
func (t *PriceTracker) Indicators(period int) Indicators {
	return ComputeIndicators(t.history.Prices(), period)
}

// Sleep waits for d, returning false if ctx is done first. A receive on wake
// ends the wait early and returns true so the caller re-checks its stop flag.
func Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-wake:
		return true
	case <-timer.C:
		return true
	}
}
