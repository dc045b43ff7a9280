package trader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"crypto-manager-go/internal/coindcx"
	"crypto-manager-go/internal/config"
	"crypto-manager-go/internal/models"
	"crypto-manager-go/internal/notify"
	"crypto-manager-go/internal/tracker"
	"go.uber.org/zap"
)

// State is the position state of the engine.
type State string

const (
	StateFlat        State = "FLAT"
	StateBuyPending  State = "BUY_PENDING"
	StateLong        State = "LONG"
	StateSellPending State = "SELL_PENDING"
)

func (s State) valid() bool {
	switch s {
	case StateFlat, StateBuyPending, StateLong, StateSellPending:
		return true
	}
	return false
}

// PriceSource provides the latest price for the standalone loop.
type PriceSource interface {
	CurrentPrice(ctx context.Context) float64
}

// Registrar accepts price callbacks.
type Registrar interface {
	RegisterCallback(name string, fn tracker.Callback)
}

// Snapshot is a point-in-time view of the engine.
type Snapshot struct {
	Market           string               `json:"market"`
	Strategy         string               `json:"strategy"`
	State            State                `json:"state"`
	InPosition       bool                 `json:"in_position"`
	PendingOrderID   string               `json:"pending_order_id,omitempty"`
	BuyPrice         float64              `json:"buy_price"`
	SellPrice        float64              `json:"sell_price"`
	LastPrice        float64              `json:"last_price"`
	BuyOrderPrice    float64              `json:"buy_order_price,omitempty"`
	BuyOrderQuantity float64              `json:"buy_order_quantity,omitempty"`
	DryRun           bool                 `json:"dry_run"`
	ActiveOrders     []models.OrderRecord `json:"active_orders"`
}

// Engine is the single-pair trading state machine. At most one order is
// outstanding at any time: buy, then sell, then buy again.
type Engine struct {
	orders *OrderManager

	market    string
	buyPrice  float64
	sellPrice float64
	strategy  Strategy
	notifier  notify.Notifier
	store     Store
	logger    *zap.Logger
	dryRun    bool
	now       func() time.Time

	// tickMu serializes Tick, CancelOrder and Restore.
	tickMu sync.Mutex

	// mu guards the fields below for readers outside the tick.
	mu               sync.RWMutex
	state            State
	pendingOrderID   string
	buyOrderID       string
	buyOrderPrice    float64
	buyOrderQuantity float64
	lastPrice        float64
	lastWarning      string

	running atomic.Bool
	stopped atomic.Bool
	wake    chan struct{}
}

// NewEngine creates an engine in the FLAT state. store may be nil.
func NewEngine(cfg *config.Trading, client coindcx.Client, store Store, notifier notify.Notifier, logger *zap.Logger) *Engine {
	crypto, fiat := SplitPair(cfg.Pair, cfg.BaseCurrency, cfg.QuoteCurrency)
	l := logger.Named("trader").With(zap.String("market", cfg.Pair))
	return &Engine{
		orders:    NewOrderManager(client, cfg.Pair, crypto, fiat, store, notifier, l, cfg.DryRun),
		market:    cfg.Pair,
		buyPrice:  cfg.BuyPrice,
		sellPrice: cfg.SellPrice,
		strategy:  ThresholdStrategy{BuyPrice: cfg.BuyPrice, SellPrice: cfg.SellPrice},
		notifier:  notifier,
		store:     store,
		logger:    l,
		dryRun:    cfg.DryRun,
		now:       time.Now,
		state:     StateFlat,
		wake:      make(chan struct{}, 1),
	}
}

// Strategy returns the entry/exit strategy.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// InPosition reports whether the engine holds the crypto asset.
func (e *Engine) InPosition() bool {
	s := e.State()
	return s == StateLong || s == StateSellPending
}

// Snapshot returns the current engine view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	s := Snapshot{
		Market:           e.market,
		Strategy:         e.strategy.Name(),
		State:            e.state,
		InPosition:       e.state == StateLong || e.state == StateSellPending,
		PendingOrderID:   e.pendingOrderID,
		BuyPrice:         e.buyPrice,
		SellPrice:        e.sellPrice,
		LastPrice:        e.lastPrice,
		BuyOrderPrice:    e.buyOrderPrice,
		BuyOrderQuantity: e.buyOrderQuantity,
		DryRun:           e.dryRun,
	}
	e.mu.RUnlock()
	s.ActiveOrders = e.orders.ActiveOrders()
	return s
}

// Restore loads the journaled orders and position.
func (e *Engine) Restore() error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if e.store == nil {
		return nil
	}
	if err := e.orders.Load(); err != nil {
		return fmt.Errorf("could not load orders: %w", err)
	}
	pos, err := e.store.LoadPosition(e.market, e.dryRun)
	if err != nil {
		return fmt.Errorf("could not load position: %w", err)
	}
	if pos == nil {
		e.logger.Info("No saved position, starting flat")
		return nil
	}

	state := State(pos.State)
	if !state.valid() {
		return fmt.Errorf("saved position has unknown state %q", pos.State)
	}
	pending := state == StateBuyPending || state == StateSellPending
	if pending && pos.PendingOrderID == "" {
		if state == StateBuyPending {
			state = StateFlat
		} else {
			state = StateLong
		}
		e.logger.Warn("Saved pending state without an order id, reverting", zap.String("state", string(state)))
	}

	e.mu.Lock()
	e.state = state
	if state == StateBuyPending || state == StateSellPending {
		e.pendingOrderID = pos.PendingOrderID
	}
	if state == StateLong || state == StateSellPending {
		e.buyOrderID = pos.BuyOrderID
	}
	e.buyOrderPrice = pos.BuyOrderPrice
	e.buyOrderQuantity = pos.BuyOrderQuantity
	e.mu.Unlock()

	e.logger.Info("Restored position",
		zap.String("state", string(state)),
		zap.String("pending_order_id", pos.PendingOrderID),
	)
	return nil
}

// Tick runs one cycle of the state machine at price. A failed exchange call
// leaves the state unchanged and is retried on the next tick.
func (e *Engine) Tick(ctx context.Context, price float64) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.mu.Lock()
	e.lastPrice = price
	state, pendingID := e.state, e.pendingOrderID
	e.mu.Unlock()

	e.logger.Info("Checking price",
		zap.Float64("current_price", price),
		zap.Float64("buy_price", e.buyPrice),
		zap.Float64("sell_price", e.sellPrice),
		zap.String("state", string(state)),
	)

	if pendingID != "" {
		settled, err := e.checkPending(ctx, state, pendingID)
		if err != nil {
			e.notifier.SendMessage(ctx, fmt.Sprintf("⚠️ Error checking order %s: %v", pendingID, err))
			return err
		}
		if !settled {
			return nil
		}
	}

	switch e.State() {
	case StateFlat:
		if e.strategy.ShouldBuy(price) {
			return e.buy(ctx, price)
		}
	case StateLong:
		if e.strategy.ShouldSell(price) {
			return e.sell(ctx, price)
		}
	}
	return nil
}

// checkPending polls the pending order and applies its outcome. It reports
// whether the order reached a terminal status.
func (e *Engine) checkPending(ctx context.Context, state State, orderID string) (bool, error) {
	rec, err := e.orders.OrderStatus(ctx, orderID)
	if err != nil {
		return false, err
	}

	switch rec.Status {
	case coindcx.StatusFilled:
		if state == StateBuyPending {
			var fillPrice float64
			e.transition(StateLong, "", func() {
				e.buyOrderID = orderID
				if rec.Price > 0 {
					e.buyOrderPrice = rec.Price
					e.buyOrderQuantity = rec.Quantity
				}
				fillPrice = e.buyOrderPrice
			})
			e.logger.Info("Buy order filled", zap.String("order_id", orderID), zap.Float64("price", fillPrice))
			e.notifier.SendMessage(ctx, fmt.Sprintf("🟢 Buy order filled at %g!", fillPrice))
		} else {
			e.logger.Info("Sell order filled", zap.String("order_id", orderID), zap.Float64("price", rec.Price))
			pl := e.recordTrade(orderID, rec)
			e.transition(StateFlat, "", func() {
				e.buyOrderID = ""
				e.buyOrderPrice = 0
				e.buyOrderQuantity = 0
			})
			e.notifier.SendMessage(ctx, fmt.Sprintf("🔴 Sell order filled at %g! Net P/L: %.2f (%.2f%%)", rec.Price, pl.NetProfit, pl.ProfitPercentage))
		}
		return true, nil

	case coindcx.StatusCancelled:
		back := StateFlat
		if state == StateSellPending {
			back = StateLong
		}
		e.logger.Info("Order was cancelled", zap.String("order_id", orderID), zap.String("state", string(back)))
		e.transition(back, "", nil)
		return true, nil
	}

	e.logger.Info("Order still open", zap.String("order_id", orderID), zap.String("status", rec.Status))
	return false, nil
}

func (e *Engine) buy(ctx context.Context, price float64) error {
	balance, err := e.orders.AccountBalance(ctx)
	if err != nil {
		e.logger.Error("Error placing buy order", zap.Error(err))
		e.notifier.SendMessage(ctx, fmt.Sprintf("⚠️ Error placing buy order: %v", err))
		return err
	}

	spend, quantity := BuySize(balance.Fiat.Available, price)
	if spend <= MinSpend || quantity <= 0 {
		e.logger.Warn("Insufficient balance for buy order", zap.Float64("available", balance.Fiat.Available))
		e.warnOnce(ctx, "insufficient_balance", fmt.Sprintf("⚠️ Insufficient %s balance for buy order: %g", balance.Fiat.Currency, balance.Fiat.Available))
		return nil
	}

	rec, err := e.orders.PlaceOrder(ctx, coindcx.SideBuy, price, quantity)
	if err != nil {
		e.logger.Error("Error placing buy order", zap.Error(err))
		e.notifier.SendMessage(ctx, fmt.Sprintf("⚠️ Error placing buy order: %v", err))
		return err
	}

	e.transition(StateBuyPending, rec.OrderID, func() {
		e.buyOrderPrice = price
		e.buyOrderQuantity = quantity
		e.lastWarning = ""
	})
	e.logger.Info("Placed buy order", zap.Float64("price", price), zap.Float64("quantity", quantity), zap.Float64("spend", spend))
	e.notifier.SendMessage(ctx, fmt.Sprintf("📈 Placed buy order at %g!", price))
	return nil
}

func (e *Engine) sell(ctx context.Context, price float64) error {
	balance, err := e.orders.AccountBalance(ctx)
	if err != nil {
		e.logger.Error("Error placing sell order", zap.Error(err))
		e.notifier.SendMessage(ctx, fmt.Sprintf("⚠️ Error placing sell order: %v", err))
		return err
	}

	quantity := balance.Crypto.Available
	if quantity <= 0 {
		e.logger.Warn("No crypto available for sell order")
		e.warnOnce(ctx, "no_inventory", fmt.Sprintf("⚠️ No %s available for sell order", balance.Crypto.Currency))
		return nil
	}

	rec, err := e.orders.PlaceOrder(ctx, coindcx.SideSell, price, quantity)
	if err != nil {
		e.logger.Error("Error placing sell order", zap.Error(err))
		e.notifier.SendMessage(ctx, fmt.Sprintf("⚠️ Error placing sell order: %v", err))
		return err
	}

	e.transition(StateSellPending, rec.OrderID, func() { e.lastWarning = "" })
	e.logger.Info("Placed sell order", zap.Float64("price", price), zap.Float64("quantity", quantity))
	e.notifier.SendMessage(ctx, fmt.Sprintf("📉 Placed sell order at %g!", price))
	return nil
}

// CancelOrder cancels an order. Cancelling the pending order moves the
// engine back to the state it had before placing it.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if err := e.orders.CancelOrder(ctx, orderID); err != nil {
		return err
	}

	e.mu.RLock()
	state, pending := e.state, e.pendingOrderID
	e.mu.RUnlock()
	if orderID != pending {
		return nil
	}
	if state == StateSellPending {
		e.transition(StateLong, "", nil)
	} else {
		e.transition(StateFlat, "", nil)
	}
	return nil
}

// Orders returns every order placed by this engine, oldest first.
func (e *Engine) Orders() []models.OrderRecord {
	return e.orders.Orders()
}

// ActiveOrders returns the orders that are not filled or cancelled.
func (e *Engine) ActiveOrders() []models.OrderRecord {
	return e.orders.ActiveOrders()
}

// RefreshActiveOrders polls every open order and splits the book into
// completed and active orders.
func (e *Engine) RefreshActiveOrders(ctx context.Context) (completed, active []models.OrderRecord) {
	return e.orders.RefreshActiveOrders(ctx)
}

// OrderHistory returns the order history reported by the exchange.
func (e *Engine) OrderHistory(ctx context.Context) ([]coindcx.Order, error) {
	return e.orders.OrderHistory(ctx)
}

// AccountBalance returns the crypto and fiat balances of the market.
func (e *Engine) AccountBalance(ctx context.Context) (models.Balance, error) {
	return e.orders.AccountBalance(ctx)
}

// transition moves to state, applying mutate under the lock, and journals
// the new position.
func (e *Engine) transition(state State, pendingID string, mutate func()) {
	e.mu.Lock()
	from := e.state
	e.state = state
	e.pendingOrderID = pendingID
	if mutate != nil {
		mutate()
	}
	pos := &models.PositionState{
		Market:           e.market,
		DryRun:           e.dryRun,
		State:            string(e.state),
		PendingOrderID:   e.pendingOrderID,
		BuyOrderID:       e.buyOrderID,
		InPosition:       e.state == StateLong || e.state == StateSellPending,
		BuyOrderPrice:    e.buyOrderPrice,
		BuyOrderQuantity: e.buyOrderQuantity,
	}
	e.mu.Unlock()

	e.logger.Info("State transition", zap.String("from", string(from)), zap.String("to", string(state)))
	if e.store != nil {
		if err := e.store.SavePosition(pos); err != nil {
			e.logger.Error("Failed to journal position", zap.Error(err))
		}
	}
}

func (e *Engine) recordTrade(sellOrderID string, sell models.OrderRecord) ProfitLoss {
	e.mu.RLock()
	buyID, buyPrice := e.buyOrderID, e.buyOrderPrice
	e.mu.RUnlock()

	pl := CalculateProfitLoss(buyPrice, sell.Price, sell.Quantity, DefaultFeePercent)
	if e.store == nil {
		return pl
	}
	trade := &models.Trade{
		Symbol:        e.market,
		BuyOrderID:    buyID,
		SellOrderID:   sellOrderID,
		BuyPrice:      buyPrice,
		Price:         sell.Price,
		Quantity:      sell.Quantity,
		QuoteQuantity: pl.SellTotal,
		Fees:          pl.BuyFee + pl.SellFee,
		Timestamp:     e.now().UnixMilli(),
		IsSimulation:  e.dryRun,
		Profit:        pl.NetProfit,
	}
	if err := e.store.RecordTrade(trade); err != nil {
		e.logger.Error("Failed to save trade record", zap.Error(err))
	}
	return pl
}

// warnOnce notifies about a recurring condition only when it changes.
func (e *Engine) warnOnce(ctx context.Context, key, msg string) {
	e.mu.Lock()
	repeat := e.lastWarning == key
	e.lastWarning = key
	e.mu.Unlock()
	if !repeat {
		e.notifier.SendMessage(ctx, msg)
	}
}

// Attach registers the engine as a callback of a shared tracker.
func (e *Engine) Attach(r Registrar) {
	r.RegisterCallback("trader", e.Tick)
	e.logger.Info("Auto trader attached to price tracker")
}

// Run drives the engine from src every interval until ctx is done or Stop
// is called.
func (e *Engine) Run(ctx context.Context, src PriceSource, interval time.Duration) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("auto trader for %s is already running", e.market)
	}
	defer e.running.Store(false)
	e.stopped.Store(false)

	e.logger.Info("Starting auto trader", zap.String("strategy", e.strategy.Name()), zap.Duration("interval", interval))
	defer e.logger.Info("Auto trader stopped")

	for !e.stopped.Load() {
		if price := src.CurrentPrice(ctx); price > 0 {
			if err := e.Tick(ctx, price); err != nil {
				e.logger.Error("Trading cycle failed", zap.Error(err))
			}
		} else {
			e.logger.Warn("No price available, skipping cycle")
		}
		if !tracker.Sleep(ctx, interval, e.wake) {
			return nil
		}
	}
	return nil
}

// Stop ends the standalone loop after the current cycle.
func (e *Engine) Stop() {
	e.stopped.Store(true)
	select {
	case e.wake <- struct{}{}:
	default:
	}
	e.logger.Info("Stopping auto trader")
}
