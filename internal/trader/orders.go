package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crypto-manager-go/internal/coindcx"
	"crypto-manager-go/internal/models"
	"crypto-manager-go/internal/notify"
	"go.uber.org/zap"
)

// Store persists orders, the engine position and completed trades.
// database.Journal implements it.
type Store interface {
	SaveOrder(rec *models.OrderRecord) error
	UpdateOrderStatus(orderID, status string) error
	Orders(market string) ([]models.OrderRecord, error)
	LoadPosition(market string, dryRun bool) (*models.PositionState, error)
	SavePosition(pos *models.PositionState) error
	RecordTrade(trade *models.Trade) error
}

// OrderManager places and tracks the orders of one market. It only knows
// about orders placed by this process.
type OrderManager struct {
	client   coindcx.Client
	market   string
	crypto   string
	fiat     string
	store    Store
	notifier notify.Notifier
	logger   *zap.Logger
	dryRun   bool
	now      func() time.Time

	mu     sync.RWMutex
	orders map[string]*models.OrderRecord
	ids    []string
}

// NewOrderManager creates an order manager. store may be nil.
func NewOrderManager(client coindcx.Client, market, crypto, fiat string, store Store, notifier notify.Notifier, logger *zap.Logger, dryRun bool) *OrderManager {
	return &OrderManager{
		client:   client,
		market:   market,
		crypto:   crypto,
		fiat:     fiat,
		store:    store,
		notifier: notifier,
		logger:   logger,
		dryRun:   dryRun,
		now:      time.Now,
		orders:   make(map[string]*models.OrderRecord),
	}
}

// Load fills the in-memory book from the store. Orders journaled by the
// other mode (dry run or live) are not loaded.
func (m *OrderManager) Load() error {
	if m.store == nil {
		return nil
	}
	recs, err := m.store.Orders(m.market)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range recs {
		rec := recs[i]
		if rec.DryRun != m.dryRun {
			continue
		}
		if _, ok := m.orders[rec.OrderID]; !ok {
			m.ids = append(m.ids, rec.OrderID)
		}
		m.orders[rec.OrderID] = &rec
	}
	return nil
}

// AccountBalance returns the crypto and fiat balances of the market.
func (m *OrderManager) AccountBalance(ctx context.Context) (models.Balance, error) {
	entries, err := m.client.GetBalances(ctx)
	if err != nil {
		return models.Balance{}, fmt.Errorf("could not get account balance: %w", err)
	}
	return SplitBalances(entries, m.crypto, m.fiat), nil
}

// PlaceOrder sends a limit order, records it and reports it to the notifier.
func (m *OrderManager) PlaceOrder(ctx context.Context, side string, price, quantity float64) (*models.OrderRecord, error) {
	l := m.logger.With(
		zap.String("side", side),
		zap.Float64("price", price),
		zap.Float64("quantity", quantity),
	)
	if quantity <= 0 || price <= 0 {
		return nil, fmt.Errorf("invalid %s order: price %g, quantity %g", side, price, quantity)
	}

	order, err := m.client.PlaceOrder(ctx, side, m.market, price, quantity)
	if err != nil {
		return nil, fmt.Errorf("could not place %s order: %w", side, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%s order accepted without an id", side)
	}

	now := m.now()
	status := order.Status
	if status == "" {
		status = coindcx.StatusOpen
	}
	rec := &models.OrderRecord{
		OrderID:   order.ID,
		Market:    m.market,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Total:     price * quantity,
		Status:    status,
		DryRun:    m.dryRun,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.orders[rec.OrderID] = rec
	m.ids = append(m.ids, rec.OrderID)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveOrder(rec); err != nil {
			l.Error("Failed to journal order", zap.Error(err))
		}
	}

	l.Info("Order placed", zap.String("order_id", rec.OrderID))
	m.notifier.SendTrade(ctx, side, m.market, price, quantity, rec.Total, rec.OrderID)

	out := *rec
	return &out, nil
}

// OrderStatus polls the exchange and updates the local record.
func (m *OrderManager) OrderStatus(ctx context.Context, orderID string) (models.OrderRecord, error) {
	order, err := m.client.GetOrderStatus(ctx, orderID)
	if err != nil {
		return models.OrderRecord{}, fmt.Errorf("could not get status of order %s: %w", orderID, err)
	}
	return m.setStatus(orderID, order.Status), nil
}

// CancelOrder cancels the order on the exchange and marks it cancelled.
func (m *OrderManager) CancelOrder(ctx context.Context, orderID string) error {
	if err := m.client.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("could not cancel order %s: %w", orderID, err)
	}
	m.setStatus(orderID, coindcx.StatusCancelled)
	m.logger.Info("Order cancelled", zap.String("order_id", orderID))
	return nil
}

func (m *OrderManager) setStatus(orderID, status string) models.OrderRecord {
	m.mu.Lock()
	rec, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return models.OrderRecord{OrderID: orderID, Market: m.market, Status: status}
	}
	changed := rec.Status != status
	rec.Status = status
	rec.UpdatedAt = m.now()
	out := *rec
	m.mu.Unlock()

	if changed && m.store != nil {
		if err := m.store.UpdateOrderStatus(orderID, status); err != nil {
			m.logger.Error("Failed to journal order status", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return out
}

// RefreshActiveOrders polls every non-terminal order. Orders whose poll
// fails are left out of both lists.
func (m *OrderManager) RefreshActiveOrders(ctx context.Context) (completed, active []models.OrderRecord) {
	for _, rec := range m.Orders() {
		if rec.Terminal() {
			completed = append(completed, rec)
			continue
		}
		updated, err := m.OrderStatus(ctx, rec.OrderID)
		if err != nil {
			m.logger.Error("Error updating order", zap.String("order_id", rec.OrderID), zap.Error(err))
			continue
		}
		if updated.Terminal() {
			completed = append(completed, updated)
		} else {
			active = append(active, updated)
		}
	}
	return completed, active
}

// Orders returns every known order, oldest first.
func (m *OrderManager) Orders() []models.OrderRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.OrderRecord, 0, len(m.ids))
	for _, id := range m.ids {
		out = append(out, *m.orders[id])
	}
	return out
}

// ActiveOrders returns the orders that are not filled or cancelled.
func (m *OrderManager) ActiveOrders() []models.OrderRecord {
	var out []models.OrderRecord
	for _, rec := range m.Orders() {
		if !rec.Terminal() {
			out = append(out, rec)
		}
	}
	return out
}

// OrderHistory returns the order history reported by the exchange.
func (m *OrderManager) OrderHistory(ctx context.Context) ([]coindcx.Order, error) {
	orders, err := m.client.GetOrderHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not get order history: %w", err)
	}
	return orders, nil
}
