package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crypto-manager-go/internal/coindcx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DryRunClient reads market data and balances from the exchange but never
// sends orders. Simulated orders fill on their first status poll and their
// effect is applied on top of the real balances.
type DryRunClient struct {
	coindcx.Client
	crypto string
	fiat   string
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	orders map[string]*coindcx.Order
	ids    []string
	deltas map[string]float64
}

// NewDryRunClient wraps client for the crypto/fiat pair.
func NewDryRunClient(client coindcx.Client, crypto, fiat string, logger *zap.Logger) *DryRunClient {
	return &DryRunClient{
		Client: client,
		crypto: crypto,
		fiat:   fiat,
		logger: logger.Named("dry-run"),
		now:    time.Now,
		orders: make(map[string]*coindcx.Order),
		deltas: make(map[string]float64),
	}
}

func (c *DryRunClient) GetBalances(ctx context.Context) ([]coindcx.BalanceEntry, error) {
	base, err := c.Client.GetBalances(ctx)
	if err != nil {
		return nil, err
	}
	entries := append([]coindcx.BalanceEntry(nil), base...)

	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		entries[i].Balance += c.deltas[entries[i].Currency]
		seen[entries[i].Currency] = true
	}
	for cur, d := range c.deltas {
		if !seen[cur] {
			entries = append(entries, coindcx.BalanceEntry{Currency: cur, Balance: d})
		}
	}
	return entries, nil
}

func (c *DryRunClient) PlaceOrder(_ context.Context, side, market string, price, quantity float64) (*coindcx.Order, error) {
	o := &coindcx.Order{
		ID:                uuid.NewString(),
		Market:            market,
		Side:              side,
		Status:            coindcx.StatusOpen,
		PricePerUnit:      price,
		TotalQuantity:     quantity,
		RemainingQuantity: quantity,
		CreatedAt:         c.now().UnixMilli(),
	}

	c.mu.Lock()
	c.orders[o.ID] = o
	c.ids = append(c.ids, o.ID)
	c.mu.Unlock()

	c.logger.Warn("Dry run enabled. No real order was sent.",
		zap.String("order_id", o.ID),
		zap.String("side", side),
		zap.Float64("price", price),
		zap.Float64("quantity", quantity),
	)
	out := *o
	return &out, nil
}

func (c *DryRunClient) GetOrderStatus(_ context.Context, orderID string) (*coindcx.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("dry run order %s: %w", orderID, coindcx.ErrNotFound)
	}
	if o.Status == coindcx.StatusOpen {
		o.Status = coindcx.StatusFilled
		o.RemainingQuantity = 0
		o.AvgPrice = o.PricePerUnit
		total := o.PricePerUnit * o.TotalQuantity
		if o.Side == coindcx.SideBuy {
			c.deltas[c.crypto] += o.TotalQuantity
			c.deltas[c.fiat] -= total
		} else {
			c.deltas[c.crypto] -= o.TotalQuantity
			c.deltas[c.fiat] += total
		}
	}
	out := *o
	return &out, nil
}

func (c *DryRunClient) CancelOrder(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[orderID]
	if !ok {
		return fmt.Errorf("dry run order %s: %w", orderID, coindcx.ErrNotFound)
	}
	if o.Status == coindcx.StatusOpen {
		o.Status = coindcx.StatusCancelled
	}
	return nil
}

// GetOrderHistory returns the simulated orders, newest first.
func (c *DryRunClient) GetOrderHistory(context.Context) ([]coindcx.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]coindcx.Order, 0, len(c.ids))
	for i := len(c.ids) - 1; i >= 0; i-- {
		out = append(out, *c.orders[c.ids[i]])
	}
	return out, nil
}
