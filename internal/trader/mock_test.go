package trader

import (
	"context"
	"sync"

	"crypto-manager-go/internal/coindcx"
	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of coindcx.Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) GetTicker(ctx context.Context, market string) (*coindcx.Ticker, error) {
	args := m.Called(market)
	t, _ := args.Get(0).(*coindcx.Ticker)
	return t, args.Error(1)
}

func (m *MockClient) GetBalances(ctx context.Context) ([]coindcx.BalanceEntry, error) {
	args := m.Called()
	b, _ := args.Get(0).([]coindcx.BalanceEntry)
	return b, args.Error(1)
}

func (m *MockClient) PlaceOrder(ctx context.Context, side, market string, price, quantity float64) (*coindcx.Order, error) {
	args := m.Called(side, market, price, quantity)
	o, _ := args.Get(0).(*coindcx.Order)
	return o, args.Error(1)
}

func (m *MockClient) GetOrderStatus(ctx context.Context, orderID string) (*coindcx.Order, error) {
	args := m.Called(orderID)
	o, _ := args.Get(0).(*coindcx.Order)
	return o, args.Error(1)
}

func (m *MockClient) CancelOrder(ctx context.Context, orderID string) error {
	return m.Called(orderID).Error(0)
}

func (m *MockClient) GetOrderHistory(ctx context.Context) ([]coindcx.Order, error) {
	args := m.Called()
	o, _ := args.Get(0).([]coindcx.Order)
	return o, args.Error(1)
}

// recordingNotifier keeps every message it is asked to send.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	trades   []string
}

func (r *recordingNotifier) SendMessage(_ context.Context, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	return true
}

func (r *recordingNotifier) SendAlert(context.Context, string, float64, string, float64) bool {
	return true
}

func (r *recordingNotifier) SendTrade(_ context.Context, side, _ string, _, _, _ float64, orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, side+":"+orderID)
	return true
}

func (r *recordingNotifier) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *recordingNotifier) Trades() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.trades...)
}
