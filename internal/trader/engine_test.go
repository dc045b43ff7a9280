package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto-manager-go/internal/coindcx"
	"crypto-manager-go/internal/config"
	"crypto-manager-go/internal/database"
	"crypto-manager-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testTradingConfig() *config.Trading {
	return &config.Trading{Pair: "ELYINR", BuyPrice: 0.65, SellPrice: 0.70}
}

func newTestJournal(t *testing.T) *database.Journal {
	t.Helper()
	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)
	return database.NewJournal(db)
}

// setupEngine creates an engine with a mock client and an in-memory journal.
func setupEngine(t *testing.T) (*Engine, *MockClient, *recordingNotifier, *database.Journal) {
	t.Helper()
	client := new(MockClient)
	n := &recordingNotifier{}
	j := newTestJournal(t)
	return NewEngine(testTradingConfig(), client, j, n, zap.NewNop()), client, n, j
}

func fiat(amount float64) []coindcx.BalanceEntry {
	return []coindcx.BalanceEntry{{Currency: "INR", Balance: amount}}
}

func TestEngine_BuyThenFilled(t *testing.T) {
	e, client, n, j := setupEngine(t)
	ctx := context.Background()

	client.On("GetBalances").Return(fiat(2000), nil).Once()
	client.On("PlaceOrder", coindcx.SideBuy, "ELYINR", 0.64, 1562.5).
		Return(&coindcx.Order{ID: "o1", Status: coindcx.StatusOpen}, nil).Once()

	require.NoError(t, e.Tick(ctx, 0.64))
	assert.Equal(t, StateBuyPending, e.State())
	assert.False(t, e.InPosition())
	require.Len(t, e.ActiveOrders(), 1)
	assert.Equal(t, "o1", e.Snapshot().PendingOrderID)
	assert.Equal(t, []string{"buy:o1"}, n.Trades())

	client.On("GetOrderStatus", "o1").Return(&coindcx.Order{ID: "o1", Status: coindcx.StatusFilled}, nil).Once()
	require.NoError(t, e.Tick(ctx, 0.66))

	assert.Equal(t, StateLong, e.State())
	assert.True(t, e.InPosition())
	assert.Empty(t, e.Snapshot().PendingOrderID)
	assert.Empty(t, e.ActiveOrders())
	assert.Equal(t, 0.64, e.Snapshot().BuyOrderPrice)

	pos, err := j.LoadPosition("ELYINR", false)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, string(StateLong), pos.State)
	assert.True(t, pos.InPosition)
	assert.Equal(t, "o1", pos.BuyOrderID)

	orders, err := j.Orders("ELYINR")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, coindcx.StatusFilled, orders[0].Status)

	assert.Contains(t, n.Messages(), "🟢 Buy order filled at 0.64!")
	client.AssertExpectations(t)
}

func TestEngine_BuySizingTruncates(t *testing.T) {
	e, client, _, _ := setupEngine(t)

	client.On("GetBalances").Return(fiat(2000), nil).Once()
	client.On("PlaceOrder", coindcx.SideBuy, "ELYINR", 0.65, 1538.46153846).
		Return(&coindcx.Order{ID: "o1", Status: coindcx.StatusOpen}, nil).Once()

	require.NoError(t, e.Tick(context.Background(), 0.65))

	orders := e.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, 1538.46153846, orders[0].Quantity)
	client.AssertExpectations(t)
}

func TestEngine_InsufficientBalance(t *testing.T) {
	e, client, n, _ := setupEngine(t)

	client.On("GetBalances").Return(fiat(5), nil).Twice()

	require.NoError(t, e.Tick(context.Background(), 0.65))
	require.NoError(t, e.Tick(context.Background(), 0.64))

	assert.Equal(t, StateFlat, e.State())
	assert.Empty(t, e.Orders())
	client.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	// Repeated warnings are sent once.
	assert.Len(t, n.Messages(), 1)
	assert.Contains(t, n.Messages()[0], "Insufficient INR balance")
}

func TestEngine_NoTradeOutsideThresholds(t *testing.T) {
	e, client, _, _ := setupEngine(t)

	require.NoError(t, e.Tick(context.Background(), 0.66))
	assert.Equal(t, StateFlat, e.State())
	client.AssertNotCalled(t, "GetBalances")
}

func TestEngine_PlacementErrorPreservesState(t *testing.T) {
	e, client, n, _ := setupEngine(t)

	client.On("GetBalances").Return(fiat(2000), nil).Once()
	client.On("PlaceOrder", coindcx.SideBuy, "ELYINR", 0.64, 1562.5).
		Return(nil, &coindcx.TransientError{StatusCode: 503, Err: errors.New("unavailable")}).Once()

	err := e.Tick(context.Background(), 0.64)
	require.Error(t, err)
	assert.True(t, coindcx.IsTransient(err))
	assert.Equal(t, StateFlat, e.State())
	assert.Empty(t, e.Orders())
	assert.Contains(t, n.Messages()[0], "Error placing buy order")

	client.On("GetBalances").Return(nil, &coindcx.AuthError{StatusCode: 401, Message: "bad key"}).Once()
	require.Error(t, e.Tick(context.Background(), 0.64))
	assert.Equal(t, StateFlat, e.State())
	client.AssertExpectations(t)
}

func TestEngine_OpenOrderSkipsPlacement(t *testing.T) {
	e, client, _, _ := setupEngine(t)
	ctx := context.Background()

	client.On("GetBalances").Return(fiat(2000), nil).Once()
	client.On("PlaceOrder", coindcx.SideBuy, "ELYINR", 0.64, 1562.5).
		Return(&coindcx.Order{ID: "o1", Status: coindcx.StatusOpen}, nil).Once()
	require.NoError(t, e.Tick(ctx, 0.64))

	client.On("GetOrderStatus", "o1").Return(&coindcx.Order{ID: "o1", Status: coindcx.StatusPartiallyFilled}, nil).Once()
	require.NoError(t, e.Tick(ctx, 0.60))
	assert.Equal(t, StateBuyPending, e.State())

	client.On("GetOrderStatus", "o1").Return(nil, errors.New("timeout")).Once()
	require.Error(t, e.Tick(ctx, 0.60))
	assert.Equal(t, StateBuyPending, e.State())
	assert.Len(t, e.Orders(), 1)

	client.AssertNumberOfCalls(t, "PlaceOrder", 1)
	client.AssertNumberOfCalls(t, "GetBalances", 1)
}

// goLong drives a fresh engine into LONG with buy order o1 filled at 0.64.
func goLong(t *testing.T, e *Engine, client *MockClient) {
	t.Helper()
	client.On("GetBalances").Return(fiat(2000), nil).Once()
	client.On("PlaceOrder", coindcx.SideBuy, "ELYINR", 0.64, 1562.5).
		Return(&coindcx.Order{ID: "o1", Status: coindcx.StatusOpen}, nil).Once()
	require.NoError(t, e.Tick(context.Background(), 0.64))
	client.On("GetOrderStatus", "o1").Return(&coindcx.Order{ID: "o1", Status: coindcx.StatusFilled}, nil).Once()
	require.NoError(t, e.Tick(context.Background(), 0.66))
	require.Equal(t, StateLong, e.State())
}

func TestEngine_SellRoundTrip(t *testing.T) {
	e, client, n, j := setupEngine(t)
	ctx := context.Background()
	goLong(t, e, client)

	client.On("GetBalances").Return([]coindcx.BalanceEntry{{Currency: "ELY", Balance: 1562.5}}, nil).Once()
	client.On("PlaceOrder", coindcx.SideSell, "ELYINR", 0.72, 1562.5).
		Return(&coindcx.Order{ID: "o2", Status: coindcx.StatusOpen}, nil).Once()
	require.NoError(t, e.Tick(ctx, 0.72))
	assert.Equal(t, StateSellPending, e.State())
	assert.True(t, e.InPosition())

	client.On("GetOrderStatus", "o2").Return(&coindcx.Order{ID: "o2", Status: coindcx.StatusFilled}, nil).Once()
	require.NoError(t, e.Tick(ctx, 0.69))
	assert.Equal(t, StateFlat, e.State())
	assert.False(t, e.InPosition())

	trades, err := j.Trades()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "o1", trades[0].BuyOrderID)
	assert.Equal(t, "o2", trades[0].SellOrderID)
	expected := CalculateProfitLoss(0.64, 0.72, 1562.5, DefaultFeePercent)
	assert.InDelta(t, expected.NetProfit, trades[0].Profit, 1e-9)

	assert.Equal(t, []string{"buy:o1", "sell:o2"}, n.Trades())
	client.AssertExpectations(t)
}

func TestEngine_NoInventory(t *testing.T) {
	e, client, n, _ := setupEngine(t)
	goLong(t, e, client)

	client.On("GetBalances").Return(fiat(10), nil).Once()
	require.NoError(t, e.Tick(context.Background(), 0.75))
	assert.Equal(t, StateLong, e.State())
	assert.Contains(t, n.Messages(), "⚠️ No ELY available for sell order")
}

func TestEngine_CancelledSellRevertsToLong(t *testing.T) {
	e, client, _, _ := setupEngine(t)
	ctx := context.Background()
	goLong(t, e, client)

	client.On("GetBalances").Return([]coindcx.BalanceEntry{{Currency: "ELY", Balance: 100}}, nil).Once()
	client.On("PlaceOrder", coindcx.SideSell, "ELYINR", 0.71, 100.0).
		Return(&coindcx.Order{ID: "o2", Status: coindcx.StatusOpen}, nil).Once()
	require.NoError(t, e.Tick(ctx, 0.71))

	client.On("GetOrderStatus", "o2").Return(&coindcx.Order{ID: "o2", Status: coindcx.StatusCancelled}, nil).Once()
	require.NoError(t, e.Tick(ctx, 0.68))
	assert.Equal(t, StateLong, e.State())
	assert.Empty(t, e.ActiveOrders())
}

func TestEngine_CancelOrder(t *testing.T) {
	e, client, _, j := setupEngine(t)
	ctx := context.Background()

	client.On("GetBalances").Return(fiat(2000), nil).Once()
	client.On("PlaceOrder", coindcx.SideBuy, "ELYINR", 0.64, 1562.5).
		Return(&coindcx.Order{ID: "o1", Status: coindcx.StatusOpen}, nil).Once()
	require.NoError(t, e.Tick(ctx, 0.64))

	client.On("CancelOrder", "o1").Return(nil).Once()
	require.NoError(t, e.CancelOrder(ctx, "o1"))
	assert.Equal(t, StateFlat, e.State())
	assert.Empty(t, e.ActiveOrders())

	orders, err := j.Orders("ELYINR")
	require.NoError(t, err)
	assert.Equal(t, coindcx.StatusCancelled, orders[0].Status)

	client.On("CancelOrder", "zzz").Return(&coindcx.ValidationError{StatusCode: 400, Message: "unknown order"}).Once()
	assert.Error(t, e.CancelOrder(ctx, "zzz"))
}

func TestEngine_Restore(t *testing.T) {
	client := new(MockClient)
	j := newTestJournal(t)
	require.NoError(t, j.SaveOrder(&models.OrderRecord{OrderID: "o1", Market: "ELYINR", Side: "buy", Price: 0.63, Quantity: 100, Total: 63, Status: "open"}))
	require.NoError(t, j.SavePosition(&models.PositionState{Market: "ELYINR", State: string(StateBuyPending), PendingOrderID: "o1", BuyOrderPrice: 0.63, BuyOrderQuantity: 100}))

	e := NewEngine(testTradingConfig(), client, j, &recordingNotifier{}, zap.NewNop())
	require.NoError(t, e.Restore())
	assert.Equal(t, StateBuyPending, e.State())
	require.Len(t, e.ActiveOrders(), 1)

	client.On("GetOrderStatus", "o1").Return(&coindcx.Order{ID: "o1", Status: coindcx.StatusFilled}, nil).Once()
	require.NoError(t, e.Tick(context.Background(), 0.66))
	assert.Equal(t, StateLong, e.State())
	assert.Equal(t, 0.63, e.Snapshot().BuyOrderPrice)
}

func TestEngine_RestoreKeepsBuyOrderID(t *testing.T) {
	e, client, _, j := setupEngine(t)
	goLong(t, e, client)

	restarted := new(MockClient)
	e2 := NewEngine(testTradingConfig(), restarted, j, &recordingNotifier{}, zap.NewNop())
	require.NoError(t, e2.Restore())
	require.Equal(t, StateLong, e2.State())

	ctx := context.Background()
	restarted.On("GetBalances").Return([]coindcx.BalanceEntry{{Currency: "ELY", Balance: 1562.5}}, nil).Once()
	restarted.On("PlaceOrder", coindcx.SideSell, "ELYINR", 0.72, 1562.5).
		Return(&coindcx.Order{ID: "o2", Status: coindcx.StatusOpen}, nil).Once()
	require.NoError(t, e2.Tick(ctx, 0.72))
	restarted.On("GetOrderStatus", "o2").Return(&coindcx.Order{ID: "o2", Status: coindcx.StatusFilled}, nil).Once()
	require.NoError(t, e2.Tick(ctx, 0.69))

	trades, err := j.Trades()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "o1", trades[0].BuyOrderID)
	assert.Equal(t, "o2", trades[0].SellOrderID)
	restarted.AssertExpectations(t)
}

func TestEngine_DryRunPositionStaysOutOfLiveTrading(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	base := new(MockClient)
	base.On("GetBalances").Return(fiat(2000), nil)
	dryCfg := testTradingConfig()
	dryCfg.DryRun = true
	dry := NewEngine(dryCfg, NewDryRunClient(base, "ELY", "INR", zap.NewNop()), j, &recordingNotifier{}, zap.NewNop())
	require.NoError(t, dry.Tick(ctx, 0.64))
	require.NoError(t, dry.Tick(ctx, 0.66))
	require.Equal(t, StateLong, dry.State())

	live := new(MockClient)
	e := NewEngine(testTradingConfig(), live, j, &recordingNotifier{}, zap.NewNop())
	require.NoError(t, e.Restore())
	assert.Equal(t, StateFlat, e.State())
	assert.False(t, e.InPosition())
	assert.Empty(t, e.Orders())

	require.NoError(t, e.Tick(ctx, 0.70))
	assert.Equal(t, StateFlat, e.State())
	live.AssertNumberOfCalls(t, "PlaceOrder", 0)

	dryPos, err := j.LoadPosition("ELYINR", true)
	require.NoError(t, err)
	require.NotNil(t, dryPos)
	assert.Equal(t, string(StateLong), dryPos.State)
}

func TestEngine_LivePendingOrderStaysOutOfDryRun(t *testing.T) {
	j := newTestJournal(t)
	require.NoError(t, j.SaveOrder(&models.OrderRecord{OrderID: "o9", Market: "ELYINR", Side: "buy", Price: 0.63, Quantity: 100, Status: "open"}))
	require.NoError(t, j.SavePosition(&models.PositionState{Market: "ELYINR", State: string(StateBuyPending), PendingOrderID: "o9"}))

	base := new(MockClient)
	cfg := testTradingConfig()
	cfg.DryRun = true
	e := NewEngine(cfg, NewDryRunClient(base, "ELY", "INR", zap.NewNop()), j, &recordingNotifier{}, zap.NewNop())
	require.NoError(t, e.Restore())

	assert.Equal(t, StateFlat, e.State())
	assert.Empty(t, e.Snapshot().PendingOrderID)
	assert.Empty(t, e.ActiveOrders())
	require.NoError(t, e.Tick(context.Background(), 0.68))
	assert.Equal(t, StateFlat, e.State())
}

func TestEngine_RestoreRevertsPendingWithoutOrder(t *testing.T) {
	j := newTestJournal(t)
	require.NoError(t, j.SavePosition(&models.PositionState{Market: "ELYINR", State: string(StateSellPending)}))

	e := NewEngine(testTradingConfig(), new(MockClient), j, &recordingNotifier{}, zap.NewNop())
	require.NoError(t, e.Restore())
	assert.Equal(t, StateLong, e.State())

	require.NoError(t, j.SavePosition(&models.PositionState{Market: "ELYINR", State: "SHORT"}))
	assert.Error(t, e.Restore())
}

func TestEngine_RefreshActiveOrders(t *testing.T) {
	e, client, _, _ := setupEngine(t)
	ctx := context.Background()

	client.On("GetBalances").Return(fiat(2000), nil).Once()
	client.On("PlaceOrder", coindcx.SideBuy, "ELYINR", 0.64, 1562.5).
		Return(&coindcx.Order{ID: "o1", Status: coindcx.StatusOpen}, nil).Once()
	require.NoError(t, e.Tick(ctx, 0.64))

	client.On("GetOrderStatus", "o1").Return(&coindcx.Order{ID: "o1", Status: coindcx.StatusOpen}, nil).Once()
	completed, active := e.RefreshActiveOrders(ctx)
	assert.Empty(t, completed)
	require.Len(t, active, 1)

	client.On("GetOrderStatus", "o1").Return(&coindcx.Order{ID: "o1", Status: coindcx.StatusFilled}, nil).Once()
	completed, active = e.RefreshActiveOrders(ctx)
	require.Len(t, completed, 1)
	assert.Empty(t, active)

	client.On("GetOrderHistory").Return([]coindcx.Order{{ID: "o1"}}, nil).Once()
	history, err := e.OrderHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEngine_NeverTwoOutstandingOrders(t *testing.T) {
	base := new(MockClient)
	base.On("GetBalances").Return(fiat(5000), nil)
	dry := NewDryRunClient(base, "ELY", "INR", zap.NewNop())

	cfg := testTradingConfig()
	cfg.DryRun = true
	e := NewEngine(cfg, dry, nil, &recordingNotifier{}, zap.NewNop())

	prices := []float64{0.66, 0.64, 0.63, 0.62, 0.70, 0.71, 0.72, 0.60, 0.64, 0.75, 0.65, 0.70, 0.70, 0.64}
	for _, p := range prices {
		require.NoError(t, e.Tick(context.Background(), p))
		assert.LessOrEqual(t, len(e.ActiveOrders()), 1, "price %g", p)
	}

	orders := e.Orders()
	require.NotEmpty(t, orders)
	for i, o := range orders {
		want := coindcx.SideBuy
		if i%2 == 1 {
			want = coindcx.SideSell
		}
		assert.Equal(t, want, o.Side)
		assert.True(t, o.DryRun)
	}
	history, err := e.OrderHistory(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, len(orders))
}

type constantSource float64

func (c constantSource) CurrentPrice(context.Context) float64 { return float64(c) }

func TestEngine_RunSkipsUnknownPrice(t *testing.T) {
	e, client, _, _ := setupEngine(t)
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), constantSource(0), time.Hour) }()

	require.Eventually(t, func() bool { return e.running.Load() }, time.Second, time.Millisecond)
	e.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, StateFlat, e.State())
	assert.Zero(t, e.Snapshot().LastPrice)
	assert.Empty(t, client.Calls)
}

func TestEngine_RunStop(t *testing.T) {
	e, _, _, _ := setupEngine(t)
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), constantSource(0.68), time.Hour) }()

	require.Eventually(t, func() bool { return e.Snapshot().LastPrice == 0.68 }, time.Second, time.Millisecond)
	e.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
}
