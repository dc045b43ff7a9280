package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crypto-manager-go/internal/alerts"
	"crypto-manager-go/internal/coindcx"
	"crypto-manager-go/internal/models"
	"crypto-manager-go/internal/notify"
	"crypto-manager-go/internal/tracker"
	"crypto-manager-go/internal/trader"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockTrading implements TradingView for testing.
type MockTrading struct {
	mock.Mock
}

func (m *MockTrading) Snapshot() trader.Snapshot {
	return m.Called().Get(0).(trader.Snapshot)
}

func (m *MockTrading) Orders() []models.OrderRecord {
	return m.Called().Get(0).([]models.OrderRecord)
}

func (m *MockTrading) CancelOrder(ctx context.Context, orderID string) error {
	return m.Called(orderID).Error(0)
}

func newTestTracker(prices ...float64) *tracker.PriceTracker {
	tr := tracker.NewPriceTracker("ELYINR", nil, zap.NewNop())
	for _, p := range prices {
		tr.Observe(context.Background(), p)
	}
	return tr
}

func newTestServer(trading TradingView, alertView AlertView) (*Server, *gin.Engine) {
	s := New("all", newTestTracker(0.60, 0.61, 0.62), trading, alertView, nil, zap.NewNop())
	return s, s.Router()
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	_, router := newTestServer(nil, nil)
	w := do(t, router, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeaderKey))
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp["status"])
	assert.Equal(t, ServiceName, resp["service"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	_, router := newTestServer(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeaderKey, "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeaderKey))
}

func TestStatus(t *testing.T) {
	trading := new(MockTrading)
	trading.On("Snapshot").Return(trader.Snapshot{Market: "ELYINR", State: trader.StateLong, InPosition: true})
	engine := alerts.NewEngine("ELYINR", map[string]float64{"high": 0.71}, notify.Nop{}, zap.NewNop())

	_, router := newTestServer(trading, engine)
	w := do(t, router, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Mode    string          `json:"mode"`
		Market  string          `json:"market"`
		Trading trader.Snapshot `json:"trading"`
		Alerts  struct {
			Thresholds map[string]alerts.Threshold `json:"thresholds"`
		} `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "all", resp.Mode)
	assert.Equal(t, "ELYINR", resp.Market)
	assert.Equal(t, trader.StateLong, resp.Trading.State)
	assert.Equal(t, alerts.Threshold{Kind: "high", Price: 0.71}, resp.Alerts.Thresholds["high"])
	trading.AssertExpectations(t)
}

func TestPriceHistory(t *testing.T) {
	_, router := newTestServer(nil, nil)

	w := do(t, router, http.MethodGet, "/api/prices?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Market  string               `json:"market"`
		Samples []models.PriceSample `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Samples, 2)
	assert.Equal(t, 0.61, resp.Samples[0].Price)
	assert.Equal(t, 0.62, resp.Samples[1].Price)

	w = do(t, router, http.MethodGet, "/api/prices?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIndicators(t *testing.T) {
	_, router := newTestServer(nil, nil)

	w := do(t, router, http.MethodGet, "/api/indicators?period=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ind tracker.Indicators
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ind))
	assert.Equal(t, 3, ind.Period)
	assert.InDelta(t, 0.61, ind.SMA, 1e-9)

	w = do(t, router, http.MethodGet, "/api/indicators?period=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrders(t *testing.T) {
	trading := new(MockTrading)
	trading.On("Orders").Return([]models.OrderRecord{{OrderID: "o1", Side: "buy", Status: "open"}})
	trading.On("CancelOrder", "o1").Return(nil)
	trading.On("CancelOrder", "bad").Return(&coindcx.ValidationError{StatusCode: 400, Message: "unknown order"})
	trading.On("CancelOrder", "down").Return(&coindcx.TransientError{StatusCode: 503, Err: errors.New("unavailable")})

	_, router := newTestServer(trading, nil)

	w := do(t, router, http.MethodGet, "/api/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	var orders []models.OrderRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].OrderID)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodDelete, "/api/orders/o1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodDelete, "/api/orders/bad", "").Code)
	assert.Equal(t, http.StatusBadGateway, do(t, router, http.MethodDelete, "/api/orders/down", "").Code)
	trading.AssertExpectations(t)
}

func TestDisabledComponents(t *testing.T) {
	_, router := newTestServer(nil, nil)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/orders", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/orders/o1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/alerts", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/ws", "").Code)
}

func TestAlertsCRUD(t *testing.T) {
	engine := alerts.NewEngine("ELYINR", map[string]float64{"high": 0.71}, notify.Nop{}, zap.NewNop())
	_, router := newTestServer(nil, engine)

	w := do(t, router, http.MethodPost, "/api/alerts", `{"name":"low","kind":"low","price":0.6}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, alerts.Threshold{Kind: "low", Price: 0.6}, engine.Thresholds()["low"])

	w = do(t, router, http.MethodPost, "/api/alerts", `{"name":"mid","kind":"middle","price":0.6}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, router, http.MethodPost, "/api/alerts", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	engine.CheckAlerts(0.75)
	w = do(t, router, http.MethodGet, "/api/alerts", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Thresholds map[string]alerts.Threshold `json:"thresholds"`
		Triggered  []string                    `json:"triggered"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Thresholds, 2)
	assert.Equal(t, []string{"high_0.71"}, resp.Triggered)

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, "/api/alerts/low", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/alerts/low", "").Code)
}

func TestWebsocketPriceStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub("ELYINR", zap.NewNop())
	go hub.Run(ctx)

	s := New("all", newTestTracker(), nil, nil, hub, zap.NewNop())
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// Keep publishing until the client has been registered and reads one.
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = hub.OnPrice(ctx, 0.66)
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string      `json:"type"`
		Data PriceUpdate `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "price", msg.Type)
	assert.Equal(t, "ELYINR", msg.Data.Market)
	assert.Equal(t, 0.66, msg.Data.Price)
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, 0) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
