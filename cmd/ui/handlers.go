package main

import (
	"net/http"
	"time"

	"crypto-manager-go/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JournalReader is the read side of the order journal.
type JournalReader interface {
	Trades() ([]models.Trade, error)
	Orders(market string) ([]models.OrderRecord, error)
}

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log     *zap.Logger
	journal JournalReader
	market  string
	now     func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, journal JournalReader, market string) *APIHandler {
	return &APIHandler{log: log, journal: journal, market: market, now: time.Now}
}

// Register mounts the endpoints on router.
func (h *APIHandler) Register(router gin.IRouter) {
	router.GET("/health", h.HealthHandler)
	api := router.Group("/api")
	api.GET("/trades", h.TradesHandler)
	api.GET("/orders", h.OrdersHandler)
	api.GET("/statistics", h.StatisticsHandler)
}

// HealthHandler reports liveness.
func (h *APIHandler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "market": h.market})
}

// TradesHandler returns all completed round trips, most recent first.
func (h *APIHandler) TradesHandler(c *gin.Context) {
	trades, err := h.journal.Trades()
	if err != nil {
		h.log.Error("Failed to get trades from database", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get trades"})
		return
	}
	c.JSON(http.StatusOK, trades)
}

// OrdersHandler returns every journaled order for the configured market.
func (h *APIHandler) OrdersHandler(c *gin.Context) {
	market := c.DefaultQuery("market", h.market)
	orders, err := h.journal.Orders(market)
	if err != nil {
		h.log.Error("Failed to get orders from database", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get orders"})
		return
	}
	c.JSON(http.StatusOK, orders)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
	TotalFees        float64 `json:"total_fees"`
}

func (s *StatsDetail) add(trade models.Trade) {
	s.TotalTrades++
	if trade.Profit > 0 {
		s.ProfitableTrades++
	}
	s.TotalProfit += trade.Profit
	s.TotalFees += trade.Fees
}

func (s *StatsDetail) finish() {
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.ProfitableTrades) / float64(s.TotalTrades)
	}
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// Statistics aggregates trades into 24 hour and all time figures.
func Statistics(trades []models.Trade, now time.Time) StatisticsResponse {
	var resp StatisticsResponse
	since24h := now.Add(-24 * time.Hour)
	for _, trade := range trades {
		resp.AllTime.add(trade)
		if time.UnixMilli(trade.Timestamp).After(since24h) {
			resp.Since24h.add(trade)
		}
	}
	resp.AllTime.finish()
	resp.Since24h.finish()
	return resp
}

// StatisticsHandler calculates and returns trading statistics.
func (h *APIHandler) StatisticsHandler(c *gin.Context) {
	trades, err := h.journal.Trades()
	if err != nil {
		h.log.Error("Failed to get trades for statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to calculate statistics"})
		return
	}
	c.JSON(http.StatusOK, Statistics(trades, h.now()))
}
