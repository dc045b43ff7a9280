package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"crypto-manager-go/internal/alerts"
	"crypto-manager-go/internal/models"
	"crypto-manager-go/internal/tracker"
	"crypto-manager-go/internal/trader"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ServiceName     = "crypto-manager"
	shutdownTimeout = 5 * time.Second
)

// PriceView is the read side of the price tracker.
type PriceView interface {
	Market() string
	LastPrice() float64
	History(limit int) []models.PriceSample
	Indicators(period int) tracker.Indicators
}

// TradingView exposes the trading engine. It is nil when the process does
// not trade.
type TradingView interface {
	Snapshot() trader.Snapshot
	Orders() []models.OrderRecord
	CancelOrder(ctx context.Context, orderID string) error
}

// AlertView exposes the alert engine. It is nil when alerts are disabled.
type AlertView interface {
	Thresholds() map[string]alerts.Threshold
	Triggered() []string
	AddThreshold(name, kind string, price float64) error
	RemoveThreshold(name string) bool
}

// Server is the HTTP status API and websocket price stream.
type Server struct {
	prices    PriceView
	trading   TradingView
	alerts    AlertView
	hub       *Hub
	logger    *zap.Logger
	startTime time.Time
	mode      string
}

// New creates a server. trading and alerts may be nil.
func New(mode string, prices PriceView, trading TradingView, alertView AlertView, hub *Hub, logger *zap.Logger) *Server {
	return &Server{
		prices:    prices,
		trading:   trading,
		alerts:    alertView,
		hub:       hub,
		logger:    logger.Named("api-server"),
		startTime: time.Now(),
		mode:      mode,
	}
}

// Router configures all routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(zapLoggerMiddleware(s.logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", s.health)
	router.GET("/status", s.status)

	api := router.Group("/api")
	api.GET("/prices", s.priceHistory)
	api.GET("/indicators", s.indicators)
	api.GET("/orders", s.orders)
	api.DELETE("/orders/:id", s.cancelOrder)
	api.GET("/alerts", s.listAlerts)
	api.POST("/alerts", s.addAlert)
	api.DELETE("/alerts/:name", s.removeAlert)

	if s.hub != nil {
		router.GET("/ws", gin.WrapF(s.hub.ServeWS))
	}
	return router
}

// Start serves on port until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Stopping API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
