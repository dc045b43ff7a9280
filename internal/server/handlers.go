package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"crypto-manager-go/internal/coindcx"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	requestTimeout         = 30 * time.Second
	defaultHistoryLimit    = 100
	defaultIndicatorPeriod = 14
)

type addAlertRequest struct {
	Name  string  `json:"name" binding:"required"`
	Kind  string  `json:"kind" binding:"required"`
	Price float64 `json:"price" binding:"required,gt=0"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"service":   ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) status(c *gin.Context) {
	resp := gin.H{
		"mode":       s.mode,
		"market":     s.prices.Market(),
		"price":      s.prices.LastPrice(),
		"start_time": s.startTime.Format(time.RFC3339),
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.trading != nil {
		resp["trading"] = s.trading.Snapshot()
	}
	if s.alerts != nil {
		resp["alerts"] = gin.H{"thresholds": s.alerts.Thresholds(), "triggered": s.alerts.Triggered()}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) priceHistory(c *gin.Context) {
	limit, ok := intQuery(c, "limit", defaultHistoryLimit, 0)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"market":  s.prices.Market(),
		"samples": s.prices.History(limit),
	})
}

func (s *Server) indicators(c *gin.Context) {
	period, ok := intQuery(c, "period", defaultIndicatorPeriod, 1)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.prices.Indicators(period))
}

func (s *Server) orders(c *gin.Context) {
	if s.trading == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trading is not enabled"})
		return
	}
	c.JSON(http.StatusOK, s.trading.Orders())
}

func (s *Server) cancelOrder(c *gin.Context) {
	if s.trading == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trading is not enabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	id := c.Param("id")
	if err := s.trading.CancelOrder(ctx, id); err != nil {
		status := http.StatusBadGateway
		var ve *coindcx.ValidationError
		if errors.As(err, &ve) {
			status = http.StatusBadRequest
		}
		s.handleError(c, err, status, "could not cancel order")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": coindcx.StatusCancelled})
}

func (s *Server) listAlerts(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alerts are not enabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"thresholds": s.alerts.Thresholds(),
		"triggered":  s.alerts.Triggered(),
	})
}

func (s *Server) addAlert(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alerts are not enabled"})
		return
	}
	var req addAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.alerts.AddThreshold(req.Name, req.Kind, req.Price); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (s *Server) removeAlert(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alerts are not enabled"})
		return
	}
	if !s.alerts.RemoveThreshold(c.Param("name")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown alert"})
		return
	}
	c.Status(http.StatusNoContent)
}

// intQuery parses an integer query parameter, writing a 400 response when it
// is malformed or below min.
func intQuery(c *gin.Context, key string, def, min int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return 0, false
	}
	return v, true
}

// handleError logs the error and sends the response.
func (s *Server) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	s.logger.Error("API error",
		zap.String("request_id", c.GetString(RequestIDContextKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.JSON(statusCode, gin.H{"error": userMessage, "details": err.Error()})
}
