package coindcx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"crypto-manager-go/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	pathTicker       = "/exchange/ticker"
	pathBalances     = "/exchange/v1/users/balances"
	pathCreateOrder  = "/exchange/v1/orders/create"
	pathOrderStatus  = "/exchange/v1/orders/status"
	pathCancelOrder  = "/exchange/v1/orders/cancel"
	pathTradeHistory = "/exchange/v1/orders/trade_history"
)

// Client defines the exchange operations the bot depends on.
type Client interface {
	GetTicker(ctx context.Context, market string) (*Ticker, error)
	GetBalances(ctx context.Context) ([]BalanceEntry, error)
	PlaceOrder(ctx context.Context, side, market string, price, quantity float64) (*Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderHistory(ctx context.Context) ([]Order, error)
}

// RestClient is a client for the CoinDCX REST API.
// It implements the Client interface.
type RestClient struct {
	client     *resty.Client
	apiKey     string
	secretKey  string
	logger     *zap.Logger
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time
}

// ensure RestClient implements the interface
var _ Client = (*RestClient)(nil)

// NewRestClient creates a new CoinDCX REST API client.
func NewRestClient(cfg *config.Exchange, logger *zap.Logger) *RestClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.Timeout) * time.Second)

	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	return &RestClient{
		client:     client,
		apiKey:     cfg.ApiKey,
		secretKey:  cfg.SecretKey,
		logger:     logger.Named("coindcx"),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		maxRetries: maxRetries,
		retryDelay: time.Duration(cfg.RetryDelay) * time.Second,
		now:        time.Now,
	}
}

// sign creates a HMAC-SHA256 signature of the request body.
func (c *RestClient) sign(body []byte) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// requestBuilder returns a fresh request for each attempt so that signed
// payloads carry a current timestamp.
type requestBuilder func() (*resty.Request, error)

func (c *RestClient) public(result interface{}) requestBuilder {
	return func() (*resty.Request, error) {
		return c.client.R().SetResult(result), nil
	}
}

// signed builds an authenticated request. payload receives the current
// timestamp in milliseconds before it is serialized.
func (c *RestClient) signed(payload func(ts int64) interface{}, result interface{}) requestBuilder {
	return func() (*resty.Request, error) {
		if c.apiKey == "" || c.secretKey == "" {
			return nil, &AuthError{Message: "api key and secret are required"}
		}
		body, err := json.Marshal(payload(c.now().UnixMilli()))
		if err != nil {
			return nil, &ValidationError{Message: "encode request", Err: err}
		}
		req := c.client.R().
			SetHeader("Content-Type", "application/json").
			SetHeader("X-AUTH-APIKEY", c.apiKey).
			SetHeader("X-AUTH-SIGNATURE", c.sign(body)).
			SetBody(body)
		if result != nil {
			req.SetResult(result)
		}
		return req, nil
	}
}

// doRequest handles the request execution with rate limiting and a bounded
// number of fixed-delay retries. Errors come back typed: TransientError,
// AuthError or ValidationError.
func (c *RestClient) doRequest(ctx context.Context, method, path string, build requestBuilder) (*resty.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransientError{Err: fmt.Errorf("rate limiter wait failed: %w", err)}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+path))
		resp, err := req.SetContext(ctx).Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		retryAfter := c.retryDelay
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &TransientError{Err: err}
		} else {
			statusCode := resp.StatusCode()
			msg := errorMessage(resp)
			switch {
			case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
				return nil, &AuthError{StatusCode: statusCode, Message: msg}
			case statusCode == http.StatusTooManyRequests:
				if seconds, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
				lastErr = &TransientError{StatusCode: statusCode, Err: errors.New(msg)}
			case statusCode >= 500:
				lastErr = &TransientError{StatusCode: statusCode, Err: errors.New(msg)}
			default:
				return nil, &ValidationError{StatusCode: statusCode, Message: msg}
			}
		}

		if i == c.maxRetries-1 {
			break
		}

		c.logger.Warn("Request failed, retrying...",
			zap.String("path", path),
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", c.maxRetries),
			zap.Duration("retry_after", retryAfter),
			zap.Error(lastErr),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.logger.Error("Request failed after retries", zap.String("path", path), zap.Int("attempts", c.maxRetries), zap.Error(lastErr))
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries, lastErr)
}

func errorMessage(resp *resty.Response) string {
	var er errorResponse
	if err := json.Unmarshal(resp.Body(), &er); err == nil && er.Message != "" {
		return er.Message
	}
	if body := resp.String(); body != "" {
		return body
	}
	return resp.Status()
}

// GetTicker fetches the ticker for a single market.
// The exchange only serves the full list, so it is filtered client side.
func (c *RestClient) GetTicker(ctx context.Context, market string) (*Ticker, error) {
	var tickers []tickerResponse

	if _, err := c.doRequest(ctx, http.MethodGet, pathTicker, c.public(&tickers)); err != nil {
		return nil, fmt.Errorf("failed to get ticker: %w", err)
	}

	for _, t := range tickers {
		if t.Market == market {
			return t.toTicker(), nil
		}
	}
	return nil, &ValidationError{Message: fmt.Sprintf("ticker for market %s", market), Err: ErrNotFound}
}

// GetBalances fetches the balances of every currency on the account.
func (c *RestClient) GetBalances(ctx context.Context) ([]BalanceEntry, error) {
	var raw []balanceResponse

	build := c.signed(func(ts int64) interface{} { return timestampRequest{Timestamp: ts} }, &raw)
	if _, err := c.doRequest(ctx, http.MethodPost, pathBalances, build); err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}

	balances := make([]BalanceEntry, 0, len(raw))
	for _, b := range raw {
		balances = append(balances, BalanceEntry{
			Currency:      b.Currency,
			Balance:       b.Balance.InexactFloat64(),
			LockedBalance: b.LockedBalance.InexactFloat64(),
		})
	}
	return balances, nil
}

// PlaceOrder places a limit order.
func (c *RestClient) PlaceOrder(ctx context.Context, side, market string, price, quantity float64) (*Order, error) {
	if side != SideBuy && side != SideSell {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid side %q", side)}
	}
	if price <= 0 || quantity <= 0 {
		return nil, &ValidationError{Message: fmt.Sprintf("price and quantity must be positive (price=%v, quantity=%v)", price, quantity)}
	}

	clientOrderID := uuid.NewString()
	var result createOrderResponse

	build := c.signed(func(ts int64) interface{} {
		return createOrderRequest{
			Side:          side,
			OrderType:     orderTypeLimit,
			Market:        market,
			PricePerUnit:  price,
			TotalQuantity: quantity,
			ClientOrderID: clientOrderID,
			Timestamp:     ts,
		}
	}, &result)

	if _, err := c.doRequest(ctx, http.MethodPost, pathCreateOrder, build); err != nil {
		c.logger.Error("Failed to create order after multiple attempts",
			zap.Error(err),
			zap.String("market", market),
			zap.String("side", side),
		)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if len(result.Orders) == 0 {
		return nil, fmt.Errorf("failed to create order: empty response")
	}

	order := result.Orders[0].toOrder()
	c.logger.Info("Successfully created order", zap.String("order_id", order.ID), zap.String("status", order.Status))
	return &order, nil
}

// GetOrderStatus fetches the current state of an order.
func (c *RestClient) GetOrderStatus(ctx context.Context, orderID string) (*Order, error) {
	var result orderResponse

	build := c.signed(func(ts int64) interface{} { return orderIDRequest{ID: orderID, Timestamp: ts} }, &result)
	if _, err := c.doRequest(ctx, http.MethodPost, pathOrderStatus, build); err != nil {
		return nil, fmt.Errorf("failed to get order status: %w", err)
	}

	order := result.toOrder()
	return &order, nil
}

// CancelOrder cancels an open order.
func (c *RestClient) CancelOrder(ctx context.Context, orderID string) error {
	build := c.signed(func(ts int64) interface{} { return orderIDRequest{ID: orderID, Timestamp: ts} }, nil)
	if _, err := c.doRequest(ctx, http.MethodPost, pathCancelOrder, build); err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	return nil
}

// GetOrderHistory fetches the account trade history.
func (c *RestClient) GetOrderHistory(ctx context.Context) ([]Order, error) {
	var raw []orderResponse

	build := c.signed(func(ts int64) interface{} { return timestampRequest{Timestamp: ts} }, &raw)
	if _, err := c.doRequest(ctx, http.MethodPost, pathTradeHistory, build); err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}

	orders := make([]Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, o.toOrder())
	}
	return orders, nil
}
