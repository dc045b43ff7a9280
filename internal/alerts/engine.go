package alerts

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"crypto-manager-go/internal/notify"
	"crypto-manager-go/internal/tracker"
	"go.uber.org/zap"
)

// Threshold kinds.
const (
	KindHigh = "high"
	KindLow  = "low"
)

// Hysteresis bands. A fired alert re-arms only once the price has moved
// this far back past its threshold.
const (
	highRearmFactor = 0.98
	lowRearmFactor  = 1.02
)

// Threshold is a named price level.
type Threshold struct {
	Kind  string  `json:"kind"`
	Price float64 `json:"price"`
}

// ID identifies the threshold in the triggered set.
func (t Threshold) ID() string {
	return t.Kind + "_" + strconv.FormatFloat(t.Price, 'f', -1, 64)
}

// Alert is a fired threshold.
type Alert struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Threshold float64 `json:"threshold"`
	Price     float64 `json:"price"`
}

// PriceSource provides the latest price for the standalone loop.
type PriceSource interface {
	CurrentPrice(ctx context.Context) float64
}

// Registrar accepts price callbacks.
type Registrar interface {
	RegisterCallback(name string, fn tracker.Callback)
}

// Engine detects threshold crossings. Each threshold fires once per
// excursion and is re-armed by the hysteresis band.
type Engine struct {
	market   string
	notifier notify.Notifier
	logger   *zap.Logger

	mu         sync.Mutex
	thresholds map[string]Threshold
	triggered  map[string]struct{}

	running atomic.Bool
	stopped atomic.Bool
	wake    chan struct{}
}

// KindFromName derives the kind of a threshold from its configured name,
// e.g. "high", "low" or "high_breakout".
func KindFromName(name string) (string, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, KindHigh):
		return KindHigh, nil
	case strings.HasPrefix(lower, KindLow):
		return KindLow, nil
	}
	return "", fmt.Errorf("cannot derive alert kind from name %q", name)
}

// NewEngine creates an engine for market with its own copy of thresholds.
// Names that do not start with high or low are skipped with a warning.
func NewEngine(market string, thresholds map[string]float64, notifier notify.Notifier, logger *zap.Logger) *Engine {
	e := &Engine{
		market:     market,
		notifier:   notifier,
		logger:     logger.Named("alerts").With(zap.String("market", market)),
		thresholds: make(map[string]Threshold, len(thresholds)),
		triggered:  make(map[string]struct{}),
		wake:       make(chan struct{}, 1),
	}
	for name, price := range thresholds {
		kind, err := KindFromName(name)
		if err != nil {
			e.logger.Warn("Skipping alert threshold", zap.Error(err))
			continue
		}
		e.thresholds[name] = Threshold{Kind: kind, Price: price}
	}
	return e
}

// AddThreshold sets or replaces the named threshold. The triggered set is
// left untouched.
func (e *Engine) AddThreshold(name, kind string, price float64) error {
	kind = strings.ToLower(kind)
	if kind != KindHigh && kind != KindLow {
		return fmt.Errorf("invalid alert kind %q", kind)
	}
	e.mu.Lock()
	e.thresholds[name] = Threshold{Kind: kind, Price: price}
	e.mu.Unlock()
	e.logger.Info("Added alert threshold", zap.String("name", name), zap.String("kind", kind), zap.Float64("price", price))
	return nil
}

// RemoveThreshold deletes the named threshold. It reports whether it existed.
func (e *Engine) RemoveThreshold(name string) bool {
	e.mu.Lock()
	_, ok := e.thresholds[name]
	delete(e.thresholds, name)
	e.mu.Unlock()
	if ok {
		e.logger.Info("Removed alert threshold", zap.String("name", name))
	}
	return ok
}

// Thresholds returns a copy of the configured thresholds.
func (e *Engine) Thresholds() map[string]Threshold {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Threshold, len(e.thresholds))
	for k, v := range e.thresholds {
		out[k] = v
	}
	return out
}

// Triggered returns the ids of the alerts that are currently fired, sorted.
func (e *Engine) Triggered() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.triggered))
	for id := range e.triggered {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CheckAlerts evaluates every threshold against price and returns the alerts
// that fired on this call, ordered by threshold name. A price that is not
// positive is ignored and leaves the triggered set untouched.
func (e *Engine) CheckAlerts(price float64) []Alert {
	if price <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.thresholds))
	for name := range e.thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	var fired []Alert
	for _, name := range names {
		t := e.thresholds[name]
		id := t.ID()
		_, active := e.triggered[id]

		switch {
		case t.Kind == KindHigh && price >= t.Price, t.Kind == KindLow && price <= t.Price:
			if !active {
				e.triggered[id] = struct{}{}
				fired = append(fired, Alert{Name: name, Kind: t.Kind, Threshold: t.Price, Price: price})
			}
		case t.Kind == KindHigh && price < t.Price*highRearmFactor, t.Kind == KindLow && price > t.Price*lowRearmFactor:
			delete(e.triggered, id)
		}
	}
	return fired
}

// OnPrice checks price and sends a notification for every fired alert.
// Notification failures are logged by the notifier and never returned.
func (e *Engine) OnPrice(ctx context.Context, price float64) error {
	for _, a := range e.CheckAlerts(price) {
		e.logger.Info("Price alert triggered",
			zap.String("name", a.Name),
			zap.String("kind", a.Kind),
			zap.Float64("threshold", a.Threshold),
			zap.Float64("price", a.Price),
		)
		if !e.notifier.SendAlert(ctx, e.market, a.Price, a.Kind, a.Threshold) {
			e.logger.Warn("Alert notification not delivered", zap.String("name", a.Name))
		}
	}
	return nil
}

// Attach registers the engine as a callback of a shared tracker.
func (e *Engine) Attach(r Registrar) {
	r.RegisterCallback("alerts", e.OnPrice)
	e.logger.Info("Alert monitoring attached to price tracker")
}

// Run polls src every interval until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context, src PriceSource, interval time.Duration) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("alert monitoring for %s is already running", e.market)
	}
	defer e.running.Store(false)
	e.stopped.Store(false)

	e.logger.Info("Alert monitoring started", zap.Duration("interval", interval))
	defer e.logger.Info("Alert monitoring stopped")

	for !e.stopped.Load() {
		if err := e.OnPrice(ctx, src.CurrentPrice(ctx)); err != nil {
			e.logger.Error("Error in alert monitoring", zap.Error(err))
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
	e.logger.Info("Stopping alert monitoring")
}
