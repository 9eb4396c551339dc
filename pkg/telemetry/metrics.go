package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricProfitRealizedTotal = "gridcore_profit_realized_total"
	MetricOrdersActive        = "gridcore_orders_active"
	MetricOrdersPlacedTotal   = "gridcore_orders_placed_total"
	MetricOrdersFilledTotal   = "gridcore_orders_filled_total"
	MetricOrdersCancelledTotal = "gridcore_orders_cancelled_total"
	MetricCyclesCompletedTotal = "gridcore_cycles_completed_total"
	MetricLatencyExchange     = "gridcore_latency_exchange_ms"
	MetricHealthRepairsTotal  = "gridcore_health_repairs_total"
	MetricBotsActive          = "gridcore_bots_active"
)

// MetricsHolder holds initialized instruments for the trading core: one
// counter/histogram per domain operation that benefits from
// observability, keyed by symbol where that's the natural dimension.
type MetricsHolder struct {
	ProfitRealizedTotal  metric.Float64Counter
	OrdersActive         metric.Int64ObservableGauge
	OrdersPlacedTotal    metric.Int64Counter
	OrdersFilledTotal    metric.Int64Counter
	OrdersCancelledTotal metric.Int64Counter
	CyclesCompletedTotal metric.Int64Counter
	LatencyExchange      metric.Float64Histogram
	HealthRepairsTotal   metric.Int64Counter
	BotsActive           metric.Int64ObservableGauge

	mu              sync.RWMutex
	activeOrdersMap map[string]int64
	activeBotsMap   map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeOrdersMap: make(map[string]int64),
			activeBotsMap:   make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.ProfitRealizedTotal, err = meter.Float64Counter(MetricProfitRealizedTotal,
		metric.WithDescription("Cumulative realized profit across all bots, in quote currency")); err != nil {
		return err
	}
	if m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal,
		metric.WithDescription("Total orders placed")); err != nil {
		return err
	}
	if m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal,
		metric.WithDescription("Total orders observed filled")); err != nil {
		return err
	}
	if m.OrdersCancelledTotal, err = meter.Int64Counter(MetricOrdersCancelledTotal,
		metric.WithDescription("Total orders cancelled")); err != nil {
		return err
	}
	if m.CyclesCompletedTotal, err = meter.Int64Counter(MetricCyclesCompletedTotal,
		metric.WithDescription("Total buy-sell cycles completed")); err != nil {
		return err
	}
	if m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange,
		metric.WithDescription("Latency of Exchange Gateway calls"), metric.WithUnit("ms")); err != nil {
		return err
	}
	if m.HealthRepairsTotal, err = meter.Int64Counter(MetricHealthRepairsTotal,
		metric.WithDescription("Total auto-repairs applied by the Health Checker")); err != nil {
		return err
	}

	m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive,
		metric.WithDescription("Number of currently open orders per symbol"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.BotsActive, err = meter.Int64ObservableGauge(MetricBotsActive,
		metric.WithDescription("Number of active bots per symbol"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.activeBotsMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	return err
}

// SetActiveOrders records the current open-order count for symbol; called
// by the Order Monitor after each poll iteration.
func (m *MetricsHolder) SetActiveOrders(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[symbol] = count
}

// SetActiveBots records the current active-bot count for symbol.
func (m *MetricsHolder) SetActiveBots(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeBotsMap[symbol] = count
}
