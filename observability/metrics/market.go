package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics aggregates the order book and lending pool counters exported
// over /metrics.
type MarketMetrics struct {
	ordersPlaced    *prometheus.CounterVec
	ordersMatched   *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	matchedVolume   *prometheus.CounterVec
	liquidations    prometheus.Counter
	interestAccrued *prometheus.CounterVec
	rpcRequests     *prometheus.CounterVec
	rpcErrors       *prometheus.CounterVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the process-wide market metrics, registering them on first
// use.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_orders_placed_total",
				Help: "Count of orders accepted into the book by side.",
			}, []string{"side"}),
			ordersMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_orders_matched_total",
				Help: "Count of fill records produced by side.",
			}, []string{"side"}),
			ordersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_orders_cancelled_total",
				Help: "Count of cancelled orders by side.",
			}, []string{"side"}),
			matchedVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_matched_volume_total",
				Help: "Matched principal volume by rate, in debt token base units.",
			}, []string{"rate"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_liquidations_total",
				Help: "Count of executed liquidations.",
			}),
			interestAccrued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_interest_accrued_total",
				Help: "Interest credited per rate tier, in debt token base units.",
			}, []string{"rate"}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_rpc_requests_total",
				Help: "Count of JSON-RPC requests by method.",
			}, []string{"method"}),
			rpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_rpc_errors_total",
				Help: "Count of JSON-RPC error responses by method.",
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			marketRegistry.ordersPlaced,
			marketRegistry.ordersMatched,
			marketRegistry.ordersCancelled,
			marketRegistry.matchedVolume,
			marketRegistry.liquidations,
			marketRegistry.interestAccrued,
			marketRegistry.rpcRequests,
			marketRegistry.rpcErrors,
		)
	})
	return marketRegistry
}

func (m *MarketMetrics) ObserveOrderPlaced(side string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(side).Inc()
}

func (m *MarketMetrics) ObserveOrderMatched(side string) {
	if m == nil {
		return
	}
	m.ordersMatched.WithLabelValues(side).Inc()
}

func (m *MarketMetrics) ObserveOrderCancelled(side string) {
	if m == nil {
		return
	}
	m.ordersCancelled.WithLabelValues(side).Inc()
}

func (m *MarketMetrics) ObserveMatchedVolume(rate string, amount float64) {
	if m == nil {
		return
	}
	m.matchedVolume.WithLabelValues(rate).Add(amount)
}

func (m *MarketMetrics) ObserveLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

func (m *MarketMetrics) ObserveInterestAccrued(rate string, amount float64) {
	if m == nil {
		return
	}
	m.interestAccrued.WithLabelValues(rate).Add(amount)
}

func (m *MarketMetrics) ObserveRPCRequest(method string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.rpcRequests.WithLabelValues(method).Inc()
}

func (m *MarketMetrics) ObserveRPCError(method string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.rpcErrors.WithLabelValues(method).Inc()
}
