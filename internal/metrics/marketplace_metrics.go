package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketplaceMetrics содержит метрики заказов, корзин, склада и HTTP.
// Все методы безопасны для nil-получателя: сервисы могут работать без метрик.
type MarketplaceMetrics struct {
	ordersCreated     prometheus.Counter
	orderTransitions  *prometheus.CounterVec
	ordersCancelled   *prometheus.CounterVec
	claimConflicts    prometheus.Counter
	checkoutDuration  prometheus.Histogram
	checkoutFailures  *prometheus.CounterVec
	stockReserved     prometheus.Counter
	stockReleased     prometheus.Counter
	stockRejections   prometheus.Counter
	cartMutations     *prometheus.CounterVec
	activeDeliveries  prometheus.Gauge
	courierEarnings   prometheus.Counter
	idempotencyReplay prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMarketplaceMetrics создаёт метрики в DefaultRegisterer.
func NewMarketplaceMetrics() *MarketplaceMetrics {
	return NewMarketplaceMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMarketplaceMetricsWithRegisterer создаёт метрики в заданном registerer (удобно для тестов).
func NewMarketplaceMetricsWithRegisterer(registerer prometheus.Registerer) *MarketplaceMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &MarketplaceMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_orders_created_total",
			Help: "Total number of orders placed",
		}),
		orderTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_order_transitions_total",
			Help: "Order status transitions by target status and actor role",
		}, []string{"to", "role"}),
		ordersCancelled: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_orders_cancelled_total",
			Help: "Cancelled orders by actor role",
		}, []string{"role"}),
		claimConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_claim_conflicts_total",
			Help: "Claims lost to another courier",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "marketplace_checkout_duration_seconds",
			Help:    "Duration of order creation in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		checkoutFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_checkout_failures_total",
			Help: "Failed order creations by error kind",
		}, []string{"kind"}),
		stockReserved: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_stock_reserved_units_total",
			Help: "Units moved from stock to sold",
		}),
		stockReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_stock_released_units_total",
			Help: "Units returned from sold to stock",
		}),
		stockRejections: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_stock_rejections_total",
			Help: "Reservations rejected for insufficient stock",
		}),
		cartMutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_cart_mutations_total",
			Help: "Cart mutations by operation",
		}, []string{"op"}),
		activeDeliveries: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "marketplace_active_deliveries",
			Help: "Orders currently out for delivery (since process start)",
		}),
		courierEarnings: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_courier_earnings_total",
			Help: "Sum of courier earnings credited on delivery",
		}),
		idempotencyReplay: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_idempotency_replays_total",
			Help: "Checkout responses replayed from idempotency records",
		}),
		httpRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordOrderCreated фиксирует созданный заказ и длительность оформления.
func (m *MarketplaceMetrics) RecordOrderCreated(duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordCheckoutFailure фиксирует неуспешное оформление по виду ошибки.
func (m *MarketplaceMetrics) RecordCheckoutFailure(kind string) {
	if m == nil {
		return
	}
	m.checkoutFailures.WithLabelValues(kind).Inc()
}

// RecordTransition фиксирует смену статуса.
func (m *MarketplaceMetrics) RecordTransition(to, role string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(to, role).Inc()
}

// RecordCancellation фиксирует отмену заказа.
func (m *MarketplaceMetrics) RecordCancellation(role string) {
	if m == nil {
		return
	}
	m.ordersCancelled.WithLabelValues(role).Inc()
}

// RecordClaimConflict фиксирует проигранную гонку за заказ.
func (m *MarketplaceMetrics) RecordClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

// RecordStockReserved добавляет списанные единицы.
func (m *MarketplaceMetrics) RecordStockReserved(qty int) {
	if m == nil {
		return
	}
	m.stockReserved.Add(float64(qty))
}

// RecordStockReleased добавляет возвращённые единицы.
func (m *MarketplaceMetrics) RecordStockReleased(qty int) {
	if m == nil {
		return
	}
	m.stockReleased.Add(float64(qty))
}

// RecordStockRejected фиксирует отказ в резерве.
func (m *MarketplaceMetrics) RecordStockRejected() {
	if m == nil {
		return
	}
	m.stockRejections.Inc()
}

// RecordCartMutation фиксирует изменение корзины.
func (m *MarketplaceMetrics) RecordCartMutation(op string) {
	if m == nil {
		return
	}
	m.cartMutations.WithLabelValues(op).Inc()
}

// RecordDeliveryStarted увеличивает число активных доставок.
func (m *MarketplaceMetrics) RecordDeliveryStarted() {
	if m == nil {
		return
	}
	m.activeDeliveries.Inc()
}

// RecordDeliveryFinished уменьшает число активных доставок и учитывает заработок курьера.
func (m *MarketplaceMetrics) RecordDeliveryFinished(earning int64) {
	if m == nil {
		return
	}
	m.activeDeliveries.Dec()
	m.courierEarnings.Add(float64(earning))
}

// RecordIdempotencyReplay фиксирует повторный ответ по idempotency-key.
func (m *MarketplaceMetrics) RecordIdempotencyReplay() {
	if m == nil {
		return
	}
	m.idempotencyReplay.Inc()
}

// RecordHTTPRequest фиксирует HTTP-запрос.
func (m *MarketplaceMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
