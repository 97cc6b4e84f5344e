package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type DeliveryMetrics struct {
	offersCreated   prometheus.Counter
	offersCanceled  prometheus.Counter
	ordersAccepted  prometheus.Counter
	ordersCompleted *prometheus.CounterVec
	escrowHeld      *prometheus.GaugeVec
	rpcRequests     *prometheus.CounterVec
	rpcDuration     *prometheus.HistogramVec
}

var (
	deliveryOnce     sync.Once
	deliveryRegistry *DeliveryMetrics
)

func Delivery() *DeliveryMetrics {
	deliveryOnce.Do(func() {
		deliveryRegistry = &DeliveryMetrics{
			offersCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "delivery_offers_created_total",
				Help: "Count of delivery offers posted.",
			}),
			offersCanceled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "delivery_offers_canceled_total",
				Help: "Count of delivery offers canceled by their customer.",
			}),
			ordersAccepted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "delivery_orders_accepted_total",
				Help: "Count of offers accepted by couriers.",
			}),
			ordersCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "delivery_orders_completed_total",
				Help: "Count of orders reaching a terminal state by outcome.",
			}, []string{"outcome"}),
			escrowHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "delivery_escrow_held",
				Help: "Funds currently held in escrow per token.",
			}, []string{"token"}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "delivery_rpc_requests_total",
				Help: "Count of JSON-RPC requests by method and status.",
			}, []string{"method", "status"}),
			rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "delivery_rpc_duration_seconds",
				Help:    "JSON-RPC handler latency by method.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			deliveryRegistry.offersCreated,
			deliveryRegistry.offersCanceled,
			deliveryRegistry.ordersAccepted,
			deliveryRegistry.ordersCompleted,
			deliveryRegistry.escrowHeld,
			deliveryRegistry.rpcRequests,
			deliveryRegistry.rpcDuration,
		)
	})
	return deliveryRegistry
}

func (m *DeliveryMetrics) IncOfferCreated() {
	if m == nil {
		return
	}
	m.offersCreated.Inc()
}

func (m *DeliveryMetrics) IncOfferCanceled() {
	if m == nil {
		return
	}
	m.offersCanceled.Inc()
}

func (m *DeliveryMetrics) IncOrderAccepted() {
	if m == nil {
		return
	}
	m.ordersAccepted.Inc()
}

func (m *DeliveryMetrics) IncOrderCompleted(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.ordersCompleted.WithLabelValues(outcome).Inc()
}

func (m *DeliveryMetrics) SetEscrowHeld(token string, amount float64) {
	if m == nil {
		return
	}
	if token == "" {
		token = "unknown"
	}
	m.escrowHeld.WithLabelValues(token).Set(amount)
}

func (m *DeliveryMetrics) ObserveRPC(method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.rpcRequests.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
