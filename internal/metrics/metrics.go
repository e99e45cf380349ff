// Package metrics provides Prometheus instrumentation for the escrow service.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solven/escrow/internal/apperr"
)

const namespace = "escrow"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EscrowTransitionsTotal counts escrow state changes by target status.
	EscrowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_transitions_total",
			Help:      "Escrow state changes by resulting status.",
		},
		[]string{"status"},
	)

	// EscrowDuration observes the time from hold to resolution.
	EscrowDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "escrow_duration_seconds",
		Help:      "Time from escrow hold to release or refund in seconds.",
		Buckets:   []float64{60, 600, 3600, 6 * 3600, 86400, 3 * 86400, 7 * 86400, 30 * 86400},
	}, []string{"status"})

	// CommissionCollected sums platform commission in major currency units.
	CommissionCollected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commission_collected_total",
		Help:      "Commission retained on released escrows.",
	})

	// LedgerPostingsTotal counts appended ledger entries.
	LedgerPostingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_postings_total",
			Help:      "Ledger entries appended by kind and status.",
		},
		[]string{"kind", "status"},
	)

	// WalletsFrozenTotal counts wallets frozen after an integrity failure.
	WalletsFrozenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wallets_frozen_total",
		Help:      "Wallets frozen because balance and ledger disagreed.",
	})

	// GatewayCallsTotal counts payment gateway calls by outcome.
	GatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by gateway, operation, and result.",
		},
		[]string{"gateway", "op", "result"},
	)

	// GatewayCallDuration observes payment gateway latency.
	GatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Payment gateway call latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"gateway", "op"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EscrowTransitionsTotal,
		EscrowDuration,
		CommissionCollected,
		LedgerPostingsTotal,
		WalletsFrozenTotal,
		GatewayCallsTotal,
		GatewayCallDuration,
	)
}

// Middleware returns a fiber middleware that records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		// route pattern, not the raw path, to keep label cardinality bounded
		path := c.Route().Path
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = apperr.HTTPStatus(err)
			}
		}

		HTTPRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Method(), path, statusBucket(status)).Inc()
		return err
	}
}

// Handler serves the Prometheus registry on /metrics.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
