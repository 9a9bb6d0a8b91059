package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ccxt-broker/internal/broker"
)

const namespace = "ccxt_broker"

// Metrics 汇总经纪层的 Prometheus 指标，注册在独立的 Registry 上。
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	reconcileErrors prometheus.Counter
	openOrders      prometheus.Gauge
	reconcileTime   prometheus.Histogram
	accountValue    prometheus.Gauge
	accountCash     prometheus.Gauge
}

// New 创建并注册全部指标。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the exchange.",
		}, []string{"side", "exec_type"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Order notifications drained from the broker, by final status.",
		}, []string{"status"}),
		reconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_errors_total",
			Help:      "Failed order status fetches during reconciliation.",
		}),
		openOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_orders",
			Help:      "Orders currently tracked as open.",
		}),
		reconcileTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of one reconciliation pass.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		accountValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_value",
			Help:      "Account value in the broker currency.",
		}),
		accountCash: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_cash",
			Help:      "Free cash in the broker currency.",
		}),
	}

	m.registry.MustRegister(
		m.ordersSubmitted,
		m.notifications,
		m.reconcileErrors,
		m.openOrders,
		m.reconcileTime,
		m.accountValue,
		m.accountCash,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSubmitted 记录一笔已提交订单。
func (m *Metrics) ObserveSubmitted(order broker.Order) {
	m.ordersSubmitted.WithLabelValues(order.Side.String(), order.ExecType.String()).Inc()
}

// ObserveNotification 记录一条订单通知。
func (m *Metrics) ObserveNotification(order broker.Order) {
	m.notifications.WithLabelValues(order.Status.String()).Inc()
}

// ObserveReconcile 记录一轮对账的耗时、失败数与剩余挂单数。
func (m *Metrics) ObserveReconcile(duration time.Duration, failures int, open int) {
	m.reconcileTime.Observe(duration.Seconds())
	if failures > 0 {
		m.reconcileErrors.Add(float64(failures))
	}
	m.openOrders.Set(float64(open))
}

// ObserveAccount 更新账户资金指标。
func (m *Metrics) ObserveAccount(cash, value float64) {
	m.accountCash.Set(cash)
	m.accountValue.Set(value)
}
