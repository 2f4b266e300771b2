// Package metrics exposes wallet activity as Prometheus series.
package metrics

import (
	"context"
	"net/http"

	"github.com/MarkoPoloResearchLab/rewardwallet/pkg/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wallet"

// Recorder counts wallet operations and notifications on its own registry.
type Recorder struct {
	registry             *prometheus.Registry
	operations           *prometheus.CounterVec
	notifications        *prometheus.CounterVec
	withdrawalsCompleted prometheus.Counter
}

// NewRecorder registers the wallet collectors plus the Go runtime collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Wallet operations by name and outcome.",
		}, []string{"operation", "status"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "User-facing wallet notifications by kind.",
		}, []string{"kind"}),
		withdrawalsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_completed_total",
			Help:      "Pending transactions promoted to completed by the sweeper.",
		}),
	}
}

// LogOperation implements wallet.OperationLogger.
func (recorder *Recorder) LogOperation(_ context.Context, entry wallet.OperationLog) {
	recorder.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
}

// Notify implements wallet.Notifier.
func (recorder *Recorder) Notify(_ context.Context, notification wallet.Notification) {
	recorder.notifications.WithLabelValues(string(notification.Kind)).Inc()
	if notification.Kind == wallet.NotificationWithdrawalCompleted && notification.Count > 0 {
		recorder.withdrawalsCompleted.Add(float64(notification.Count))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (recorder *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(recorder.registry, promhttp.HandlerOpts{Registry: recorder.registry})
}

// Registry returns the underlying registry.
func (recorder *Recorder) Registry() *prometheus.Registry {
	return recorder.registry
}
