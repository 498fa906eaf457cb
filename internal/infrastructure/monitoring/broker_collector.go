package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BrokerCollector exports signaling broker counters.
type BrokerCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	messagesRouted    *prometheus.CounterVec
	messagesRejected  *prometheus.CounterVec
	tokensIssued      prometheus.Counter
}

func NewBrokerCollector(reg prometheus.Registerer) *BrokerCollector {
	f := promauto.With(reg)
	return &BrokerCollector{
		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "peercord_signal_connections_active",
			Help: "Registered signaling sessions",
		}),

		connectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "peercord_signal_connections_total",
			Help: "Signaling sessions registered since start",
		}),

		messagesRouted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercord_signal_messages_routed_total",
			Help: "Signaling messages forwarded to their target, by type",
		}, []string{"type"}),

		messagesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercord_signal_messages_rejected_total",
			Help: "Signaling messages refused, by reason",
		}, []string{"reason"}),

		tokensIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "peercord_signal_tokens_issued_total",
			Help: "Identity tokens issued",
		}),
	}
}

func (b *BrokerCollector) ConnectionOpened() {
	b.connectionsActive.Inc()
	b.connectionsTotal.Inc()
}

func (b *BrokerCollector) ConnectionClosed() {
	b.connectionsActive.Dec()
}

func (b *BrokerCollector) MessageRouted(msgType string) {
	b.messagesRouted.WithLabelValues(msgType).Inc()
}

func (b *BrokerCollector) MessageRejected(reason string) {
	b.messagesRejected.WithLabelValues(reason).Inc()
}

func (b *BrokerCollector) TokenIssued() {
	b.tokensIssued.Inc()
}
