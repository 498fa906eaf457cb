package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientCollector exports the call client's protocol and media counters.
type ClientCollector struct {
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec

	syncSeeks      prometheus.Counter
	echoSuppressed prometheus.Counter
	staleActivity  prometheus.Counter

	callsStarted prometheus.Counter
	callsActive  prometheus.Gauge
	callDuration prometheus.Histogram

	mediaBytes      *prometheus.CounterVec
	pictureLossSent prometheus.Counter
}

func NewClientCollector(reg prometheus.Registerer) *ClientCollector {
	f := promauto.With(reg)
	return &ClientCollector{
		messagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercord_messages_sent_total",
			Help: "Data-channel messages sent, by type",
		}, []string{"type"}),

		messagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercord_messages_received_total",
			Help: "Data-channel messages received, by type",
		}, []string{"type"}),

		messagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercord_messages_dropped_total",
			Help: "Outbound messages dropped because the channel was not open",
		}, []string{"type"}),

		syncSeeks: f.NewCounter(prometheus.CounterOpts{
			Name: "peercord_activity_sync_seeks_total",
			Help: "Remote syncs that moved the local player",
		}),

		echoSuppressed: f.NewCounter(prometheus.CounterOpts{
			Name: "peercord_activity_echo_suppressed_total",
			Help: "Player state changes not broadcast because they followed a remote sync",
		}),

		staleActivity: f.NewCounter(prometheus.CounterOpts{
			Name: "peercord_activity_stale_dropped_total",
			Help: "Activity messages dropped for an out-of-order sequence number",
		}),

		callsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "peercord_calls_started_total",
			Help: "Calls that reached the connected phase",
		}),

		callsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "peercord_calls_active",
			Help: "Calls currently connected",
		}),

		callDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "peercord_call_duration_seconds",
			Help:    "Duration of connected calls",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		mediaBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercord_media_received_bytes_total",
			Help: "RTP payload bytes received from the remote peer, by track kind",
		}, []string{"kind"}),

		pictureLossSent: f.NewCounter(prometheus.CounterOpts{
			Name: "peercord_rtcp_pli_sent_total",
			Help: "Picture loss indications sent for remote video",
		}),
	}
}

func (c *ClientCollector) MessageSent(msgType string) {
	c.messagesSent.WithLabelValues(msgType).Inc()
}

func (c *ClientCollector) MessageReceived(msgType string) {
	c.messagesReceived.WithLabelValues(msgType).Inc()
}

func (c *ClientCollector) MessageDropped(msgType string) {
	c.messagesDropped.WithLabelValues(msgType).Inc()
}

func (c *ClientCollector) SyncSeek()             { c.syncSeeks.Inc() }
func (c *ClientCollector) EchoSuppressed()       { c.echoSuppressed.Inc() }
func (c *ClientCollector) StaleActivityDropped() { c.staleActivity.Inc() }

func (c *ClientCollector) CallStarted() {
	c.callsStarted.Inc()
	c.callsActive.Inc()
}

func (c *ClientCollector) CallEnded(seconds float64) {
	c.callsActive.Dec()
	c.callDuration.Observe(seconds)
}

func (c *ClientCollector) MediaBytesReceived(kind string, n int) {
	c.mediaBytes.WithLabelValues(kind).Add(float64(n))
}

func (c *ClientCollector) PictureLossSent() {
	c.pictureLossSent.Inc()
}
