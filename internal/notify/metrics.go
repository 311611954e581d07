package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_notifications_total",
			Help: "Notification send outcomes by channel. outcome is \"sent\" or a failure reason.",
		},
		[]string{"channel", "outcome"},
	)
	transportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_transport_duration_seconds",
			Help:    "Duration of transport send calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"type", "outcome"},
	)
	channelProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_channel_probes_total",
			Help: "Channel diagnostics probes by channel type and outcome.",
		},
		[]string{"type", "outcome"},
	)
)

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
