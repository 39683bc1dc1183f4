package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

var (
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silvercare_alerts_created_total",
			Help: "Emergency alerts created, by severity and category",
		},
		[]string{"severity", "category"},
	)

	PushEventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silvercare_push_events_sent_total",
			Help: "Live push events delivered to client connections",
		},
		[]string{"event"},
	)

	PushSendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silvercare_push_send_failures_total",
			Help: "Push sends that failed and removed the connection",
		},
	)

	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "silvercare_live_connections",
			Help: "Currently registered live client connections",
		},
	)

	SmsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silvercare_sms_sent_total",
			Help: "SMS messages accepted by the provider",
		},
	)

	SmsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silvercare_sms_failed_total",
			Help: "SMS sends rejected or failed at the provider",
		},
	)

	SmsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silvercare_sms_suppressed_total",
			Help: "SMS sends skipped by the dedup window",
		},
	)
)

// Handler exposes the prometheus registry for gin.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}
