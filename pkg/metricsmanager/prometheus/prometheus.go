package metricsmanager

import (
	"net/http"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowscope/datapath-agent/pkg/metricsmanager"
)

const eventTypeLabel = "event_type"

var _ metricsmanager.MetricsManager = (*PrometheusMetric)(nil)

type PrometheusMetric struct {
	eventCounter  *prometheus.CounterVec
	failedCounter prometheus.Counter
}

func NewPrometheusMetric() *PrometheusMetric {
	return &PrometheusMetric{
		eventCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "datapath_agent_event_counter",
			Help: "The total number of decoded events by event type",
		}, []string{eventTypeLabel}),
		failedCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datapath_agent_event_failure_counter",
			Help: "The total number of events that failed to decode",
		}),
	}
}

func (p *PrometheusMetric) Start() {
	// Start prometheus metrics server
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logger.L().Info("prometheus metrics server started", helpers.Int("port", 8080), helpers.String("path", "/metrics"))
		logger.L().Fatal(http.ListenAndServe(":8080", nil).Error())
	}()
}

func (p *PrometheusMetric) Destroy() {
	prometheus.Unregister(p.eventCounter)
	prometheus.Unregister(p.failedCounter)
}

func (p *PrometheusMetric) ReportEvent(eventType string) {
	p.eventCounter.WithLabelValues(eventType).Inc()
}

func (p *PrometheusMetric) ReportFailedEvent() {
	p.failedCounter.Inc()
}
