package metricsmanager

// MetricsManager is an interface for reporting metrics
type MetricsManager interface {
	Start()
	Destroy()
	ReportEvent(eventType string)
	ReportFailedEvent()
}
