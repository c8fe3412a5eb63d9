package prometheus

import (
	"strconv"
	"time"
)

// ServerMetrics covers the scoring HTTP surface.
type ServerMetrics struct {
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec
	ErrorsTotal         CounterVec
	ServiceUp           GaugeVec
}

var DefaultHTTPDurationBuckets = []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 900}

// NewServerMetrics registers the server metrics on collector.
func NewServerMetrics(collector MetricsCollector) *ServerMetrics {
	return &ServerMetrics{
		HTTPRequestsTotal:   collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "route", "status_code"),
		HTTPRequestDuration: collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "route"),
		HTTPActiveRequests:  collector.RegisterGauge("http_active_requests", "In-flight HTTP requests", "route"),
		ErrorsTotal:         collector.RegisterCounter("errors_total", "Errors by code", "component", "code"),
		ServiceUp:           collector.RegisterGauge("service_up", "1 while the service is serving", "service"),
	}
}

func RecordHTTPRequest(m *ServerMetrics, method, route string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordError(m *ServerMetrics, component, code string) {
	m.ErrorsTotal.WithLabelValues(component, code).Inc()
}
