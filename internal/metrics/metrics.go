// Package metrics exposes controller counters and gauges for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/boiler-control/internal/logic"
)

const namespace = "boiler"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	readings      *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	temperature   *prometheus.GaugeVec
	cycles        *prometheus.CounterVec
	cycleRunning  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	mqttConnected prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Valid temperature readings accepted, by sensor.",
		}, []string{"sensor"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Telemetry messages discarded, by reason.",
		}, []string{"reason"}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_temperature_celsius",
			Help:      "Last reading per sensor.",
		}, []string{"sensor"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_transitions_total",
			Help:      "Heating cycle transitions, by event type.",
		}, []string{"event"}),
		cycleRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_running",
			Help:      "1 while a heating cycle is running.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while the MQTT session is up.",
		}),
	}

	m.reg.MustRegister(
		m.readings,
		m.rejected,
		m.temperature,
		m.cycles,
		m.cycleRunning,
		m.httpRequests,
		m.httpDuration,
		m.mqttConnected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ReadingAccepted records a valid reading.
func (m *Metrics) ReadingAccepted(sensorID string, celsius float64) {
	m.readings.WithLabelValues(sensorID).Inc()
	m.temperature.WithLabelValues(sensorID).Set(celsius)
}

// ReadingRejected records a discarded message.
func (m *Metrics) ReadingRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// OnEvent tracks cycle transitions.
func (m *Metrics) OnEvent(ev logic.Event) {
	m.cycles.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == logic.EventCycleStart {
		m.cycleRunning.Set(1)
	} else {
		m.cycleRunning.Set(0)
	}
}

// SetMQTTConnected records the broker session state.
func (m *Metrics) SetMQTTConnected(up bool) {
	if up {
		m.mqttConnected.Set(1)
	} else {
		m.mqttConnected.Set(0)
	}
}

// ObserveHTTP records one handled request.
func (m *Metrics) ObserveHTTP(route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
