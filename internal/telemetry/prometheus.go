package telemetry

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mu               sync.Mutex
	counterMetricMap = map[string]prometheus.Counter{}
	gaugeMetricMap   = map[string]prometheus.Gauge{}
)

func getKey(metric string, labels map[string]string) string {
	eventMetricKey := metric
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		eventMetricKey += "/" + key + ":" + labels[key]
	}
	return eventMetricKey
}

// NewCounter returns the counter registered for metric and labels, registering it on first use
func NewCounter(metric string, labels map[string]string) prometheus.Counter {
	mu.Lock()
	defer mu.Unlock()

	metricKey := getKey(metric, labels)
	if _, ok := counterMetricMap[metricKey]; !ok {
		counterMetricMap[metricKey] = promauto.NewCounter(prometheus.CounterOpts{Name: metric, ConstLabels: labels})
	}
	return counterMetricMap[metricKey]
}

func NewGauge(metric string, labels map[string]string) prometheus.Gauge {
	mu.Lock()
	defer mu.Unlock()

	metricKey := getKey(metric, labels)
	if _, ok := gaugeMetricMap[metricKey]; !ok {
		gaugeMetricMap[metricKey] = promauto.NewGauge(prometheus.GaugeOpts{Name: metric, ConstLabels: labels})
	}
	return gaugeMetricMap[metricKey]
}

// Sink publishes the counters reported by the execution services to the default registry
type Sink struct{}

func NewSink() *Sink {
	return &Sink{}
}

func (Sink) Inc(metric string, labels map[string]string) {
	NewCounter(metric, labels).Inc()
}

func (Sink) Add(metric string, value float64, labels map[string]string) {
	if value <= 0 {
		return
	}
	NewCounter(metric, labels).Add(value)
}

func (Sink) Set(metric string, value float64, labels map[string]string) {
	NewGauge(metric, labels).Set(value)
}
