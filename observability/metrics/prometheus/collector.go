// Package prometheus exports call metrics to prometheus.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"svccall/metrics"
)

var _ prometheus.Collector = (*Collector)(nil)

// Collector reads a metrics.Registry snapshot on every scrape.
type Collector struct {
	registry *metrics.Registry

	calls      *prometheus.Desc
	latencyMax *prometheus.Desc
	latencySum *prometheus.Desc
	heapUsed   *prometheus.Desc
	goroutines *prometheus.Desc
}

// NewCollector names its series <namespace>_<kind>_... , kind being "consumer" or "producer".
func NewCollector(registry *metrics.Registry, namespace, kind string) *Collector {
	name := func(n string) string {
		return prometheus.BuildFQName(namespace, kind, n)
	}
	return &Collector{
		registry: registry,
		calls: prometheus.NewDesc(name("calls_total"),
			"Completed calls per operation and status.", []string{"operation", "status"}, nil),
		latencyMax: prometheus.NewDesc(name("latency_max_seconds"),
			"Slowest call per operation.", []string{"operation"}, nil),
		latencySum: prometheus.NewDesc(name("latency_seconds_total"),
			"Sum of call latencies per operation.", []string{"operation"}, nil),
		heapUsed: prometheus.NewDesc(name("heap_used_bytes"),
			"Heap in use when the snapshot was taken.", nil, nil),
		goroutines: prometheus.NewDesc(name("goroutines"),
			"Goroutines when the snapshot was taken.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.latencyMax
	ch <- c.latencySum
	ch <- c.heapUsed
	ch <- c.goroutines
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.registry.Snapshot()
	for _, key := range s.Keys() {
		e := s.Operations[key]
		for status, cnt := range e.PerStatusCalls {
			ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(cnt), key, status)
		}
		ch <- prometheus.MustNewConstMetric(c.latencyMax, prometheus.GaugeValue, e.Latency.Max.Seconds(), key)
		ch <- prometheus.MustNewConstMetric(c.latencySum, prometheus.CounterValue, e.Latency.Total.Seconds(), key)
	}
	ch <- prometheus.MustNewConstMetric(c.heapUsed, prometheus.GaugeValue, float64(s.System.HeapUsed))
	ch <- prometheus.MustNewConstMetric(c.goroutines, prometheus.GaugeValue, float64(s.System.Goroutines))
}
