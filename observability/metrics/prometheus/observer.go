package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"svccall/message"
	"svccall/metrics"
	"svccall/observability"
	"time"
)

// ObserverBuilder builds a metrics.Observer feeding a latency summary and an error counter.
type ObserverBuilder struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	// Kind is "consumer" or "producer".
	Kind string
	// 一般一个进程只监听一个端口，用来区分同一台机器上的多个实例
	Port string
}

func (b *ObserverBuilder) Build(reg prometheus.Registerer) (metrics.Observer, error) {
	constLabels := map[string]string{
		"address": observability.Address(b.Port),
		"kind":    b.Kind,
	}
	summaryVec := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:   b.Namespace,
		Subsystem:   b.Subsystem,
		Help:        b.Help,
		Name:        b.Name + "_response",
		ConstLabels: constLabels,
		Objectives: map[float64]float64{
			0.5:   0.01,
			0.75:  0.01,
			0.9:   0.01,
			0.99:  0.001,
			0.999: 0.0001,
		},
	}, []string{"operation", "status"})

	errCntVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   b.Namespace,
		Subsystem:   b.Subsystem,
		Name:        b.Name + "_error_cnt",
		Help:        b.Help,
		ConstLabels: constLabels,
	}, []string{"operation"})

	for _, c := range []prometheus.Collector{summaryVec, errCntVec} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return metrics.ObserverFunc(func(operationKey, status string, latency time.Duration) {
		if status != message.StatusSuccess {
			errCntVec.WithLabelValues(operationKey).Inc()
		}
		summaryVec.WithLabelValues(operationKey, status).Observe(float64(latency.Milliseconds()))
	}), nil
}
