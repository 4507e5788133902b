package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"svccall/metrics"
	"testing"
	"time"
)

func TestCollector(t *testing.T) {
	r := metrics.NewRegistry()
	r.RecordCall("springmvc.controller.sayhi", "SUCCESS", 2*time.Second)
	r.RecordCall("springmvc.controller.sayhi", "SUCCESS", time.Second)
	r.RecordCall("springmvc.controller.sayhi", "FAILURE", time.Second)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(r, "svccall", "consumer")))

	want := `
# HELP svccall_consumer_calls_total Completed calls per operation and status.
# TYPE svccall_consumer_calls_total counter
svccall_consumer_calls_total{operation="springmvc.controller.sayhi",status="FAILURE"} 1
svccall_consumer_calls_total{operation="springmvc.controller.sayhi",status="SUCCESS"} 2
# HELP svccall_consumer_latency_max_seconds Slowest call per operation.
# TYPE svccall_consumer_latency_max_seconds gauge
svccall_consumer_latency_max_seconds{operation="springmvc.controller.sayhi"} 2
# HELP svccall_consumer_latency_seconds_total Sum of call latencies per operation.
# TYPE svccall_consumer_latency_seconds_total counter
svccall_consumer_latency_seconds_total{operation="springmvc.controller.sayhi"} 4
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"svccall_consumer_calls_total",
		"svccall_consumer_latency_max_seconds",
		"svccall_consumer_latency_seconds_total")
	assert.NoError(t, err)

	cnt, err := testutil.GatherAndCount(reg, "svccall_consumer_heap_used_bytes", "svccall_consumer_goroutines")
	require.NoError(t, err)
	assert.Equal(t, 2, cnt)
}

func TestObserverBuilder(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := &ObserverBuilder{Namespace: "svccall", Subsystem: "test", Name: "call", Help: "calls", Kind: "consumer"}
	o, err := b.Build(reg)
	require.NoError(t, err)

	r := metrics.NewRegistry()
	r.AddObserver(o)
	r.RecordCall("springmvc.controller.sayhi", "SUCCESS", time.Millisecond)
	r.RecordCall("springmvc.controller.sayhi", "FAILURE", time.Millisecond)
	r.RecordCall("springmvc.controller.sayhi", "FAILURE", time.Millisecond)

	cnt, err := testutil.GatherAndCount(reg, "svccall_test_call_response")
	require.NoError(t, err)
	assert.Equal(t, 2, cnt)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var errCnt float64
	for _, mf := range mfs {
		if mf.GetName() == "svccall_test_call_error_cnt" {
			errCnt = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, errCnt)

	// 重复注册会失败
	_, err = b.Build(reg)
	assert.Error(t, err)
}
