package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRecordResumeHistogram(t *testing.T) {
	h := &Hub{}
	for i := 0; i < 100; i++ {
		h.RecordResume(50 * time.Microsecond)
	}
	assert.EqualValues(t, 100, h.Resumes.Load())
	p50 := h.Percentile(0.5)
	assert.InDelta(t, 55_000, p50, 1) // halfway through the 10us-100us bucket, interpolated
}

func TestHubPercentileEmpty(t *testing.T) {
	h := &Hub{}
	assert.EqualValues(t, 0, h.Percentile(0.99))
}

func TestRegistryCollectProducesAllMetrics(t *testing.T) {
	reg := NewRegistry()
	reg.Hub.Resumes.Store(5)
	reg.Resolver.CacheHits.Store(3)

	ch := make(chan prometheus.Metric, 32)
	reg.Collect(ch)
	close(ch)

	wantDesc := prometheus.NewDesc("crux_hub_resumes_total", "Total task resumes performed by the hub.", nil, nil).String()

	var found int
	var resumesValue float64
	for m := range ch {
		found++
		var pb io_prometheus_client.Metric
		require.NoError(t, m.Write(&pb))
		if pb.Counter != nil && m.Desc().String() == wantDesc {
			resumesValue = pb.Counter.GetValue()
		}
	}
	assert.Equal(t, 11, found)
	assert.Equal(t, float64(5), resumesValue)
}
