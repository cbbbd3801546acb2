package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/downfa11-org/bufferserver/pkg/metrics"
)

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func getHistogramCount(h prometheus.Histogram) uint64 {
	m := &dto.Metric{}
	_ = h.Write(m)
	return m.GetHistogram().GetSampleCount()
}

func TestObserveDrain(t *testing.T) {
	initialDrained := getCounterValue(metrics.RecordsDrained)
	initialLatency := getHistogramCount(metrics.DrainLatency)

	metrics.ObserveDrain(3, 0.5)
	metrics.ObserveDrain(2, 0.2)

	if got := getCounterValue(metrics.RecordsDrained); got != initialDrained+5 {
		t.Fatalf("RecordsDrained counter expected %v, got %v", initialDrained+5, got)
	}
	if got := getHistogramCount(metrics.DrainLatency); got != initialLatency+2 {
		t.Fatalf("DrainLatency count expected %v, got %v", initialLatency+2, got)
	}
}

func TestObserveEmptyDrainIgnored(t *testing.T) {
	initialLatency := getHistogramCount(metrics.DrainLatency)

	metrics.ObserveDrain(0, 0.1)

	if got := getHistogramCount(metrics.DrainLatency); got != initialLatency {
		t.Fatalf("empty drain should not be observed, count %v -> %v", initialLatency, got)
	}
}
