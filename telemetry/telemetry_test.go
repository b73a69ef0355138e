package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func resetMetrics() {
	metricsLock.Lock()
	hotReloadCounter = nil
	samplingRunCounter = nil
	samplingFailCounter = nil
	samplesCounter = nil
	samplingDurationHist = nil
	metricsLock.Unlock()
}

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncHotReload("pulsed.yaml")
	collector.ObserveSampling("ensemble", 10, time.Millisecond)
	collector.IncSamplingFailure("ensemble", "canceled")
}

func TestPrometheusCollectorRegistersAndReusesCounter(t *testing.T) {
	resetMetrics()
	t.Cleanup(resetMetrics)

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncHotReload("a.yaml")

	metrics, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, metrics, 1)

	metric := metrics[0]
	require.Equal(t, "pulsed_config_hot_reload_total", metric.GetName())
	requireCounterValue(t, metric, 1)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.hotReloads, again.hotReloads)

	again.IncHotReload("a.yaml")

	metrics, err = reg.Gather()
	require.NoError(t, err)
	requireCounterValue(t, metrics[0], 2)
}

func TestPrometheusCollectorObservesSampling(t *testing.T) {
	resetMetrics()
	t.Cleanup(resetMetrics)

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.ObserveSampling("ensemble", 86100, 20*time.Millisecond)
	collector.ObserveSampling("ensemble", 100, 5*time.Millisecond)
	collector.IncSamplingFailure("sequence", "unresolved_reference")

	metrics, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(metrics))
	for _, mf := range metrics {
		byName[mf.GetName()] = mf
	}

	requireCounterValue(t, byName["pulsed_sampling_runs_total"], 2)
	requireCounterValue(t, byName["pulsed_samples_generated_total"], 86200)
	requireCounterValue(t, byName["pulsed_sampling_failures_total"], 1)

	hist := byName["pulsed_sampling_duration_seconds"]
	require.NotNil(t, hist)
	require.Len(t, hist.Metric, 1)
	require.Equal(t, uint64(2), hist.Metric[0].GetHistogram().GetSampleCount())
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.NotNil(t, mf)
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
