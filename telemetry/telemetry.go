package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted while loading configuration
// and lowering pulse programs.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with the sampler.
type Collector interface {
	IncHotReload(file string)
	ObserveSampling(kind string, bins uint64, duration time.Duration)
	IncSamplingFailure(kind, reason string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)                            {}
func (noopCollector) ObserveSampling(string, uint64, time.Duration) {}
func (noopCollector) IncSamplingFailure(string, string)              {}

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	hotReloads       *prometheus.CounterVec
	samplingRuns     *prometheus.CounterVec
	samplingFailures *prometheus.CounterVec
	samplesGenerated *prometheus.CounterVec
	samplingDuration *prometheus.HistogramVec
}

var (
	metricsLock          sync.Mutex
	hotReloadCounter     *prometheus.CounterVec
	samplingRunCounter   *prometheus.CounterVec
	samplingFailCounter  *prometheus.CounterVec
	samplesCounter       *prometheus.CounterVec
	samplingDurationHist *prometheus.HistogramVec
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
// Metrics already registered by an earlier call are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metricsLock.Lock()
	defer metricsLock.Unlock()

	var err error
	if hotReloadCounter == nil {
		hotReloadCounter, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsed_config_hot_reload_total",
			Help: "Number of hot reload operations triggered per configuration source file.",
		}, []string{"file"}))
		if err != nil {
			return nil, err
		}
	}
	if samplingRunCounter == nil {
		samplingRunCounter, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsed_sampling_runs_total",
			Help: "Number of completed sampling runs per program kind.",
		}, []string{"kind"}))
		if err != nil {
			return nil, err
		}
	}
	if samplingFailCounter == nil {
		samplingFailCounter, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsed_sampling_failures_total",
			Help: "Number of sampling runs aborted by an error.",
		}, []string{"kind", "reason"}))
		if err != nil {
			return nil, err
		}
	}
	if samplesCounter == nil {
		samplesCounter, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsed_samples_generated_total",
			Help: "Number of sample bins produced per program kind.",
		}, []string{"kind"}))
		if err != nil {
			return nil, err
		}
	}
	if samplingDurationHist == nil {
		samplingDurationHist, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulsed_sampling_duration_seconds",
			Help:    "Wall clock time spent lowering a program into sample buffers.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"kind"}))
		if err != nil {
			return nil, err
		}
	}

	return &PrometheusCollector{
		hotReloads:       hotReloadCounter,
		samplingRuns:     samplingRunCounter,
		samplingFailures: samplingFailCounter,
		samplesGenerated: samplesCounter,
		samplingDuration: samplingDurationHist,
	}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// ObserveSampling records a successful sampling run.
func (p *PrometheusCollector) ObserveSampling(kind string, bins uint64, duration time.Duration) {
	if p == nil || p.samplingRuns == nil {
		return
	}
	p.samplingRuns.WithLabelValues(kind).Inc()
	if bins > 0 {
		p.samplesGenerated.WithLabelValues(kind).Add(float64(bins))
	}
	p.samplingDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncSamplingFailure counts an aborted sampling run.
func (p *PrometheusCollector) IncSamplingFailure(kind, reason string) {
	if p == nil || p.samplingFailures == nil {
		return
	}
	p.samplingFailures.WithLabelValues(kind, reason).Inc()
}
