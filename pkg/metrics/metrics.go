package metrics

import (
	"math"
	"time"

	"github.com/pingcap/tidb/pkg/util/promutil"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	Namespace = "stage2dw"
)

// Metrics tracks loads into Redshift. All methods are safe on a nil *Metrics.
type Metrics struct {
	loadsInFlightGauge   *prometheus.GaugeVec
	loadsStartedCounter  *prometheus.CounterVec
	loadsFinishedCounter *prometheus.CounterVec
	loadsFailedCounter   *prometheus.CounterVec
	stagedBytesCounter   *prometheus.CounterVec
	loadDurationHist     *prometheus.HistogramVec
}

func NewMetrics(f promutil.Factory) *Metrics {
	m := Metrics{}
	m.loadsInFlightGauge = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "loads_in_flight",
			Help:      "number of loads currently running",
		}, []string{"load_type"})
	m.loadsStartedCounter = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "loads_started",
			Help:      "number of loads started",
		}, []string{"table", "load_type"})
	m.loadsFinishedCounter = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "loads_finished",
			Help:      "number of loads finished successfully",
		}, []string{"table", "load_type"})
	m.loadsFailedCounter = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "loads_failed",
			Help:      "number of failed loads",
		}, []string{"table", "load_type"})
	m.stagedBytesCounter = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "staged_bytes",
			Help:      "bytes written to object storage for loading",
		}, []string{"table"})
	m.loadDurationHist = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "load_duration_seconds",
			Help:      "duration of loads, successful or not",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"table", "load_type"})
	return &m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.loadsInFlightGauge,
		m.loadsStartedCounter,
		m.loadsFinishedCounter,
		m.loadsFailedCounter,
		m.stagedBytesCounter,
		m.loadDurationHist,
	}
}

func (m *Metrics) RegisterTo(registry promutil.Registry) {
	for _, c := range m.collectors() {
		registry.MustRegister(c)
	}
}

// LoadStarted records the start of a load into table.
func (m *Metrics) LoadStarted(table, loadType string) {
	if m == nil {
		return
	}
	AddGauge(m.loadsInFlightGauge, 1, loadType)
	m.loadsStartedCounter.WithLabelValues(table, loadType).Inc()
}

// LoadFinished records the end of a load started with LoadStarted.
func (m *Metrics) LoadFinished(table, loadType string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	SubGauge(m.loadsInFlightGauge, 1, loadType)
	m.loadDurationHist.WithLabelValues(table, loadType).Observe(elapsed.Seconds())
	if err != nil {
		m.loadsFailedCounter.WithLabelValues(table, loadType).Inc()
		return
	}
	m.loadsFinishedCounter.WithLabelValues(table, loadType).Inc()
}

func (m *Metrics) AddStagedBytes(table string, n int) {
	if m == nil {
		return
	}
	AddCounter(m.stagedBytesCounter, float64(n), table)
}

func (m *Metrics) LoadsInFlight(loadType string) float64 {
	if m == nil {
		return math.NaN()
	}
	return ReadGauge(m.loadsInFlightGauge, loadType)
}

func (m *Metrics) LoadsFinished(table, loadType string) float64 {
	if m == nil {
		return math.NaN()
	}
	return ReadCounter(m.loadsFinishedCounter, table, loadType)
}

func (m *Metrics) LoadsFailed(table, loadType string) float64 {
	if m == nil {
		return math.NaN()
	}
	return ReadCounter(m.loadsFailedCounter, table, loadType)
}

func (m *Metrics) StagedBytes(table string) float64 {
	if m == nil {
		return math.NaN()
	}
	return ReadCounter(m.stagedBytesCounter, table)
}

// ReadCounter reports the current value of the counter for the given label
// values.
func ReadCounter(counterVec *prometheus.CounterVec, labels ...string) float64 {
	if counterVec == nil {
		return math.NaN()
	}
	counter, err := counterVec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return math.NaN()
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		return math.NaN()
	}
	return metric.Counter.GetValue()
}

// AddCounter adds v to the counter for the given label values.
func AddCounter(counterVec *prometheus.CounterVec, v float64, labels ...string) {
	if counterVec == nil {
		return
	}
	counterVec.WithLabelValues(labels...).Add(v)
}

// ReadGauge reports the current value of the gauge for the given label values.
func ReadGauge(gaugeVec *prometheus.GaugeVec, labels ...string) float64 {
	if gaugeVec == nil {
		return math.NaN()
	}
	gauge, err := gaugeVec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return math.NaN()
	}
	var metric dto.Metric
	if err := gauge.Write(&metric); err != nil {
		return math.NaN()
	}
	return metric.Gauge.GetValue()
}

// AddGauge adds v to the gauge for the given label values.
func AddGauge(gaugeVec *prometheus.GaugeVec, v float64, labels ...string) {
	if gaugeVec == nil {
		return
	}
	gaugeVec.WithLabelValues(labels...).Add(v)
}

// SubGauge subtracts v from the gauge for the given label values.
func SubGauge(gaugeVec *prometheus.GaugeVec, v float64, labels ...string) {
	if gaugeVec == nil {
		return
	}
	gaugeVec.WithLabelValues(labels...).Sub(v)
}
