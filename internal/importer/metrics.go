package importer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects import counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	recordsImported *prometheus.CounterVec
	unitsTotal      *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
}

// NewMetrics creates the import collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		recordsImported: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kgbuild_imported_records_total",
				Help: "Statistic records appended to the ledger",
			},
			[]string{"family"},
		),
		unitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kgbuild_import_units_total",
				Help: "Adapter calls by importer family and outcome",
			},
			[]string{"family", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kgbuild_stage_duration_seconds",
				Help:    "Wall-clock duration of each full-import stage",
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
			},
			[]string{"stage"},
		),
	}
}

// Registry exposes the collectors, e.g. for a push gateway or tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current values in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) recordUnit(family string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.unitsTotal.WithLabelValues(family, status).Inc()
}

func (m *Metrics) addRecords(family string, n int) {
	m.recordsImported.WithLabelValues(family).Add(float64(n))
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
