// Package metrics records run counters in a private Prometheus registry that
// is written out as a node-exporter textfile when the run ends.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is safe for concurrent use. A nil *Recorder records nothing.
type Recorder struct {
	registry     *prometheus.Registry
	units        *prometheus.CounterVec
	attempts     prometheus.Counter
	documents    *prometheus.CounterVec
	linked       *prometheus.CounterVec
	loadedRows   *prometheus.CounterVec
	unitDuration prometheus.Histogram
}

func New() *Recorder {
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eralink_units_total",
		Help: "Processing units finished, by final state.",
	}, []string{"state"})
	attempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eralink_unit_attempts_total",
		Help: "Unit attempts including retries.",
	})
	documents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eralink_documents_total",
		Help: "Clearinghouse responses seen, by kind (era, non_era, parse_error).",
	}, []string{"kind"})
	linked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eralink_lines_linked_total",
		Help: "Enriched service lines by link status.",
	}, []string{"status"})
	loadedRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eralink_loaded_rows_total",
		Help: "Rows upserted into the destination, by table.",
	}, []string{"table"})
	unitDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eralink_unit_duration_seconds",
		Help:    "Wall time per unit across all attempts.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(units, attempts, documents, linked, loadedRows, unitDuration)

	return &Recorder{
		registry:     reg,
		units:        units,
		attempts:     attempts,
		documents:    documents,
		linked:       linked,
		loadedRows:   loadedRows,
		unitDuration: unitDuration,
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) UnitFinished(state string, took time.Duration) {
	if r == nil {
		return
	}
	r.units.WithLabelValues(state).Inc()
	r.unitDuration.Observe(took.Seconds())
}

func (r *Recorder) Attempt() {
	if r == nil {
		return
	}
	r.attempts.Inc()
}

func (r *Recorder) Documents(kind string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.documents.WithLabelValues(kind).Add(float64(n))
}

func (r *Recorder) Linked(status string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.linked.WithLabelValues(status).Add(float64(n))
}

func (r *Recorder) Loaded(table string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.loadedRows.WithLabelValues(table).Add(float64(n))
}

// WriteTextfile writes the registry in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
