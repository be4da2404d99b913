// Package metrics records dictionary build and lookup metrics in a
// Prometheus registry.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const namespace = "hla_dictionary"

// Recorder owns the collectors of one process. It satisfies the build,
// lookup and cache observer interfaces of the service and caching packages.
type Recorder struct {
	registry *prometheus.Registry
	logger   *logrus.Logger

	buildDuration *prometheus.HistogramVec
	phaseDuration *prometheus.HistogramVec
	buildsTotal   *prometheus.CounterVec
	typingsTotal  *prometheus.CounterVec
	lookupRows    *prometheus.GaugeVec
	lookupsTotal  *prometheus.CounterVec
	cacheRequests *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder(logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		logger:   logger,
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of complete dictionary builds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"version", "outcome"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_phase_duration_seconds",
			Help:      "Duration of each dictionary build phase.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"phase"}),
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Dictionary builds by outcome.",
		}, []string{"outcome"}),
		typingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typings_resolved_total",
			Help:      "Typings resolved by build phase.",
		}, []string{"phase"}),
		lookupRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lookup_rows",
			Help:      "Rows in each compiled lookup table.",
		}, []string{"version", "table"}),
		lookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Dictionary lookups by table and outcome.",
		}, []string{"table", "outcome"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_cache_requests_total",
			Help:      "Projection cache requests by tier and result.",
		}, []string{"tier", "result"}),
	}
	r.registry.MustRegister(
		r.buildDuration,
		r.phaseDuration,
		r.buildsTotal,
		r.typingsTotal,
		r.lookupRows,
		r.lookupsTotal,
		r.cacheRequests,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// PhaseCompleted records one build phase.
func (r *Recorder) PhaseCompleted(phase string, elapsed time.Duration, items int) {
	r.phaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
	r.typingsTotal.WithLabelValues(phase).Add(float64(items))
}

// BuildCompleted records a finished build. A nil err counts as success.
func (r *Recorder) BuildCompleted(version string, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.buildDuration.WithLabelValues(version, outcome).Observe(elapsed.Seconds())
	r.buildsTotal.WithLabelValues(outcome).Inc()
}

// TablesCompiled records the size of each lookup table.
func (r *Recorder) TablesCompiled(version string, matchingRows, scoringRows int) {
	r.lookupRows.WithLabelValues(version, "matching").Set(float64(matchingRows))
	r.lookupRows.WithLabelValues(version, "scoring").Set(float64(scoringRows))
}

// LookupCompleted records the outcome of a lookup.
func (r *Recorder) LookupCompleted(table, outcome string) {
	r.lookupsTotal.WithLabelValues(table, outcome).Inc()
}

// CacheHit records a projection cache hit.
func (r *Recorder) CacheHit(tier string) {
	r.cacheRequests.WithLabelValues(tier, "hit").Inc()
}

// CacheMiss records a projection cache miss.
func (r *Recorder) CacheMiss(tier string) {
	r.cacheRequests.WithLabelValues(tier, "miss").Inc()
}

// WriteTextfile writes the registry in the text exposition format, for the
// node exporter textfile collector. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	r.logger.WithField("path", path).Debug("Metrics textfile written")
	return nil
}
