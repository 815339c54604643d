// Package metrics maintains the ingestion pipeline's Prometheus
// registry: the seven counters/gauge/histogram named in the component
// design, plus the text encoder used by the /metrics endpoint.
package metrics

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Registry bundles every metric the pipeline observes. It is safe for
// concurrent use by any number of goroutines: every field is a
// prometheus.Collector, which is lock-free (or internally locked) per
// metric, never guarded by a registry-level mutex.
type Registry struct {
	reg *prometheus.Registry

	MessagesTotal        prometheus.Counter
	ValidMessagesTotal   prometheus.Counter
	InvalidMessagesTotal prometheus.Counter
	DBFailuresTotal      prometheus.Counter
	ChannelFullTotal     prometheus.Counter
	IngestLatencySeconds prometheus.Histogram
	BatchSize            prometheus.Gauge
}

// New builds and registers every metric against a fresh registry. A
// fresh (non-default, non-global) registry is used throughout, matching
// the explicit Registry in the original metrics module, so tests can
// construct independent instances without collisions.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		MessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_messages_total",
			Help: "Total messages received from the broker.",
		}),
		ValidMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_valid_messages_total",
			Help: "Total messages passing validation and enqueued.",
		}),
		InvalidMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_invalid_messages_total",
			Help: "Total messages rejected after all retries.",
		}),
		DBFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_db_failures_total",
			Help: "Total transient database insert failures observed.",
		}),
		ChannelFullTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_channel_full_total",
			Help: "Total times try_send observed the handoff channel full.",
		}),
		IngestLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "ingestor_ingest_latency_seconds",
			Help: "Wall time of a successful batch flush.",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05,
				0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
			},
		}),
		BatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingestor_batch_size",
			Help: "Size of the batch currently being flushed; 0 when idle.",
		}),
	}

	reg.MustRegister(
		r.MessagesTotal,
		r.ValidMessagesTotal,
		r.InvalidMessagesTotal,
		r.DBFailuresTotal,
		r.ChannelFullTotal,
		r.IngestLatencySeconds,
		r.BatchSize,
	)

	return r
}

// Gather renders every registered metric in Prometheus text exposition
// format, for the /metrics HTTP handler.
func (r *Registry) Gather() (string, error) {
	mfs, err := r.reg.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
