package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/eprints-archiver/internal/progress"
)

// PrometheusSink turns run events into archiver metrics.
type PrometheusSink struct {
	runsStarted    prometheus.Counter
	runDuration    prometheus.Histogram
	recordsFetched *prometheus.CounterVec
	anomalies      prometheus.Counter
	urlsDiscovered prometheus.Gauge

	lanesActive    prometheus.Gauge
	probes         *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	submitDuration *prometheus.HistogramVec
	retryWaits     *prometheus.CounterVec
	backoffSeconds *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors on reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_runs_started_total",
			Help: "Archiver runs started.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archiver_run_duration_seconds",
			Help:    "Wall time of completed runs.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}),
		recordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_records_fetched_total",
			Help: "Repository records fetched, partitioned by result.",
		}, []string{"result"}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_discovery_anomalies_total",
			Help: "Missing records and fetch errors seen during discovery.",
		}),
		urlsDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_urls_discovered",
			Help: "Size of the frozen URL set of the current run.",
		}),
		lanesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_lanes_active",
			Help: "Destination lanes currently dispatching.",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_probes_total",
			Help: "Archive existence probes by destination and verdict.",
		}, []string{"destination", "result"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_submissions_total",
			Help: "Submission requests by destination and status class.",
		}, []string{"destination", "status_class"}),
		submitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_submit_duration_seconds",
			Help:    "Submission request latency by destination.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"destination"}),
		retryWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_retry_waits_total",
			Help: "Backoff pauses by destination and reason.",
		}, []string{"destination", "reason"}),
		backoffSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_backoff_seconds_total",
			Help: "Time spent waiting in backoff by destination.",
		}, []string{"destination"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_outcomes_total",
			Help: "Final (URL, destination) results.",
		}, []string{"destination", "outcome"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runDuration,
		s.recordsFetched,
		s.anomalies,
		s.urlsDiscovered,
		s.lanesActive,
		s.probes,
		s.submissions,
		s.submitDuration,
		s.retryWaits,
		s.backoffSeconds,
		s.outcomes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register archiver collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageRecordDone:
		result := evt.Outcome
		if result == "" {
			result = "ok"
		}
		s.recordsFetched.WithLabelValues(result).Inc()
	case progress.StageAnomaly:
		s.anomalies.Inc()
	case progress.StageDiscoveryDone:
		s.urlsDiscovered.Set(float64(evt.Count))
	case progress.StageLaneStart:
		s.lanesActive.Inc()
	case progress.StageLaneDone:
		s.lanesActive.Dec()
	case progress.StageProbeDone:
		s.probes.WithLabelValues(evt.Destination, labelOr(evt.Outcome, "error")).Inc()
	case progress.StageSubmitDone:
		s.submissions.WithLabelValues(evt.Destination, labelOr(string(evt.StatusClass), string(progress.StatusOther))).Inc()
		if evt.Dur > 0 {
			s.submitDuration.WithLabelValues(evt.Destination).Observe(evt.Dur.Seconds())
		}
	case progress.StageRetryWait:
		s.retryWaits.WithLabelValues(evt.Destination, labelOr(evt.Note, "transient")).Inc()
		if evt.Dur > 0 {
			s.backoffSeconds.WithLabelValues(evt.Destination).Add(evt.Dur.Seconds())
		}
	case progress.StageOutcome:
		s.outcomes.WithLabelValues(evt.Destination, evt.Outcome).Inc()
	}
}

func labelOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
