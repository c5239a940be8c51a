package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dvernon0786/Infin8Content-sub000/internal/progress"
)

// PrometheusSink turns analytics events into pipeline metrics.
type PrometheusSink struct {
	stepRetries        *prometheus.CounterVec
	retryDelay         *prometheus.HistogramVec
	stepFailures       *prometheus.CounterVec
	stepCompletions    *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	clusteringRuns     *prometheus.CounterVec
	clusteringDuration prometheus.Histogram
	clustersCreated    prometheus.Counter
	keywordsClustered  prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		stepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keywordintel_step_retries_total",
			Help: "Retries scheduled, partitioned by step and error type.",
		}, []string{"step", "error_type"}),
		retryDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keywordintel_retry_delay_seconds",
			Help:    "Backoff delay before each retry.",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 30, 60},
		}, []string{"step"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keywordintel_step_failures_total",
			Help: "Steps that failed after exhausting retries.",
		}, []string{"step"}),
		stepCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keywordintel_step_completions_total",
			Help: "Steps that completed.",
		}, []string{"step"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keywordintel_step_duration_seconds",
			Help:    "Wall time per completed step.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"step"}),
		clusteringRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keywordintel_clustering_runs_total",
			Help: "Clustering runs partitioned by phase.",
		}, []string{"phase"}),
		clusteringDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keywordintel_clustering_duration_seconds",
			Help:    "Wall time per clustering run.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		clustersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keywordintel_clusters_created_total",
			Help: "Hub-and-spoke clusters committed.",
		}),
		keywordsClustered: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keywordintel_clustering_input_keywords",
			Help:    "Keywords considered per clustering run.",
			Buckets: []float64{2, 5, 10, 25, 50, 75, 100},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.stepRetries,
		s.retryDelay,
		s.stepFailures,
		s.stepCompletions,
		s.stepDuration,
		s.clusteringRuns,
		s.clusteringDuration,
		s.clustersCreated,
		s.keywordsClustered,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register analytics collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		step := string(evt.Step)
		switch evt.Kind {
		case progress.KindStepRetried:
			s.stepRetries.WithLabelValues(step, evt.ErrorType).Inc()
			s.retryDelay.WithLabelValues(step).Observe(evt.Delay.Seconds())
		case progress.KindStepFailed:
			s.stepFailures.WithLabelValues(step).Inc()
		case progress.KindStepCompleted:
			s.stepCompletions.WithLabelValues(step).Inc()
			if evt.Dur > 0 {
				s.stepDuration.WithLabelValues(step).Observe(evt.Dur.Seconds())
			}
		case progress.KindClusteringStarted:
			s.clusteringRuns.WithLabelValues("started").Inc()
			s.keywordsClustered.Observe(float64(evt.KeywordCount))
		case progress.KindClusteringCompleted:
			s.clusteringRuns.WithLabelValues("completed").Inc()
			s.clustersCreated.Add(float64(evt.ClusterCount))
			s.clusteringDuration.Observe(evt.Dur.Seconds())
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
