package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for responsibility runs.
type PipelineMetrics struct {
	runsTotal        *prometheus.CounterVec
	recordsTotal     *prometheus.CounterVec
	stepLatency      *prometheus.HistogramVec
	eligibilityPolls prometheus.Histogram
	lookupFailures   prometheus.Counter
	runDuration      prometheus.Histogram
	lastRunSuccess   prometheus.Gauge
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "responsibility",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total batch runs by final status",
		}, []string{"status"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "responsibility",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Patient and insurance records by outcome",
		}, []string{"outcome"}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "responsibility",
			Subsystem: "pipeline",
			Name:      "step_latency_seconds",
			Help:      "Latency of remote pipeline steps",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step", "status"}),
		eligibilityPolls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "responsibility",
			Subsystem: "eligibility",
			Name:      "polls",
			Help:      "Polls needed to reach a terminal eligibility state",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 10},
		}),
		lookupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "responsibility",
			Subsystem: "serviceline",
			Name:      "lookup_failures_total",
			Help:      "Service-line lookups that fell back to the placeholder",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "responsibility",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a batch run",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "responsibility",
			Subsystem: "pipeline",
			Name:      "last_run_success_timestamp_seconds",
			Help:      "Unix time of the last run that completed the batch",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.recordsTotal, m.stepLatency, m.eligibilityPolls, m.lookupFailures, m.runDuration, m.lastRunSuccess)
	return m
}

func (m *PipelineMetrics) ObserveRecord(outcome string) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) ObserveStep(step string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.stepLatency.WithLabelValues(step, status).Observe(seconds)
}

func (m *PipelineMetrics) ObserveEligibilityPolls(polls int) {
	if m == nil {
		return
	}
	m.eligibilityPolls.Observe(float64(polls))
}

func (m *PipelineMetrics) ObserveLookupFailure() {
	if m == nil {
		return
	}
	m.lookupFailures.Inc()
}

// ObserveRun records a finished run; completedAt is only used when completed.
func (m *PipelineMetrics) ObserveRun(completed bool, seconds float64, completedAt float64) {
	if m == nil {
		return
	}
	status := "completed"
	if !completed {
		status = "aborted"
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(seconds)
	if completed {
		m.lastRunSuccess.Set(completedAt)
	}
}
