package prometheus

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// Collector implements ports.MetricsCollector using Prometheus. It is also a
// batch observer, so it can be handed to every orchestrator directly.
type Collector struct {
	batchesSubmitted   *prometheus.CounterVec
	batchesCompleted   *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	stepsDispatched    prometheus.Counter
	stepsFinished      *prometheus.CounterVec
	activeBatches      prometheus.Gauge
	batchDuration      *prometheus.HistogramVec
	stepDuration       *prometheus.HistogramVec

	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge

	llmCalls   *prometheus.CounterVec
	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
}

var _ ports.MetricsCollector = (*Collector)(nil)

// NewCollector registers the stepflow metrics with reg. A nil reg uses the
// default Prometheus registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		batchesSubmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_batches_submitted_total",
				Help: "Total number of batches submitted",
			},
			[]string{"status"},
		),
		batchesCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_batches_completed_total",
				Help: "Total number of batches completed",
			},
			[]string{"status"},
		),
		validationFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_validation_failures_total",
				Help: "Total number of batches rejected by graph validation",
			},
			[]string{"kind"},
		),
		stepsDispatched: f.NewCounter(
			prometheus.CounterOpts{
				Name: "stepflow_steps_dispatched_total",
				Help: "Total number of steps started",
			},
		),
		stepsFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_steps_finished_total",
				Help: "Total number of steps finished",
			},
			[]string{"status", "cascaded"},
		),
		activeBatches: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "stepflow_active_batches",
				Help: "Number of currently running batches",
			},
		),
		batchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepflow_batch_duration_seconds",
				Help:    "Batch execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		stepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepflow_step_duration_seconds",
				Help:    "Step execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		workerPoolIdle: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "stepflow_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "stepflow_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "stepflow_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
		llmCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_llm_calls_total",
				Help: "Total number of LLM API calls",
			},
			[]string{"model", "status"},
		),
		llmTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_llm_tokens_total",
				Help: "Total number of LLM tokens used",
			},
			[]string{"model", "type"},
		),
		llmLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepflow_llm_latency_seconds",
				Help:    "LLM API call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"model"},
		),
	}
}

// RecordBatchSubmitted counts a submission attempt by status.
func (c *Collector) RecordBatchSubmitted(status string) {
	c.batchesSubmitted.WithLabelValues(status).Inc()
}

// RecordWorkerPoolStatus sets the worker pool gauges.
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// SetActiveBatches sets the number of running batches.
func (c *Collector) SetActiveBatches(count int) {
	c.activeBatches.Set(float64(count))
}

// ObserveLLMCall records one completion request.
func (c *Collector) ObserveLLMCall(model string, inputTokens, outputTokens int, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.llmCalls.WithLabelValues(model, status).Inc()
	c.llmLatency.WithLabelValues(model).Observe(d.Seconds())
	if err == nil {
		c.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
		c.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

func (c *Collector) OnBatchStarted(ctx context.Context, batchID string, steps int) {}

func (c *Collector) OnValidationFailed(ctx context.Context, batchID string, err *domain.ValidationError) {
	c.validationFailures.WithLabelValues(string(err.Kind)).Inc()
	c.batchesCompleted.WithLabelValues(string(domain.BatchStatusValidationFailed)).Inc()
}

func (c *Collector) OnStepDispatched(ctx context.Context, batchID string, id domain.StepID) {
	c.stepsDispatched.Inc()
}

func (c *Collector) OnStepFinished(ctx context.Context, batchID string, id domain.StepID, outcome domain.Outcome, d time.Duration, cascaded bool) {
	status := stepStatus(outcome)
	c.stepsFinished.WithLabelValues(status, strconv.FormatBool(cascaded)).Inc()
	if !cascaded {
		c.stepDuration.WithLabelValues(status).Observe(d.Seconds())
	}
}

func (c *Collector) OnBatchFinished(ctx context.Context, batchID string, result *domain.BatchResult, d time.Duration) {
	status := string(domain.BatchStatusSucceeded)
	if !result.Success {
		status = string(domain.BatchStatusFailed)
	}
	c.batchesCompleted.WithLabelValues(status).Inc()
	c.batchDuration.WithLabelValues(status).Observe(d.Seconds())
}

func stepStatus(o domain.Outcome) string {
	if o.Succeeded() {
		return string(domain.StepStatusSucceeded)
	}
	return string(domain.StepStatusFailed)
}
