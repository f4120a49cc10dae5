// Package metrics provides Prometheus metrics instrumentation for the bootstrap pipeline.
package metrics

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector provides metrics recording interface.
// This allows components to record metrics without direct prometheus dependency.
//
//nolint:interfacebloat // All methods are needed for comprehensive metrics coverage
type Collector interface {
	// Pipeline metrics
	RecordStepDuration(ctx context.Context, step, status string, duration time.Duration)

	// Helm metrics
	RecordHelmOperation(ctx context.Context, operation, status string, duration time.Duration)
	RecordHelmError(ctx context.Context, operation, errorType string)
	RecordHelmChartInfo(ctx context.Context, chart, version, appVersion string)

	// Kubernetes API metrics
	RecordKubeError(ctx context.Context, operation, errorType string)

	// Client secret metrics
	RecordSecretMirror(ctx context.Context, status string)

	// Readiness metrics
	RecordPodsReady(ctx context.Context, namespace string, ready, total int)

	// Kafka probe metrics
	RecordProbe(ctx context.Context, status string, duration time.Duration)
}

// prometheusCollector implements Collector using Prometheus metrics.
type prometheusCollector struct {
	// Pipeline metrics
	stepDuration *prometheus.HistogramVec
	stepsTotal   *prometheus.CounterVec

	// Helm metrics
	helmDuration    *prometheus.HistogramVec
	helmOpsTotal    *prometheus.CounterVec
	helmErrorsTotal *prometheus.CounterVec
	helmChartInfo   *prometheus.GaugeVec

	// Kubernetes API metrics
	kubeErrorsTotal *prometheus.CounterVec

	// Client secret metrics
	secretMirrorTotal *prometheus.CounterVec

	// Readiness metrics
	podsReady *prometheus.GaugeVec
	podsTotal *prometheus.GaugeVec

	// Kafka probe metrics
	probeDuration *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector and registers metrics.
func NewCollector(reg prometheus.Registerer) Collector {
	c := &prometheusCollector{}
	c.initStepMetrics()
	c.initHelmMetrics()
	c.initKubeMetrics()
	c.initProbeMetrics()
	c.register(reg)

	return c
}

// RecordStepDuration records the duration and outcome of a pipeline step.
func (c *prometheusCollector) RecordStepDuration(_ context.Context, step, status string, duration time.Duration) {
	c.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
	c.stepsTotal.WithLabelValues(step, status).Inc()
}

// RecordHelmOperation records a Helm operation.
func (c *prometheusCollector) RecordHelmOperation(
	_ context.Context,
	operation, status string,
	duration time.Duration,
) {
	c.helmDuration.WithLabelValues(operation).Observe(duration.Seconds())
	c.helmOpsTotal.WithLabelValues(operation, status).Inc()
}

// RecordHelmError records a Helm error.
func (c *prometheusCollector) RecordHelmError(_ context.Context, operation, errorType string) {
	c.helmErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordHelmChartInfo records the deployed Helm chart version info.
func (c *prometheusCollector) RecordHelmChartInfo(_ context.Context, chart, version, appVersion string) {
	c.helmChartInfo.WithLabelValues(chart, version, appVersion).Set(1)
}

// RecordKubeError records a failed Kubernetes API call by type.
func (c *prometheusCollector) RecordKubeError(_ context.Context, operation, errorType string) {
	c.kubeErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordSecretMirror records the outcome of publishing the client TLS secret.
func (c *prometheusCollector) RecordSecretMirror(_ context.Context, status string) {
	c.secretMirrorTotal.WithLabelValues(status).Inc()
}

// RecordPodsReady records the last observed pod readiness in a namespace.
func (c *prometheusCollector) RecordPodsReady(_ context.Context, namespace string, ready, total int) {
	c.podsReady.WithLabelValues(namespace).Set(float64(ready))
	c.podsTotal.WithLabelValues(namespace).Set(float64(total))
}

// RecordProbe records a Kafka connectivity probe.
func (c *prometheusCollector) RecordProbe(_ context.Context, status string, duration time.Duration) {
	c.probeDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (c *prometheusCollector) initStepMetrics() {
	c.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kmtls_step_duration_seconds",
			Help:    "Duration of pipeline steps",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"step"},
	)
	c.stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmtls_steps_total",
			Help: "Total pipeline steps by outcome",
		},
		[]string{"step", "status"},
	)
}

func (c *prometheusCollector) initHelmMetrics() {
	c.helmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kmtls_helm_operation_duration_seconds",
			Help:    "Duration of Helm operations",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"operation"},
	)
	c.helmOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmtls_helm_operations_total",
			Help: "Total Helm operations",
		},
		[]string{"operation", "status"},
	)
	c.helmErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmtls_helm_errors_total",
			Help: "Total Helm errors by type",
		},
		[]string{"operation", "error_type"},
	)
	c.helmChartInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kmtls_helm_chart_info",
			Help: "Deployed Helm chart version info (always 1)",
		},
		[]string{"chart", "version", "app_version"},
	)
}

func (c *prometheusCollector) initKubeMetrics() {
	c.kubeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmtls_kube_errors_total",
			Help: "Total Kubernetes API errors by type",
		},
		[]string{"operation", "error_type"},
	)
	c.secretMirrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmtls_client_secret_publish_total",
			Help: "Client TLS secret publications by outcome",
		},
		[]string{"status"},
	)
	c.podsReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kmtls_pods_ready",
			Help: "Ready pods observed during the last readiness poll",
		},
		[]string{"namespace"},
	)
	c.podsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kmtls_pods_total",
			Help: "Pods observed during the last readiness poll",
		},
		[]string{"namespace"},
	)
}

func (c *prometheusCollector) initProbeMetrics() {
	c.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kmtls_kafka_probe_duration_seconds",
			Help:    "Duration of Kafka mTLS connectivity probes",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)
}

func (c *prometheusCollector) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.stepDuration,
		c.stepsTotal,
		c.helmDuration,
		c.helmOpsTotal,
		c.helmErrorsTotal,
		c.helmChartInfo,
		c.kubeErrorsTotal,
		c.secretMirrorTotal,
		c.podsReady,
		c.podsTotal,
		c.probeDuration,
	)
}

// WriteTextfile writes everything gathered by the registry in the Prometheus
// text format, suitable for the node_exporter textfile collector.
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	err := prometheus.WriteToTextfile(path, gatherer)
	if err != nil {
		return errors.Wrapf(err, "failed to write metrics to %s", path)
	}

	return nil
}

// NoopCollector is a no-op implementation of Collector for testing.
type NoopCollector struct{}

// NewNoopCollector creates a new no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordStepDuration is a no-op.
func (c *NoopCollector) RecordStepDuration(_ context.Context, _, _ string, _ time.Duration) {}

// RecordHelmOperation is a no-op.
func (c *NoopCollector) RecordHelmOperation(_ context.Context, _, _ string, _ time.Duration) {}

// RecordHelmError is a no-op.
func (c *NoopCollector) RecordHelmError(_ context.Context, _, _ string) {}

// RecordHelmChartInfo is a no-op.
func (c *NoopCollector) RecordHelmChartInfo(_ context.Context, _, _, _ string) {}

// RecordKubeError is a no-op.
func (c *NoopCollector) RecordKubeError(_ context.Context, _, _ string) {}

// RecordSecretMirror is a no-op.
func (c *NoopCollector) RecordSecretMirror(_ context.Context, _ string) {}

// RecordPodsReady is a no-op.
func (c *NoopCollector) RecordPodsReady(_ context.Context, _ string, _, _ int) {}

// RecordProbe is a no-op.
func (c *NoopCollector) RecordProbe(_ context.Context, _ string, _ time.Duration) {}
