package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorInterface(t *testing.T) {
	t.Parallel()

	// Verify that prometheusCollector implements Collector interface
	var _ Collector = (*prometheusCollector)(nil)
	var _ Collector = (*NoopCollector)(nil)
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg)

	require.NotNil(t, collector)
	assert.IsType(t, &prometheusCollector{}, collector)
}

func TestNoopCollector(t *testing.T) {
	t.Parallel()

	collector := NewNoopCollector()
	require.NotNil(t, collector)

	ctx := context.Background()

	// All methods should not panic
	assert.NotPanics(t, func() {
		collector.RecordStepDuration(ctx, "kafka-install", "success", time.Second)
		collector.RecordHelmOperation(ctx, "install", "success", time.Second)
		collector.RecordHelmError(ctx, "install", "timeout")
		collector.RecordHelmChartInfo(ctx, "kafka", "16.2.10", "3.1.0")
		collector.RecordKubeError(ctx, "get_secret", "not_found")
		collector.RecordSecretMirror(ctx, "created")
		collector.RecordPodsReady(ctx, "posthog", 3, 5)
		collector.RecordProbe(ctx, "success", time.Millisecond)
	})
}

func TestMetricsRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	// Trigger all metrics to be collected at least once
	collector.RecordStepDuration(ctx, "cleanup", "success", time.Second)
	collector.RecordHelmOperation(ctx, "install", "success", time.Second)
	collector.RecordHelmError(ctx, "install", "test")
	collector.RecordHelmChartInfo(ctx, "test", "1.0.0", "1.0.0")
	collector.RecordKubeError(ctx, "get_secret", "test")
	collector.RecordSecretMirror(ctx, "created")
	collector.RecordPodsReady(ctx, "posthog", 1, 1)
	collector.RecordProbe(ctx, "success", time.Second)

	// Verify metrics are registered
	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	expectedMetrics := []string{
		"kmtls_step_duration_seconds",
		"kmtls_steps_total",
		"kmtls_helm_operation_duration_seconds",
		"kmtls_helm_operations_total",
		"kmtls_helm_errors_total",
		"kmtls_helm_chart_info",
		"kmtls_kube_errors_total",
		"kmtls_client_secret_publish_total",
		"kmtls_pods_ready",
		"kmtls_pods_total",
		"kmtls_kafka_probe_duration_seconds",
	}

	registeredMetrics := make(map[string]bool)
	for _, mf := range metricFamilies {
		registeredMetrics[mf.GetName()] = true
	}

	for _, expected := range expectedMetrics {
		assert.True(t, registeredMetrics[expected], "metric %s should be registered", expected)
	}
}

func TestRecordStepDuration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordStepDuration(ctx, "kafka-install", "success", time.Minute)
	collector.RecordStepDuration(ctx, "pods-ready", "error", time.Second)
	collector.RecordStepDuration(ctx, "pods-ready", "error", time.Second)

	assert.Equal(t, 2, testutil.CollectAndCount(collector.stepDuration))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.stepsTotal.WithLabelValues("kafka-install", "success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.stepsTotal.WithLabelValues("pods-ready", "error")))
}

func TestRecordHelmOperation(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordHelmOperation(ctx, "install", "success", time.Second)

	// Check histogram and counter
	durationCount := testutil.CollectAndCount(collector.helmDuration)
	opsCount := testutil.ToFloat64(collector.helmOpsTotal.WithLabelValues("install", "success"))

	assert.Equal(t, 1, durationCount)
	assert.Equal(t, float64(1), opsCount)
}

func TestRecordHelmError(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordHelmError(ctx, "install", "timeout")

	count := testutil.ToFloat64(collector.helmErrorsTotal.WithLabelValues("install", "timeout"))
	assert.Equal(t, float64(1), count)
}

func TestRecordHelmChartInfo(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordHelmChartInfo(ctx, "kafka", "16.2.10", "3.1.0")

	count := testutil.ToFloat64(collector.helmChartInfo.WithLabelValues("kafka", "16.2.10", "3.1.0"))
	assert.Equal(t, float64(1), count)
}

func TestRecordKubeError(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordKubeError(ctx, "get_secret", "not_found")
	collector.RecordKubeError(ctx, "get_secret", "not_found")
	collector.RecordKubeError(ctx, "list_pods", "auth")

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.kubeErrorsTotal.WithLabelValues("get_secret", "not_found")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.kubeErrorsTotal.WithLabelValues("list_pods", "auth")))
}

func TestRecordSecretMirror(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordSecretMirror(ctx, "created")
	collector.RecordSecretMirror(ctx, "updated")
	collector.RecordSecretMirror(ctx, "updated")

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.secretMirrorTotal.WithLabelValues("created")))
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.secretMirrorTotal.WithLabelValues("updated")))
}

func TestRecordPodsReady(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordPodsReady(ctx, "posthog", 2, 7)
	collector.RecordPodsReady(ctx, "posthog", 7, 7)

	assert.Equal(t, float64(7), testutil.ToFloat64(collector.podsReady.WithLabelValues("posthog")))
	assert.Equal(t, float64(7), testutil.ToFloat64(collector.podsTotal.WithLabelValues("posthog")))
}

func TestRecordProbe(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordProbe(ctx, "success", 100*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(collector.probeDuration))
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg)
	collector.RecordSecretMirror(context.Background(), "created")

	path := filepath.Join(t.TempDir(), "kmtls.prom")

	require.NoError(t, WriteTextfile(path, reg))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `kmtls_client_secret_publish_total{status="created"} 1`)
}

func TestWriteTextfile_InvalidPath(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	path := filepath.Join(t.TempDir(), "missing", "dir", "kmtls.prom")

	err := WriteTextfile(path, reg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write metrics")
}
