package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"helm.sh/helm/v4/pkg/action"
	"helm.sh/helm/v4/pkg/chart"
	"helm.sh/helm/v4/pkg/chart/loader"
	"helm.sh/helm/v4/pkg/release"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/lexfrei/kafka-mtls-bootstrap/internal/helm"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/kafkaprobe"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/kube"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/metrics"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/tlssecret"
)

// callLog records the order of calls across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.calls...)
}

func loadTestChart(t *testing.T, name string) chart.Charter {
	t.Helper()

	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "Chart.yaml"),
		[]byte("apiVersion: v2\nname: "+name+"\nversion: 1.0.0\n"),
		0o600,
	))

	loadedChart, err := loader.Load(dir)
	require.NoError(t, err)

	return loadedChart
}

type fakeHelm struct {
	log      *callLog
	charts   map[string]chart.Charter
	existing map[string]bool

	loadErr      map[string]error
	installErr   map[string]error
	uninstallErr map[string]error

	mu     sync.Mutex
	values map[string]map[string]any
}

func newFakeHelm(t *testing.T, log *callLog) *fakeHelm {
	t.Helper()

	return &fakeHelm{
		log: log,
		charts: map[string]chart.Charter{
			helm.DefaultKafkaChart: loadTestChart(t, "kafka"),
			"posthog":              loadTestChart(t, "posthog"),
		},
		existing:     map[string]bool{},
		loadErr:      map[string]error{},
		installErr:   map[string]error{},
		uninstallErr: map[string]error{},
		values:       map[string]map[string]any{},
	}
}

func (f *fakeHelm) LoadChart(_ context.Context, source helm.ChartSource) (chart.Charter, error) {
	f.log.add("load:" + source.Ref())

	if err := f.loadErr[source.Chart]; err != nil {
		return nil, err
	}

	return f.charts[source.Chart], nil
}

func (f *fakeHelm) GetActionConfig(_ string) (*action.Configuration, error) {
	return &action.Configuration{}, nil
}

func (f *fakeHelm) UpgradeInstall(
	_ context.Context,
	_ *action.Configuration,
	releaseName, namespace string,
	_ chart.Charter,
	values map[string]any,
) (release.Releaser, error) {
	f.log.add("install:" + namespace + "/" + releaseName)

	f.mu.Lock()
	f.values[releaseName] = values
	f.mu.Unlock()

	return nil, f.installErr[releaseName]
}

func (f *fakeHelm) ReleaseExists(_ *action.Configuration, releaseName string) bool {
	return f.existing[releaseName]
}

func (f *fakeHelm) Uninstall(_ context.Context, _ *action.Configuration, releaseName string) error {
	f.log.add("uninstall:" + releaseName)

	return f.uninstallErr[releaseName]
}

func (f *fakeHelm) valuesFor(releaseName string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.values[releaseName]
}

type fakeCluster struct {
	log *callLog

	deleteErr  error
	ensureErr  error
	readiness  kube.PodReadiness
	podsErr    error
	dumpedPods []string
}

func (f *fakeCluster) EnsureNamespace(_ context.Context, name string, _ map[string]string) (bool, error) {
	f.log.add("ensure-namespace:" + name)

	return true, f.ensureErr
}

func (f *fakeCluster) DeleteNamespace(_ context.Context, name string, _, _ time.Duration) error {
	f.log.add("delete-namespace:" + name)

	return f.deleteErr
}

func (f *fakeCluster) WaitForPodsReady(
	_ context.Context,
	namespace, selector string,
	_, _ time.Duration,
) (kube.PodReadiness, error) {
	f.log.add("wait-pods:" + namespace + "?" + selector)

	return f.readiness, f.podsErr
}

func (f *fakeCluster) DumpPodLogs(_ context.Context, _ string, names []string, _ int64) (map[string]string, error) {
	f.log.add("dump-logs")
	f.dumpedPods = names

	logs := make(map[string]string, len(names))
	for _, name := range names {
		logs[name+"/main"] = "waiting for kafka"
	}

	return logs, nil
}

type fakeSecrets struct {
	log      *callLog
	material *tlssecret.Material

	copyErr   error
	verifyErr error
	loadErr   error
	requests  []tlssecret.Request
}

func (f *fakeSecrets) LoadDerived(
	_ context.Context,
	ref types.NamespacedName,
	encoding tlssecret.Encoding,
) (*tlssecret.Material, error) {
	f.log.add("load-derived:" + ref.String() + "?" + encoding.String())

	if f.loadErr != nil {
		return nil, f.loadErr
	}

	return f.material, nil
}

func (f *fakeSecrets) Copy(_ context.Context, req tlssecret.Request) (*corev1.Secret, error) {
	f.log.add("copy-secret:" + req.Source.String() + "->" + req.Target.String())
	f.requests = append(f.requests, req)

	if f.copyErr != nil {
		return nil, f.copyErr
	}

	return &corev1.Secret{}, nil
}

func (f *fakeSecrets) Verify(_ context.Context, req tlssecret.Request) error {
	f.log.add("verify-secret:" + req.Target.String())
	f.requests = append(f.requests, req)

	return f.verifyErr
}

type fakeProbe struct {
	log  *callLog
	opts kafkaprobe.Options
	err  error
}

func (f *fakeProbe) probe(_ context.Context, opts kafkaprobe.Options) (*kafkaprobe.Result, error) {
	f.log.add("probe")
	f.opts = opts

	if f.err != nil {
		return nil, f.err
	}

	return &kafkaprobe.Result{Brokers: []string{"kafka-0.kafka-headless:9092"}, Duration: time.Millisecond}, nil
}

type stepRecord struct {
	step   string
	status string
}

type recordingCollector struct {
	metrics.NoopCollector

	mu    sync.Mutex
	steps []stepRecord
}

func (c *recordingCollector) RecordStepDuration(_ context.Context, step, status string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, stepRecord{step: step, status: status})
}

func (c *recordingCollector) records() []stepRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]stepRecord(nil), c.steps...)
}
