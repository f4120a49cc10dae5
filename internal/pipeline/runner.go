// Package pipeline runs the Kafka mTLS bootstrap scenario: clean the namespace,
// install Kafka with generated certificates, republish the client material,
// install the application and wait for its pods.
package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"helm.sh/helm/v4/pkg/action"
	"helm.sh/helm/v4/pkg/chart"
	"helm.sh/helm/v4/pkg/release"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"

	"github.com/lexfrei/kafka-mtls-bootstrap/internal/helm"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/kafkaprobe"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/kube"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/metrics"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/tlssecret"
)

// Step names, in execution order.
const (
	StepCleanup      = "cleanup"
	StepNamespace    = "namespace"
	StepKafkaInstall = "kafka-install"
	StepClientSecret = "client-secret"
	StepAppInstall   = "app-install"
	StepPodsReady    = "pods-ready"
	StepKafkaProbe   = "kafka-probe"
)

// clientSecretValuePath is where the application chart reads the name of
// the client TLS secret.
var clientSecretValuePath = []string{"externalKafka", "mtls", "secretName"}

const (
	statusSuccess = "success"
	statusError   = "error"
	statusSkipped = "skipped"
)

// HelmClient installs and removes releases.
type HelmClient interface {
	LoadChart(ctx context.Context, source helm.ChartSource) (chart.Charter, error)
	GetActionConfig(namespace string) (*action.Configuration, error)
	UpgradeInstall(
		ctx context.Context,
		cfg *action.Configuration,
		releaseName, namespace string,
		loadedChart chart.Charter,
		values map[string]any,
	) (release.Releaser, error)
	ReleaseExists(cfg *action.Configuration, releaseName string) bool
	Uninstall(ctx context.Context, cfg *action.Configuration, releaseName string) error
}

// ClusterClient manages the namespace and watches pods.
type ClusterClient interface {
	EnsureNamespace(ctx context.Context, name string, labels map[string]string) (bool, error)
	DeleteNamespace(ctx context.Context, name string, timeout, interval time.Duration) error
	WaitForPodsReady(
		ctx context.Context,
		namespace, selector string,
		timeout, interval time.Duration,
	) (kube.PodReadiness, error)
	DumpPodLogs(ctx context.Context, namespace string, names []string, tailLines int64) (map[string]string, error)
}

// SecretMirror copies and checks the client TLS secret.
type SecretMirror interface {
	LoadDerived(ctx context.Context, ref types.NamespacedName, encoding tlssecret.Encoding) (*tlssecret.Material, error)
	Copy(ctx context.Context, req tlssecret.Request) (*corev1.Secret, error)
	Verify(ctx context.Context, req tlssecret.Request) error
}

// ProbeFunc checks Kafka connectivity with client material.
type ProbeFunc func(ctx context.Context, opts kafkaprobe.Options) (*kafkaprobe.Result, error)

// Deps are the collaborators of a Runner. Probe and Metrics are optional.
type Deps struct {
	Helm    HelmClient
	Cluster ClusterClient
	Secrets SecretMirror
	Probe   ProbeFunc
	Metrics metrics.Collector
	Logger  *slog.Logger
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Runner executes the scenario steps in order, aborting on the first failure.
type Runner struct {
	cfg     Config
	helm    HelmClient
	cluster ClusterClient
	secrets SecretMirror
	probe   ProbeFunc
	metrics metrics.Collector
	logger  *slog.Logger
}

//nolint:wrapcheck // errors.New creates new errors
func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if deps.Helm == nil || deps.Cluster == nil || deps.Secrets == nil {
		return nil, errors.New("helm, cluster and secrets dependencies are required")
	}

	err := cfg.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	if deps.Probe == nil {
		deps.Probe = kafkaprobe.Probe
	}

	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopCollector()
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Runner{
		cfg:     cfg,
		helm:    deps.Helm,
		cluster: deps.Cluster,
		secrets: deps.Secrets,
		probe:   deps.Probe,
		metrics: deps.Metrics,
		logger:  deps.Logger.With("component", "pipeline", "run_id", cfg.RunID),
	}, nil
}

// RunID identifies this run in logs and in the client secret annotation.
func (r *Runner) RunID() string {
	return r.cfg.RunID
}

// Run executes every step.
func (r *Runner) Run(ctx context.Context) error {
	steps := []step{
		{name: StepCleanup, run: r.cleanup},
		{name: StepNamespace, run: r.ensureNamespace},
		{name: StepKafkaInstall, run: r.installKafka},
		{name: StepClientSecret, run: r.publishClientSecret},
		{name: StepAppInstall, run: r.installApp},
		{name: StepPodsReady, run: r.waitForPods},
		{name: StepKafkaProbe, run: r.probeKafka},
	}

	if r.cfg.SkipCleanup {
		steps = slices.DeleteFunc(steps, func(s step) bool { return s.name == StepCleanup })
		r.metrics.RecordStepDuration(ctx, StepCleanup, statusSkipped, 0)
	}

	if len(r.cfg.ProbeBrokers) == 0 {
		steps = slices.DeleteFunc(steps, func(s step) bool { return s.name == StepKafkaProbe })
	}

	start := time.Now()

	r.logger.Info("starting run", "namespace", r.cfg.Namespace, "steps", len(steps))

	err := r.runSteps(ctx, steps)
	if err != nil {
		return err
	}

	r.logger.Info("run completed", "duration", time.Since(start))

	return nil
}

// Cleanup uninstalls the releases and deletes the namespace.
func (r *Runner) Cleanup(ctx context.Context) error {
	return r.runSteps(ctx, []step{{name: StepCleanup, run: r.cleanup}})
}

// Verify checks the client secret against its source and waits for the pods
// without changing anything in the cluster.
func (r *Runner) Verify(ctx context.Context) error {
	return r.runSteps(ctx, []step{
		{name: StepClientSecret, run: r.verifyClientSecret},
		{name: StepPodsReady, run: r.waitForPods},
	})
}

func (r *Runner) runSteps(ctx context.Context, steps []step) error {
	for _, s := range steps {
		err := ctx.Err()
		if err != nil {
			return errors.Wrapf(err, "run interrupted before step %s", s.name)
		}

		logger := r.logger.With("step", s.name)
		logger.Info("step started")

		start := time.Now()
		err = s.run(ctx)
		duration := time.Since(start)

		if err != nil {
			r.metrics.RecordStepDuration(ctx, s.name, statusError, duration)
			logger.Error("step failed", "duration", duration, "error", err)

			return errors.Wrapf(err, "step %s", s.name)
		}

		r.metrics.RecordStepDuration(ctx, s.name, statusSuccess, duration)
		logger.Info("step completed", "duration", duration)
	}

	return nil
}

func (r *Runner) cleanup(ctx context.Context) error {
	actionConfig, err := r.helm.GetActionConfig(r.cfg.Namespace)
	if err != nil {
		return errors.Wrap(err, "failed to prepare helm")
	}

	for _, name := range []string{r.cfg.AppRelease, r.cfg.KafkaRelease} {
		if !r.helm.ReleaseExists(actionConfig, name) {
			continue
		}

		uninstallErr := r.helm.Uninstall(ctx, actionConfig, name)
		if uninstallErr != nil {
			r.logger.Warn("release uninstall failed, deleting namespace anyway",
				"release", name, "error", uninstallErr)

			continue
		}

		r.logger.Info("release uninstalled", "release", name)
	}

	return r.cluster.DeleteNamespace(ctx, r.cfg.Namespace, r.cfg.NamespaceTimeout, r.cfg.PollInterval)
}

func (r *Runner) ensureNamespace(ctx context.Context) error {
	_, err := r.cluster.EnsureNamespace(ctx, r.cfg.Namespace, map[string]string{
		tlssecret.LabelManagedBy: tlssecret.ManagedByValue,
	})

	return err
}

func (r *Runner) installKafka(ctx context.Context) error {
	values := r.cfg.KafkaValues.BuildValues()

	err := helm.ApplyOverrides(values, r.cfg.KafkaSetValues)
	if err != nil {
		return errors.Wrap(err, "kafka values")
	}

	return r.install(ctx, r.cfg.KafkaRelease, r.cfg.KafkaChart, values)
}

func (r *Runner) installApp(ctx context.Context) error {
	values, err := r.appValues()
	if err != nil {
		return err
	}

	return r.install(ctx, r.cfg.AppRelease, r.cfg.AppChart, values)
}

// appValues layers the values file over the embedded defaults, points the
// chart at the client secret and applies --set overrides last.
func (r *Runner) appValues() (map[string]any, error) {
	values, err := helm.ParseValues(DefaultAppValues)
	if err != nil {
		return nil, errors.Wrap(err, "embedded application values")
	}

	if r.cfg.AppValuesFile != "" {
		fileValues, fileErr := helm.ReadValuesFile(r.cfg.AppValuesFile)
		if fileErr != nil {
			return nil, errors.Wrap(fileErr, "application values")
		}

		values = helm.MergeValues(values, fileValues)
	}

	err = unstructured.SetNestedField(values, r.cfg.ClientSecret, clientSecretValuePath...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to set client secret name in application values")
	}

	err = helm.ApplyOverrides(values, r.cfg.AppSetValues)
	if err != nil {
		return nil, errors.Wrap(err, "application values")
	}

	return values, nil
}

func (r *Runner) install(ctx context.Context, releaseName string, source helm.ChartSource, values map[string]any) error {
	loadedChart, err := r.helm.LoadChart(ctx, source)
	if err != nil {
		return errors.Wrapf(err, "failed to load chart %s", source.Ref())
	}

	actionConfig, err := r.helm.GetActionConfig(r.cfg.Namespace)
	if err != nil {
		return errors.Wrap(err, "failed to prepare helm")
	}

	_, err = r.helm.UpgradeInstall(ctx, actionConfig, releaseName, r.cfg.Namespace, loadedChart, values)
	if err != nil {
		return err //nolint:wrapcheck // already wrapped with the release name
	}

	name, version, appVersion := helm.ChartInfo(loadedChart)
	r.logger.Info("release deployed",
		"release", releaseName,
		"chart", name,
		"version", version,
		"app_version", appVersion,
	)

	return nil
}

func (r *Runner) secretRequest() tlssecret.Request {
	return tlssecret.Request{
		Source:   types.NamespacedName{Namespace: r.cfg.Namespace, Name: r.cfg.SourceSecret},
		Target:   types.NamespacedName{Namespace: r.cfg.Namespace, Name: r.cfg.ClientSecret},
		Encoding: r.cfg.SecretEncoding,
		Validate: r.cfg.ValidateMaterial,
		RunID:    r.cfg.RunID,
	}
}

func (r *Runner) publishClientSecret(ctx context.Context) error {
	_, err := r.secrets.Copy(ctx, r.secretRequest())

	return err
}

func (r *Runner) verifyClientSecret(ctx context.Context) error {
	return r.secrets.Verify(ctx, r.secretRequest())
}

func (r *Runner) waitForPods(ctx context.Context) error {
	readiness, err := r.cluster.WaitForPodsReady(
		ctx,
		r.cfg.Namespace,
		r.cfg.EffectivePodSelector(),
		r.cfg.PodsReadyTimeout,
		r.cfg.PollInterval,
	)
	if err != nil {
		r.dumpPendingLogs(ctx, readiness.Pending)

		return err
	}

	r.logger.Info("pods ready", "ready", readiness.Ready, "total", readiness.Total)

	return nil
}

func (r *Runner) dumpPendingLogs(ctx context.Context, pending []string) {
	if len(pending) == 0 || r.cfg.LogTailLines == 0 || ctx.Err() != nil {
		return
	}

	logs, err := r.cluster.DumpPodLogs(ctx, r.cfg.Namespace, pending, r.cfg.LogTailLines)
	if err != nil {
		r.logger.Warn("failed to dump pod logs", "error", err)
	}

	for container, text := range logs {
		r.logger.Warn("pending pod logs", "container", container, "logs", text)
	}
}

func (r *Runner) probeKafka(ctx context.Context) error {
	material, err := r.secrets.LoadDerived(
		ctx,
		types.NamespacedName{Namespace: r.cfg.Namespace, Name: r.cfg.ClientSecret},
		r.cfg.SecretEncoding,
	)
	if err != nil {
		return err //nolint:wrapcheck // already wrapped with the secret name
	}

	tlsConfig, err := material.ClientTLSConfig(r.cfg.ProbeServerName)
	if err != nil {
		return errors.Wrap(err, "failed to build client TLS configuration")
	}

	start := time.Now()

	result, err := r.probe(ctx, kafkaprobe.Options{
		Brokers: r.cfg.ProbeBrokers,
		TLS:     tlsConfig,
		Timeout: r.cfg.ProbeTimeout,
	})
	if err != nil {
		r.metrics.RecordProbe(ctx, statusError, time.Since(start))

		return err //nolint:wrapcheck // step name is added by runSteps
	}

	r.metrics.RecordProbe(ctx, statusSuccess, result.Duration)
	r.logger.Info("kafka accepted client certificate", "brokers", result.Brokers)

	return nil
}
