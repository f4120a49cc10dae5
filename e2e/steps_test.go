//go:build e2e

package e2e

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cucumber/godog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/k3s"
	"helm.sh/helm/v4/pkg/cli"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"

	"github.com/lexfrei/kafka-mtls-bootstrap/internal/kube"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/pipeline"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/tlssecret"
)

const (
	k3sImage       = "rancher/k3s:v1.31.2-k3s1"
	verifyTimeout  = 2 * time.Minute
	verifyInterval = 5 * time.Second
)

// cluster is shared by every scenario of the suite.
//
//nolint:gochecknoglobals // suite scoped state
var cluster = &sharedCluster{}

type sharedCluster struct {
	container  *k3s.K3sContainer
	kubeconfig string
	tempDir    string
}

func (s *sharedCluster) start(ctx context.Context) error {
	if s.kubeconfig != "" || os.Getenv("KMTLS_E2E_K3S") != "true" {
		return nil
	}

	container, err := k3s.Run(ctx, k3sImage)
	if err != nil {
		return errors.Wrap(err, "failed to start k3s")
	}

	s.container = container

	raw, err := container.GetKubeConfig(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read k3s kubeconfig")
	}

	s.tempDir, err = os.MkdirTemp("", "kmtls-e2e-")
	if err != nil {
		return errors.Wrap(err, "failed to create temp dir")
	}

	s.kubeconfig = filepath.Join(s.tempDir, "kubeconfig")

	err = os.WriteFile(s.kubeconfig, raw, 0o600)
	if err != nil {
		return errors.Wrap(err, "failed to write kubeconfig")
	}

	return nil
}

func (s *sharedCluster) stop() {
	if s.container != nil {
		_ = testcontainers.TerminateContainer(s.container)
	}

	if s.tempDir != "" {
		_ = os.RemoveAll(s.tempDir)
	}
}

// scenario holds the state of one scenario.
type scenario struct {
	cfg      pipeline.Config
	settings *cli.EnvSettings
	clients  *kube.Clients
	logger   *slog.Logger
}

func InitializeTestSuite(ctx *godog.TestSuiteContext) {
	ctx.AfterSuite(cluster.stop)
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	sc := &scenario{
		cfg:    pipeline.DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}

	ctx.Step(`^a Kubernetes cluster$`, sc.aKubernetesCluster)
	ctx.Step(`^the namespace "([^"]*)" is used$`, sc.theNamespaceIsUsed)
	ctx.Step(`^the bootstrap pipeline runs$`, sc.theBootstrapPipelineRuns)
	ctx.Step(`^the cleanup runs$`, sc.theCleanupRuns)
	ctx.Step(`^the secret "([^"]*)" holds the TLS material of "([^"]*)"$`, sc.theSecretHoldsTheMaterialOf)
	ctx.Step(`^every pod of the application release is ready$`, sc.everyPodIsReady)
	ctx.Step(`^the namespace no longer exists$`, sc.theNamespaceNoLongerExists)
}

func (sc *scenario) aKubernetesCluster(ctx context.Context) error {
	err := cluster.start(ctx)
	if err != nil {
		return err
	}

	sc.settings = cli.New()
	if cluster.kubeconfig != "" {
		sc.settings.KubeConfig = cluster.kubeconfig
	}

	restConfig, err := sc.settings.RESTClientGetter().ToRESTConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load kubeconfig")
	}

	sc.clients, err = kube.NewClients(restConfig)

	return err
}

func (sc *scenario) theNamespaceIsUsed(namespace string) error {
	sc.cfg.Namespace = namespace

	return nil
}

func (sc *scenario) theBootstrapPipelineRuns(ctx context.Context) error {
	return pipeline.Run(ctx, sc.cfg, sc.settings, nil, sc.logger)
}

func (sc *scenario) theCleanupRuns(ctx context.Context) error {
	runner, err := pipeline.NewClusterRunner(sc.cfg, sc.settings, nil, sc.logger)
	if err != nil {
		return err
	}

	return runner.Cleanup(ctx)
}

func (sc *scenario) theSecretHoldsTheMaterialOf(ctx context.Context, target, source string) error {
	mirror := tlssecret.NewMirror(sc.clients.Client, nil, sc.logger)

	return mirror.Verify(ctx, tlssecret.Request{
		Source:   types.NamespacedName{Namespace: sc.cfg.Namespace, Name: source},
		Target:   types.NamespacedName{Namespace: sc.cfg.Namespace, Name: target},
		Encoding: sc.cfg.SecretEncoding,
	})
}

func (sc *scenario) everyPodIsReady(ctx context.Context) error {
	_, err := kube.NewCluster(sc.clients, nil, sc.logger).
		WaitForPodsReady(ctx, sc.cfg.Namespace, sc.cfg.EffectivePodSelector(), verifyTimeout, verifyInterval)

	return err
}

//nolint:wrapcheck // errors.Newf creates new errors
func (sc *scenario) theNamespaceNoLongerExists(ctx context.Context) error {
	err := sc.clients.Client.Get(ctx, types.NamespacedName{Name: sc.cfg.Namespace}, &corev1.Namespace{})
	if apierrors.IsNotFound(err) {
		return nil
	}

	if err != nil {
		return errors.Wrap(err, "failed to get namespace")
	}

	return errors.Newf("namespace %s still exists", sc.cfg.Namespace)
}
