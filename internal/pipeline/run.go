package pipeline

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"helm.sh/helm/v4/pkg/cli"

	"github.com/lexfrei/kafka-mtls-bootstrap/internal/helm"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/kafkaprobe"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/kube"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/metrics"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/tlssecret"
)

// NewClusterRunner wires a Runner against the cluster selected by the Helm
// settings (kubeconfig and context).
func NewClusterRunner(
	cfg Config,
	settings *cli.EnvSettings,
	metricsCollector metrics.Collector,
	logger *slog.Logger,
) (*Runner, error) {
	if settings == nil {
		settings = cli.New()
	}

	if metricsCollector == nil {
		metricsCollector = metrics.NewNoopCollector()
	}

	if logger == nil {
		logger = slog.Default()
	}

	helmManager, err := helm.NewManager(settings, metricsCollector, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create helm manager")
	}

	helmManager.SetTimeout(cfg.HelmTimeout)

	restConfig, err := settings.RESTClientGetter().ToRESTConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load kubeconfig")
	}

	clients, err := kube.NewClients(restConfig)
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped
	}

	return NewRunner(cfg, Deps{
		Helm:    helmManager,
		Cluster: kube.NewCluster(clients, metricsCollector, logger),
		Secrets: tlssecret.NewMirror(clients.Client, metricsCollector, logger),
		Probe:   kafkaprobe.Probe,
		Metrics: metricsCollector,
		Logger:  logger,
	})
}

// Run executes the whole scenario against the cluster selected by settings.
func Run(
	ctx context.Context,
	cfg Config,
	settings *cli.EnvSettings,
	metricsCollector metrics.Collector,
	logger *slog.Logger,
) error {
	runner, err := NewClusterRunner(cfg, settings, metricsCollector, logger)
	if err != nil {
		return err
	}

	return runner.Run(ctx)
}
