package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"helm.sh/helm/v4/pkg/cli"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/lexfrei/kafka-mtls-bootstrap/internal/helm"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/kafkaprobe"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/metrics"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/pipeline"
)

//nolint:gochecknoglobals // set by SetVersion from main
var (
	version = "development"
	gitsha  = "development"
)

func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

//nolint:gochecknoglobals // cobra command pattern
var rootCmd = &cobra.Command{
	Use:   "kafka-mtls-bootstrap",
	Short: "Provision Kafka with mutual TLS and an application that consumes its client certificate",
	Long: `Installs the bitnami/kafka chart with chart-generated mTLS certificates,
republishes the generated CA, certificate and key as the client secret the
application chart expects, installs the application chart and waits until its
pods are ready.`,
	RunE:          runPipeline,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()

	flags.String("config", "", "Config file (YAML)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "json", "Log format (json, text)")
	flags.String("kubeconfig", "", "Path to kubeconfig (defaults to KUBECONFIG or ~/.kube/config)")
	flags.String("kube-context", "", "Kubeconfig context to use")
	flags.String("metrics-file", "", "Write Prometheus metrics in text format to this file after the run")
	flags.String("run-id", "", "Run identifier (generated when empty)")

	flags.String("namespace", pipeline.DefaultNamespace, "Namespace for Kafka and the application")
	flags.Bool("skip-cleanup", false, "Do not uninstall releases and delete the namespace first")

	// Kafka chart
	flags.String("kafka-release", pipeline.DefaultKafkaRelease, "Kafka release name")
	flags.String("kafka-repo-name", helm.DefaultKafkaRepoName, "Kafka chart repository name")
	flags.String("kafka-repo-url", helm.DefaultKafkaRepoURL, "Kafka chart repository URL (empty for OCI or local charts)")
	flags.String("kafka-chart", helm.DefaultKafkaChart, "Kafka chart name, oci:// reference or local path")
	flags.String("kafka-version", helm.DefaultKafkaVersion, "Kafka chart version or constraint")
	flags.Int("kafka-replicas", 1, "Kafka broker replicas")
	flags.Bool("kafka-zookeeper", true, "Deploy ZooKeeper with Kafka")
	flags.String("kafka-tls-type", "pem", "Format of the generated Kafka certificates")
	flags.StringSlice("kafka-set", nil, "Extra Kafka chart values (key=value, repeatable)")

	// Client secret
	flags.String("source-secret", pipeline.DefaultSourceSecret, "Secret generated by the Kafka chart")
	flags.String("client-secret", pipeline.DefaultClientSecret, "Client TLS secret consumed by the application")
	flags.String("secret-encoding", "base64", "Encoding of the client secret values (base64, raw)")
	flags.Bool("validate-material", true, "Parse the certificate material before publishing it")

	// Application chart
	flags.String("app-release", pipeline.DefaultAppRelease, "Application release name")
	flags.String("app-repo-name", pipeline.DefaultAppRepoName, "Application chart repository name")
	flags.String("app-repo-url", pipeline.DefaultAppRepoURL, "Application chart repository URL (empty for OCI or local charts)")
	flags.String("app-chart", pipeline.DefaultAppChart, "Application chart name, oci:// reference or local path")
	flags.String("app-version", "", "Application chart version or constraint (latest when empty)")
	flags.String("app-values", "", "Application values file (embedded defaults when empty)")
	flags.StringSlice("app-set", nil, "Extra application chart values (key=value, repeatable)")

	// Waiting
	flags.Duration("helm-timeout", pipeline.DefaultHelmTimeout, "Timeout of each Helm install including the wait")
	flags.Duration("namespace-timeout", pipeline.DefaultNamespaceTimeout, "Timeout for namespace deletion")
	flags.Duration("pods-ready-timeout", pipeline.DefaultPodsReadyTimeout, "Wait period for pods to become ready")
	flags.Duration("poll-interval", pipeline.DefaultPollInterval, "Interval between readiness polls")
	flags.String("pod-selector", "", "Label selector of the pods to wait for (release=<app-release> when empty)")
	flags.Int64("log-tail-lines", pipeline.DefaultLogTailLines, "Log lines to print per pending container on timeout (0 disables)")

	// Probe
	flags.StringSlice("probe-brokers", nil, "Kafka brokers to probe over mTLS after the install (disabled when empty)")
	flags.String("probe-server-name", "", "TLS server name for the probe (dial host when empty)")
	flags.Duration("probe-timeout", kafkaprobe.DefaultTimeout, "Timeout of the Kafka probe")

	_ = viper.BindPFlags(flags)

	rootCmd.AddCommand(cleanupCmd, verifyCmd)
}

func initConfig() {
	viper.SetEnvPrefix("KMTLS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configFile := viper.GetString("config")
	if configFile == "" {
		return
	}

	viper.SetConfigFile(configFile)

	err := viper.ReadInConfig()
	if err != nil {
		// Logger is not configured yet.
		_, _ = os.Stderr.WriteString("failed to read config file " + configFile + ": " + err.Error() + "\n")
		os.Exit(1)
	}
}

func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo

	switch viper.GetString("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if viper.GetString("log-format") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// session holds what every command needs: logger, configuration, Helm
// settings and the metrics sink.
type session struct {
	logger    *slog.Logger
	cfg       pipeline.Config
	settings  *cli.EnvSettings
	collector metrics.Collector
	registry  *prometheus.Registry
}

func newSession(command string) (*session, error) {
	logger := setupLogger()
	slog.SetDefault(logger)

	ctrl.SetLogger(logr.FromSlogHandler(logger.Handler()))

	return buildSession(logger, command, viper.GetViper())
}

// buildSession reads the configuration from v. Configuration errors are
// logged here because commands silence cobra's own error output.
func buildSession(logger *slog.Logger, command string, v *viper.Viper) (*session, error) {
	logger.Info("starting kafka-mtls-bootstrap",
		"command", command,
		"version", version,
		"gitsha", gitsha,
	)

	cfg, err := configFromViper(v)
	if err != nil {
		logger.Error("invalid configuration", "command", command, "error", err)

		return nil, err
	}

	settings := cli.New()

	if kubeconfig := v.GetString("kubeconfig"); kubeconfig != "" {
		settings.KubeConfig = kubeconfig
	}

	if kubeContext := v.GetString("kube-context"); kubeContext != "" {
		settings.KubeContext = kubeContext
	}

	registry := prometheus.NewRegistry()

	return &session{
		logger:    logger,
		cfg:       cfg,
		settings:  settings,
		collector: metrics.NewCollector(registry),
		registry:  registry,
	}, nil
}

func (s *session) runner() (*pipeline.Runner, error) {
	runner, err := pipeline.NewClusterRunner(s.cfg, s.settings, s.collector, s.logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare run")
	}

	return runner, nil
}

// finish exports metrics when requested and logs the outcome.
func (s *session) finish(runErr error) error {
	if path := viper.GetString("metrics-file"); path != "" {
		err := metrics.WriteTextfile(path, s.registry)
		if err != nil {
			s.logger.Error("failed to export metrics", "error", err)
		}
	}

	if runErr != nil {
		s.logger.Error("run failed", "error", runErr)

		return runErr
	}

	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	sess, err := newSession(cmd.Name())
	if err != nil {
		return err
	}

	runner, err := sess.runner()
	if err != nil {
		return sess.finish(err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	sess.logger.Info("run started", "run_id", runner.RunID(), "namespace", sess.cfg.Namespace)

	return sess.finish(errors.Wrap(runner.Run(ctx), "bootstrap failed"))
}
