package cmd

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/lexfrei/kafka-mtls-bootstrap/internal/helm"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/pipeline"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/tlssecret"
)

// configFromViper maps flags, KMTLS_* variables and the config file onto a
// pipeline configuration. Keys that were never set keep the pipeline defaults.
func configFromViper(v *viper.Viper) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()

	setString(v, "namespace", &cfg.Namespace)
	setString(v, "run-id", &cfg.RunID)
	setBool(v, "skip-cleanup", &cfg.SkipCleanup)

	setString(v, "kafka-release", &cfg.KafkaRelease)
	setString(v, "kafka-repo-name", &cfg.KafkaChart.RepoName)
	setString(v, "kafka-repo-url", &cfg.KafkaChart.RepoURL)
	setString(v, "kafka-chart", &cfg.KafkaChart.Chart)
	setString(v, "kafka-version", &cfg.KafkaChart.Version)
	setBool(v, "kafka-zookeeper", &cfg.KafkaValues.ZookeeperEnabled)
	setString(v, "kafka-tls-type", &cfg.KafkaValues.TLSType)

	if v.IsSet("kafka-replicas") {
		cfg.KafkaValues.ReplicaCount = v.GetInt("kafka-replicas")
	}

	setStrings(v, "kafka-set", &cfg.KafkaSetValues)

	setString(v, "source-secret", &cfg.SourceSecret)
	setString(v, "client-secret", &cfg.ClientSecret)
	setBool(v, "validate-material", &cfg.ValidateMaterial)

	encoding, err := tlssecret.ParseEncoding(v.GetString("secret-encoding"))
	if err != nil {
		return pipeline.Config{}, errors.Wrap(err, "secret-encoding")
	}

	cfg.SecretEncoding = encoding

	setString(v, "app-release", &cfg.AppRelease)
	cfg.AppChart = helm.ChartSource{
		RepoName: stringOr(v, "app-repo-name", cfg.AppChart.RepoName),
		RepoURL:  stringOr(v, "app-repo-url", cfg.AppChart.RepoURL),
		Chart:    stringOr(v, "app-chart", cfg.AppChart.Chart),
		Version:  stringOr(v, "app-version", cfg.AppChart.Version),
	}
	setString(v, "app-values", &cfg.AppValuesFile)
	setStrings(v, "app-set", &cfg.AppSetValues)

	if v.IsSet("helm-timeout") {
		cfg.HelmTimeout = v.GetDuration("helm-timeout")
	}

	if v.IsSet("namespace-timeout") {
		cfg.NamespaceTimeout = v.GetDuration("namespace-timeout")
	}

	if v.IsSet("pods-ready-timeout") {
		cfg.PodsReadyTimeout = v.GetDuration("pods-ready-timeout")
	}

	if v.IsSet("poll-interval") {
		cfg.PollInterval = v.GetDuration("poll-interval")
	}

	if v.IsSet("log-tail-lines") {
		cfg.LogTailLines = v.GetInt64("log-tail-lines")
	}

	setString(v, "pod-selector", &cfg.PodSelector)

	setStrings(v, "probe-brokers", &cfg.ProbeBrokers)
	setString(v, "probe-server-name", &cfg.ProbeServerName)

	if v.IsSet("probe-timeout") {
		cfg.ProbeTimeout = v.GetDuration("probe-timeout")
	}

	err = cfg.Validate()
	if err != nil {
		return pipeline.Config{}, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}

func setString(v *viper.Viper, key string, target *string) {
	if v.IsSet(key) {
		*target = v.GetString(key)
	}
}

func setBool(v *viper.Viper, key string, target *bool) {
	if v.IsSet(key) {
		*target = v.GetBool(key)
	}
}

func setStrings(v *viper.Viper, key string, target *[]string) {
	if v.IsSet(key) {
		*target = v.GetStringSlice(key)
	}
}

func stringOr(v *viper.Viper, key, fallback string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}

	return fallback
}
