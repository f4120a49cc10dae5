package pipeline

import (
	_ "embed"
	"time"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/lexfrei/kafka-mtls-bootstrap/internal/helm"
	"github.com/lexfrei/kafka-mtls-bootstrap/internal/tlssecret"
)

const (
	DefaultNamespace    = "posthog"
	DefaultKafkaRelease = "kafka"
	DefaultSourceSecret = "kafka-0-tls"
	DefaultClientSecret = "kafka-client-tls"

	DefaultAppRelease  = "posthog"
	DefaultAppRepoName = "posthog"
	DefaultAppRepoURL  = "https://posthog.github.io/charts-clickhouse/"
	DefaultAppChart    = "posthog"

	DefaultHelmTimeout      = 15 * time.Minute
	DefaultNamespaceTimeout = 5 * time.Minute
	DefaultPodsReadyTimeout = 15 * time.Minute
	DefaultPollInterval     = 5 * time.Second
	DefaultLogTailLines     = 50
)

// DefaultAppValues is the values document of the application chart: external
// Kafka over mTLS with the client secret, bundled Kafka off, no persistence.
//
//go:embed values/posthog.yaml
var DefaultAppValues []byte

// Config holds every name, chart reference, timeout and selector of a run.
type Config struct {
	Namespace   string
	SkipCleanup bool

	KafkaRelease   string
	KafkaChart     helm.ChartSource
	KafkaValues    helm.KafkaValues
	KafkaSetValues []string

	SourceSecret     string
	ClientSecret     string
	SecretEncoding   tlssecret.Encoding
	ValidateMaterial bool

	AppRelease    string
	AppChart      helm.ChartSource
	AppValuesFile string
	AppSetValues  []string

	HelmTimeout      time.Duration
	NamespaceTimeout time.Duration
	PodsReadyTimeout time.Duration
	PollInterval     time.Duration
	PodSelector      string
	LogTailLines     int64

	// ProbeBrokers enables the Kafka mTLS probe when non-empty.
	ProbeBrokers    []string
	ProbeServerName string
	ProbeTimeout    time.Duration

	RunID string
}

// DefaultConfig returns the bitnami/kafka 16.2.10 plus PostHog scenario.
func DefaultConfig() Config {
	return Config{
		Namespace:    DefaultNamespace,
		KafkaRelease: DefaultKafkaRelease,
		KafkaChart: helm.ChartSource{
			RepoName: helm.DefaultKafkaRepoName,
			RepoURL:  helm.DefaultKafkaRepoURL,
			Chart:    helm.DefaultKafkaChart,
			Version:  helm.DefaultKafkaVersion,
		},
		KafkaValues:      *helm.DefaultKafkaValues(),
		SourceSecret:     DefaultSourceSecret,
		ClientSecret:     DefaultClientSecret,
		SecretEncoding:   tlssecret.EncodingBase64,
		ValidateMaterial: true,
		AppRelease:       DefaultAppRelease,
		AppChart: helm.ChartSource{
			RepoName: DefaultAppRepoName,
			RepoURL:  DefaultAppRepoURL,
			Chart:    DefaultAppChart,
		},
		HelmTimeout:      DefaultHelmTimeout,
		NamespaceTimeout: DefaultNamespaceTimeout,
		PodsReadyTimeout: DefaultPodsReadyTimeout,
		PollInterval:     DefaultPollInterval,
		LogTailLines:     DefaultLogTailLines,
	}
}

// ReleaseLabel is the label the application chart puts on its pods.
const ReleaseLabel = "release"

// EffectivePodSelector returns PodSelector, or the release label of the
// application chart when none is set.
func (c *Config) EffectivePodSelector() string {
	if c.PodSelector != "" {
		return c.PodSelector
	}

	return labels.SelectorFromSet(labels.Set{ReleaseLabel: c.AppRelease}).String()
}

// Validate checks names, chart references, selector and timeouts.
//
//nolint:wrapcheck,cyclop // errors.Newf creates new errors, flat list of checks
func (c *Config) Validate() error {
	for field, name := range map[string]string{
		"namespace":     c.Namespace,
		"kafka-release": c.KafkaRelease,
		"app-release":   c.AppRelease,
		"source-secret": c.SourceSecret,
		"client-secret": c.ClientSecret,
	} {
		if name == "" {
			return errors.Newf("%s must not be empty", field)
		}
	}

	if msgs := validation.IsDNS1123Label(c.Namespace); len(msgs) > 0 {
		return errors.Newf("invalid namespace %q: %v", c.Namespace, msgs)
	}

	for field, name := range map[string]string{"source-secret": c.SourceSecret, "client-secret": c.ClientSecret} {
		if msgs := validation.IsDNS1123Subdomain(name); len(msgs) > 0 {
			return errors.Newf("invalid %s %q: %v", field, name, msgs)
		}
	}

	if c.SourceSecret == c.ClientSecret {
		return errors.Newf("client-secret must differ from source-secret %q", c.SourceSecret)
	}

	for field, source := range map[string]helm.ChartSource{"kafka chart": c.KafkaChart, "app chart": c.AppChart} {
		if source.Chart == "" {
			return errors.Newf("%s must not be empty", field)
		}

		err := helm.ValidateVersion(source.Version)
		if err != nil {
			return errors.Wrap(err, field)
		}
	}

	_, err := tlssecret.ParseEncoding(c.SecretEncoding.String())
	if err != nil {
		return err
	}

	_, err = labels.Parse(c.PodSelector)
	if err != nil {
		return errors.Wrapf(err, "invalid pod selector %q", c.PodSelector)
	}

	for field, d := range map[string]time.Duration{
		"helm-timeout":       c.HelmTimeout,
		"namespace-timeout":  c.NamespaceTimeout,
		"pods-ready-timeout": c.PodsReadyTimeout,
		"poll-interval":      c.PollInterval,
	} {
		if d <= 0 {
			return errors.Newf("%s must be positive, got %s", field, d)
		}
	}

	if c.LogTailLines < 0 {
		return errors.Newf("log-tail-lines must not be negative, got %d", c.LogTailLines)
	}

	return nil
}
