// Package kube holds the Kubernetes plumbing of the bootstrap pipeline:
// namespace lifecycle, pod readiness polling and diagnostics.
package kube

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/kafka-mtls-bootstrap/internal/metrics"
)

// Clients bundles the typed controller-runtime client used for objects and the
// clientset used for subresources such as pod logs.
type Clients struct {
	Client    client.Client
	Clientset kubernetes.Interface
}

// NewScheme returns a scheme with the built-in Kubernetes types.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	return scheme
}

func NewClients(restConfig *rest.Config) (*Clients, error) {
	if restConfig == nil {
		return nil, errors.New("rest config is nil")
	}

	c, err := client.New(restConfig, client.Options{Scheme: NewScheme()})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kubernetes client")
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kubernetes clientset")
	}

	return &Clients{Client: c, Clientset: clientset}, nil
}

// Cluster runs namespace and pod operations against one cluster.
type Cluster struct {
	client    client.Client
	clientset kubernetes.Interface
	metrics   metrics.Collector
	logger    *slog.Logger
}

func NewCluster(clients *Clients, metricsCollector metrics.Collector, logger *slog.Logger) *Cluster {
	if metricsCollector == nil {
		metricsCollector = metrics.NewNoopCollector()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Cluster{
		client:    clients.Client,
		clientset: clients.Clientset,
		metrics:   metricsCollector,
		logger:    logger.With("component", "kube"),
	}
}
