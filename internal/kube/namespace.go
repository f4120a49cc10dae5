package kube

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/kafka-mtls-bootstrap/internal/metrics"
)

// EnsureNamespace creates the namespace when it does not exist. It reports
// whether the namespace was created.
func (c *Cluster) EnsureNamespace(ctx context.Context, name string, labels map[string]string) (bool, error) {
	existing := &corev1.Namespace{}

	err := c.client.Get(ctx, types.NamespacedName{Name: name}, existing)
	if err == nil {
		if existing.Status.Phase == corev1.NamespaceTerminating {
			return false, errors.Newf("namespace %s is terminating", name)
		}

		return false, nil
	}

	if !apierrors.IsNotFound(err) {
		c.metrics.RecordKubeError(ctx, "get_namespace", metrics.ClassifyKubeError(err))

		return false, errors.Wrapf(err, "failed to get namespace %s", name)
	}

	namespace := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: labels,
		},
	}

	err = c.client.Create(ctx, namespace)
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return false, nil
		}

		c.metrics.RecordKubeError(ctx, "create_namespace", metrics.ClassifyKubeError(err))

		return false, errors.Wrapf(err, "failed to create namespace %s", name)
	}

	c.logger.Info("namespace created", "namespace", name)

	return true, nil
}

// DeleteNamespace deletes the namespace and waits until it is gone. A missing
// namespace is not an error.
func (c *Cluster) DeleteNamespace(ctx context.Context, name string, timeout, interval time.Duration) error {
	namespace := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}

	err := c.client.Delete(ctx, namespace, client.PropagationPolicy(metav1.DeletePropagationForeground))
	if apierrors.IsNotFound(err) {
		c.logger.Debug("namespace already absent", "namespace", name)

		return nil
	}

	if err != nil {
		c.metrics.RecordKubeError(ctx, "delete_namespace", metrics.ClassifyKubeError(err))

		return errors.Wrapf(err, "failed to delete namespace %s", name)
	}

	c.logger.Info("waiting for namespace deletion", "namespace", name, "timeout", timeout)

	err = wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		getErr := c.client.Get(ctx, types.NamespacedName{Name: name}, &corev1.Namespace{})
		if apierrors.IsNotFound(getErr) {
			return true, nil
		}

		if getErr != nil {
			c.logger.Debug("namespace poll failed", "namespace", name, "error", getErr)
		}

		return false, nil
	})
	if err != nil {
		return errors.Wrapf(err, "namespace %s still present after %s", name, timeout)
	}

	c.logger.Info("namespace deleted", "namespace", name)

	return nil
}
