package kube

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/kafka-mtls-bootstrap/internal/metrics"
)

const logFetchConcurrency = 4

// PodReadiness is the readiness of the pods observed by one poll.
type PodReadiness struct {
	Total   int
	Ready   int
	Pending []string
}

// AllReady reports whether at least one pod exists and every pod is ready.
func (r PodReadiness) AllReady() bool {
	return r.Total > 0 && r.Ready == r.Total
}

// IsPodReady reports whether a pod finished successfully or has the Ready condition.
func IsPodReady(pod *corev1.Pod) bool {
	if pod.Status.Phase == corev1.PodSucceeded {
		return true
	}

	for _, condition := range pod.Status.Conditions {
		if condition.Type == corev1.PodReady {
			return condition.Status == corev1.ConditionTrue
		}
	}

	return false
}

// Summarize counts ready pods. A Failed pod of a Job is left out once the
// Job has another attempt that has not failed. Pending pod names are sorted.
func Summarize(pods []corev1.Pod) PodReadiness {
	retried := make(map[types.UID]bool)

	for i := range pods {
		uid := jobOf(&pods[i])
		if uid != "" && pods[i].Status.Phase != corev1.PodFailed {
			retried[uid] = true
		}
	}

	var readiness PodReadiness

	for i := range pods {
		pod := &pods[i]

		if pod.Status.Phase == corev1.PodFailed && retried[jobOf(pod)] {
			continue
		}

		readiness.Total++

		if IsPodReady(pod) {
			readiness.Ready++

			continue
		}

		readiness.Pending = append(readiness.Pending, pod.Name)
	}

	sort.Strings(readiness.Pending)

	return readiness
}

// jobOf returns the UID of the Job controlling pod, or an empty UID.
func jobOf(pod *corev1.Pod) types.UID {
	owner := metav1.GetControllerOf(pod)
	if owner == nil || owner.Kind != "Job" {
		return ""
	}

	return owner.UID
}

// ListPods lists pods in namespace matching the label selector. An empty
// selector matches every pod.
func (c *Cluster) ListPods(ctx context.Context, namespace, selector string) ([]corev1.Pod, error) {
	parsed, err := labels.Parse(selector)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid label selector %q", selector)
	}

	podList := &corev1.PodList{}

	err = c.client.List(ctx, podList, client.InNamespace(namespace), client.MatchingLabelsSelector{Selector: parsed})
	if err != nil {
		c.metrics.RecordKubeError(ctx, "list_pods", metrics.ClassifyKubeError(err))

		return nil, errors.Wrapf(err, "failed to list pods in %s", namespace)
	}

	return podList.Items, nil
}

// WaitForPodsReady polls until every selected pod is ready or timeout elapses.
// List failures during the wait are retried. The last observed readiness is
// returned in both cases.
func (c *Cluster) WaitForPodsReady(
	ctx context.Context,
	namespace, selector string,
	timeout, interval time.Duration,
) (PodReadiness, error) {
	_, err := labels.Parse(selector)
	if err != nil {
		return PodReadiness{}, errors.Wrapf(err, "invalid label selector %q", selector)
	}

	var (
		last    PodReadiness
		lastErr error
	)

	c.logger.Info("waiting for pods", "namespace", namespace, "selector", selector, "timeout", timeout)

	err = wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		pods, listErr := c.ListPods(ctx, namespace, selector)
		if listErr != nil {
			lastErr = listErr
			c.logger.Warn("pod list failed, retrying", "namespace", namespace, "error", listErr)

			return false, nil
		}

		lastErr = nil
		current := Summarize(pods)
		c.metrics.RecordPodsReady(ctx, namespace, current.Ready, current.Total)

		if current.Ready != last.Ready || current.Total != last.Total {
			c.logger.Info("pod readiness",
				"namespace", namespace,
				"ready", current.Ready,
				"total", current.Total,
			)
		}

		last = current

		return current.AllReady(), nil
	})
	if err != nil {
		if lastErr != nil {
			return last, errors.Wrapf(lastErr, "pods in %s not ready after %s", namespace, timeout)
		}

		if last.Total == 0 {
			return last, errors.Wrapf(err, "no pods in %s matching %q after %s", namespace, selector, timeout)
		}

		return last, errors.Wrapf(err, "pods in %s not ready after %s (%d/%d ready, pending: %s)",
			namespace, timeout, last.Ready, last.Total, strings.Join(last.Pending, ", "))
	}

	return last, nil
}

// DumpPodLogs fetches the log tail of every container of the named pods.
func (c *Cluster) DumpPodLogs(ctx context.Context, namespace string, names []string, tailLines int64) (map[string]string, error) {
	pods, err := c.ListPods(ctx, namespace, "")
	if err != nil {
		return nil, err
	}

	selected := make([]corev1.Pod, 0, len(names))

	for i := range pods {
		if slices.Contains(names, pods[i].Name) {
			selected = append(selected, pods[i])
		}
	}

	return DumpPodLogs(ctx, c.clientset, selected, tailLines)
}

// DumpPodLogs fetches the last tailLines of each container log concurrently.
// Results are keyed by "pod/container". A failed fetch stores the error text
// instead of failing the dump.
func DumpPodLogs(
	ctx context.Context,
	clientset kubernetes.Interface,
	pods []corev1.Pod,
	tailLines int64,
) (map[string]string, error) {
	var mu sync.Mutex

	logs := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(logFetchConcurrency)

	for i := range pods {
		pod := pods[i]

		for _, container := range pod.Spec.Containers {
			g.Go(func() error {
				req := clientset.CoreV1().Pods(pod.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
					Container: container.Name,
					TailLines: ptr.To(tailLines),
				})

				raw, fetchErr := req.DoRaw(gctx)

				text := string(raw)
				if fetchErr != nil {
					text = "failed to fetch logs: " + fetchErr.Error()
				}

				mu.Lock()
				logs[pod.Name+"/"+container.Name] = text
				mu.Unlock()

				return gctx.Err()
			})
		}
	}

	err := g.Wait()
	if err != nil {
		return logs, errors.Wrap(err, "pod log dump interrupted")
	}

	return logs, nil
}
