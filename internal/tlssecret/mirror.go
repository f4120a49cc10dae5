package tlssecret

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/kafka-mtls-bootstrap/internal/metrics"
)

const (
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelComponent = "app.kubernetes.io/component"

	ManagedByValue = "kafka-mtls-bootstrap"
	ComponentValue = "kafka-client-tls"

	AnnotationRunID  = "kafka-mtls.lex.la/run-id"
	AnnotationSource = "kafka-mtls.lex.la/source"
)

// Publish outcomes recorded in metrics.
const (
	StatusCreated = "created"
	StatusUpdated = "updated"
	StatusError   = "error"
)

// ErrMismatch is returned by Verify when the derived secret differs from the source.
var ErrMismatch = errors.New("derived secret does not match source")

// Request describes one source to target copy.
type Request struct {
	Source   types.NamespacedName
	Target   types.NamespacedName
	Encoding Encoding
	// Validate parses the material before publishing it.
	Validate bool
	RunID    string
}

// Mirror copies TLS material between secrets.
type Mirror struct {
	client  client.Client
	metrics metrics.Collector
	logger  *slog.Logger
}

func NewMirror(c client.Client, metricsCollector metrics.Collector, logger *slog.Logger) *Mirror {
	if metricsCollector == nil {
		metricsCollector = metrics.NewNoopCollector()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Mirror{
		client:  c,
		metrics: metricsCollector,
		logger:  logger.With("component", "tls-mirror"),
	}
}

// Load reads the source secret and extracts its material.
func (m *Mirror) Load(ctx context.Context, ref types.NamespacedName) (*Material, error) {
	secret, err := m.getSecret(ctx, ref)
	if err != nil {
		return nil, err
	}

	material, err := MaterialFromData(secret.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "secret %s", ref)
	}

	return material, nil
}

// LoadDerived reads a published client secret and decodes its values with
// encoding, yielding the material a client mounting that secret would use.
func (m *Mirror) LoadDerived(ctx context.Context, ref types.NamespacedName, encoding Encoding) (*Material, error) {
	secret, err := m.getSecret(ctx, ref)
	if err != nil {
		return nil, err
	}

	decoded := make(map[string][]byte, len(Keys()))

	for _, key := range Keys() {
		value, ok := secret.Data[key]
		if !ok {
			continue
		}

		plain, decodeErr := encoding.Decode(value)
		if decodeErr != nil {
			return nil, errors.Wrapf(decodeErr, "secret %s: key %s", ref, key)
		}

		decoded[key] = plain
	}

	material, err := MaterialFromData(decoded)
	if err != nil {
		return nil, errors.Wrapf(err, "secret %s", ref)
	}

	return material, nil
}

// BuildSecret renders the derived secret for material.
func BuildSecret(
	target types.NamespacedName,
	material *Material,
	encoding Encoding,
	runID string,
	source types.NamespacedName,
) *corev1.Secret {
	data := make(map[string][]byte, len(Keys()))
	for key, value := range material.Data() {
		data[key] = encoding.Encode(value)
	}

	annotations := map[string]string{
		AnnotationSource: source.String(),
	}

	if runID != "" {
		annotations[AnnotationRunID] = runID
	}

	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      target.Name,
			Namespace: target.Namespace,
			Labels: map[string]string{
				LabelManagedBy: ManagedByValue,
				LabelComponent: ComponentValue,
			},
			Annotations: annotations,
		},
		Type: corev1.SecretTypeOpaque,
		Data: data,
	}
}

// Publish creates the secret, or replaces the data of an existing one.
func (m *Mirror) Publish(ctx context.Context, secret *corev1.Secret) error {
	err := m.client.Create(ctx, secret)
	if err == nil {
		m.metrics.RecordSecretMirror(ctx, StatusCreated)
		m.logger.Info("client TLS secret created", "namespace", secret.Namespace, "name", secret.Name)

		return nil
	}

	if !apierrors.IsAlreadyExists(err) {
		m.recordPublishError(ctx, "create_secret", err)

		return errors.Wrapf(err, "failed to create secret %s/%s", secret.Namespace, secret.Name)
	}

	existing := &corev1.Secret{}

	err = m.client.Get(ctx, client.ObjectKeyFromObject(secret), existing)
	if err != nil {
		m.recordPublishError(ctx, "get_secret", err)

		return errors.Wrapf(err, "failed to get existing secret %s/%s", secret.Namespace, secret.Name)
	}

	existing.Data = secret.Data
	existing.StringData = nil
	existing.Labels = mergeStrings(existing.Labels, secret.Labels)
	existing.Annotations = mergeStrings(existing.Annotations, secret.Annotations)

	err = m.client.Update(ctx, existing)
	if err != nil {
		m.recordPublishError(ctx, "update_secret", err)

		return errors.Wrapf(err, "failed to update secret %s/%s", secret.Namespace, secret.Name)
	}

	m.metrics.RecordSecretMirror(ctx, StatusUpdated)
	m.logger.Info("client TLS secret updated", "namespace", secret.Namespace, "name", secret.Name)

	return nil
}

// Copy loads the source material and publishes the derived secret.
func (m *Mirror) Copy(ctx context.Context, req Request) (*corev1.Secret, error) {
	material, err := m.Load(ctx, req.Source)
	if err != nil {
		return nil, err
	}

	if req.Validate {
		err = material.Validate()
		if err != nil {
			return nil, errors.Wrapf(err, "secret %s holds unusable TLS material", req.Source)
		}
	}

	secret := BuildSecret(req.Target, material, req.Encoding, req.RunID, req.Source)

	err = m.Publish(ctx, secret)
	if err != nil {
		return nil, err
	}

	return secret, nil
}

// Verify checks that the target secret holds exactly the TLS keys, that none
// is empty and that each decodes to the source value.
//
//nolint:wrapcheck // errors.Wrapf with sentinel
func (m *Mirror) Verify(ctx context.Context, req Request) error {
	source, err := m.Load(ctx, req.Source)
	if err != nil {
		return err
	}

	derived, err := m.getSecret(ctx, req.Target)
	if err != nil {
		return err
	}

	if len(derived.Data) != len(Keys()) {
		return errors.Wrapf(ErrMismatch, "secret %s has %d keys, expected %d",
			req.Target, len(derived.Data), len(Keys()))
	}

	sourceData := source.Data()

	for _, key := range Keys() {
		value := derived.Data[key]
		if len(value) == 0 {
			return errors.Wrapf(ErrIncompleteMaterial, "secret %s: key %s is missing or empty", req.Target, key)
		}

		decoded, decodeErr := req.Encoding.Decode(value)
		if decodeErr != nil {
			return errors.Wrapf(decodeErr, "secret %s: key %s", req.Target, key)
		}

		if !bytes.Equal(decoded, sourceData[key]) {
			return errors.Wrapf(ErrMismatch, "secret %s: key %s differs from %s", req.Target, key, req.Source)
		}
	}

	return nil
}

func (m *Mirror) getSecret(ctx context.Context, ref types.NamespacedName) (*corev1.Secret, error) {
	secret := &corev1.Secret{}

	err := m.client.Get(ctx, ref, secret)
	if err != nil {
		m.metrics.RecordKubeError(ctx, "get_secret", metrics.ClassifyKubeError(err))

		return nil, errors.Wrapf(err, "failed to get secret %s", ref)
	}

	return secret, nil
}

func (m *Mirror) recordPublishError(ctx context.Context, operation string, err error) {
	m.metrics.RecordSecretMirror(ctx, StatusError)
	m.metrics.RecordKubeError(ctx, operation, metrics.ClassifyKubeError(err))
}

func mergeStrings(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))

	for key, value := range base {
		out[key] = value
	}

	for key, value := range override {
		out[key] = value
	}

	return out
}
