// Package tlssecret reads the TLS material generated by the Kafka chart and
// republishes it under the secret name the application chart expects.
package tlssecret

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/cockroachdb/errors"
)

// Secret data keys shared by the source and the derived secret.
const (
	KeyCACert = "ca.crt"
	KeyCert   = "tls.crt"
	KeyKey    = "tls.key"
)

// ErrIncompleteMaterial is returned when a required key is missing or empty.
var ErrIncompleteMaterial = errors.New("incomplete TLS material")

// Keys lists the data keys of a client TLS secret in a stable order.
func Keys() []string {
	return []string{KeyCACert, KeyCert, KeyKey}
}

// Material is the PEM encoded CA certificate, client certificate and private key.
type Material struct {
	CACert []byte
	Cert   []byte
	Key    []byte
}

// MaterialFromData extracts the three keys from secret data. Every key must be
// present and non-empty.
func MaterialFromData(data map[string][]byte) (*Material, error) {
	for _, key := range Keys() {
		if len(data[key]) == 0 {
			return nil, errors.Wrapf(ErrIncompleteMaterial, "key %s is missing or empty", key)
		}
	}

	return &Material{
		CACert: data[KeyCACert],
		Cert:   data[KeyCert],
		Key:    data[KeyKey],
	}, nil
}

// Data returns the material keyed by secret data key.
func (m *Material) Data() map[string][]byte {
	return map[string][]byte{
		KeyCACert: m.CACert,
		KeyCert:   m.Cert,
		KeyKey:    m.Key,
	}
}

// Validate checks that the CA bundle parses and the certificate matches the key.
func (m *Material) Validate() error {
	_, err := m.certPool()
	if err != nil {
		return err
	}

	_, err = tls.X509KeyPair(m.Cert, m.Key)
	if err != nil {
		return errors.Wrap(err, "invalid certificate/key pair")
	}

	return nil
}

// ClientTLSConfig builds a client configuration presenting the certificate and
// trusting only the CA. An empty serverName keeps the dial host as server name.
func (m *Material) ClientTLSConfig(serverName string) (*tls.Config, error) {
	pool, err := m.certPool()
	if err != nil {
		return nil, err
	}

	pair, err := tls.X509KeyPair(m.Cert, m.Key)
	if err != nil {
		return nil, errors.Wrap(err, "invalid certificate/key pair")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

//nolint:wrapcheck // errors.New creates new errors
func (m *Material) certPool() (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(m.CACert) {
		return nil, errors.New("CA bundle contains no valid PEM certificate")
	}

	return pool, nil
}
