package tlssecret

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/cockroachdb/errors"
)

// Encoding controls how material bytes are stored in the derived secret.
type Encoding string

const (
	// EncodingBase64 stores the base64 text of the material, the result of
	// `kubectl create secret generic --from-literal` fed with secret data as
	// printed by `kubectl get -o jsonpath`.
	EncodingBase64 Encoding = "base64"
	// EncodingRaw stores the material bytes unchanged.
	EncodingRaw Encoding = "raw"
)

// ParseEncoding parses an encoding name. An empty name selects EncodingBase64.
//
//nolint:wrapcheck // errors.Newf creates new errors
func ParseEncoding(name string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(name))) {
	case "", EncodingBase64:
		return EncodingBase64, nil
	case EncodingRaw:
		return EncodingRaw, nil
	default:
		return "", errors.Newf("unknown secret encoding %q (expected %s or %s)", name, EncodingBase64, EncodingRaw)
	}
}

func (e Encoding) String() string {
	return string(e)
}

// Encode converts material bytes into the stored representation.
func (e Encoding) Encode(data []byte) []byte {
	if e == EncodingRaw {
		return bytes.Clone(data)
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(out, data)

	return out
}

// Decode reverses Encode.
func (e Encoding) Decode(data []byte) ([]byte, error) {
	if e == EncodingRaw {
		return bytes.Clone(data), nil
	}

	out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))

	n, err := base64.StdEncoding.Decode(out, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode base64 value")
	}

	return out[:n], nil
}
