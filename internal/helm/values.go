package helm

import (
	"os"

	"github.com/cockroachdb/errors"
	"helm.sh/helm/v4/pkg/strvals"
	"sigs.k8s.io/yaml"
)

// ParseValues decodes a YAML values document. An empty document yields an empty map.
func ParseValues(data []byte) (map[string]any, error) {
	values := map[string]any{}

	err := yaml.Unmarshal(data, &values)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse values document")
	}

	if values == nil {
		values = map[string]any{}
	}

	return values, nil
}

// ReadValuesFile reads and decodes a YAML values file.
func ReadValuesFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read values file %s", path)
	}

	values, err := ParseValues(data)
	if err != nil {
		return nil, errors.Wrapf(err, "values file %s", path)
	}

	return values, nil
}

// MergeValues deep-merges override into a copy of base. Nested maps are merged
// key by key, any other override value replaces the base value.
func MergeValues(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))

	for key, value := range base {
		out[key] = value
	}

	for key, value := range override {
		overrideMap, overrideIsMap := value.(map[string]any)
		baseMap, baseIsMap := out[key].(map[string]any)

		if overrideIsMap && baseIsMap {
			out[key] = MergeValues(baseMap, overrideMap)

			continue
		}

		out[key] = value
	}

	return out
}

// ApplyOverrides applies `--set` assignments to values in order, with the
// same parser the helm CLI uses: "a.b=1,c=true", "list[0]=x" and "a={x,y}".
func ApplyOverrides(values map[string]any, overrides []string) error {
	for _, override := range overrides {
		err := strvals.ParseInto(override, values)
		if err != nil {
			return errors.Wrapf(err, "invalid override %q", override)
		}
	}

	return nil
}
