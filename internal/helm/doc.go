// Package helm provides Helm SDK integration for installing the Kafka and
// application charts.
//
// # Overview
//
// The Manager wraps the Helm SDK the way the helm CLI is used in a scripted
// install:
//
//   - Chart acquisition from a classic repository, an OCI registry or a local path
//   - Chart version validation and, for OCI charts, latest stable discovery
//   - `helm upgrade --install --wait` semantics via UpgradeInstall
//   - Release uninstall for namespace cleanup
//
// # Chart Sources
//
// A ChartSource with RepoURL set mirrors `helm repo add` plus a `<repo>/<chart>`
// reference; the index is resolved at pull time and no repositories.yaml is
// written. Pulled archives are loaded into memory and cached per reference
// and version, so repeated installs of the same chart download it once.
//
// # Values
//
// KafkaValues builds the values of the bitnami/kafka chart with mutual TLS and
// chart-generated PEM certificates. ParseValues, MergeValues and ApplyOverrides
// cover values files and `--set` style overrides.
//
// # Thread Safety
//
// The Manager uses internal locking for chart cache access and is safe
// for concurrent use from multiple goroutines.
package helm
