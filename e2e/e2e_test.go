//go:build e2e

package e2e

import (
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs the scenarios against the cluster of the current
// kubeconfig, or against a throwaway k3s container when KMTLS_E2E_K3S=true.
func TestFeatures(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e scenarios in short mode")
	}

	suite := godog.TestSuite{
		Name:                 "kafka-mtls-bootstrap-e2e",
		TestSuiteInitializer: InitializeTestSuite,
		ScenarioInitializer:  InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
