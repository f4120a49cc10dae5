package helm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKafkaValues_BuildValues(t *testing.T) {
	t.Parallel()

	result := DefaultKafkaValues().BuildValues()

	require.NotNil(t, result)

	assert.Equal(t, 1, result["replicaCount"])

	zookeeper, ok := result["zookeeper"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, zookeeper["enabled"])

	auth, ok := result["auth"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mtls", auth["clientProtocol"])

	tls, ok := auth["tls"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, tls["autoGenerated"])
	assert.Equal(t, "pem", tls["type"])
}

func TestKafkaValues_BuildValues_OmitsEmptyStrings(t *testing.T) {
	t.Parallel()

	values := &KafkaValues{
		ReplicaCount:     3,
		ZookeeperEnabled: false,
	}

	result := values.BuildValues()

	assert.Equal(t, 3, result["replicaCount"])

	auth, ok := result["auth"].(map[string]any)
	require.True(t, ok)

	_, hasProtocol := auth["clientProtocol"]
	assert.False(t, hasProtocol)

	tls, ok := auth["tls"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, tls["autoGenerated"])

	_, hasType := tls["type"]
	assert.False(t, hasType)
}

func TestKafkaValues_BuildValues_AcceptsOverrides(t *testing.T) {
	t.Parallel()

	result := DefaultKafkaValues().BuildValues()

	err := ApplyOverrides(result, []string{"auth.tls.type=jks", "replicaCount=3"})
	require.NoError(t, err)

	auth := result["auth"].(map[string]any)
	tls := auth["tls"].(map[string]any)

	assert.Equal(t, "jks", tls["type"])
	assert.Equal(t, true, tls["autoGenerated"])
	assert.Equal(t, int64(3), result["replicaCount"])
}

func TestDefaultKafkaChartConstants(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bitnami", DefaultKafkaRepoName)
	assert.Equal(t, "https://charts.bitnami.com/bitnami", DefaultKafkaRepoURL)
	assert.Equal(t, "kafka", DefaultKafkaChart)
	assert.NoError(t, ValidateVersion(DefaultKafkaVersion))
}
