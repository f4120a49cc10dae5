package helm

const (
	DefaultKafkaRepoName = "bitnami"
	DefaultKafkaRepoURL  = "https://charts.bitnami.com/bitnami"
	DefaultKafkaChart    = "kafka"
	DefaultKafkaVersion  = "16.2.10"
)

// KafkaValues holds configuration for the bitnami/kafka Helm chart.
type KafkaValues struct {
	ReplicaCount     int
	ZookeeperEnabled bool
	ClientProtocol   string
	TLSAutoGenerated bool
	TLSType          string
}

// DefaultKafkaValues returns a single broker with ZooKeeper, requiring client
// certificates and letting the chart generate its own CA and PEM certificates.
func DefaultKafkaValues() *KafkaValues {
	return &KafkaValues{
		ReplicaCount:     1,
		ZookeeperEnabled: true,
		ClientProtocol:   "mtls",
		TLSAutoGenerated: true,
		TLSType:          "pem",
	}
}

// BuildValues converts KafkaValues to Helm values map.
func (v *KafkaValues) BuildValues() map[string]any {
	tls := map[string]any{
		"autoGenerated": v.TLSAutoGenerated,
	}

	if v.TLSType != "" {
		tls["type"] = v.TLSType
	}

	auth := map[string]any{
		"tls": tls,
	}

	if v.ClientProtocol != "" {
		auth["clientProtocol"] = v.ClientProtocol
	}

	return map[string]any{
		"replicaCount": v.ReplicaCount,
		"zookeeper": map[string]any{
			"enabled": v.ZookeeperEnabled,
		},
		"auth": auth,
	}
}
