// Package kafkaprobe checks that Kafka accepts a client certificate over mutual TLS.
package kafkaprobe

import (
	"context"
	"crypto/tls"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// DefaultTimeout bounds the whole probe.
const DefaultTimeout = 30 * time.Second

// ErrNoBrokers is returned when no seed broker is configured.
var ErrNoBrokers = errors.New("no seed brokers configured")

// Options configures a probe.
type Options struct {
	Brokers []string
	TLS     *tls.Config
	Timeout time.Duration
}

// Result describes the cluster as seen by the probe.
type Result struct {
	// Brokers lists the advertised broker addresses, sorted.
	Brokers  []string
	Duration time.Duration
}

// Probe connects to the seed brokers with the client certificate, pings the
// cluster and fetches its broker list.
//
//nolint:wrapcheck // sentinel errors
func Probe(ctx context.Context, opts Options) (*Result, error) {
	if len(opts.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	if opts.TLS == nil {
		return nil, errors.New("TLS configuration is required for an mTLS probe")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(opts.Brokers...),
		kgo.DialTLSConfig(opts.TLS.Clone()),
		kgo.DialTimeout(timeout),
		kgo.RequestRetries(1),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kafka client")
	}
	defer client.Close()

	err = client.Ping(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reach kafka at %v", opts.Brokers)
	}

	metadata, err := kmsg.NewPtrMetadataRequest().RequestWith(ctx, client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch cluster metadata")
	}

	return &Result{
		Brokers:  brokerAddresses(metadata),
		Duration: time.Since(start),
	}, nil
}

func brokerAddresses(metadata *kmsg.MetadataResponse) []string {
	addresses := make([]string, 0, len(metadata.Brokers))

	for _, broker := range metadata.Brokers {
		addresses = append(addresses, net.JoinHostPort(broker.Host, strconv.Itoa(int(broker.Port))))
	}

	sort.Strings(addresses)

	return addresses
}
