package metrics

import (
	"time"

	statsd "github.com/smira/go-statsd"
)

// Statsd reports to a statsd collector, tagged with the reporting node's
// endpoint.
type Statsd struct {
	client *statsd.Client
}

var _ Metrics = (*Statsd)(nil)

// NewStatsd builds a Statsd sink pointed at addr ("host:port"), tagging
// every metric with node.
func NewStatsd(node, prefix, addr string) *Statsd {
	client := statsd.NewClient(
		addr,
		statsd.MetricPrefix(prefix),
		statsd.DefaultTags(statsd.StringTag("node", node)),
	)
	return &Statsd{client: client}
}

func (s *Statsd) Increment(metric string) { s.client.Incr(metric, 1) }

func (s *Statsd) Duration(metric string, d time.Duration) {
	s.client.PrecisionTiming(metric, d)
}

func (s *Statsd) Gauge(metric string, value int) { s.client.Gauge(metric, int64(value)) }

// Close releases the underlying statsd client's resources.
func (s *Statsd) Close() error { return s.client.Close() }
