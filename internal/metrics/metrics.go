// Package metrics defines the optional metrics sink a MembershipService
// reports to, plus a statsd-backed implementation.
package metrics

import "time"

// Metrics is the sink MembershipService reports committed view changes to
// (a view_change counter and a members gauge); join and probe activity is
// not reported. It is optional; a nil Metrics disables reporting.
type Metrics interface {
	Increment(metric string)
	Duration(metric string, d time.Duration)
	Gauge(metric string, value int)
}
