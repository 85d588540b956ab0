// Package pingpong is the default LinkFailureDetector: it flags a subject
// failed after a run of consecutive unanswered probes.
package pingpong

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/rapidring/internal/detector"
	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/wire"
)

const defaultFailureThreshold = 5

var _ detector.Detector = (*Detector)(nil)

type entry struct {
	missed int
	seq    uint64
}

// Detector is a consecutive-miss counter per subject.
type Detector struct {
	self             endpoint.Endpoint
	failureThreshold int

	mu      sync.Mutex
	entries map[endpoint.Endpoint]*entry
}

// Option configures a Detector at construction time.
type Option func(*Detector)

// WithFailureThreshold overrides the default of 5 consecutive misses.
func WithFailureThreshold(n int) Option {
	return func(d *Detector) { d.failureThreshold = n }
}

// New builds a ping-pong detector that reports probes as self.
func New(self endpoint.Endpoint, opts ...Option) *Detector {
	d := &Detector{
		self:             self,
		failureThreshold: defaultFailureThreshold,
		entries:          make(map[endpoint.Endpoint]*entry),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) CreateProbe(subject endpoint.Endpoint) wire.ProbeMessage {
	d.mu.Lock()
	e := d.entries[subject]
	if e == nil {
		e = &entry{}
		d.entries[subject] = e
	}
	e.seq++
	seq := e.seq
	d.mu.Unlock()
	return wire.ProbeMessage{Sender: d.self, Subject: subject, Seq: seq}
}

func (d *Detector) HandleProbeMessage(_ context.Context, msg wire.ProbeMessage) (wire.ProbeResponse, error) {
	return wire.ProbeResponse{Sender: d.self, Seq: msg.Seq}, nil
}

func (d *Detector) OnProbeSuccess(_ wire.ProbeResponse, subject endpoint.Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[subject]; ok {
		e.missed = 0
	}
}

func (d *Detector) OnProbeFailure(err error, subject endpoint.Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.entries[subject]
	if e == nil {
		e = &entry{}
		d.entries[subject] = e
	}
	e.missed++
	log.Debug().Err(err).Msgf("pingpong: missed probe to %s (%d/%d)", subject, e.missed, d.failureThreshold)
}

func (d *Detector) HasFailed(subject endpoint.Endpoint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.entries[subject]
	return e != nil && e.missed >= d.failureThreshold
}

func (d *Detector) OnMembershipChange(subjects []endpoint.Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fresh := make(map[endpoint.Endpoint]*entry, len(subjects))
	for _, s := range subjects {
		if e, ok := d.entries[s]; ok {
			fresh[s] = e
		} else {
			fresh[s] = &entry{}
		}
	}
	d.entries = fresh
}
