// Package service implements MembershipService: the per-node state machine
// that turns inbound join/link-update/probe traffic into committed view
// changes and fires subscriber callbacks when they happen.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sh00ty/rapidring/internal/broadcaster"
	"github.com/Sh00ty/rapidring/internal/configuration"
	"github.com/Sh00ty/rapidring/internal/detector"
	"github.com/Sh00ty/rapidring/internal/detectorrunner"
	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/membership"
	"github.com/Sh00ty/rapidring/internal/metrics"
	"github.com/Sh00ty/rapidring/internal/transport"
	"github.com/Sh00ty/rapidring/internal/watermark"
	"github.com/Sh00ty/rapidring/internal/wire"
)

// ErrShutdown is returned by every inbound handler once Shutdown has been
// called: the node has torn down and callers should not retry against it.
var ErrShutdown = errors.New("service: shutting down")

// NodeStatusChange pairs an endpoint with the join/leave status a
// committed batch assigned it and, for joins, the metadata it joined with.
type NodeStatusChange struct {
	Endpoint endpoint.Endpoint
	Status   wire.LinkStatus
	NodeID   endpoint.NodeID
	Metadata map[string]string
}

// ViewChangeEvent is delivered to ViewChange subscribers after a commit.
type ViewChangeEvent struct {
	ConfigurationID configuration.ID
	Members         []endpoint.Endpoint
	Changes         []NodeStatusChange
}

// EventKind identifies which subscriber registry RegisterSubscription adds
// a callback to.
type EventKind int

const (
	EventViewChangeProposal EventKind = iota
	EventViewChange
	EventNodeAdded
	EventNodeRemoved
)

// ProposalLogEntry is one retained batch, kept only when LogProposals is
// enabled on construction.
type ProposalLogEntry struct {
	ConfigurationID configuration.ID
	Batch           []endpoint.Endpoint
}

const maxProposalLog = 128

type linkUpdateKey struct {
	observer endpoint.Endpoint
	subject  endpoint.Endpoint
	ring     int
	configID configuration.ID
}

// Config bundles everything MembershipService needs at construction.
type Config struct {
	Self                endpoint.Endpoint
	K, H, L             int
	Metadata            map[string]string
	LogProposals        bool
	LinkFailureDetector detector.Detector
	Broadcaster         broadcaster.Broadcaster
	Transport           transport.Client
	ProbePeriod         time.Duration
	ProbeTimeout        time.Duration
	Metrics             metrics.Metrics
}

// Service is a single node's membership state machine.
type Service struct {
	self     endpoint.Endpoint
	metadata map[string]string

	mu          sync.Mutex
	closed      bool
	view        *membership.View
	buffer      *watermark.Buffer
	seenUpdates map[linkUpdateKey]struct{}

	pendingJoinIDs     map[endpoint.Endpoint]endpoint.NodeID
	pendingJoinMeta    map[endpoint.Endpoint]map[string]string
	pendingJoinWaiters map[endpoint.Endpoint][]chan wire.JoinResponse

	subsProposal    []func([]endpoint.Endpoint)
	subsViewChange  []func(ViewChangeEvent)
	subsNodeAdded   []func([]NodeStatusChange)
	subsNodeRemoved []func([]NodeStatusChange)

	logProposals bool
	proposalLog  []ProposalLogEntry

	detector    detector.Detector
	runner      *detectorrunner.Runner
	broadcaster broadcaster.Broadcaster
	transport   transport.Client
	metrics     metrics.Metrics
}

var _ transport.Server = (*Service)(nil)

// New builds a Service bound to an already-constructed view (a
// single-member bootstrap view for Start, or a just-committed view for a
// node that has just joined via Join).
func New(cfg Config, view *membership.View) (*Service, error) {
	buf, err := watermark.New(watermark.Config{K: cfg.K, H: cfg.H, L: cfg.L})
	if err != nil {
		return nil, err
	}

	runner := detectorrunner.New(cfg.LinkFailureDetector, cfg.Transport, cfg.ProbePeriod, cfg.ProbeTimeout)

	s := &Service{
		self:               cfg.Self,
		metadata:           cfg.Metadata,
		view:               view,
		buffer:             buf,
		seenUpdates:        make(map[linkUpdateKey]struct{}),
		pendingJoinIDs:     make(map[endpoint.Endpoint]endpoint.NodeID),
		pendingJoinMeta:    make(map[endpoint.Endpoint]map[string]string),
		pendingJoinWaiters: make(map[endpoint.Endpoint][]chan wire.JoinResponse),
		logProposals:       cfg.LogProposals,
		detector:           cfg.LinkFailureDetector,
		runner:             runner,
		broadcaster:        cfg.Broadcaster,
		transport:          cfg.Transport,
		metrics:            cfg.Metrics,
	}

	runner.RegisterLinkFailedSubscription(s.onLinkFailed)
	runner.UpdateSubjects(view.SubjectsOf(cfg.Self))
	cfg.Broadcaster.UpdateMembership(view.Members())
	return s, nil
}

// Run drives the node's failure detector until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.runner.Run(ctx)
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shutdown marks the service closed and releases every pending join
// waiter with ErrShutdown.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	waiters := s.pendingJoinWaiters
	s.pendingJoinWaiters = nil
	s.mu.Unlock()

	for _, chans := range waiters {
		for _, ch := range chans {
			close(ch)
		}
	}
}

// MemberList returns the current member set.
func (s *Service) MemberList() []endpoint.Endpoint {
	return s.view.Members()
}

// ConfigurationID returns the current view's configuration id.
func (s *Service) ConfigurationID() configuration.ID {
	return s.view.ConfigurationID()
}

// ProposalLog returns every retained batch, oldest first. Empty unless
// LogProposals was enabled on construction.
func (s *Service) ProposalLog() []ProposalLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProposalLogEntry{}, s.proposalLog...)
}

// RegisterSubscription adds callback to the registry for kind. callback
// must be func([]endpoint.Endpoint) for EventViewChangeProposal,
// func(ViewChangeEvent) for EventViewChange, and func([]NodeStatusChange)
// for EventNodeAdded and EventNodeRemoved; a mismatch is reported as an
// error rather than panicking.
func (s *Service) RegisterSubscription(kind EventKind, callback any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case EventViewChangeProposal:
		cb, ok := callback.(func([]endpoint.Endpoint))
		if !ok {
			return fmt.Errorf("service: ViewChangeProposal callback must be func([]endpoint.Endpoint)")
		}
		s.subsProposal = append(s.subsProposal, cb)
	case EventViewChange:
		cb, ok := callback.(func(ViewChangeEvent))
		if !ok {
			return fmt.Errorf("service: ViewChange callback must be func(ViewChangeEvent)")
		}
		s.subsViewChange = append(s.subsViewChange, cb)
	case EventNodeAdded:
		cb, ok := callback.(func([]NodeStatusChange))
		if !ok {
			return fmt.Errorf("service: NodeAdded callback must be func([]NodeStatusChange)")
		}
		s.subsNodeAdded = append(s.subsNodeAdded, cb)
	case EventNodeRemoved:
		cb, ok := callback.(func([]NodeStatusChange))
		if !ok {
			return fmt.Errorf("service: NodeRemoved callback must be func([]NodeStatusChange)")
		}
		s.subsNodeRemoved = append(s.subsNodeRemoved, cb)
	default:
		return fmt.Errorf("service: unknown event kind %v", kind)
	}
	return nil
}

func (s *Service) fireProposal(batch []endpoint.Endpoint) {
	s.mu.Lock()
	subs := append([]func([]endpoint.Endpoint){}, s.subsProposal...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(batch)
	}
}
