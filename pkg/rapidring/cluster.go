// Package rapidring is the public surface of a multi-observer membership
// and failure-detection library: build a Cluster, Start or Join one, and
// subscribe to view changes.
package rapidring

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/Sh00ty/rapidring/internal/broadcaster"
	"github.com/Sh00ty/rapidring/internal/detector"
	"github.com/Sh00ty/rapidring/internal/detector/pingpong"
	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/membership"
	"github.com/Sh00ty/rapidring/internal/metrics"
	"github.com/Sh00ty/rapidring/internal/service"
	"github.com/Sh00ty/rapidring/internal/transport"
)

// K, H, L are the compiled-in ring count and watermark thresholds, matching
// the defaults a Rapid-style deployment runs with.
const (
	K = 10
	H = 8
	L = 1

	baseTimeout  = 1 * time.Second
	joinAttempts = 5
	probePeriod  = 1 * time.Second
)

// Re-exported types so callers don't need to import internal packages.
type (
	Endpoint         = endpoint.Endpoint
	NodeID           = endpoint.NodeID
	EventKind        = service.EventKind
	ViewChangeEvent  = service.ViewChangeEvent
	NodeStatusChange = service.NodeStatusChange
	LinkFailureDetector = detector.Detector
	Metrics          = metrics.Metrics
)

const (
	EventViewChangeProposal = service.EventViewChangeProposal
	EventViewChange         = service.EventViewChange
	EventNodeAdded          = service.EventNodeAdded
	EventNodeRemoved        = service.EventNodeRemoved
)

// Builder configures a node before it starts or joins a cluster.
type Builder struct {
	listenAddress       endpoint.Endpoint
	metadata            map[string]string
	logProposals        bool
	linkFailureDetector detector.Detector
	metrics             metrics.Metrics
}

// New begins configuring a node that will listen on listenAddress
// ("host:port").
func New(listenAddress string) (*Builder, error) {
	ep, err := endpoint.Parse(listenAddress)
	if err != nil {
		return nil, err
	}
	return &Builder{listenAddress: ep, metadata: map[string]string{}}, nil
}

// WithMetadata attaches static key/value tags to this node; they ride along
// on its join report so observers can record them.
func (b *Builder) WithMetadata(md map[string]string) *Builder {
	b.metadata = md
	return b
}

// WithLogProposals enables retaining every committed batch in a bounded,
// inspectable log.
func (b *Builder) WithLogProposals(v bool) *Builder {
	b.logProposals = v
	return b
}

// WithLinkFailureDetector overrides the default ping-pong detector.
func (b *Builder) WithLinkFailureDetector(d LinkFailureDetector) *Builder {
	b.linkFailureDetector = d
	return b
}

// WithMetrics attaches an optional metrics sink.
func (b *Builder) WithMetrics(m Metrics) *Builder {
	b.metrics = m
	return b
}

// Cluster is a running node: its gRPC server, its membership service, and
// its failure-detector tick loop.
type Cluster struct {
	svc         *service.Service
	grpcServer  *grpc.Server
	listener    net.Listener
	client      transport.Client
	broadcaster broadcaster.Broadcaster
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// Start bootstraps a brand-new single-node cluster: this node is its only
// member.
func (b *Builder) Start() (*Cluster, error) {
	if b.linkFailureDetector == nil {
		b.linkFailureDetector = pingpong.New(b.listenAddress)
	}
	selfID, err := endpoint.NewNodeID()
	if err != nil {
		return nil, fmt.Errorf("rapidring: failed to generate node id: %w", err)
	}

	view, err := membership.New(K, []endpoint.Endpoint{b.listenAddress}, []endpoint.NodeID{selfID})
	if err != nil {
		return nil, err
	}
	return b.startWithView(view)
}

func (b *Builder) startWithView(view *membership.View) (*Cluster, error) {
	client := transport.NewGRPCClient(baseTimeout)
	bc := broadcaster.New(b.listenAddress, client)

	svc, err := service.New(service.Config{
		Self:                b.listenAddress,
		K:                   K,
		H:                   H,
		L:                   L,
		Metadata:            b.metadata,
		LogProposals:        b.logProposals,
		LinkFailureDetector: b.linkFailureDetector,
		Broadcaster:         bc,
		Transport:           client,
		ProbePeriod:         probePeriod,
		ProbeTimeout:        baseTimeout,
		Metrics:             b.metrics,
	}, view)
	if err != nil {
		return nil, err
	}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&transport.ServiceDesc, svc)

	ls, err := net.Listen("tcp", b.listenAddress.String())
	if err != nil {
		return nil, fmt.Errorf("rapidring: failed to bind %s: %w", b.listenAddress, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cluster{
		svc:         svc,
		grpcServer:  grpcServer,
		listener:    ls,
		client:      client,
		broadcaster: bc,
		cancel:      cancel,
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		_ = grpcServer.Serve(ls)
	}()
	go func() {
		defer c.wg.Done()
		_ = svc.Run(ctx)
	}()

	return c, nil
}

// MemberList returns the current member set.
func (c *Cluster) MemberList() []Endpoint { return c.svc.MemberList() }

// ConfigurationID returns the current view's configuration id.
func (c *Cluster) ConfigurationID() uint64 { return uint64(c.svc.ConfigurationID()) }

// RegisterSubscription adds a callback for the given event kind. callback
// must be func([]Endpoint) for EventViewChangeProposal, func(ViewChangeEvent)
// for EventViewChange, and func([]NodeStatusChange) for EventNodeAdded and
// EventNodeRemoved; any other type is reported as an error.
func (c *Cluster) RegisterSubscription(kind EventKind, callback any) error {
	return c.svc.RegisterSubscription(kind, callback)
}

// ProposalLog returns every retained batch, oldest first. Empty unless
// WithLogProposals(true) was set.
func (c *Cluster) ProposalLog() []service.ProposalLogEntry {
	return c.svc.ProposalLog()
}

// Shutdown closes the broadcaster, stops the failure-detector tick loop,
// tears down the gRPC server and client, then cancels pending join
// waiters.
func (c *Cluster) Shutdown() error {
	_ = c.broadcaster.Close()
	c.cancel()
	c.grpcServer.GracefulStop()
	_ = c.listener.Close()
	_ = c.client.CloseAll()
	c.wg.Wait()
	c.svc.Shutdown()
	return nil
}
