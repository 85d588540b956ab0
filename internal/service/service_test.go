package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/membership"
	"github.com/Sh00ty/rapidring/internal/wire"
)

func ep(port int) endpoint.Endpoint {
	return endpoint.Endpoint{Host: "127.0.0.1", Port: port}
}

func nid(s string) endpoint.NodeID { return endpoint.NodeID(s) }

// noopDetector never reports a failure and records nothing; it exists so
// tests can build a Service without exercising the probe loop.
type noopDetector struct{}

func (noopDetector) CreateProbe(subject endpoint.Endpoint) wire.ProbeMessage {
	return wire.ProbeMessage{Subject: subject}
}
func (noopDetector) HandleProbeMessage(_ context.Context, msg wire.ProbeMessage) (wire.ProbeResponse, error) {
	return wire.ProbeResponse{Seq: msg.Seq}, nil
}
func (noopDetector) OnProbeSuccess(wire.ProbeResponse, endpoint.Endpoint) {}
func (noopDetector) OnProbeFailure(error, endpoint.Endpoint)             {}
func (noopDetector) HasFailed(endpoint.Endpoint) bool                   { return false }
func (noopDetector) OnMembershipChange([]endpoint.Endpoint)              {}

// registryBroadcaster routes a broadcast directly into the other nodes'
// Service.HandleLinkUpdate, standing in for a real wire substrate so tests
// can drive a multi-node cluster in-process.
type registryBroadcaster struct {
	self     endpoint.Endpoint
	registry *registry

	mu      sync.Mutex
	members []endpoint.Endpoint
}

type registry struct {
	mu    sync.Mutex
	nodes map[endpoint.Endpoint]*Service
}

func newRegistry() *registry { return &registry{nodes: make(map[endpoint.Endpoint]*Service)} }

func (r *registry) put(e endpoint.Endpoint, s *Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[e] = s
}

func (r *registry) get(e endpoint.Endpoint) *Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[e]
}

func (b *registryBroadcaster) Close() error { return nil }

func (b *registryBroadcaster) UpdateMembership(members []endpoint.Endpoint) {
	b.mu.Lock()
	b.members = append([]endpoint.Endpoint(nil), members...)
	b.mu.Unlock()
}

func (b *registryBroadcaster) BroadcastLinkUpdate(ctx context.Context, msg wire.LinkUpdateMessage) error {
	b.mu.Lock()
	targets := append([]endpoint.Endpoint(nil), b.members...)
	b.mu.Unlock()

	for _, m := range targets {
		if m == b.self {
			continue
		}
		if target := b.registry.get(m); target != nil {
			_ = target.HandleLinkUpdate(ctx, msg)
		}
	}
	return nil
}

func buildService(t *testing.T, view *membership.View, self endpoint.Endpoint, k, h, l int, reg *registry) *Service {
	t.Helper()
	bc := &registryBroadcaster{self: self, registry: reg}
	svc, err := New(Config{
		Self:                self,
		K:                   k,
		H:                   h,
		L:                   l,
		Metadata:            map[string]string{},
		LinkFailureDetector: noopDetector{},
		Broadcaster:         bc,
		ProbePeriod:         time.Hour,
		ProbeTimeout:        time.Second,
	}, view)
	require.NoError(t, err)
	reg.put(self, svc)
	return svc
}

func singleMemberView(t *testing.T, k int, self endpoint.Endpoint, id endpoint.NodeID) *membership.View {
	t.Helper()
	v, err := membership.New(k, []endpoint.Endpoint{self}, []endpoint.NodeID{id})
	require.NoError(t, err)
	return v
}

func TestHandleJoinPhase1SafeToJoin(t *testing.T) {
	self := ep(1)
	v := singleMemberView(t, 3, self, nid("self"))
	svc := buildService(t, v, self, 3, 3, 1, newRegistry())

	resp, err := svc.HandleJoinPhase1(context.Background(), wire.JoinMessage{Sender: ep(2), NodeID: nid("joiner")})
	require.NoError(t, err)
	require.Equal(t, wire.SafeToJoin, resp.StatusCode)
	require.Len(t, resp.Hosts, 3, "a single-member view still reports k observer slots")
	for _, h := range resp.Hosts {
		require.Equal(t, self, h)
	}
}

func TestHandleJoinPhase1RejectsSeenNodeID(t *testing.T) {
	self := ep(1)
	v := singleMemberView(t, 3, self, nid("self"))
	svc := buildService(t, v, self, 3, 3, 1, newRegistry())

	resp, err := svc.HandleJoinPhase1(context.Background(), wire.JoinMessage{Sender: ep(2), NodeID: nid("self")})
	require.NoError(t, err)
	require.Equal(t, wire.UUIDAlreadyInRing, resp.StatusCode)
}

func TestHandleJoinPhase1RejectsKnownHostname(t *testing.T) {
	self := ep(1)
	v := singleMemberView(t, 3, self, nid("self"))
	svc := buildService(t, v, self, 3, 3, 1, newRegistry())

	resp, err := svc.HandleJoinPhase1(context.Background(), wire.JoinMessage{Sender: self, NodeID: nid("other")})
	require.NoError(t, err)
	require.Equal(t, wire.HostnameAlreadyInRing, resp.StatusCode)
	require.Equal(t, []endpoint.Endpoint{self}, resp.Hosts)
}

func TestHandleLinkUpdateDropsStaleConfiguration(t *testing.T) {
	self := ep(1)
	v := singleMemberView(t, 3, self, nid("self"))
	svc := buildService(t, v, self, 3, 3, 1, newRegistry())

	err := svc.HandleLinkUpdate(context.Background(), wire.LinkUpdateMessage{
		Sender:          ep(2),
		LinkDst:         ep(3),
		ConfigurationID: v.ConfigurationID() + 1,
	})
	require.NoError(t, err, "a stale-config update is dropped, not errored")
	require.Equal(t, []endpoint.Endpoint{self}, svc.MemberList(), "membership must be unaffected")
}

func TestHandleLinkUpdateDedupesRepeatedReports(t *testing.T) {
	self := ep(1)
	v := singleMemberView(t, 5, self, nid("self"))
	svc := buildService(t, v, self, 5, 3, 1, newRegistry())

	msg := wire.LinkUpdateMessage{
		Sender:          ep(2),
		LinkDst:         ep(9),
		RingNumber:      0,
		ConfigurationID: v.ConfigurationID(),
	}
	require.NoError(t, svc.HandleLinkUpdate(context.Background(), msg))
	require.NoError(t, svc.HandleLinkUpdate(context.Background(), msg))
	require.NoError(t, svc.HandleLinkUpdate(context.Background(), msg))

	// the same (observer, subject, ring) key reported thrice must count once
	require.EqualValues(t, 0, svc.buffer.DeliverCount())
}

func TestJoinPhase2AdmitsJoinerAfterQuorumOfObserverReports(t *testing.T) {
	const k, h, l = 3, 3, 1
	members := []endpoint.Endpoint{ep(1), ep(2), ep(3)}
	ids := []endpoint.NodeID{nid("a"), nid("b"), nid("c")}

	reg := newRegistry()
	services := make([]*Service, len(members))
	for i, m := range members {
		v, err := membership.New(k, members, ids)
		require.NoError(t, err)
		services[i] = buildService(t, v, m, k, h, l, reg)
	}

	joiner := ep(4)
	joinerID := nid("joiner")
	configID := services[0].ConfigurationID()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		resp wire.JoinResponse
		err  error
	}
	results := make([]result, len(services))
	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			resp, err := svc.HandleJoinPhase2(ctx, wire.JoinMessage{
				Sender:          joiner,
				NodeID:          joinerID,
				RingNumber:      i,
				ConfigurationID: configID,
			})
			results[i] = result{resp, err}
		}(i, svc)
	}
	wg.Wait()

	for i, r := range results {
		require.NoError(t, r.err, "observer %d", i)
		require.Equal(t, wire.SafeToJoin, r.resp.StatusCode, "observer %d", i)
		require.Contains(t, r.resp.Hosts, joiner, "observer %d", i)
	}

	for i, svc := range services {
		require.Contains(t, svc.MemberList(), joiner, "service %d should have committed the joiner", i)
	}
}

func TestHandleLinkUpdateCommitsRemovalAfterQuorum(t *testing.T) {
	const k, h, l = 5, 3, 1
	members := []endpoint.Endpoint{ep(1), ep(2), ep(3), ep(4)}
	ids := []endpoint.NodeID{nid("a"), nid("b"), nid("c"), nid("d")}
	v, err := membership.New(k, members, ids)
	require.NoError(t, err)
	svc := buildService(t, v, ep(1), k, h, l, newRegistry())

	subject := ep(4)
	configID := svc.ConfigurationID()

	// three independent observers reporting the same subject down, each on
	// its own ring, must cross the H=3 watermark and commit a removal.
	for ring, observer := range []endpoint.Endpoint{ep(1), ep(2), ep(3)} {
		err := svc.HandleLinkUpdate(context.Background(), wire.LinkUpdateMessage{
			Sender:          observer,
			LinkSrc:         observer,
			LinkDst:         subject,
			LinkStatus:      wire.LinkDown,
			RingNumber:      ring,
			ConfigurationID: configID,
		})
		require.NoError(t, err)
	}

	require.NotContains(t, svc.MemberList(), subject)
}

func TestOnLinkFailedIsNoopWhenSubjectNotObserved(t *testing.T) {
	self := ep(1)
	v := singleMemberView(t, 3, self, nid("self"))
	svc := buildService(t, v, self, 3, 3, 1, newRegistry())

	before := svc.MemberList()
	svc.onLinkFailed(ep(99))
	require.Equal(t, before, svc.MemberList())
}

func TestRegisterSubscriptionRejectsMismatchedSignature(t *testing.T) {
	self := ep(1)
	v := singleMemberView(t, 3, self, nid("self"))
	svc := buildService(t, v, self, 3, 3, 1, newRegistry())

	err := svc.RegisterSubscription(EventViewChange, func() {})
	require.Error(t, err)
}

func TestRegisterSubscriptionFiresOnCommit(t *testing.T) {
	self := ep(1)
	v := singleMemberView(t, 3, self, nid("self"))
	svc := buildService(t, v, self, 3, 3, 1, newRegistry())

	var got ViewChangeEvent
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, svc.RegisterSubscription(EventViewChange, func(ev ViewChangeEvent) {
		got = ev
		wg.Done()
	}))

	require.NoError(t, svc.commitViewChange(context.Background(), []endpoint.Endpoint{ep(2)}))
	// ep(2) has no pending join id, so commitViewChange treats it as a removal
	// of an unknown member; the resulting event still fires for subscribers.
	wg.Wait()
	require.Equal(t, svc.ConfigurationID(), got.ConfigurationID)
}

func TestShutdownReleasesPendingJoinWaiters(t *testing.T) {
	const k, h, l = 3, 3, 1
	self := ep(1)
	v := singleMemberView(t, k, self, nid("self"))
	svc := buildService(t, v, self, k, h, l, newRegistry())

	// A lone phase 2 call only produces one report; with H=3 it never
	// crosses the watermark on its own, so the waiter stays parked until
	// shutdown releases it.
	joiner := ep(2)
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.HandleJoinPhase2(context.Background(), wire.JoinMessage{
			Sender:          joiner,
			NodeID:          nid("joiner"),
			ConfigurationID: v.ConfigurationID(),
		})
		errCh <- err
	}()

	// give the goroutine a chance to register its waiter before shutdown
	time.Sleep(10 * time.Millisecond)
	svc.Shutdown()

	err := <-errCh
	require.ErrorIs(t, err, ErrShutdown)
}
