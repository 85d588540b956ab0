package broadcaster

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"

	blake2b "github.com/minio/blake2b-simd"

	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/wire"
)

const ringReplicas = 10

// LinkUpdateSender is the outbound call a ConsistentHashBroadcaster needs;
// transport.Client satisfies it.
type LinkUpdateSender interface {
	SendLinkUpdate(ctx context.Context, to endpoint.Endpoint, msg wire.LinkUpdateMessage) error
}

type ringPoint struct {
	hash uint64
	node endpoint.Endpoint
}

// ConsistentHashBroadcaster is the default Broadcaster: it fans a
// link-status update out to every other current member in parallel. A
// consistent-hash ring over the member set determines the stable "primary
// relay" PrimaryRelayFor reports for a given subject, for diagnostics;
// actual wire dissemination (gossip trees, spanning overlays, ...) is left
// to whatever broadcast substrate a deployment layers underneath.
type ConsistentHashBroadcaster struct {
	self   endpoint.Endpoint
	sender LinkUpdateSender

	mu      sync.RWMutex
	members []endpoint.Endpoint
	ring    []ringPoint
}

// New builds a broadcaster that sends outbound calls through sender.
func New(self endpoint.Endpoint, sender LinkUpdateSender) *ConsistentHashBroadcaster {
	return &ConsistentHashBroadcaster{self: self, sender: sender}
}

var _ Broadcaster = (*ConsistentHashBroadcaster)(nil)

// UpdateMembership rebuilds the consistent-hash ring over the current
// member set.
func (b *ConsistentHashBroadcaster) UpdateMembership(members []endpoint.Endpoint) {
	ring := make([]ringPoint, 0, len(members)*ringReplicas)
	for _, m := range members {
		for i := 0; i < ringReplicas; i++ {
			ring = append(ring, ringPoint{hash: ringHash(m, i), node: m})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	b.mu.Lock()
	b.members = append([]endpoint.Endpoint(nil), members...)
	b.ring = ring
	b.mu.Unlock()
}

// PrimaryRelayFor returns the member a consistent-hash lookup currently
// maps subject to. Reported for diagnostics only; BroadcastLinkUpdate
// always fans out to the full member set.
func (b *ConsistentHashBroadcaster) PrimaryRelayFor(subject endpoint.Endpoint) (endpoint.Endpoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return endpoint.Endpoint{}, false
	}
	key := ringHash(subject, 0)
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i].hash >= key })
	if idx == len(b.ring) {
		idx = 0
	}
	return b.ring[idx].node, true
}

// BroadcastLinkUpdate sends msg to every current member other than self, in
// parallel, and returns the first error encountered, if any.
func (b *ConsistentHashBroadcaster) BroadcastLinkUpdate(ctx context.Context, msg wire.LinkUpdateMessage) error {
	b.mu.RLock()
	targets := make([]endpoint.Endpoint, 0, len(b.members))
	for _, m := range b.members {
		if m == b.self {
			continue
		}
		targets = append(targets, m)
	}
	b.mu.RUnlock()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, to := range targets {
		wg.Add(1)
		go func(to endpoint.Endpoint) {
			defer wg.Done()
			if err := b.sender.SendLinkUpdate(ctx, to, msg); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(to)
	}
	wg.Wait()
	return firstErr
}

// Close drops the cached ring and member set. The outbound sender is a
// separate collaborator with its own lifecycle and is not touched here.
func (b *ConsistentHashBroadcaster) Close() error {
	b.mu.Lock()
	b.members = nil
	b.ring = nil
	b.mu.Unlock()
	return nil
}

func ringHash(e endpoint.Endpoint, replica int) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(replica))
	sum := blake2b.Sum512(append([]byte(e.String()), buf[:]...))
	return binary.LittleEndian.Uint64(sum[:8])
}
