// Package membership maintains the K-ring view of a cluster: which
// endpoints are members, and which K observers/subjects each one has.
package membership

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Sh00ty/rapidring/internal/configuration"
	"github.com/Sh00ty/rapidring/internal/endpoint"
)

var (
	// ErrHostnameAlreadyInRing is returned by Add when the endpoint is
	// already a member of the current view.
	ErrHostnameAlreadyInRing = errors.New("membership: endpoint already in ring")
	// ErrUUIDAlreadyInRing is returned by Add when the node id has
	// previously appeared in this view's history, even if it is not a
	// current member.
	ErrUUIDAlreadyInRing = errors.New("membership: node id already in ring")
)

// View is the current set of members and the K ring orderings derived from
// it. All methods are safe for concurrent use.
type View struct {
	mu          sync.RWMutex
	k           int
	nodeIDs     map[endpoint.Endpoint]endpoint.NodeID
	seen        map[endpoint.NodeID]struct{}
	rings       [][]endpoint.Endpoint
	configID    configuration.ID
	configDirty bool
}

// New builds a view over an initial member set. members and nodeIDs must be
// the same length and pairwise correspond.
func New(k int, members []endpoint.Endpoint, nodeIDs []endpoint.NodeID) (*View, error) {
	if k <= 0 {
		return nil, fmt.Errorf("membership: k=%d must be positive", k)
	}
	if k > len(ringSeeds) {
		return nil, fmt.Errorf("membership: k=%d exceeds compiled ring seed count %d", k, len(ringSeeds))
	}
	if len(members) != len(nodeIDs) {
		return nil, fmt.Errorf("membership: members and node ids length mismatch (%d vs %d)", len(members), len(nodeIDs))
	}

	v := &View{
		k:       k,
		nodeIDs: make(map[endpoint.Endpoint]endpoint.NodeID, len(members)),
		seen:    make(map[endpoint.NodeID]struct{}, len(members)),
	}
	for i, m := range members {
		v.nodeIDs[m] = nodeIDs[i]
		v.seen[nodeIDs[i]] = struct{}{}
	}
	v.rebuildRings()
	v.configDirty = true
	return v, nil
}

// K returns the number of independent rings the view maintains.
func (v *View) K() int { return v.k }

// Add admits a new member into the view, rejecting an endpoint already
// present or a node id previously seen in this view's history.
func (v *View) Add(e endpoint.Endpoint, id endpoint.NodeID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.nodeIDs[e]; ok {
		return ErrHostnameAlreadyInRing
	}
	if _, ok := v.seen[id]; ok {
		return ErrUUIDAlreadyInRing
	}

	v.nodeIDs[e] = id
	v.seen[id] = struct{}{}
	v.rebuildRings()
	v.configDirty = true
	return nil
}

// Remove drops a member from the view. It is a no-op if the endpoint is not
// currently a member.
func (v *View) Remove(e endpoint.Endpoint) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.nodeIDs[e]; !ok {
		return
	}
	delete(v.nodeIDs, e)
	v.rebuildRings()
	v.configDirty = true
}

// Seen reports whether id has ever been admitted into this view, even if it
// is no longer a current member.
func (v *View) Seen(id endpoint.NodeID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.seen[id]
	return ok
}

// Members returns the current member set, sorted for stable iteration.
func (v *View) Members() []endpoint.Endpoint {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]endpoint.Endpoint, 0, len(v.nodeIDs))
	for e := range v.nodeIDs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Size returns the number of current members.
func (v *View) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.nodeIDs)
}

// NodeIDs returns the node id of every current member, in no particular
// order.
func (v *View) NodeIDs() []endpoint.NodeID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]endpoint.NodeID, 0, len(v.nodeIDs))
	for _, id := range v.nodeIDs {
		out = append(out, id)
	}
	return out
}

// NodeIDOf returns the node id a member was admitted under.
func (v *View) NodeIDOf(e endpoint.Endpoint) (endpoint.NodeID, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.nodeIDs[e]
	return id, ok
}

// rebuildRings recomputes all K ring orderings. Callers must already hold
// v.mu for writing.
func (v *View) rebuildRings() {
	members := make([]endpoint.Endpoint, 0, len(v.nodeIDs))
	for e := range v.nodeIDs {
		members = append(members, e)
	}

	rings := make([][]endpoint.Endpoint, v.k)
	for r := 0; r < v.k; r++ {
		ring := make([]endpoint.Endpoint, len(members))
		copy(ring, members)
		seed := ringSeeds[r]
		sort.Slice(ring, func(i, j int) bool {
			hi, hj := ringHash(seed, ring[i]), ringHash(seed, ring[j])
			if hi != hj {
				return hi < hj
			}
			return ring[i].String() < ring[j].String()
		})
		rings[r] = ring
	}
	v.rings = rings
}

func ringHash(seed uint64, e endpoint.Endpoint) uint64 {
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], seed)

	h := xxhash.New()
	h.Write(seedBytes[:])
	h.WriteString(e.String())
	return h.Sum64()
}

func (v *View) indexOf(ring int, e endpoint.Endpoint) int {
	for i, m := range v.rings[ring] {
		if m == e {
			return i
		}
	}
	return -1
}

// RingSuccessor returns the endpoint immediately after e on the given ring.
func (v *View) RingSuccessor(e endpoint.Endpoint, ring int) (endpoint.Endpoint, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	idx := v.indexOf(ring, e)
	if idx < 0 || len(v.rings[ring]) == 0 {
		return endpoint.Endpoint{}, false
	}
	next := (idx + 1) % len(v.rings[ring])
	return v.rings[ring][next], true
}

// SubjectsOf returns the K endpoints e observes: its successor on each
// ring. When the cluster is smaller than K+1, the same endpoint may recur.
func (v *View) SubjectsOf(e endpoint.Endpoint) []endpoint.Endpoint {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]endpoint.Endpoint, 0, v.k)
	for r := 0; r < v.k; r++ {
		idx := v.indexOf(r, e)
		if idx < 0 || len(v.rings[r]) == 0 {
			continue
		}
		next := (idx + 1) % len(v.rings[r])
		out = append(out, v.rings[r][next])
	}
	return out
}

// ObserversOf returns the K endpoints that observe e: its predecessor on
// each ring.
func (v *View) ObserversOf(e endpoint.Endpoint) []endpoint.Endpoint {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]endpoint.Endpoint, 0, v.k)
	for r := 0; r < v.k; r++ {
		idx := v.indexOf(r, e)
		n := len(v.rings[r])
		if idx < 0 || n == 0 {
			continue
		}
		prev := (idx - 1 + n) % n
		out = append(out, v.rings[r][prev])
	}
	return out
}

// ConfigurationID returns the content-derived id of the current member set,
// recomputing it lazily after a mutation.
func (v *View) ConfigurationID() configuration.ID {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.configDirty {
		ids := make([]endpoint.NodeID, 0, len(v.nodeIDs))
		for _, id := range v.nodeIDs {
			ids = append(ids, id)
		}
		v.configID = configuration.Compute(ids)
		v.configDirty = false
	}
	return v.configID
}

// ExpectedObserversOf computes the K observers a not-yet-admitted endpoint
// would have if it were inserted into the current view, without mutating
// any state. Used to answer a join phase 1 request.
func (v *View) ExpectedObserversOf(joiner endpoint.Endpoint) []endpoint.Endpoint {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]endpoint.Endpoint, 0, v.k)
	for r := 0; r < v.k; r++ {
		ring := v.rings[r]
		if len(ring) == 0 {
			continue
		}
		seed := ringSeeds[r]
		joinerKey := ringHash(seed, joiner)

		pred := ring[len(ring)-1]
		for _, m := range ring {
			key := ringHash(seed, m)
			if key < joinerKey || (key == joinerKey && m.String() < joiner.String()) {
				pred = m
			} else {
				break
			}
		}
		out = append(out, pred)
	}
	return out
}
