package configuration

import (
	"sync"

	"github.com/Sh00ty/rapidring/internal/endpoint"
)

// Op records what a single committed view change did. History stores it
// alongside each appended id; Compare does not read it.
type Op struct {
	Added   []endpoint.NodeID
	Removed []endpoint.NodeID
}

// History is the append-only sequence of configuration ids a node has ever
// committed through, oldest first. It underlies Compare, the remote
// configuration history classifier; the join and link-update paths of
// the service do not use it.
type History struct {
	mu      sync.Mutex
	digests []ID
	ops     []Op
}

func genesisID() ID {
	return Compute(nil)
}

// NewHistory starts a history at the empty-view genesis id.
func NewHistory() *History {
	return &History{digests: []ID{genesisID()}}
}

// Head returns the most recently committed configuration id.
func (h *History) Head() ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.digests[len(h.digests)-1]
}

// Append records a newly committed configuration id and the op that produced
// it.
func (h *History) Append(next ID, op Op) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.digests = append(h.digests, next)
	h.ops = append(h.ops, op)
}

// Digests returns a copy of the full id sequence, oldest first.
func (h *History) Digests() []ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ID, len(h.digests))
	copy(out, h.digests)
	return out
}

// ComparisonResult classifies how a remote history relates to a local one.
type ComparisonResult int

const (
	Equal ComparisonResult = iota
	FastForwardLeft
	FastForwardRight
	NoCommonAncestor
	Merge
)

// Compare walks remoteDigests from the newest id back to the oldest, looking
// for the first id also present in local's history. EQUAL when the heads already match;
// NO_COMMON_ANCESTOR when no id is shared at all; FAST_FORWARD_RIGHT when
// the diverging point is local's own head (local is behind); FAST_FORWARD_LEFT
// when it is the remote head (remote is behind); MERGE otherwise.
func Compare(local *History, remoteDigests []ID) ComparisonResult {
	local.mu.Lock()
	defer local.mu.Unlock()

	if len(remoteDigests) == 0 || len(local.digests) == 0 {
		return NoCommonAncestor
	}

	localHead := local.digests[len(local.digests)-1]
	remoteHead := remoteDigests[len(remoteDigests)-1]
	if localHead == remoteHead {
		return Equal
	}

	localSet := make(map[ID]struct{}, len(local.digests))
	for _, d := range local.digests {
		localSet[d] = struct{}{}
	}

	var diverging ID
	found := false
	for i := len(remoteDigests) - 1; i >= 0; i-- {
		if _, ok := localSet[remoteDigests[i]]; ok {
			diverging = remoteDigests[i]
			found = true
			break
		}
	}
	if !found {
		return NoCommonAncestor
	}
	switch diverging {
	case localHead:
		return FastForwardRight
	case remoteHead:
		return FastForwardLeft
	default:
		return Merge
	}
}
