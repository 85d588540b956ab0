// Package configuration computes and compares the content-derived
// identifier of a membership view.
package configuration

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/Sh00ty/rapidring/internal/endpoint"
)

// ID is a pure function of the set of NodeIds in a view: any two nodes that
// agree on membership agree on ID without exchanging it.
type ID uint64

// Compute derives an ID from a set of node identifiers. Order of the input
// does not matter; the identifiers are sorted before hashing.
func Compute(nodeIDs []endpoint.NodeID) ID {
	sorted := make([]string, len(nodeIDs))
	for i, id := range nodeIDs {
		sorted[i] = string(id)
	}
	sort.Strings(sorted)

	h := xxhash.New()
	for _, id := range sorted {
		h.WriteString(id)
		h.Write([]byte{0})
	}
	return ID(h.Sum64())
}
