// Package broadcaster defines the dissemination contract used to fan a
// link-status update out to every current member, plus a default
// consistent-hash-ring implementation.
package broadcaster

import (
	"context"

	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/wire"
)

// Broadcaster disseminates link-status updates (and, transitively, the
// UP-join reports handleJoinPhase2 emits) to every current member. The
// dissemination mechanism itself is an external collaborator; only this
// contract and a reference implementation live in this repo.
type Broadcaster interface {
	BroadcastLinkUpdate(ctx context.Context, msg wire.LinkUpdateMessage) error
	UpdateMembership(members []endpoint.Endpoint)
	// Close releases any resources the broadcaster itself holds. The
	// outbound sender it fans updates through is not closed here. Called
	// once, on node shutdown, before the sender itself is torn down.
	Close() error
}
