// Package transport defines the outbound/inbound RPC contract the
// membership protocol needs and ships a default gRPC-backed implementation.
// The wire substrate itself is an external collaborator: only this contract
// is part of the core.
package transport

import (
	"context"

	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/wire"
)

// Client is the outbound calls a node makes to its peers.
type Client interface {
	SendJoinPhase1(ctx context.Context, to endpoint.Endpoint, msg wire.JoinMessage) (wire.JoinResponse, error)
	SendJoinPhase2(ctx context.Context, to endpoint.Endpoint, msg wire.JoinMessage) (wire.JoinResponse, error)
	SendLinkUpdate(ctx context.Context, to endpoint.Endpoint, msg wire.LinkUpdateMessage) error
	SendProbe(ctx context.Context, to endpoint.Endpoint, msg wire.ProbeMessage) (wire.ProbeResponse, error)
	// Close tears down any cached connection to an endpoint, e.g. once it
	// has left the subject set.
	Close(to endpoint.Endpoint) error
	// CloseAll tears down every cached connection. Called once, on node
	// shutdown.
	CloseAll() error
}

// Server is what a node exposes for peers to call into.
type Server interface {
	HandleJoinPhase1(ctx context.Context, msg wire.JoinMessage) (wire.JoinResponse, error)
	HandleJoinPhase2(ctx context.Context, msg wire.JoinMessage) (wire.JoinResponse, error)
	HandleLinkUpdate(ctx context.Context, msg wire.LinkUpdateMessage) error
	HandleProbe(ctx context.Context, msg wire.ProbeMessage) (wire.ProbeResponse, error)
}
