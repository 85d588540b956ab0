// Package wire defines the message schema exchanged between membership
// service instances, independent of how it is actually carried on the wire.
package wire

import (
	"github.com/Sh00ty/rapidring/internal/configuration"
	"github.com/Sh00ty/rapidring/internal/endpoint"
)

// LinkStatus reports whether an observer currently believes its ring
// successor is reachable.
type LinkStatus string

const (
	LinkUp   LinkStatus = "UP"
	LinkDown LinkStatus = "DOWN"
)

// JoinStatusCode is the outcome of a phase 1 or phase 2 join request.
type JoinStatusCode string

const (
	SafeToJoin            JoinStatusCode = "SAFE_TO_JOIN"
	ConfigChanged         JoinStatusCode = "CONFIG_CHANGED"
	UUIDAlreadyInRing      JoinStatusCode = "UUID_ALREADY_IN_RING"
	HostnameAlreadyInRing JoinStatusCode = "HOSTNAME_ALREADY_IN_RING"
	MembershipRejected    JoinStatusCode = "MEMBERSHIP_REJECTED"
)

// JoinMessage is sent by a joiner in both phase 1 (to the seed) and phase 2
// (to each of its future observers).
type JoinMessage struct {
	Sender          endpoint.Endpoint `json:"sender"`
	NodeID          endpoint.NodeID   `json:"node_id"`
	RingNumber      int               `json:"ring_number,omitempty"`
	ConfigurationID configuration.ID  `json:"configuration_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// JoinResponse answers a JoinMessage.
type JoinResponse struct {
	Sender          endpoint.Endpoint   `json:"sender"`
	StatusCode      JoinStatusCode      `json:"status_code"`
	ConfigurationID configuration.ID    `json:"configuration_id"`
	Hosts           []endpoint.Endpoint `json:"hosts,omitempty"`
	Identifiers     []endpoint.NodeID   `json:"identifiers,omitempty"`
}

// LinkUpdateMessage is an observer's report about one of its ring
// subjects, disseminated to every current member via the broadcaster.
type LinkUpdateMessage struct {
	Sender          endpoint.Endpoint `json:"sender"`
	LinkSrc         endpoint.Endpoint `json:"link_src"`
	LinkDst         endpoint.Endpoint `json:"link_dst"`
	LinkStatus      LinkStatus        `json:"link_status"`
	RingNumber      int               `json:"ring_number"`
	ConfigurationID configuration.ID  `json:"configuration_id"`
	JoinerID        endpoint.NodeID   `json:"joiner_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ProbeMessage and ProbeResponse are the default ping-pong detector's wire
// messages; other LinkFailureDetector implementations may not use them.
type ProbeMessage struct {
	Sender  endpoint.Endpoint `json:"sender"`
	Subject endpoint.Endpoint `json:"subject"`
	Seq     uint64            `json:"seq"`
}

type ProbeResponse struct {
	Sender endpoint.Endpoint `json:"sender"`
	Seq    uint64            `json:"seq"`
}
