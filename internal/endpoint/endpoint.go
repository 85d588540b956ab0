// Package endpoint defines the address and identity primitives the rest of
// the membership protocol is built on.
package endpoint

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/go-uuid"
)

// Endpoint is a host:port pair identifying a node's listen address.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Parse splits a "host:port" string into an Endpoint.
func Parse(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: invalid address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: invalid port in %q: %w", s, err)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// NodeID is an opaque 128-bit node identifier, generated when a node starts
// or begins to join, regenerated by the joiner when a phase 1 reply reports
// a conflict, and never reused once it has appeared in a committed view.
type NodeID string

func (n NodeID) String() string { return string(n) }

// NewNodeID generates a fresh identifier for a join attempt.
func NewNodeID() (NodeID, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("endpoint: failed to generate node id: %w", err)
	}
	return NodeID(id), nil
}
