// Package detector defines the pluggable link-failure detection contract.
package detector

import (
	"context"

	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/wire"
)

// Detector decides, for each subject a node observes, whether that subject
// should be reported as failed. Implementations are driven by
// detectorrunner.Runner and must be safe for concurrent use.
type Detector interface {
	// CreateProbe builds the next outbound probe for subject.
	CreateProbe(subject endpoint.Endpoint) wire.ProbeMessage
	// HandleProbeMessage answers an inbound probe from a peer that
	// considers this node one of its subjects.
	HandleProbeMessage(ctx context.Context, msg wire.ProbeMessage) (wire.ProbeResponse, error)
	// OnProbeSuccess records that subject answered a probe.
	OnProbeSuccess(resp wire.ProbeResponse, subject endpoint.Endpoint)
	// OnProbeFailure records that a probe to subject errored or timed out.
	OnProbeFailure(err error, subject endpoint.Endpoint)
	// HasFailed reports whether subject should currently be treated as down.
	HasFailed(subject endpoint.Endpoint) bool
	// OnMembershipChange is called whenever the monitored subject set
	// changes, so the detector can drop state for subjects no longer
	// observed and seed state for newly added ones.
	OnMembershipChange(subjects []endpoint.Endpoint)
}
