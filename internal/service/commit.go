package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/rapidring/internal/configuration"
	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/wire"
)

// commitViewChange applies a batch the watermark buffer released: admits
// joiners, drops failed members, rotates the failure detector's subject
// set and the broadcaster's member set onto the new view, and fires
// subscriber callbacks outside the critical section.
func (s *Service) commitViewChange(_ context.Context, batch []endpoint.Endpoint) error {
	s.mu.Lock()

	var added, removed []NodeStatusChange
	for _, e := range batch {
		if joinerID, ok := s.pendingJoinIDs[e]; ok {
			meta := s.pendingJoinMeta[e]
			if err := s.view.Add(e, joinerID); err != nil {
				panic(fmt.Sprintf("service: invariant violation committing batch, add %s: %v", e, err))
			}
			delete(s.pendingJoinIDs, e)
			delete(s.pendingJoinMeta, e)
			added = append(added, NodeStatusChange{Endpoint: e, Status: wire.LinkUp, NodeID: joinerID, Metadata: meta})
			continue
		}
		id, _ := s.view.NodeIDOf(e)
		s.view.Remove(e)
		removed = append(removed, NodeStatusChange{Endpoint: e, Status: wire.LinkDown, NodeID: id})
		if s.transport != nil {
			if err := s.transport.Close(e); err != nil {
				log.Warn().Err(err).Msgf("service: failed to close connection to removed member %s", e)
			}
		}
	}

	newConfigID := s.view.ConfigurationID()
	s.buffer.Reset()
	s.seenUpdates = make(map[linkUpdateKey]struct{})

	members := s.view.Members()
	s.runner.UpdateSubjects(s.view.SubjectsOf(s.self))
	s.broadcaster.UpdateMembership(members)

	if s.logProposals {
		s.appendProposalLog(newConfigID, batch)
	}

	waiters := s.drainSettledWaiters(added)

	changes := make([]NodeStatusChange, 0, len(added)+len(removed))
	changes = append(changes, added...)
	changes = append(changes, removed...)
	event := ViewChangeEvent{ConfigurationID: newConfigID, Members: members, Changes: changes}

	viewChangeSubs := append([]func(ViewChangeEvent){}, s.subsViewChange...)
	nodeAddedSubs := append([]func([]NodeStatusChange){}, s.subsNodeAdded...)
	nodeRemovedSubs := append([]func([]NodeStatusChange){}, s.subsNodeRemoved...)

	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Increment("view_change")
		s.metrics.Gauge("members", len(members))
	}

	log.Info().Msgf("service: committed view change config=%d members=%d added=%d removed=%d",
		newConfigID, len(members), len(added), len(removed))

	for _, fn := range viewChangeSubs {
		fn(event)
	}
	if len(added) > 0 {
		for _, fn := range nodeAddedSubs {
			fn(added)
		}
	}
	if len(removed) > 0 {
		for _, fn := range nodeRemovedSubs {
			fn(removed)
		}
	}
	s.settleWaiters(waiters, members, newConfigID)
	return nil
}

// drainSettledWaiters removes and returns the pending-join waiters for
// every endpoint the batch just admitted. Must be called with s.mu held.
func (s *Service) drainSettledWaiters(added []NodeStatusChange) map[endpoint.Endpoint][]chan wire.JoinResponse {
	out := make(map[endpoint.Endpoint][]chan wire.JoinResponse)
	for _, a := range added {
		if waiters, ok := s.pendingJoinWaiters[a.Endpoint]; ok {
			out[a.Endpoint] = waiters
			delete(s.pendingJoinWaiters, a.Endpoint)
		}
	}
	return out
}

// settleWaiters sends a SAFE_TO_JOIN response carrying the newly committed
// view to every pending join waiter that was just admitted.
func (s *Service) settleWaiters(waiters map[endpoint.Endpoint][]chan wire.JoinResponse, members []endpoint.Endpoint, configID configuration.ID) {
	if len(waiters) == 0 {
		return
	}

	s.mu.Lock()
	ids := make([]endpoint.NodeID, 0, len(members))
	for _, m := range members {
		if id, ok := s.view.NodeIDOf(m); ok {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	resp := wire.JoinResponse{
		Sender:          s.self,
		StatusCode:      wire.SafeToJoin,
		ConfigurationID: configID,
		Hosts:           members,
		Identifiers:     ids,
	}
	for _, chans := range waiters {
		for _, ch := range chans {
			select {
			case ch <- resp:
			default:
			}
		}
	}
}

// appendProposalLog retains a batch in the bounded proposal log. Must be
// called with s.mu held.
func (s *Service) appendProposalLog(id configuration.ID, batch []endpoint.Endpoint) {
	entry := ProposalLogEntry{ConfigurationID: id, Batch: append([]endpoint.Endpoint{}, batch...)}
	s.proposalLog = append(s.proposalLog, entry)
	if len(s.proposalLog) > maxProposalLog {
		s.proposalLog = s.proposalLog[len(s.proposalLog)-maxProposalLog:]
	}
}
