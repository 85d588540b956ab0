package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/wire"
)

// HandleJoinPhase1 answers a prospective joiner's first-contact request:
// reject it if its identity conflicts with something already in the view,
// otherwise hand back the K observers it would have if admitted right now.
func (s *Service) HandleJoinPhase1(_ context.Context, msg wire.JoinMessage) (wire.JoinResponse, error) {
	if s.isClosed() {
		return wire.JoinResponse{}, ErrShutdown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.view.Seen(msg.NodeID) {
		return wire.JoinResponse{
			Sender:          s.self,
			StatusCode:      wire.UUIDAlreadyInRing,
			ConfigurationID: s.view.ConfigurationID(),
		}, nil
	}
	if _, present := s.view.NodeIDOf(msg.Sender); present {
		return wire.JoinResponse{
			Sender:          s.self,
			StatusCode:      wire.HostnameAlreadyInRing,
			ConfigurationID: s.view.ConfigurationID(),
			Hosts:           s.view.Members(),
			Identifiers:     s.view.NodeIDs(),
		}, nil
	}

	return wire.JoinResponse{
		Sender:          s.self,
		StatusCode:      wire.SafeToJoin,
		ConfigurationID: s.view.ConfigurationID(),
		Hosts:           s.view.ExpectedObserversOf(msg.Sender),
	}, nil
}

// HandleJoinPhase2 is called on each of the joiner's K future observers. It
// registers a pending observation for the joiner on this ring, emits a
// link-status UP report through the broadcaster, and blocks until the
// joiner is admitted into a committed view or ctx expires.
func (s *Service) HandleJoinPhase2(ctx context.Context, msg wire.JoinMessage) (wire.JoinResponse, error) {
	if s.isClosed() {
		return wire.JoinResponse{}, ErrShutdown
	}

	s.mu.Lock()
	current := s.view.ConfigurationID()
	if msg.ConfigurationID != current {
		resp := wire.JoinResponse{
			Sender:          s.self,
			StatusCode:      wire.ConfigChanged,
			ConfigurationID: current,
			Hosts:           s.view.Members(),
			Identifiers:     s.view.NodeIDs(),
		}
		s.mu.Unlock()
		return resp, nil
	}

	s.pendingJoinIDs[msg.Sender] = msg.NodeID
	if len(msg.Metadata) > 0 {
		s.pendingJoinMeta[msg.Sender] = msg.Metadata
	}
	waiter := make(chan wire.JoinResponse, 1)
	s.pendingJoinWaiters[msg.Sender] = append(s.pendingJoinWaiters[msg.Sender], waiter)
	s.mu.Unlock()

	linkMsg := wire.LinkUpdateMessage{
		Sender:          s.self,
		LinkSrc:         s.self,
		LinkDst:         msg.Sender,
		LinkStatus:      wire.LinkUp,
		RingNumber:      msg.RingNumber,
		ConfigurationID: current,
		JoinerID:        msg.NodeID,
		Metadata:        msg.Metadata,
	}
	if err := s.broadcaster.BroadcastLinkUpdate(ctx, linkMsg); err != nil {
		log.Warn().Err(err).Msgf("service: failed to broadcast join report for %s", msg.Sender)
	}
	if err := s.HandleLinkUpdate(ctx, linkMsg); err != nil {
		return wire.JoinResponse{}, err
	}

	select {
	case resp, ok := <-waiter:
		if !ok {
			return wire.JoinResponse{}, ErrShutdown
		}
		return resp, nil
	case <-ctx.Done():
		s.mu.Lock()
		s.removeWaiter(msg.Sender, waiter)
		s.mu.Unlock()
		return wire.JoinResponse{}, ctx.Err()
	}
}

func (s *Service) removeWaiter(e endpoint.Endpoint, target chan wire.JoinResponse) {
	waiters := s.pendingJoinWaiters[e]
	for i, w := range waiters {
		if w == target {
			s.pendingJoinWaiters[e] = append(waiters[:i], waiters[i+1:]...)
			return
		}
	}
}

// HandleLinkUpdate applies one observer's report: it drops reports for a
// stale or future configuration, deduplicates repeat reports from the same
// observer for the same subject and ring, and feeds novel reports into the
// watermark buffer. A released batch is committed immediately.
func (s *Service) HandleLinkUpdate(ctx context.Context, msg wire.LinkUpdateMessage) error {
	if s.isClosed() {
		return ErrShutdown
	}

	s.mu.Lock()
	current := s.view.ConfigurationID()
	if msg.ConfigurationID != current {
		s.mu.Unlock()
		log.Debug().Msgf("service: dropping link update for config %d (have %d)", msg.ConfigurationID, current)
		return nil
	}

	key := linkUpdateKey{observer: msg.Sender, subject: msg.LinkDst, ring: msg.RingNumber, configID: msg.ConfigurationID}
	if _, dup := s.seenUpdates[key]; dup {
		s.mu.Unlock()
		return nil
	}
	s.seenUpdates[key] = struct{}{}

	if msg.LinkStatus == wire.LinkUp && msg.JoinerID != "" {
		s.pendingJoinIDs[msg.LinkDst] = msg.JoinerID
		if len(msg.Metadata) > 0 {
			s.pendingJoinMeta[msg.LinkDst] = msg.Metadata
		}
	}
	s.mu.Unlock()

	batch := s.buffer.Receive(msg.LinkDst)
	if len(batch) == 0 {
		return nil
	}

	s.fireProposal(batch)
	return s.commitViewChange(ctx, batch)
}

// onLinkFailed is the FailureDetectorRunner's failed-subject callback: it
// emits a DOWN report for subject on every ring this node observes it on.
func (s *Service) onLinkFailed(subject endpoint.Endpoint) {
	if s.isClosed() {
		return
	}

	s.mu.Lock()
	current := s.view.ConfigurationID()
	rings := s.ringsObservedBy(subject)
	s.mu.Unlock()

	ctx := context.Background()
	for _, ring := range rings {
		msg := wire.LinkUpdateMessage{
			Sender:          s.self,
			LinkSrc:         s.self,
			LinkDst:         subject,
			LinkStatus:      wire.LinkDown,
			RingNumber:      ring,
			ConfigurationID: current,
		}
		if err := s.broadcaster.BroadcastLinkUpdate(ctx, msg); err != nil {
			log.Warn().Err(err).Msgf("service: failed to broadcast down report for %s", subject)
		}
		if err := s.HandleLinkUpdate(ctx, msg); err != nil {
			log.Error().Err(err).Msg("service: failed to apply local down report")
		}
	}
}

// ringsObservedBy returns the ring numbers on which self currently observes
// subject. Must be called with s.mu held.
func (s *Service) ringsObservedBy(subject endpoint.Endpoint) []int {
	subjects := s.view.SubjectsOf(s.self)
	var rings []int
	for r, subj := range subjects {
		if subj == subject {
			rings = append(rings, r)
		}
	}
	return rings
}

// HandleProbe answers an inbound probe with whatever the active detector
// implementation produces.
func (s *Service) HandleProbe(ctx context.Context, msg wire.ProbeMessage) (wire.ProbeResponse, error) {
	if s.isClosed() {
		return wire.ProbeResponse{}, ErrShutdown
	}
	return s.detector.HandleProbeMessage(ctx, msg)
}
