package rapidring

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Sh00ty/rapidring/internal/detector/pingpong"
	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/membership"
	"github.com/Sh00ty/rapidring/internal/transport"
	"github.com/Sh00ty/rapidring/internal/wire"
)

// Join runs the two-phase join protocol against seedAddress and returns a
// running Cluster once some observer confirms this node appears in a
// committed view. It retries up to joinAttempts times, regenerating its
// node id whenever a conflict forces it to.
func (b *Builder) Join(seedAddress string) (*Cluster, error) {
	seed, err := endpoint.Parse(seedAddress)
	if err != nil {
		return nil, err
	}
	if b.linkFailureDetector == nil {
		b.linkFailureDetector = pingpong.New(b.listenAddress)
	}

	client := transport.NewGRPCClient(baseTimeout)
	defer func() { _ = client.CloseAll() }()
	limiter := rate.NewLimiter(rate.Every(baseTimeout), 1)

	currentID, err := endpoint.NewNodeID()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(joinAttempts)*10*baseTimeout)
	defer cancel()

	for attempt := 0; attempt < joinAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rapidring: join aborted: %w", err)
		}

		phase1Resp, err := retrySendJoinPhase1(ctx, client, seed, b.listenAddress, currentID)
		if err != nil {
			log.Warn().Err(err).Msgf("rapidring: phase 1 join to seed %s failed, retrying", seed)
			continue
		}

		switch phase1Resp.StatusCode {
		case wire.ConfigChanged, wire.UUIDAlreadyInRing:
			newID, err := endpoint.NewNodeID()
			if err != nil {
				return nil, err
			}
			currentID = newID
			continue
		case wire.HostnameAlreadyInRing:
			log.Warn().Msgf("rapidring: hostname %s already in ring under configuration %d, retrying", b.listenAddress, phase1Resp.ConfigurationID)
			continue
		case wire.MembershipRejected:
			return nil, fmt.Errorf("rapidring: membership rejected by %s", phase1Resp.Sender)
		case wire.SafeToJoin:
			// fall through to phase 2
		default:
			return nil, fmt.Errorf("rapidring: unrecognized join status %q", phase1Resp.StatusCode)
		}

		cluster, err := b.joinPhase2(ctx, client, phase1Resp, currentID)
		if err != nil {
			log.Warn().Err(err).Msg("rapidring: phase 2 join round failed, retrying")
			continue
		}
		return cluster, nil
	}
	return nil, fmt.Errorf("rapidring: join attempt unsuccessful for %s after %d attempts", b.listenAddress, joinAttempts)
}

func retrySendJoinPhase1(ctx context.Context, client transport.Client, seed, self endpoint.Endpoint, id endpoint.NodeID) (wire.JoinResponse, error) {
	var resp wire.JoinResponse
	err := retry.Do(func() error {
		r, err := client.SendJoinPhase1(ctx, seed, wire.JoinMessage{Sender: self, NodeID: id})
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, retry.Context(ctx), retry.Attempts(3), retry.DelayType(retry.BackOffDelay))
	return resp, err
}

func (b *Builder) joinPhase2(ctx context.Context, client transport.Client, phase1 wire.JoinResponse, id endpoint.NodeID) (*Cluster, error) {
	observers := phase1.Hosts
	if len(observers) == 0 {
		return nil, fmt.Errorf("rapidring: phase 1 response carried no observers")
	}

	type result struct {
		resp wire.JoinResponse
		err  error
	}
	results := make(chan result, len(observers))
	phase2Ctx, cancel := context.WithTimeout(ctx, 5*baseTimeout)
	defer cancel()

	for ring, observer := range observers {
		go func(ring int, observer endpoint.Endpoint) {
			resp, err := client.SendJoinPhase2(phase2Ctx, observer, wire.JoinMessage{
				Sender:          b.listenAddress,
				NodeID:          id,
				RingNumber:      ring,
				ConfigurationID: phase1.ConfigurationID,
				Metadata:        b.metadata,
			})
			results <- result{resp, err}
		}(ring, observer)
	}

	for i := 0; i < len(observers); i++ {
		select {
		case r := <-results:
			if r.err != nil {
				log.Debug().Err(r.err).Msg("rapidring: phase 2 observer call failed")
				continue
			}
			if r.resp.StatusCode == wire.MembershipRejected {
				return nil, fmt.Errorf("rapidring: membership rejected by %s", r.resp.Sender)
			}
			if r.resp.StatusCode == wire.SafeToJoin && r.resp.ConfigurationID != phase1.ConfigurationID {
				view, err := membership.New(K, r.resp.Hosts, r.resp.Identifiers)
				if err != nil {
					return nil, err
				}
				if _, ok := view.NodeIDOf(b.listenAddress); !ok {
					return nil, fmt.Errorf("rapidring: committed view does not contain self %s", b.listenAddress)
				}
				return b.startWithView(view)
			}
		case <-phase2Ctx.Done():
			return nil, fmt.Errorf("rapidring: phase 2 round timed out: %w", phase2Ctx.Err())
		}
	}
	return nil, fmt.Errorf("rapidring: no observer confirmed admission")
}
