// Package detectorrunner drives a Detector on a periodic tick, issuing
// probes to every currently monitored subject in parallel each round.
package detectorrunner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Sh00ty/rapidring/internal/detector"
	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/wire"
)

// ProbeSender is the outbound half of the transport a Runner needs: send a
// probe to a peer and wait for its response or failure.
type ProbeSender interface {
	SendProbe(ctx context.Context, to endpoint.Endpoint, msg wire.ProbeMessage) (wire.ProbeResponse, error)
}

// Runner ticks a Detector on a fixed period, swapping in a new subject set
// atomically between ticks and notifying registered callbacks when a
// subject is flagged failed.
type Runner struct {
	mu       sync.Mutex
	detector detector.Detector
	sender   ProbeSender
	subjects map[endpoint.Endpoint]struct{}

	period       time.Duration
	probeTimeout time.Duration
	limiter      *rate.Limiter

	failedSubs []func(endpoint.Endpoint)
}

// New builds a Runner. period is the tick interval; probeTimeout bounds
// each individual probe round-trip.
func New(d detector.Detector, sender ProbeSender, period, probeTimeout time.Duration) *Runner {
	return &Runner{
		detector:     d,
		sender:       sender,
		subjects:     make(map[endpoint.Endpoint]struct{}),
		period:       period,
		probeTimeout: probeTimeout,
		limiter:      rate.NewLimiter(rate.Every(period/10), 64),
	}
}

// RegisterLinkFailedSubscription registers a callback invoked once per
// subject the detector reports as failed, on every tick it remains failed.
func (r *Runner) RegisterLinkFailedSubscription(f func(endpoint.Endpoint)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedSubs = append(r.failedSubs, f)
}

// UpdateSubjects atomically replaces the monitored subject set and notifies
// the detector of the change.
func (r *Runner) UpdateSubjects(subjects []endpoint.Endpoint) {
	r.mu.Lock()
	r.subjects = make(map[endpoint.Endpoint]struct{}, len(subjects))
	for _, s := range subjects {
		r.subjects[s] = struct{}{}
	}
	r.mu.Unlock()
	r.detector.OnMembershipChange(subjects)
}

// Run ticks the detector until ctx is canceled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick issues one round of probes to every monitored subject and waits for
// all of them to complete or time out before returning.
func (r *Runner) Tick(ctx context.Context) {
	r.mu.Lock()
	subjects := make([]endpoint.Endpoint, 0, len(r.subjects))
	for s := range r.subjects {
		subjects = append(subjects, s)
	}
	r.mu.Unlock()

	if len(subjects) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, subject := range subjects {
		if r.detector.HasFailed(subject) {
			r.notifyFailed(subject)
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(subject endpoint.Endpoint) {
			defer wg.Done()
			r.probe(ctx, subject)
		}(subject)
	}
	wg.Wait()
}

func (r *Runner) probe(ctx context.Context, subject endpoint.Endpoint) {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	msg := r.detector.CreateProbe(subject)
	resp, err := r.sender.SendProbe(probeCtx, subject, msg)
	if err != nil {
		r.detector.OnProbeFailure(err, subject)
		return
	}
	r.detector.OnProbeSuccess(resp, subject)
}

func (r *Runner) notifyFailed(subject endpoint.Endpoint) {
	r.mu.Lock()
	subs := append([]func(endpoint.Endpoint){}, r.failedSubs...)
	r.mu.Unlock()

	log.Warn().Msgf("detectorrunner: subject %s reported failed by detector", subject)
	for _, f := range subs {
		f(subject)
	}
}
