// Package watermark implements the low/high watermark batching buffer that
// turns individual observer reports into stable view-change batches.
package watermark

import (
	"fmt"
	"sync"

	"github.com/Sh00ty/rapidring/internal/endpoint"
)

const minK = 3

// Config carries the three thresholds the buffer is constructed with.
// K >= H > L >= 0 must hold.
type Config struct {
	K int
	H int
	L int
}

func (c Config) validate() error {
	if c.K < minK {
		return fmt.Errorf("watermark: K=%d must be >= %d", c.K, minK)
	}
	if !(c.K >= c.H && c.H > c.L && c.L >= 0) {
		return fmt.Errorf("watermark: constraints K >= H > L >= 0 violated (K=%d, H=%d, L=%d)", c.K, c.H, c.L)
	}
	return nil
}

// Buffer accumulates per-subject report counts and releases a batch once it
// has quiesced: every subject that crossed L has also crossed H, and no
// subject is mid-crossing.
type Buffer struct {
	mu                sync.Mutex
	h, l              int
	counters          map[endpoint.Endpoint]int
	updatesInProgress int
	ready             []endpoint.Endpoint
	deliverCount      uint64
}

// New constructs a Buffer, validating the K/H/L thresholds.
func New(cfg Config) (*Buffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Buffer{
		h:        cfg.H,
		l:        cfg.L,
		counters: make(map[endpoint.Endpoint]int),
	}, nil
}

// Receive registers one observer's report about subject. It returns a
// non-empty, stable batch exactly when this report causes the buffer to
// quiesce; otherwise it returns nil.
func (b *Buffer) Receive(subject endpoint.Endpoint) []endpoint.Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counters[subject]++
	value := b.counters[subject]

	if value == b.l {
		b.updatesInProgress++
	}

	if value == b.h {
		b.ready = append(b.ready, subject)
		b.updatesInProgress--

		if b.updatesInProgress == 0 {
			b.deliverCount++
			batch := make([]endpoint.Endpoint, len(b.ready))
			copy(batch, b.ready)
			for _, s := range batch {
				b.counters[s] = 0
			}
			b.ready = b.ready[:0]
			return batch
		}
	}
	return nil
}

// DeliverCount returns how many batches this buffer has ever released.
func (b *Buffer) DeliverCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deliverCount
}

// Reset clears all in-flight counters, as done after a committed batch or a
// view change that invalidates in-progress tallies.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters = make(map[endpoint.Endpoint]int)
	b.updatesInProgress = 0
	b.ready = b.ready[:0]
}
