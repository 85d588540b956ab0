package broadcaster

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/wire"
)

func ep(port int) endpoint.Endpoint {
	return endpoint.Endpoint{Host: "127.0.0.1", Port: port}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []endpoint.Endpoint
	fail map[endpoint.Endpoint]error
}

func (f *fakeSender) SendLinkUpdate(_ context.Context, to endpoint.Endpoint, _ wire.LinkUpdateMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	if err, ok := f.fail[to]; ok {
		return err
	}
	return nil
}

func TestBroadcastLinkUpdateSkipsSelf(t *testing.T) {
	self := ep(1)
	sender := &fakeSender{fail: map[endpoint.Endpoint]error{}}
	b := New(self, sender)
	b.UpdateMembership([]endpoint.Endpoint{ep(1), ep(2), ep(3)})

	require.NoError(t, b.BroadcastLinkUpdate(context.Background(), wire.LinkUpdateMessage{}))

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.ElementsMatch(t, []endpoint.Endpoint{ep(2), ep(3)}, sender.sent)
}

func TestBroadcastLinkUpdateReturnsAnError(t *testing.T) {
	self := ep(1)
	boom := errors.New("unreachable")
	sender := &fakeSender{fail: map[endpoint.Endpoint]error{ep(2): boom}}
	b := New(self, sender)
	b.UpdateMembership([]endpoint.Endpoint{ep(1), ep(2)})

	err := b.BroadcastLinkUpdate(context.Background(), wire.LinkUpdateMessage{})
	require.Error(t, err)
}

func TestPrimaryRelayForIsStableAcrossRepeatedLookups(t *testing.T) {
	b := New(ep(1), &fakeSender{fail: map[endpoint.Endpoint]error{}})
	b.UpdateMembership([]endpoint.Endpoint{ep(1), ep(2), ep(3), ep(4)})

	subject := ep(99)
	first, ok := b.PrimaryRelayFor(subject)
	require.True(t, ok)
	second, _ := b.PrimaryRelayFor(subject)
	require.Equal(t, first, second)
}

func TestPrimaryRelayForEmptyRing(t *testing.T) {
	b := New(ep(1), &fakeSender{fail: map[endpoint.Endpoint]error{}})
	_, ok := b.PrimaryRelayFor(ep(2))
	require.False(t, ok)
}
