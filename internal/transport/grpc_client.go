package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/Sh00ty/rapidring/internal/endpoint"
	"github.com/Sh00ty/rapidring/internal/wire"
)

const (
	serviceName   = "rapidring.Membership"
	methodJoin1   = "/" + serviceName + "/JoinPhase1"
	methodJoin2   = "/" + serviceName + "/JoinPhase2"
	methodLinkUpd = "/" + serviceName + "/LinkUpdate"
	methodProbe   = "/" + serviceName + "/Probe"
)

// GRPCClient is the default Client: one long-lived connection per peer,
// created lazily and torn down explicitly via Close. Deadlines follow
// RpcClient's tiering: baseTimeout for link updates and probes, 5x for the
// join phase 2 round since it must wait for a view commit.
type GRPCClient struct {
	baseTimeout time.Duration

	mu    sync.Mutex
	conns map[endpoint.Endpoint]*grpc.ClientConn
}

var _ Client = (*GRPCClient)(nil)

// NewGRPCClient builds a client using baseTimeout as its tier-1 deadline.
func NewGRPCClient(baseTimeout time.Duration) *GRPCClient {
	return &GRPCClient{
		baseTimeout: baseTimeout,
		conns:       make(map[endpoint.Endpoint]*grpc.ClientConn),
	}
}

func (c *GRPCClient) connFor(to endpoint.Endpoint) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[to]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(to.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("transport: failed to dial %s: %w", to, err)
	}
	c.conns[to] = conn
	return conn, nil
}

// Close tears down the cached connection to an endpoint, if any.
func (c *GRPCClient) Close(to endpoint.Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[to]
	if !ok {
		return nil
	}
	delete(c.conns, to)
	return conn.Close()
}

// CloseAll tears down every cached connection.
func (c *GRPCClient) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for to, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("transport: failed to close connection to %s: %w", to, err)
		}
		delete(c.conns, to)
	}
	return firstErr
}

func (c *GRPCClient) invoke(ctx context.Context, to endpoint.Endpoint, method string, deadline time.Duration, req, resp any) error {
	conn, err := c.connFor(to)
	if err != nil {
		return err
	}

	return retry.Do(func() error {
		callCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		if err := conn.Invoke(callCtx, method, req, resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
			return classifyErr(to, err)
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrTransient) }),
	)
}

func classifyErr(to endpoint.Endpoint, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("transport: call to %s failed: %w", to, err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded, codes.Unavailable, codes.Canceled:
		return fmt.Errorf("%w: call to %s: %s", ErrTransient, to, st.Message())
	default:
		return fmt.Errorf("transport: call to %s failed with %s: %s", to, st.Code(), st.Message())
	}
}

func (c *GRPCClient) SendJoinPhase1(ctx context.Context, to endpoint.Endpoint, msg wire.JoinMessage) (wire.JoinResponse, error) {
	var resp wire.JoinResponse
	err := c.invoke(ctx, to, methodJoin1, c.baseTimeout, &msg, &resp)
	return resp, err
}

func (c *GRPCClient) SendJoinPhase2(ctx context.Context, to endpoint.Endpoint, msg wire.JoinMessage) (wire.JoinResponse, error) {
	var resp wire.JoinResponse
	err := c.invoke(ctx, to, methodJoin2, 5*c.baseTimeout, &msg, &resp)
	return resp, err
}

func (c *GRPCClient) SendLinkUpdate(ctx context.Context, to endpoint.Endpoint, msg wire.LinkUpdateMessage) error {
	var resp emptyResponse
	return c.invoke(ctx, to, methodLinkUpd, c.baseTimeout, &msg, &resp)
}

func (c *GRPCClient) SendProbe(ctx context.Context, to endpoint.Endpoint, msg wire.ProbeMessage) (wire.ProbeResponse, error) {
	var resp wire.ProbeResponse
	err := c.invoke(ctx, to, methodProbe, c.baseTimeout, &msg, &resp)
	return resp, err
}

type emptyResponse struct{}
