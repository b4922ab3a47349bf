package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

const maxDialInterval = 30 * time.Second

// Subscription is a live upstream stream. *rpc.ClientSubscription satisfies it.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// Client is the chain surface the gateway consumes. Implementations must be
// safe for concurrent use.
type Client interface {
	GenesisHash(ctx context.Context) (string, error)
	SubscribeNewHeads(ctx context.Context, ch chan<- Header) (Subscription, error)
	SubscribeOrderBook(ctx context.Context, token string, ch chan<- Update) (Subscription, error)
	SubscribeBestPrice(ctx context.Context, token string, ch chan<- Update) (Subscription, error)
	SubmitAndWatch(ctx context.Context, tx SignedTx, ch chan<- TxStatus) (Subscription, error)
	FindMetaError(ctx context.Context, ref ModuleRef) (MetaError, error)
	Close()
}

// RPCClient talks to the chain node over a single JSON-RPC connection.
type RPCClient struct {
	rpc *rpc.Client

	metaMu sync.RWMutex
	meta   map[ModuleRef]MetaError
}

// NewRPCClient wraps an established rpc connection.
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{rpc: c, meta: make(map[ModuleRef]MetaError)}
}

// Dial connects to the node, retrying with exponential backoff until ctx ends.
func Dial(ctx context.Context, endpoint string, sugar *zap.SugaredLogger) (*RPCClient, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxDialInterval

	for {
		c, err := rpc.DialContext(ctx, endpoint)
		if err == nil {
			sugar.Infow("chain_connected", "endpoint", endpoint)
			return NewRPCClient(c), nil
		}

		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxDialInterval
		}
		sugar.Warnw("chain_dial_failed", "endpoint", endpoint, "err", err, "retry_in", sleep)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", endpoint, ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func (c *RPCClient) GenesisHash(ctx context.Context) (string, error) {
	var hash string
	if err := c.rpc.CallContext(ctx, &hash, "chain_getBlockHash", 0); err != nil {
		return "", fmt.Errorf("get genesis hash: %w", err)
	}
	return hash, nil
}

func (c *RPCClient) SubscribeNewHeads(ctx context.Context, ch chan<- Header) (Subscription, error) {
	return subscription(c.rpc.Subscribe(ctx, "chain", ch, "newHeads"))
}

func (c *RPCClient) SubscribeOrderBook(ctx context.Context, token string, ch chan<- Update) (Subscription, error) {
	return subscription(c.rpc.Subscribe(ctx, "dex", ch, "orders", token))
}

func (c *RPCClient) SubscribeBestPrice(ctx context.Context, token string, ch chan<- Update) (Subscription, error) {
	return subscription(c.rpc.Subscribe(ctx, "dex", ch, "bestPrice", token))
}

func (c *RPCClient) SubmitAndWatch(ctx context.Context, tx SignedTx, ch chan<- TxStatus) (Subscription, error) {
	return subscription(c.rpc.Subscribe(ctx, "author", ch, "submitAndWatch", tx))
}

// FindMetaError resolves a module error from runtime metadata. Results are
// cached for the lifetime of the client since metadata is fixed per runtime.
func (c *RPCClient) FindMetaError(ctx context.Context, ref ModuleRef) (MetaError, error) {
	c.metaMu.RLock()
	if m, ok := c.meta[ref]; ok {
		c.metaMu.RUnlock()
		return m, nil
	}
	c.metaMu.RUnlock()

	var m MetaError
	if err := c.rpc.CallContext(ctx, &m, "state_findMetaError", ref); err != nil {
		return MetaError{}, fmt.Errorf("find meta error %d/%d: %w", ref.Index, ref.Error, err)
	}

	c.metaMu.Lock()
	c.meta[ref] = m
	c.metaMu.Unlock()
	return m, nil
}

// subscription keeps a failed Subscribe from surfacing as a non-nil
// interface holding a nil pointer.
func subscription(sub *rpc.ClientSubscription, err error) (Subscription, error) {
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *RPCClient) Close() {
	c.rpc.Close()
}
