package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const maxResolveInterval = time.Minute

// HashSource reports the hash of block 0.
type HashSource interface {
	GenesisHash(ctx context.Context) (string, error)
}

// ChainLookup maps a genesis hash to the indexer's chain identity.
type ChainLookup interface {
	ChainByHash(ctx context.Context, hash string) (ChainInfo, error)
}

// Genesis holds the indexer chain id once discovered. Trade polls consult it
// on every tick and skip until it is known.
type Genesis struct {
	chain  HashSource
	lookup ChainLookup
	sugar  *zap.SugaredLogger

	// NewBackOff builds the retry schedule used by Run.
	NewBackOff func() backoff.BackOff

	mu    sync.RWMutex
	info  ChainInfo
	known bool
}

func NewGenesis(chain HashSource, lookup ChainLookup, sugar *zap.SugaredLogger) *Genesis {
	return &Genesis{
		chain:  chain,
		lookup: lookup,
		sugar:  sugar,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = maxResolveInterval
			return b
		},
	}
}

// ChainID returns the resolved chain id, or false while discovery is pending.
func (g *Genesis) ChainID() (int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.info.ChainID, g.known
}

// Info returns the resolved chain identity.
func (g *Genesis) Info() (ChainInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.info, g.known
}

// Set records a chain identity directly.
func (g *Genesis) Set(info ChainInfo) {
	g.mu.Lock()
	g.info = info
	g.known = true
	g.mu.Unlock()
}

// Run resolves the chain identity, retrying until it succeeds or ctx ends.
func (g *Genesis) Run(ctx context.Context) error {
	b := g.NewBackOff()
	for {
		info, err := g.resolve(ctx)
		if err == nil {
			g.Set(info)
			g.sugar.Infow("genesis_resolved", "chain_id", info.ChainID, "genesis_hash", info.GenesisHash)
			return nil
		}

		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxResolveInterval
		}
		g.sugar.Warnw("genesis_resolve_failed", "err", err, "retry_in", sleep)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (g *Genesis) resolve(ctx context.Context) (ChainInfo, error) {
	hash, err := g.chain.GenesisHash(ctx)
	if err != nil {
		return ChainInfo{}, err
	}
	return g.lookup.ChainByHash(ctx, hash)
}
