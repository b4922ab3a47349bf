package feed

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexgate/pkg/chain"
	"github.com/uhyunpark/dexgate/pkg/indexer"
	"github.com/uhyunpark/dexgate/pkg/metrics"
)

// TradeSource fetches the trades of a token from a block onwards.
type TradeSource interface {
	FetchTradeWindow(ctx context.Context, chainID int64, token string, fromBlock uint64) ([]indexer.TradeRecord, error)
}

// ChainIDSource reports the indexer chain id once it is known.
type ChainIDSource interface {
	ChainID() (int64, bool)
}

// TradeHub runs one trade poll per token, driven by new block headers, and
// fans deduplicated records out to every listener on that token. The poll
// starts with the first listener and stops with the last; the dedup cursor
// of a token survives restarts.
type TradeHub struct {
	client   chain.Client
	source   TradeSource
	chainID  ChainIDSource
	lookback uint64
	sugar    *zap.SugaredLogger
	stats    *metrics.Registry

	// NewBackOff builds the resubscribe schedule of the header feed.
	NewBackOff func() backoff.BackOff

	mu      sync.Mutex
	polls   map[string]*tradePoll
	cursors map[string]*Deduplicator
	nextID  uint64
}

type tradePoll struct {
	token  string
	heads  *ChainListener[chain.Header]
	dedup  *Deduplicator
	cancel context.CancelFunc
	sinks  map[uint64]func([]indexer.TradeRecord)
}

func NewTradeHub(client chain.Client, source TradeSource, chainID ChainIDSource, lookback uint64, sugar *zap.SugaredLogger, stats *metrics.Registry) *TradeHub {
	return &TradeHub{
		client:     client,
		source:     source,
		chainID:    chainID,
		lookback:   lookback,
		sugar:      sugar,
		stats:      stats,
		NewBackOff: defaultBackOff,
		polls:      make(map[string]*tradePoll),
		cursors:    make(map[string]*Deduplicator),
	}
}

// Listener returns a trade listener for token.
func (h *TradeHub) Listener(token string) Listener[[]indexer.TradeRecord] {
	return &tradeListener{hub: h, token: token}
}

// Cursor reports the dedup cursor of token.
func (h *TradeHub) Cursor(token string) (uint64, bool) {
	h.mu.Lock()
	d := h.cursors[token]
	h.mu.Unlock()
	if d == nil {
		return 0, false
	}
	return d.Cursor()
}

// Polling reports whether a poll loop is running for token.
func (h *TradeHub) Polling(token string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.polls[token] != nil
}

func (h *TradeHub) add(token string, deliver func([]indexer.TradeRecord)) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID

	if p := h.polls[token]; p != nil {
		p.sinks[id] = deliver
		return id, nil
	}

	dedup := h.cursors[token]
	if dedup == nil {
		dedup = NewDeduplicator()
		h.cursors[token] = dedup
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &tradePoll{
		token:  token,
		dedup:  dedup,
		cancel: cancel,
		sinks:  map[uint64]func([]indexer.TradeRecord){id: deliver},
	}
	p.heads = NewChainListener(Trades, func(ctx context.Context, ch chan<- chain.Header) (chain.Subscription, error) {
		return h.client.SubscribeNewHeads(ctx, ch)
	}, h.sugar, h.stats)
	p.heads.NewBackOff = h.NewBackOff

	// The relay goroutine only takes h.mu after Start returns, so starting
	// under the lock cannot deadlock.
	if err := p.heads.Start(func(hd chain.Header) { h.tick(ctx, p, hd) }); err != nil {
		cancel()
		return 0, err
	}
	h.polls[token] = p
	h.sugar.Infow("trade_poll_started", "token", token)
	return id, nil
}

func (h *TradeHub) remove(token string, id uint64) {
	h.mu.Lock()
	p := h.polls[token]
	if p == nil {
		h.mu.Unlock()
		return
	}
	delete(p.sinks, id)
	if len(p.sinks) > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.polls, token)
	h.mu.Unlock()

	p.cancel()
	p.heads.Stop()
	h.sugar.Infow("trade_poll_stopped", "token", token)
}

func (h *TradeHub) tick(ctx context.Context, p *tradePoll, hd chain.Header) {
	chainID, ok := h.chainID.ChainID()
	if !ok {
		h.sugar.Debugw("trade_tick_skipped", "token", p.token, "block", hd.Number, "reason", "chain id unknown")
		return
	}

	var from uint64
	if hd.Number > h.lookback {
		from = hd.Number - h.lookback
	}

	records, err := h.source.FetchTradeWindow(ctx, chainID, p.token, from)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.stats.FeedError(Trades)
		h.sugar.Warnw("trade_tick_failed", "token", p.token, "block", hd.Number, "err", err)
		return
	}

	fresh := p.dedup.Filter(records)
	if len(fresh) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, deliver := range p.sinks {
		deliver(fresh)
	}
}

type tradeListener struct {
	hub   *TradeHub
	token string

	mu      sync.Mutex
	id      uint64
	started bool
}

func (l *tradeListener) Start(deliver func([]indexer.TradeRecord)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}
	id, err := l.hub.add(l.token, deliver)
	if err != nil {
		return err
	}
	l.id, l.started = id, true
	return nil
}

func (l *tradeListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return
	}
	l.started = false
	l.hub.remove(l.token, l.id)
}
