package feed

import (
	"context"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexgate/pkg/chain"
	"github.com/uhyunpark/dexgate/pkg/indexer"
	"github.com/uhyunpark/dexgate/pkg/metrics"
)

// Feed names, also used as the client-facing type discriminator.
const (
	OrderBook  = "orderBook"
	BestPrices = "bestPrices"
	Trades     = "trades"
)

// Adapter hands out the three listeners backing a token subscription.
type Adapter struct {
	client chain.Client
	trades *TradeHub
	sugar  *zap.SugaredLogger
	stats  *metrics.Registry

	// NewBackOff builds the resubscribe schedule of chain feeds.
	NewBackOff func() backoff.BackOff
}

func NewAdapter(client chain.Client, trades *TradeHub, sugar *zap.SugaredLogger, stats *metrics.Registry) *Adapter {
	return &Adapter{
		client:     client,
		trades:     trades,
		sugar:      sugar,
		stats:      stats,
		NewBackOff: defaultBackOff,
	}
}

func (a *Adapter) OrderBook(token string) Listener[chain.Update] {
	l := NewChainListener(OrderBook, func(ctx context.Context, ch chan<- chain.Update) (chain.Subscription, error) {
		return a.client.SubscribeOrderBook(ctx, token, ch)
	}, a.sugar.With("token", token), a.stats)
	l.NewBackOff = a.NewBackOff
	return l
}

func (a *Adapter) BestPrice(token string) Listener[chain.Update] {
	l := NewChainListener(BestPrices, func(ctx context.Context, ch chan<- chain.Update) (chain.Subscription, error) {
		return a.client.SubscribeBestPrice(ctx, token, ch)
	}, a.sugar.With("token", token), a.stats)
	l.NewBackOff = a.NewBackOff
	return l
}

func (a *Adapter) Trades(token string) Listener[[]indexer.TradeRecord] {
	return a.trades.Listener(token)
}
