// Package feed adapts upstream chain and indexer data into restartable,
// cancelable listeners, one per feed per token.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexgate/pkg/chain"
	"github.com/uhyunpark/dexgate/pkg/metrics"
)

const (
	maxResubscribeInterval = 30 * time.Second
	feedBuffer             = 64
)

// Listener is an infinite, cancelable stream of feed values. Start begins
// delivery to the callback; once Stop returns the callback is never invoked
// again. Stop is idempotent.
type Listener[T any] interface {
	Start(deliver func(T)) error
	Stop()
}

// OpenFunc opens one upstream subscription delivering into ch.
type OpenFunc[T any] func(ctx context.Context, ch chan<- T) (chain.Subscription, error)

// ChainListener relays one chain subscription. A broken subscription is
// reopened with exponential backoff instead of ending the feed.
type ChainListener[T any] struct {
	name  string
	open  OpenFunc[T]
	sugar *zap.SugaredLogger
	stats *metrics.Registry

	// NewBackOff builds the resubscribe schedule.
	NewBackOff func() backoff.BackOff

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func NewChainListener[T any](name string, open OpenFunc[T], sugar *zap.SugaredLogger, stats *metrics.Registry) *ChainListener[T] {
	return &ChainListener[T]{
		name:       name,
		open:       open,
		sugar:      sugar,
		stats:      stats,
		NewBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxResubscribeInterval
	return b
}

// Start opens the first subscription synchronously so callers learn about a
// failed start, then relays values on a background goroutine.
func (l *ChainListener[T]) Start(deliver func(T)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil || l.stopped {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan T, feedBuffer)
	sub, err := l.open(ctx, ch)
	if err != nil {
		cancel()
		return err
	}

	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, sub, ch, deliver)
	return nil
}

func (l *ChainListener[T]) run(ctx context.Context, sub chain.Subscription, ch chan T, deliver func(T)) {
	defer close(l.done)
	b := l.NewBackOff()

	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case v := <-ch:
			deliver(v)
		case err := <-sub.Err():
			sub.Unsubscribe()
			l.stats.FeedError(l.name)
			l.sugar.Warnw("feed_subscription_broken", "feed", l.name, "err", err)

			sub = l.reopen(ctx, ch, b)
			if sub == nil {
				return
			}
			b.Reset()
		}
	}
}

// reopen retries the subscription until it succeeds or ctx ends, in which
// case it returns nil.
func (l *ChainListener[T]) reopen(ctx context.Context, ch chan T, b backoff.BackOff) chain.Subscription {
	for {
		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxResubscribeInterval
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}

		sub, err := l.open(ctx, ch)
		if err == nil {
			l.sugar.Infow("feed_resubscribed", "feed", l.name)
			return sub
		}
		l.stats.FeedError(l.name)
		l.sugar.Warnw("feed_resubscribe_failed", "feed", l.name, "err", err, "retry_in", sleep)
	}
}

// Stop cancels the subscription and waits for the relay goroutine to exit.
func (l *ChainListener[T]) Stop() {
	l.mu.Lock()
	l.stopped = true
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
