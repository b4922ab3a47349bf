// Package subscription tracks client feed subscriptions. Each subscription
// composes the order book, best price and trade feeds of one token and tags
// every delivery with the id of the request that opened it.
package subscription

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexgate/pkg/chain"
	"github.com/uhyunpark/dexgate/pkg/errs"
	"github.com/uhyunpark/dexgate/pkg/feed"
	"github.com/uhyunpark/dexgate/pkg/indexer"
	"github.com/uhyunpark/dexgate/pkg/metrics"
	"github.com/uhyunpark/dexgate/pkg/protocol"
)

// Replier delivers a tagged message to one client connection. Reply must not
// block. Repliers are compared by identity to determine ownership.
type Replier interface {
	Reply(id string, message any)
}

// Feeds opens the upstream listeners of a token.
type Feeds interface {
	OrderBook(token string) feed.Listener[chain.Update]
	BestPrice(token string) feed.Listener[chain.Update]
	Trades(token string) feed.Listener[[]indexer.TradeRecord]
}

type entry struct {
	id    string
	token string
	owner Replier
	stops []func()
}

type Manager struct {
	feeds  Feeds
	tokens map[string]struct{}
	sugar  *zap.SugaredLogger
	stats  *metrics.Registry

	mu     sync.Mutex
	subs   map[string]*entry
	closed bool
}

func NewManager(feeds Feeds, tokens []string, sugar *zap.SugaredLogger, stats *metrics.Registry) *Manager {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return &Manager{
		feeds:  feeds,
		tokens: set,
		sugar:  sugar,
		stats:  stats,
		subs:   make(map[string]*entry),
	}
}

// Supports reports whether token can be subscribed to or traded.
func (m *Manager) Supports(token string) bool {
	_, ok := m.tokens[token]
	return ok
}

// Subscribe opens the feeds of token for owner under id and acknowledges
// with "Subscribed to <token>". Feed deliveries are held back until the
// acknowledgement is sent. If any feed fails to start the ones already
// started are stopped and nothing is recorded.
func (m *Manager) Subscribe(owner Replier, id, token string) error {
	if !m.Supports(token) {
		return errs.New("subscription", errs.CodeInvalidToken, errs.WithMessage("No token found for subscription"))
	}

	// Deliveries wait on gate; pass decides whether they go out once it opens.
	gate := make(chan struct{})
	var pass atomic.Bool
	release := func(ok bool) {
		pass.Store(ok)
		close(gate)
	}
	relay := func(kind string, data any) {
		<-gate
		if pass.Load() {
			owner.Reply(id, protocol.FeedMessage{Type: kind, Data: data})
		}
	}

	e := &entry{id: id, token: token, owner: owner}
	abort := func(err error) error {
		release(false)
		stopAll(e.stops)
		m.sugar.Warnw("subscription_start_failed", "id", id, "token", token, "err", err)
		return errs.New("subscription", errs.CodeUpstream,
			errs.WithMessage(fmt.Sprintf("Subscription to %s failed", token)), errs.WithCause(err))
	}

	book := m.feeds.OrderBook(token)
	if err := book.Start(func(u chain.Update) { relay(feed.OrderBook, u) }); err != nil {
		return abort(err)
	}
	e.stops = append(e.stops, book.Stop)

	prices := m.feeds.BestPrice(token)
	if err := prices.Start(func(u chain.Update) { relay(feed.BestPrices, u) }); err != nil {
		return abort(err)
	}
	e.stops = append(e.stops, prices.Stop)

	trades := m.feeds.Trades(token)
	if err := trades.Start(func(recs []indexer.TradeRecord) { relay(feed.Trades, recs) }); err != nil {
		return abort(err)
	}
	e.stops = append(e.stops, trades.Stop)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return abort(errs.New("subscription", errs.CodeUpstream, errs.WithMessage("gateway shutting down")))
	}
	if _, dup := m.subs[id]; dup {
		m.mu.Unlock()
		return abort(fmt.Errorf("duplicate subscription id %s", id))
	}
	m.subs[id] = e
	m.mu.Unlock()

	m.stats.SubscriptionOpened()
	owner.Reply(id, "Subscribed to "+token)
	release(true)
	m.sugar.Infow("subscription_opened", "id", id, "token", token)
	return nil
}

// Unsubscribe stops subscription subID of owner and confirms under replyID.
// Once it returns no further deliveries for subID are made.
func (m *Manager) Unsubscribe(owner Replier, replyID, subID string) error {
	m.mu.Lock()
	e, ok := m.subs[subID]
	if !ok || e.owner != owner {
		m.mu.Unlock()
		return errs.New("subscription", errs.CodeUnknownSubscription,
			errs.WithMessage("Subscription message id not found"))
	}
	delete(m.subs, subID)
	m.mu.Unlock()

	m.stop(e)
	owner.Reply(replyID, "Unsubscribed from "+subID)
	return nil
}

// ReleaseOwner stops every subscription of a disconnected client.
func (m *Manager) ReleaseOwner(owner Replier) {
	m.mu.Lock()
	var released []*entry
	for id, e := range m.subs {
		if e.owner == owner {
			released = append(released, e)
			delete(m.subs, id)
		}
	}
	m.mu.Unlock()

	for _, e := range released {
		m.stop(e)
	}
}

// Has reports whether id is an active subscription.
func (m *Manager) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[id]
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close stops every subscription and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	all := make([]*entry, 0, len(m.subs))
	for id, e := range m.subs {
		all = append(all, e)
		delete(m.subs, id)
	}
	m.mu.Unlock()

	var wg conc.WaitGroup
	for _, e := range all {
		wg.Go(func() { m.stop(e) })
	}
	wg.Wait()
}

func (m *Manager) stop(e *entry) {
	stopAll(e.stops)
	m.stats.SubscriptionClosed()
	m.sugar.Infow("subscription_closed", "id", e.id, "token", e.token)
}

// stopAll stops listeners concurrently and waits for all of them.
func stopAll(stops []func()) {
	var wg conc.WaitGroup
	for _, stop := range stops {
		wg.Go(stop)
	}
	wg.Wait()
}
