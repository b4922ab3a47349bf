package feed

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/uhyunpark/dexgate/pkg/chain"
	"github.com/uhyunpark/dexgate/pkg/chain/chaintest"
	"github.com/uhyunpark/dexgate/pkg/util"
)

func fastBackOff() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

type collector[T any] struct {
	mu  sync.Mutex
	got []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	c.got = append(c.got, v)
	c.mu.Unlock()
}

func (c *collector[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func (c *collector[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.got...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestAdapter(fake *chaintest.Fake) *Adapter {
	a := NewAdapter(fake, nil, util.NopSugar(), nil)
	a.NewBackOff = fastBackOff
	return a
}

func TestChainListenerRelaysInOrder(t *testing.T) {
	fake := chaintest.New()
	l := newTestAdapter(fake).OrderBook("ETH")

	var c collector[chain.Update]
	if err := l.Start(c.add); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Stop()

	for i := 0; i < 5; i++ {
		chaintest.PushOrders(fake, "ETH", json.RawMessage([]byte{'0' + byte(i)}))
	}
	waitFor(t, "5 updates", func() bool { return c.len() == 5 })

	for i, u := range c.snapshot() {
		if string(u) != string([]byte{'0' + byte(i)}) {
			t.Errorf("update[%d] = %s, want %d", i, u, i)
		}
	}
}

func TestChainListenerStartFailure(t *testing.T) {
	fake := chaintest.New()
	fake.FailOpen(chaintest.KeyBestPrice("ETH"), errors.New("node down"))
	l := newTestAdapter(fake).BestPrice("ETH")

	if err := l.Start(func(chain.Update) {}); err == nil {
		t.Fatal("Start() error = nil, want node down")
	}
	l.Stop()
}

func TestChainListenerNoDeliveryAfterStop(t *testing.T) {
	fake := chaintest.New()
	l := newTestAdapter(fake).OrderBook("ETH")

	var c collector[chain.Update]
	if err := l.Start(c.add); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	chaintest.PushOrders(fake, "ETH", json.RawMessage(`1`))
	waitFor(t, "first update", func() bool { return c.len() == 1 })

	l.Stop()
	l.Stop()

	if n := fake.Active(chaintest.KeyOrders("ETH")); n != 0 {
		t.Errorf("active upstream subscriptions = %d, want 0", n)
	}
	if n := chaintest.PushOrders(fake, "ETH", json.RawMessage(`2`)); n != 0 {
		t.Errorf("push reached %d subscribers after Stop, want 0", n)
	}
	if n := c.len(); n != 1 {
		t.Errorf("deliveries = %d, want 1", n)
	}
}

func TestChainListenerResubscribes(t *testing.T) {
	fake := chaintest.New()
	l := newTestAdapter(fake).OrderBook("ETH")

	var c collector[chain.Update]
	if err := l.Start(c.add); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Stop()

	fake.FailOpen(chaintest.KeyOrders("ETH"), errors.New("reconnecting"))
	fake.Break(chaintest.KeyOrders("ETH"))
	time.Sleep(10 * time.Millisecond)
	fake.FailOpen(chaintest.KeyOrders("ETH"), nil)

	waitFor(t, "resubscription", func() bool { return fake.Active(chaintest.KeyOrders("ETH")) == 1 })
	if n := fake.Opens(chaintest.KeyOrders("ETH")); n != 2 {
		t.Errorf("opens = %d, want 2", n)
	}

	chaintest.PushOrders(fake, "ETH", json.RawMessage(`"after"`))
	waitFor(t, "update after resubscribe", func() bool { return c.len() == 1 })
}
