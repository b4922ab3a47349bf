// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"errors"
	"sync"

	"github.com/uhyunpark/dexgate/pkg/chain"
)

const (
	KeyHeads  = "newHeads"
	KeySubmit = "submitAndWatch"
)

func KeyOrders(token string) string    { return "orders/" + token }
func KeyBestPrice(token string) string { return "bestPrice/" + token }

// ErrBroken is delivered on Err() by Break.
var ErrBroken = errors.New("chaintest: subscription broken")

// Sub is a fake upstream subscription.
type Sub struct {
	key  string
	err  chan error
	done chan struct{}
	once sync.Once
	f    *Fake
}

func (s *Sub) Unsubscribe() {
	s.once.Do(func() {
		s.f.remove(s)
		close(s.done)
	})
}

func (s *Sub) Err() <-chan error { return s.err }

// Fake is a scriptable chain.Client. Zero value is not usable; use New.
type Fake struct {
	mu      sync.Mutex
	streams map[string]map[*Sub]any
	opens   map[string]int

	genesis    string
	genesisErr error
	openErr    map[string]error
	script     func(chain.SignedTx) []chain.TxStatus
	meta       map[chain.ModuleRef]chain.MetaError
	metaErr    error
	submitted  []chain.SignedTx
}

func New() *Fake {
	return &Fake{
		streams: make(map[string]map[*Sub]any),
		opens:   make(map[string]int),
		openErr: make(map[string]error),
		meta:    make(map[chain.ModuleRef]chain.MetaError),
		genesis: "0xgenesis",
	}
}

// FailOpen makes subscriptions for key fail with err until cleared with nil.
func (f *Fake) FailOpen(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.openErr, key)
		return
	}
	f.openErr[key] = err
}

func (f *Fake) SetGenesis(hash string, err error) {
	f.mu.Lock()
	f.genesis, f.genesisErr = hash, err
	f.mu.Unlock()
}

// Script sets the status sequence streamed for each submitted transaction.
// Without a script, status watches stay open until PushStatus or Unsubscribe.
func (f *Fake) Script(fn func(chain.SignedTx) []chain.TxStatus) {
	f.mu.Lock()
	f.script = fn
	f.mu.Unlock()
}

func (f *Fake) SetMeta(ref chain.ModuleRef, m chain.MetaError) {
	f.mu.Lock()
	f.meta[ref] = m
	f.mu.Unlock()
}

func (f *Fake) FailMeta(err error) {
	f.mu.Lock()
	f.metaErr = err
	f.mu.Unlock()
}

// Submitted returns every transaction received so far.
func (f *Fake) Submitted() []chain.SignedTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.SignedTx(nil), f.submitted...)
}

// Active counts open subscriptions for key.
func (f *Fake) Active(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams[key])
}

// Opens counts successful subscribe calls for key.
func (f *Fake) Opens(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[key]
}

// Break fails every open subscription for key, as a dropped connection would.
func (f *Fake) Break(key string) {
	f.mu.Lock()
	subs := make([]*Sub, 0, len(f.streams[key]))
	for s := range f.streams[key] {
		subs = append(subs, s)
	}
	delete(f.streams, key)
	f.mu.Unlock()

	for _, s := range subs {
		s.err <- ErrBroken
	}
}

func PushHead(f *Fake, h chain.Header) int { return push(f, KeyHeads, h) }

func PushOrders(f *Fake, token string, u chain.Update) int {
	return push(f, KeyOrders(token), u)
}

func PushBestPrice(f *Fake, token string, u chain.Update) int {
	return push(f, KeyBestPrice(token), u)
}

// PushStatus delivers st to every open status watch.
func PushStatus(f *Fake, st chain.TxStatus) int { return push(f, KeySubmit, st) }

func push[T any](f *Fake, key string, v T) int {
	type target struct {
		s  *Sub
		ch chan<- T
	}
	f.mu.Lock()
	targets := make([]target, 0, len(f.streams[key]))
	for s, ch := range f.streams[key] {
		targets = append(targets, target{s: s, ch: ch.(chan<- T)})
	}
	f.mu.Unlock()

	for _, t := range targets {
		select {
		case t.ch <- v:
		case <-t.s.done:
		}
	}
	return len(targets)
}

func (f *Fake) open(key string, ch any) (*Sub, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[key]; err != nil {
		return nil, err
	}
	s := &Sub{key: key, err: make(chan error, 1), done: make(chan struct{}), f: f}
	if f.streams[key] == nil {
		f.streams[key] = make(map[*Sub]any)
	}
	f.streams[key][s] = ch
	f.opens[key]++
	return s, nil
}

func (f *Fake) remove(s *Sub) {
	f.mu.Lock()
	delete(f.streams[s.key], s)
	f.mu.Unlock()
}

func (f *Fake) GenesisHash(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.genesis, f.genesisErr
}

func (f *Fake) SubscribeNewHeads(ctx context.Context, ch chan<- chain.Header) (chain.Subscription, error) {
	return subscription(f.open(KeyHeads, ch))
}

func (f *Fake) SubscribeOrderBook(ctx context.Context, token string, ch chan<- chain.Update) (chain.Subscription, error) {
	return subscription(f.open(KeyOrders(token), ch))
}

func (f *Fake) SubscribeBestPrice(ctx context.Context, token string, ch chan<- chain.Update) (chain.Subscription, error) {
	return subscription(f.open(KeyBestPrice(token), ch))
}

func (f *Fake) SubmitAndWatch(ctx context.Context, tx chain.SignedTx, ch chan<- chain.TxStatus) (chain.Subscription, error) {
	s, err := f.open(KeySubmit, ch)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.submitted = append(f.submitted, tx)
	script := f.script
	f.mu.Unlock()

	if script != nil {
		statuses := script(tx)
		go func() {
			for _, st := range statuses {
				select {
				case ch <- st:
				case <-s.done:
					return
				}
			}
		}()
	}
	return s, nil
}

func (f *Fake) FindMetaError(ctx context.Context, ref chain.ModuleRef) (chain.MetaError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metaErr != nil {
		return chain.MetaError{}, f.metaErr
	}
	m, ok := f.meta[ref]
	if !ok {
		return chain.MetaError{}, errors.New("chaintest: unknown module error")
	}
	return m, nil
}

func (f *Fake) Close() {}

func subscription(s *Sub, err error) (chain.Subscription, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
