package chain

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

type chainService struct {
	heads []Header
}

func (s *chainService) GetBlockHash(number uint64) (string, error) {
	if number != 0 {
		return "", nil
	}
	return "0xgenesis", nil
}

func (s *chainService) NewHeads(ctx context.Context) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		for _, h := range s.heads {
			notifier.Notify(sub.ID, h)
		}
	}()
	return sub, nil
}

type authorService struct {
	statuses []TxStatus
	got      atomic.Value
}

func (s *authorService) SubmitAndWatch(ctx context.Context, tx SignedTx) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	s.got.Store(tx)
	sub := notifier.CreateSubscription()
	go func() {
		for _, st := range s.statuses {
			notifier.Notify(sub.ID, st)
		}
	}()
	return sub, nil
}

type stateService struct {
	calls atomic.Int32
}

func (s *stateService) FindMetaError(ref ModuleRef) (MetaError, error) {
	s.calls.Add(1)
	return MetaError{Section: "eqDex", Method: "OrderNotFound", Docs: []string{"Order", "not found"}}, nil
}

func newTestClient(t *testing.T, services map[string]any) *RPCClient {
	t.Helper()
	server := rpc.NewServer()
	for name, svc := range services {
		if err := server.RegisterName(name, svc); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	c := NewRPCClient(rpc.DialInProc(server))
	t.Cleanup(func() {
		c.Close()
		server.Stop()
	})
	return c
}

func TestGenesisHash(t *testing.T) {
	c := newTestClient(t, map[string]any{"chain": &chainService{}})

	hash, err := c.GenesisHash(context.Background())
	if err != nil {
		t.Fatalf("GenesisHash() error = %v", err)
	}
	if hash != "0xgenesis" {
		t.Errorf("hash = %s, want 0xgenesis", hash)
	}
}

func TestSubscribeNewHeadsPreservesOrder(t *testing.T) {
	heads := []Header{{Number: 10}, {Number: 11}, {Number: 12}}
	c := newTestClient(t, map[string]any{"chain": &chainService{heads: heads}})

	ch := make(chan Header, len(heads))
	sub, err := c.SubscribeNewHeads(context.Background(), ch)
	if err != nil {
		t.Fatalf("SubscribeNewHeads() error = %v", err)
	}
	defer sub.Unsubscribe()

	for i, want := range heads {
		select {
		case got := <-ch:
			if got.Number != want.Number {
				t.Errorf("head[%d] = %d, want %d", i, got.Number, want.Number)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for head %d", i)
		}
	}
}

func TestSubmitAndWatchStreamsStatuses(t *testing.T) {
	author := &authorService{statuses: []TxStatus{
		{Stage: StageReady},
		{Stage: StageInBlock, BlockHash: "0xabc", Events: []Event{
			{Section: SectionDex, Method: MethodOrderCreated, Data: []json.RawMessage{json.RawMessage(`"5Gx"`), json.RawMessage(`42`)}},
		}},
	}}
	c := newTestClient(t, map[string]any{"author": author})

	tx := SignedTx{Call: "eqDex.createOrder", Asset: "ETH", Signer: "0x01", Signature: "0x02", Nonce: -1}
	ch := make(chan TxStatus, 4)
	sub, err := c.SubmitAndWatch(context.Background(), tx, ch)
	if err != nil {
		t.Fatalf("SubmitAndWatch() error = %v", err)
	}
	defer sub.Unsubscribe()

	var got []TxStatus
	for len(got) < 2 {
		select {
		case st := <-ch:
			got = append(got, st)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d statuses", len(got))
		}
	}
	if got[0].Stage != StageReady || got[0].Included() {
		t.Errorf("first status = %+v, want ready and not included", got[0])
	}
	if !got[1].Included() || got[1].BlockHash != "0xabc" {
		t.Errorf("second status = %+v, want inBlock 0xabc", got[1])
	}
	if len(got[1].Events) != 1 || !got[1].Events[0].Is(SectionDex, MethodOrderCreated) {
		t.Errorf("events = %+v, want one OrderCreated", got[1].Events)
	}

	sent, _ := author.got.Load().(SignedTx)
	if sent.Call != tx.Call || sent.Nonce != -1 {
		t.Errorf("node received %+v, want %+v", sent, tx)
	}
}

func TestFindMetaErrorCached(t *testing.T) {
	state := &stateService{}
	c := newTestClient(t, map[string]any{"state": state})
	ref := ModuleRef{Index: 34, Error: 7}

	for i := 0; i < 3; i++ {
		m, err := c.FindMetaError(context.Background(), ref)
		if err != nil {
			t.Fatalf("FindMetaError() error = %v", err)
		}
		if m.Method != "OrderNotFound" {
			t.Errorf("method = %s, want OrderNotFound", m.Method)
		}
	}
	if n := state.calls.Load(); n != 1 {
		t.Errorf("node calls = %d, want 1", n)
	}
}

func TestSubscribeUnknownNamespaceReturnsNil(t *testing.T) {
	c := newTestClient(t, map[string]any{"chain": &chainService{}})

	sub, err := c.SubscribeOrderBook(context.Background(), "ETH", make(chan Update, 1))
	if err == nil {
		t.Fatal("SubscribeOrderBook() error = nil, want error for missing namespace")
	}
	if sub != nil {
		t.Errorf("sub = %v, want nil", sub)
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		stage    TxStage
		included bool
		rejected bool
	}{
		{StageFuture, false, false},
		{StageReady, false, false},
		{StageBroadcast, false, false},
		{StageInBlock, true, false},
		{StageFinalized, true, false},
		{StageUsurped, false, true},
		{StageDropped, false, true},
		{StageInvalid, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			s := TxStatus{Stage: tt.stage}
			if s.Included() != tt.included {
				t.Errorf("Included() = %v, want %v", s.Included(), tt.included)
			}
			if s.Rejected() != tt.rejected {
				t.Errorf("Rejected() = %v, want %v", s.Rejected(), tt.rejected)
			}
		})
	}
}

func TestEventIsCaseInsensitiveSection(t *testing.T) {
	e := Event{Section: "System", Method: MethodExtrinsicFailed}
	if !e.Is(SectionSystem, MethodExtrinsicFailed) {
		t.Error("Is(system, ExtrinsicFailed) = false, want true")
	}
	if e.Is(SectionSystem, MethodExtrinsicSuccess) {
		t.Error("Is(system, ExtrinsicSuccess) = true, want false")
	}
}
