package storage

import (
	"testing"

	"github.com/uhyunpark/dexgate/pkg/ids"
)

func openMem(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal("")
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalPendingThenTerminal(t *testing.T) {
	j := openMem(t)

	if err := j.Record(TxRecord{ID: "a", Kind: "deposit", Token: "ETH", Result: ResultPending}); err != nil {
		t.Fatalf("Record(pending) error = %v", err)
	}
	first, ok, err := j.Get("a")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}

	if err := j.Record(TxRecord{ID: "a", Kind: "deposit", Token: "ETH", Result: ResultSuccess, Message: "Deposit successful"}); err != nil {
		t.Fatalf("Record(success) error = %v", err)
	}
	rec, ok, err := j.Get("a")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if rec.Result != ResultSuccess || rec.Message != "Deposit successful" {
		t.Errorf("record = %+v, want success", rec)
	}
	if !rec.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v kept from pending", rec.CreatedAt, first.CreatedAt)
	}
	if rec.UpdatedAt.Before(rec.CreatedAt) {
		t.Errorf("UpdatedAt %v before CreatedAt %v", rec.UpdatedAt, rec.CreatedAt)
	}
}

func TestJournalGetMissing(t *testing.T) {
	j := openMem(t)
	if _, ok, err := j.Get("nope"); ok || err != nil {
		t.Errorf("Get(missing) = %v, %v, want false, nil", ok, err)
	}
	if err := j.Record(TxRecord{}); err == nil {
		t.Error("Record(no id) error = nil")
	}
}

func TestJournalRecentNewestFirst(t *testing.T) {
	j := openMem(t)
	issuer := ids.NewIssuer()

	var order []string
	for i := 0; i < 5; i++ {
		id := issuer.Next()
		order = append(order, id)
		if err := j.Record(TxRecord{ID: id, Kind: "withdraw", Result: ResultFailure}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	recent, err := j.Recent(3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	for i, rec := range recent {
		if want := order[len(order)-1-i]; rec.ID != want {
			t.Errorf("recent[%d] = %s, want %s", i, rec.ID, want)
		}
	}
}

func TestJournalPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	if err := j.Record(TxRecord{ID: "keep", Kind: "cancelLimitOrder", Result: ResultSuccess}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	j, err = OpenJournal(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer j.Close()
	if rec, ok, _ := j.Get("keep"); !ok || rec.Kind != "cancelLimitOrder" {
		t.Errorf("Get(keep) = %+v, %v after reopen", rec, ok)
	}
}
