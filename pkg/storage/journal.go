// Package storage persists transaction outcomes in a pebble journal so
// operators can look up what happened to a client action after the fact.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/goccy/go-json"
)

// Result values of a journal record.
const (
	ResultPending = "pending"
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// TxRecord is the journaled state of one client transaction, keyed by its
// correlation id.
type TxRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Token     string    `json:"token"`
	Result    string    `json:"result"`
	Message   string    `json:"message,omitempty"`
	OrderID   string    `json:"orderId,omitempty"`
	BlockHash string    `json:"blockHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key schema:
//
//	tx:<id> → TxRecord (JSON)
//
// Correlation ids are UUIDv7, so key order is submission order.
const prefixTx = "tx:"

func txKey(id string) []byte { return []byte(prefixTx + id) }

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

type Journal struct {
	db *pebble.DB
}

// OpenJournal opens the journal at path. An empty path keeps it in memory.
func OpenJournal(path string) (*Journal, error) {
	opts := &pebble.Options{}
	if path == "" {
		opts.FS = vfs.NewMem()
		path = "journal"
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Record writes rec, replacing any earlier state for the same id. CreatedAt
// is carried over from the existing record.
func (j *Journal) Record(rec TxRecord) error {
	if rec.ID == "" {
		return errors.New("journal record without id")
	}
	now := time.Now().UTC()
	rec.UpdatedAt = now
	if prev, ok, err := j.Get(rec.ID); err == nil && ok {
		rec.CreatedAt = prev.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := j.db.Set(txKey(rec.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Get loads the record for id.
func (j *Journal) Get(id string) (TxRecord, bool, error) {
	data, closer, err := j.db.Get(txKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return TxRecord{}, false, nil
	}
	if err != nil {
		return TxRecord{}, false, fmt.Errorf("failed to get record: %w", err)
	}
	defer closer.Close()

	var rec TxRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return TxRecord{}, false, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, true, nil
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(limit int) ([]TxRecord, error) {
	prefix := []byte(prefixTx)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []TxRecord
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var rec TxRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
