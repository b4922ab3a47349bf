package feed

import (
	"sync"

	"github.com/moznion/go-optional"

	"github.com/uhyunpark/dexgate/pkg/indexer"
)

// Deduplicator turns overlapping trade-window snapshots into a stream of
// newly observed trades. The cursor is the highest block number seen and
// never moves backwards.
//
// Correctness relies on every snapshot reaching back past the cursor, i.e.
// the lookback window covering the longest gap between polls.
type Deduplicator struct {
	mu     sync.Mutex
	cursor optional.Option[uint64]
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{cursor: optional.None[uint64]()}
}

// Filter returns the records of snapshot not yet emitted, in snapshot order.
// The first non-empty snapshot is returned whole.
func (d *Deduplicator) Filter(snapshot []indexer.TradeRecord) []indexer.TradeRecord {
	if len(snapshot) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	fresh := snapshot
	if d.cursor.IsSome() {
		cursor := d.cursor.Unwrap()
		fresh = make([]indexer.TradeRecord, 0, len(snapshot))
		for _, rec := range snapshot {
			if rec.BlockNumber > cursor {
				fresh = append(fresh, rec)
			}
		}
	}

	high := snapshot[0].BlockNumber
	for _, rec := range snapshot[1:] {
		high = max(high, rec.BlockNumber)
	}
	if d.cursor.IsNone() || high > d.cursor.Unwrap() {
		d.cursor = optional.Some(high)
	}

	if len(fresh) == 0 {
		return nil
	}
	return fresh
}

// Cursor returns the highest block number observed, if any.
func (d *Deduplicator) Cursor() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor.IsNone() {
		return 0, false
	}
	return d.cursor.Unwrap(), true
}
