package txflow

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexgate/pkg/chain"
	"github.com/uhyunpark/dexgate/pkg/crypto"
	"github.com/uhyunpark/dexgate/pkg/metrics"
	"github.com/uhyunpark/dexgate/pkg/protocol"
	"github.com/uhyunpark/dexgate/pkg/storage"
	"github.com/uhyunpark/dexgate/pkg/util"
)

const statusBuffer = 16

// Signer signs typed actions with the gateway account.
type Signer interface {
	Address() common.Address
	Sign(act *crypto.ActionEIP712) ([]byte, error)
}

// Journal records transaction state.
type Journal interface {
	Record(rec storage.TxRecord) error
}

// Reply sends a tagged message to the client that requested the action.
type Reply func(id string, message any)

// Outcome is the terminal result of one action.
type Outcome struct {
	Success   bool
	OrderID   string
	Reason    string
	BlockHash string
	// Message is the terminal reply that was sent.
	Message any
}

type Driver struct {
	client  chain.Client
	signer  Signer
	journal Journal
	clock   util.Clock
	timeout time.Duration
	sugar   *zap.SugaredLogger
	stats   *metrics.Registry
}

// NewDriver builds a driver. journal and stats may be nil. A zero timeout
// waits for inclusion indefinitely.
func NewDriver(client chain.Client, signer Signer, journal Journal, clock util.Clock, timeout time.Duration, sugar *zap.SugaredLogger, stats *metrics.Registry) *Driver {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Driver{
		client:  client,
		signer:  signer,
		journal: journal,
		clock:   clock,
		timeout: timeout,
		sugar:   sugar,
		stats:   stats,
	}
}

// Run signs and submits act, then follows its status stream until the
// transaction is in a block or finalized, is rejected by the pool, the
// stream fails, the optional timeout fires, or ctx ends. It sends the start
// reply, then exactly one terminal reply, and always releases the stream.
func (d *Driver) Run(ctx context.Context, id string, act PendingAction, reply Reply) Outcome {
	t := texts[act.Kind]
	reply(id, t.start)
	d.record(id, act, storage.ResultPending, "", Outcome{})

	tx, err := Sign(d.signer, act)
	if err != nil {
		d.sugar.Errorw("tx_sign_failed", "id", id, "kind", act.Kind, "err", err)
		return d.fail(id, act, reply, "signing failed", "")
	}

	ch := make(chan chain.TxStatus, statusBuffer)
	sub, err := d.client.SubmitAndWatch(ctx, tx, ch)
	if err != nil {
		d.sugar.Warnw("tx_submit_failed", "id", id, "kind", act.Kind, "err", err)
		return d.fail(id, act, reply, "transaction submission failed", "")
	}
	defer sub.Unsubscribe()
	d.sugar.Infow("tx_submitted", "id", id, "kind", act.Kind, "token", act.Token)

	var timeout <-chan time.Time
	if d.timeout > 0 {
		timeout = d.clock.After(d.timeout)
	}

	for {
		select {
		case <-ctx.Done():
			return d.fail(id, act, reply, "gateway shutting down", "")
		case <-timeout:
			d.sugar.Warnw("tx_timed_out", "id", id, "kind", act.Kind, "after", d.timeout)
			return d.fail(id, act, reply, "timed out waiting for inclusion", "")
		case err := <-sub.Err():
			d.sugar.Warnw("tx_status_stream_failed", "id", id, "kind", act.Kind, "err", err)
			return d.fail(id, act, reply, "lost connection to chain", "")
		case st := <-ch:
			switch {
			case st.Included():
				return d.conclude(ctx, id, act, reply, st)
			case st.Rejected():
				d.sugar.Warnw("tx_rejected", "id", id, "kind", act.Kind, "stage", st.Stage)
				return d.fail(id, act, reply, "transaction "+string(st.Stage), "")
			default:
				d.sugar.Debugw("tx_status", "id", id, "stage", st.Stage)
			}
		}
	}
}

func (d *Driver) conclude(ctx context.Context, id string, act PendingAction, reply Reply, st chain.TxStatus) Outcome {
	c := Classify(st.Events)
	switch c.Verdict {
	case VerdictFailed:
		reason := DescribeFailures(ctx, d.client, c.Failures)
		d.sugar.Warnw("tx_failed", "id", id, "kind", act.Kind, "block", st.BlockHash, "reason", reason)
		return d.fail(id, act, reply, reason, st.BlockHash)
	case VerdictNoOutcome:
		d.sugar.Errorw("tx_no_outcome_event", "id", id, "kind", act.Kind, "block", st.BlockHash, "events", len(st.Events))
		return d.fail(id, act, reply, "no outcome event", st.BlockHash)
	}

	t := texts[act.Kind]
	out := Outcome{Success: true, BlockHash: st.BlockHash, Message: t.success}
	if isOrderCreation(act.Kind) && c.OrderID != "" {
		out.OrderID = c.OrderID
		out.Message = protocol.OrderCreated{OrderID: c.OrderID}
	}
	reply(id, out.Message)

	d.stats.TxOutcome(string(act.Kind), storage.ResultSuccess)
	d.record(id, act, storage.ResultSuccess, t.success, out)
	d.sugar.Infow("tx_succeeded", "id", id, "kind", act.Kind, "block", st.BlockHash, "order_id", out.OrderID)
	return out
}

func (d *Driver) fail(id string, act PendingAction, reply Reply, reason, blockHash string) Outcome {
	text := texts[act.Kind].failureText(reason)
	out := Outcome{Reason: reason, BlockHash: blockHash, Message: text}
	reply(id, text)

	d.stats.TxOutcome(string(act.Kind), storage.ResultFailure)
	d.record(id, act, storage.ResultFailure, reason, out)
	return out
}

func (d *Driver) record(id string, act PendingAction, result, message string, out Outcome) {
	if d.journal == nil {
		return
	}
	err := d.journal.Record(storage.TxRecord{
		ID:        id,
		Kind:      string(act.Kind),
		Token:     act.Token,
		Result:    result,
		Message:   message,
		OrderID:   out.OrderID,
		BlockHash: out.BlockHash,
	})
	if err != nil {
		d.sugar.Warnw("tx_journal_failed", "id", id, "err", err)
	}
}
