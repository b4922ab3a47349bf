// Package action decodes inbound client messages, validates their payloads
// and routes them to the subscription manager or the transaction driver.
package action

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexgate/pkg/errs"
	"github.com/uhyunpark/dexgate/pkg/protocol"
	"github.com/uhyunpark/dexgate/pkg/subscription"
	"github.com/uhyunpark/dexgate/pkg/txflow"
)

// Client-facing validation replies.
const (
	MsgWrongMessage       = "Wrong message received"
	MsgWrongSubscribe     = "Wrong data in subscription request"
	MsgWrongUnsubscribe   = "Wrong data in unsubscription request"
	MsgWrongCreateOrder   = "Wrong data format for create order"
	MsgWrongCancelOrder   = "Wrong data format for cancel order"
	MsgWrongMarketOrder   = "Wrong data format for create market order"
	MsgWrongTransfer      = "Wrong deposit data"
	MsgSignerUnavailable  = "Signer unavailable"
	msgSubscriptionFailed = "Subscription failed"
)

// Subscriptions is the subscription table as seen by the dispatcher.
type Subscriptions interface {
	Supports(token string) bool
	Subscribe(owner subscription.Replier, id, token string) error
	Unsubscribe(owner subscription.Replier, replyID, subID string) error
}

// Transactions runs one trading action to its terminal reply.
type Transactions interface {
	Run(ctx context.Context, id string, act txflow.PendingAction, reply txflow.Reply) txflow.Outcome
}

type Dispatcher struct {
	ctx      context.Context
	subs     Subscriptions
	txs      Transactions
	validate *validator.Validate
	sugar    *zap.SugaredLogger

	wg conc.WaitGroup
}

// New builds a dispatcher. Transactions run on ctx rather than on the
// requesting connection, so a client hanging up does not abandon a
// submitted transaction. A nil txs rejects every trading action.
func New(ctx context.Context, subs Subscriptions, txs Transactions, sugar *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		ctx:      ctx,
		subs:     subs,
		txs:      txs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		sugar:    sugar,
	}
}

// Dispatch handles one raw client message tagged with id. Every reply goes
// to owner under id.
func (d *Dispatcher) Dispatch(owner subscription.Replier, id string, raw []byte) {
	var in protocol.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		d.sugar.Debugw("dispatch_unparseable", "id", id, "err", err)
		owner.Reply(id, MsgWrongMessage)
		return
	}

	switch in.Action {
	case protocol.ActionSubscribe:
		d.subscribe(owner, id, in.Data)
	case protocol.ActionUnsubscribe:
		d.unsubscribe(owner, id, in.Data)
	case protocol.ActionCreateLimitOrder, protocol.ActionCancelLimitOrder,
		protocol.ActionCreateMarketOrder, protocol.ActionDeposit, protocol.ActionWithdraw:
		d.transact(owner, id, in.Action, in.Data)
	default:
		d.sugar.Debugw("dispatch_unknown_action", "id", id, "action", in.Action)
		owner.Reply(id, MsgWrongMessage)
	}
}

// Wait blocks until every in-flight transaction has replied.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) subscribe(owner subscription.Replier, id string, data json.RawMessage) {
	token, ok := decodeString(data)
	if !ok {
		owner.Reply(id, MsgWrongSubscribe)
		return
	}
	if err := d.subs.Subscribe(owner, id, token); err != nil {
		owner.Reply(id, errs.Message(err, msgSubscriptionFailed))
	}
}

func (d *Dispatcher) unsubscribe(owner subscription.Replier, id string, data json.RawMessage) {
	subID, ok := decodeString(data)
	if !ok {
		owner.Reply(id, MsgWrongUnsubscribe)
		return
	}
	if err := d.subs.Unsubscribe(owner, id, subID); err != nil {
		owner.Reply(id, errs.Message(err, msgSubscriptionFailed))
	}
}

func (d *Dispatcher) transact(owner subscription.Replier, id string, kind protocol.Action, data json.RawMessage) {
	act, err := d.pending(kind, data)
	if err != nil {
		d.sugar.Debugw("dispatch_invalid_payload", "id", id, "action", kind, "err", err)
		owner.Reply(id, errs.Message(err, MsgWrongMessage))
		return
	}
	if d.txs == nil {
		owner.Reply(id, MsgSignerUnavailable)
		return
	}
	d.wg.Go(func() {
		d.txs.Run(d.ctx, id, act, owner.Reply)
	})
}

// pending decodes and validates the payload of a trading action.
func (d *Dispatcher) pending(kind protocol.Action, data json.RawMessage) (txflow.PendingAction, error) {
	act := txflow.PendingAction{Kind: kind}
	switch kind {
	case protocol.ActionCreateLimitOrder:
		var p protocol.CreateLimitOrder
		if err := d.decode(kind, data, &p); err != nil {
			return act, err
		}
		act.Token, act.Direction = *p.Token, *p.Direction
		act.Price, act.Amount = decimal.NewFromFloat(*p.LimitPrice), decimal.NewFromFloat(*p.Amount)
	case protocol.ActionCancelLimitOrder:
		var p protocol.CancelLimitOrder
		if err := d.decode(kind, data, &p); err != nil {
			return act, err
		}
		act.Token, act.OrderID = *p.Token, *p.OrderID
		act.Price = decimal.NewFromFloat(*p.Price)
	case protocol.ActionCreateMarketOrder:
		var p protocol.CreateMarketOrder
		if err := d.decode(kind, data, &p); err != nil {
			return act, err
		}
		act.Token, act.Direction = *p.Token, *p.Direction
		act.Amount = decimal.NewFromFloat(*p.Amount)
	case protocol.ActionDeposit, protocol.ActionWithdraw:
		var p protocol.Transfer
		if err := d.decode(kind, data, &p); err != nil {
			return act, err
		}
		act.Token = *p.Token
		act.Amount = decimal.NewFromFloat(*p.Amount)
	}

	if !d.subs.Supports(act.Token) {
		return act, errs.New("action", errs.CodeInvalidToken, errs.WithMessage(invalidPayload(kind)))
	}
	return act, nil
}

// decode unmarshals data into p and checks its validate tags.
func (d *Dispatcher) decode(kind protocol.Action, data json.RawMessage, p any) error {
	message := invalidPayload(kind)
	if len(data) == 0 {
		return errs.New("action", errs.CodeValidation, errs.WithMessage(message))
	}
	if err := json.Unmarshal(data, p); err != nil {
		return errs.New("action", errs.CodeValidation, errs.WithMessage(message), errs.WithCause(err))
	}
	if err := d.validate.Struct(p); err != nil {
		return errs.New("action", errs.CodeValidation, errs.WithMessage(message), errs.WithCause(err))
	}
	return nil
}

// invalidPayload returns the validation reply of a trading action.
func invalidPayload(kind protocol.Action) string {
	switch kind {
	case protocol.ActionCreateLimitOrder:
		return MsgWrongCreateOrder
	case protocol.ActionCancelLimitOrder:
		return MsgWrongCancelOrder
	case protocol.ActionCreateMarketOrder:
		return MsgWrongMarketOrder
	default:
		return MsgWrongTransfer
	}
}

// decodeString reads a JSON string. null and non-strings are rejected.
func decodeString(data json.RawMessage) (string, bool) {
	var s *string
	if len(data) == 0 || json.Unmarshal(data, &s) != nil || s == nil {
		return "", false
	}
	return *s, true
}
