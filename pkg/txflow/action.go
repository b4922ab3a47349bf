// Package txflow drives a client trading action through signing, submission
// and on-chain confirmation to exactly one terminal reply.
package txflow

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/dexgate/pkg/chain"
	"github.com/uhyunpark/dexgate/pkg/crypto"
	"github.com/uhyunpark/dexgate/pkg/protocol"
)

// Fixed-point places of chain integers. Order prices and transfer amounts
// use 1e9, order amounts use 1e18.
const (
	PricePlaces    int32 = 9
	AmountPlaces   int32 = 18
	TransferPlaces int32 = 9
)

// Scale converts v to a chain integer with the given places, truncating
// anything finer than one unit.
func Scale(v decimal.Decimal, places int32) *big.Int {
	return v.Shift(places).Truncate(0).BigInt()
}

// Unscale is the inverse of Scale.
func Unscale(n *big.Int, places int32) decimal.Decimal {
	return decimal.NewFromBigInt(n, -places)
}

// borrowerSubaccount is the subaccount deposits go to and withdrawals come from.
const borrowerSubaccount = "Borrower"

// PendingAction is a validated trading action awaiting submission.
type PendingAction struct {
	Kind      protocol.Action
	Token     string
	Direction string
	Price     decimal.Decimal
	Amount    decimal.Decimal
	OrderID   uint64
}

// Typed returns the signable form of the action.
func (a PendingAction) Typed() *crypto.ActionEIP712 {
	act := &crypto.ActionEIP712{Asset: assetFromToken(a.Token)}
	switch a.Kind {
	case protocol.ActionCreateLimitOrder:
		act.Call = "eqDex.createOrder"
		act.OrderType = "Limit"
		act.Direction = a.Direction
		act.Price = Scale(a.Price, PricePlaces)
		act.Amount = Scale(a.Amount, AmountPlaces)
	case protocol.ActionCreateMarketOrder:
		act.Call = "eqDex.createOrder"
		act.OrderType = "Market"
		act.Direction = a.Direction
		act.Amount = Scale(a.Amount, AmountPlaces)
	case protocol.ActionCancelLimitOrder:
		act.Call = "eqDex.deleteOrderExternal"
		act.Price = Scale(a.Price, PricePlaces)
		act.OrderID = new(big.Int).SetUint64(a.OrderID)
	case protocol.ActionDeposit:
		act.Call = "subaccounts.transferToSubaccount"
		act.Amount = Scale(a.Amount, TransferPlaces)
	case protocol.ActionWithdraw:
		act.Call = "subaccounts.transferFromSubaccount"
		act.Amount = Scale(a.Amount, TransferPlaces)
	}
	return act
}

// Sign builds the signed submission of act. The signature covers the typed
// form returned by Typed, with Owner set to the signer.
func Sign(signer Signer, act PendingAction) (chain.SignedTx, error) {
	typed := act.Typed()
	sig, err := signer.Sign(typed)
	if err != nil {
		return chain.SignedTx{}, err
	}

	tx := chain.SignedTx{
		Call:       typed.Call,
		Asset:      typed.Asset,
		Direction:  typed.Direction,
		OrderType:  typed.OrderType,
		Subaccount: act.subaccount(),
		Signer:     typed.Owner.Hex(),
		Signature:  "0x" + hex.EncodeToString(sig),
		Nonce:      -1,
	}
	if typed.Price != nil {
		tx.Price = typed.Price.String()
	}
	if typed.Amount != nil {
		tx.Amount = typed.Amount.String()
	}
	if typed.OrderID != nil {
		tx.OrderID = typed.OrderID.Uint64()
	}
	return tx, nil
}

func (a PendingAction) subaccount() string {
	if a.Kind == protocol.ActionDeposit || a.Kind == protocol.ActionWithdraw {
		return borrowerSubaccount
	}
	return ""
}

// assetFromToken maps a token symbol to the chain asset id.
func assetFromToken(token string) string {
	return strings.ToLower(token)
}

type replyTexts struct {
	start   string
	success string
	failure string
	// reason appends the decoded failure reason to failure.
	reason bool
}

var texts = map[protocol.Action]replyTexts{
	protocol.ActionCreateLimitOrder:  {start: "Creating order", success: "Order created", failure: "Order creation failed"},
	protocol.ActionCreateMarketOrder: {start: "Creating market order", success: "Order created", failure: "Order creation failed"},
	protocol.ActionCancelLimitOrder:  {start: "Cancelling order", success: "Order successfully cancelled", failure: "Order cancel failed", reason: true},
	protocol.ActionDeposit:           {start: "Depositing", success: "Deposit successful", failure: "Deposit failed", reason: true},
	protocol.ActionWithdraw:          {start: "Withdrawing", success: "Withdrawal successful", failure: "Withdrawal failed", reason: true},
}

func (t replyTexts) failureText(reason string) string {
	if !t.reason || reason == "" {
		return t.failure
	}
	return t.failure + ": " + reason
}

func isOrderCreation(kind protocol.Action) bool {
	return kind == protocol.ActionCreateLimitOrder || kind == protocol.ActionCreateMarketOrder
}
