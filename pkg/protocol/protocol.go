// Package protocol defines the JSON messages exchanged with websocket clients.
package protocol

import "github.com/goccy/go-json"

// Action names an inbound client request.
type Action string

const (
	ActionSubscribe         Action = "subscribe"
	ActionUnsubscribe       Action = "unsubscribe"
	ActionCreateLimitOrder  Action = "createLimitOrder"
	ActionCancelLimitOrder  Action = "cancelLimitOrder"
	ActionCreateMarketOrder Action = "createMarketOrder"
	ActionDeposit           Action = "deposit"
	ActionWithdraw          Action = "withdraw"
)

// Inbound is a client request. Data is decoded per action.
type Inbound struct {
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Envelope is every server reply: the correlation id of the request it
// answers and a text or structured message.
type Envelope struct {
	ID      string `json:"id"`
	Message any    `json:"message"`
}

// FeedMessage carries one feed delivery for a subscription.
type FeedMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// OrderCreated is the success payload of order creation.
type OrderCreated struct {
	OrderID string `json:"orderId"`
}

// Direction values accepted for orders.
const (
	Buy  = "Buy"
	Sell = "Sell"
)

// Payloads use pointers so a missing field is distinguishable from a zero.

type CreateLimitOrder struct {
	Token      *string  `json:"token" validate:"required"`
	LimitPrice *float64 `json:"limitPrice" validate:"required"`
	Direction  *string  `json:"direction" validate:"required,oneof=Buy Sell"`
	Amount     *float64 `json:"amount" validate:"required"`
}

type CancelLimitOrder struct {
	Token   *string  `json:"token" validate:"required"`
	OrderID *uint64  `json:"orderId" validate:"required"`
	Price   *float64 `json:"price" validate:"required"`
}

type CreateMarketOrder struct {
	Token     *string  `json:"token" validate:"required"`
	Direction *string  `json:"direction" validate:"required,oneof=Buy Sell"`
	Amount    *float64 `json:"amount" validate:"required"`
}

// Transfer is the payload of deposit and withdraw.
type Transfer struct {
	Token  *string  `json:"token" validate:"required"`
	Amount *float64 `json:"amount" validate:"required"`
}
