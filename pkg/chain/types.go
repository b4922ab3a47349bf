// Package chain is the gateway's view of the upstream DEX chain node: live
// feeds, transaction submission with status tracking and error metadata.
package chain

import (
	"encoding/json"
	"strings"
)

// Update is a feed payload (order list, best prices) relayed to clients
// without interpretation.
type Update = json.RawMessage

// Header announces a new block.
type Header struct {
	Number uint64 `json:"number"`
	Hash   string `json:"hash,omitempty"`
}

// TxStage is the confirmation depth reported for a submitted transaction.
type TxStage string

const (
	StageFuture    TxStage = "future"
	StageReady     TxStage = "ready"
	StageBroadcast TxStage = "broadcast"
	StageInBlock   TxStage = "inBlock"
	StageRetracted TxStage = "retracted"
	StageFinalized TxStage = "finalized"
	StageUsurped   TxStage = "usurped"
	StageDropped   TxStage = "dropped"
	StageInvalid   TxStage = "invalid"
)

// TxStatus is one element of a transaction's status stream. Events are only
// populated once the transaction is in a block.
type TxStatus struct {
	Stage     TxStage `json:"stage"`
	BlockHash string  `json:"blockHash,omitempty"`
	Events    []Event `json:"events,omitempty"`
}

// Included reports whether the transaction reached a block.
func (s TxStatus) Included() bool {
	return s.Stage == StageInBlock || s.Stage == StageFinalized
}

// Rejected reports whether the pool gave up on the transaction before
// inclusion.
func (s TxStatus) Rejected() bool {
	switch s.Stage {
	case StageUsurped, StageDropped, StageInvalid:
		return true
	}
	return false
}

// Event is a runtime event emitted by the block that included a transaction.
type Event struct {
	Section string            `json:"section"`
	Method  string            `json:"method"`
	Data    []json.RawMessage `json:"data,omitempty"`
}

// Is matches the event against a pallet section and method name.
func (e Event) Is(section, method string) bool {
	return strings.EqualFold(e.Section, section) && e.Method == method
}

const (
	SectionSystem = "system"
	SectionDex    = "eqDex"

	MethodExtrinsicSuccess = "ExtrinsicSuccess"
	MethodExtrinsicFailed  = "ExtrinsicFailed"
	MethodOrderCreated     = "OrderCreated"
)

// ModuleRef locates a module error in the runtime metadata.
type ModuleRef struct {
	Index uint8 `json:"index"`
	Error uint8 `json:"error"`
}

// DispatchError is the first datum of an ExtrinsicFailed event. Nodes may
// pre-decode module errors into Section/Method/Docs.
type DispatchError struct {
	Module  *ModuleRef `json:"module,omitempty"`
	Other   string     `json:"other,omitempty"`
	Section string     `json:"section,omitempty"`
	Method  string     `json:"method,omitempty"`
	Docs    []string   `json:"docs,omitempty"`
}

// MetaError is a module error resolved from runtime metadata.
type MetaError struct {
	Section string   `json:"section"`
	Method  string   `json:"method"`
	Docs    []string `json:"docs"`
}

// SignedTx is a signed gateway action ready for submission.
type SignedTx struct {
	Call       string `json:"call"`
	Asset      string `json:"asset"`
	Direction  string `json:"direction,omitempty"`
	OrderType  string `json:"orderType,omitempty"`
	Price      string `json:"price,omitempty"`
	Amount     string `json:"amount,omitempty"`
	OrderID    uint64 `json:"orderId,omitempty"`
	Subaccount string `json:"subaccount,omitempty"`
	Signer     string `json:"signer"`
	Signature  string `json:"signature"`
	// Nonce -1 lets the node pick the next account nonce.
	Nonce int64 `json:"nonce"`
}
