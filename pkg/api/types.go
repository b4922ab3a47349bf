package api

// REST response types. Websocket messages live in pkg/protocol.

// TokenInfo describes a tradable token and its trade poll.
type TokenInfo struct {
	Symbol  string  `json:"symbol"`
	Asset   string  `json:"asset"`
	Polling bool    `json:"polling"`          // A trade poll is running for this token
	Cursor  *uint64 `json:"cursor,omitempty"` // Highest trade block delivered so far
}

// GatewayStatus is the response of GET /api/v1/status.
type GatewayStatus struct {
	ChainKnown    bool   `json:"chainKnown"`
	ChainID       int64  `json:"chainId,omitempty"`
	GenesisHash   string `json:"genesisHash,omitempty"`
	Signer        string `json:"signer,omitempty"`
	Clients       int    `json:"clients"`
	Subscriptions int    `json:"subscriptions"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
