// Package indexer is the HTTP client for the chain's secondary indexing
// service, which serves chain identity and historical trade executions.
package indexer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/uhyunpark/dexgate/pkg/errs"
)

// tradePageSize is large enough that one page always covers the lookback window.
const tradePageSize = 10000

// TradeRecord is one executed trade as reported by the indexer.
type TradeRecord struct {
	ID             int64   `json:"id"`
	ChainID        int64   `json:"chainId"`
	Currency       string  `json:"currency"`
	Price          float64 `json:"price"`
	Amount         float64 `json:"amount"`
	MakerAccountID string  `json:"makerAccountId"`
	TakerAccountID string  `json:"takerAccountId"`
	MakerSide      string  `json:"makerSide"`
	BlockNumber    uint64  `json:"blockNumber"`
	TakerFee       float64 `json:"takerFee"`
	MakerFee       float64 `json:"makerFee"`
}

// ChainInfo identifies a chain to the indexer.
type ChainInfo struct {
	ChainID     int64  `json:"chainId"`
	GenesisHash string `json:"genesisHash"`
}

// Client queries the indexer REST API.
type Client struct {
	http *resty.Client
}

func New(endpoint string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// ChainByHash resolves the indexer's chain id for a genesis hash.
func (c *Client) ChainByHash(ctx context.Context, hash string) (ChainInfo, error) {
	body, err := c.get(ctx, "/chains/byHash", map[string]string{"hash": hash})
	if err != nil {
		return ChainInfo{}, err
	}

	var wire struct {
		ChainID     *int64  `json:"chainId"`
		GenesisHash *string `json:"genesisHash"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return ChainInfo{}, malformed("chain info", err)
	}
	if wire.ChainID == nil || wire.GenesisHash == nil {
		return ChainInfo{}, malformed("chain info", nil)
	}
	return ChainInfo{ChainID: *wire.ChainID, GenesisHash: *wire.GenesisHash}, nil
}

// FetchTradeWindow returns every trade of token recorded at or after fromBlock.
// A response where any record is missing a field or has a mistyped one is
// rejected whole.
func (c *Client) FetchTradeWindow(ctx context.Context, chainID int64, token string, fromBlock uint64) ([]TradeRecord, error) {
	body, err := c.get(ctx, "/dex/exchanges", map[string]string{
		"chainId":  strconv.FormatInt(chainID, 10),
		"currency": token,
		"page":     "0",
		"pageSize": strconv.Itoa(tradePageSize),
		"bnFrom":   strconv.FormatUint(fromBlock, 10),
	})
	if err != nil {
		return nil, err
	}

	var wire []wireTrade
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, malformed("trade window", err)
	}

	out := make([]TradeRecord, 0, len(wire))
	for i, w := range wire {
		rec, ok := w.record()
		if !ok {
			return nil, malformed(fmt.Sprintf("trade window record %d", i), nil)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return nil, errs.New("indexer", errs.CodeUpstream, errs.WithCause(fmt.Errorf("GET %s: %w", path, err)))
	}
	if resp.IsError() {
		return nil, errs.New("indexer", errs.CodeUpstream,
			errs.WithMessage(fmt.Sprintf("GET %s: status %d", path, resp.StatusCode())))
	}
	return resp.Body(), nil
}

func malformed(what string, cause error) error {
	opts := []errs.Option{errs.WithMessage("malformed " + what)}
	if cause != nil {
		opts = append(opts, errs.WithCause(cause))
	}
	return errs.New("indexer", errs.CodeUpstream, opts...)
}

type wireTrade struct {
	ID             *int64   `json:"id"`
	ChainID        *int64   `json:"chainId"`
	Currency       *string  `json:"currency"`
	Price          *float64 `json:"price"`
	Amount         *float64 `json:"amount"`
	MakerAccountID *string  `json:"makerAccountId"`
	TakerAccountID *string  `json:"takerAccountId"`
	MakerSide      *string  `json:"makerSide"`
	BlockNumber    *uint64  `json:"blockNumber"`
	TakerFee       *float64 `json:"takerFee"`
	MakerFee       *float64 `json:"makerFee"`
}

func (w wireTrade) record() (TradeRecord, bool) {
	if w.ID == nil || w.ChainID == nil || w.Currency == nil || w.Price == nil ||
		w.Amount == nil || w.MakerAccountID == nil || w.TakerAccountID == nil ||
		w.MakerSide == nil || w.BlockNumber == nil || w.TakerFee == nil || w.MakerFee == nil {
		return TradeRecord{}, false
	}
	return TradeRecord{
		ID:             *w.ID,
		ChainID:        *w.ChainID,
		Currency:       *w.Currency,
		Price:          *w.Price,
		Amount:         *w.Amount,
		MakerAccountID: *w.MakerAccountID,
		TakerAccountID: *w.TakerAccountID,
		MakerSide:      *w.MakerSide,
		BlockNumber:    *w.BlockNumber,
		TakerFee:       *w.TakerFee,
		MakerFee:       *w.MakerFee,
	}, true
}
