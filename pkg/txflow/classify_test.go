package txflow

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/dexgate/pkg/chain"
	"github.com/uhyunpark/dexgate/pkg/chain/chaintest"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

var (
	evSuccess = chain.Event{Section: "system", Method: chain.MethodExtrinsicSuccess}
	evCreated = chain.Event{Section: "eqDex", Method: chain.MethodOrderCreated, Data: []json.RawMessage{raw(`"5Grw"`), raw(`42`)}}
	evFailed  = chain.Event{Section: "System", Method: chain.MethodExtrinsicFailed, Data: []json.RawMessage{raw(`{"module":{"index":7,"error":3}}`)}}
	evOther   = chain.Event{Section: "balances", Method: "Transfer"}
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		events  []chain.Event
		want    Verdict
		orderID string
	}{
		{"empty", nil, VerdictNoOutcome, ""},
		{"unrelated only", []chain.Event{evOther}, VerdictNoOutcome, ""},
		{"success", []chain.Event{evOther, evSuccess}, VerdictSucceeded, ""},
		{"created", []chain.Event{evCreated, evSuccess}, VerdictOrderCreated, "42"},
		{"created without success", []chain.Event{evCreated}, VerdictOrderCreated, "42"},
		{"failed", []chain.Event{evFailed}, VerdictFailed, ""},
		{"failed beats created", []chain.Event{evCreated, evSuccess, evFailed}, VerdictFailed, ""},
		{"first created wins", []chain.Event{evCreated, {Section: "eqDex", Method: chain.MethodOrderCreated, Data: []json.RawMessage{raw(`"x"`), raw(`"43"`)}}}, VerdictOrderCreated, "42"},
		{"created missing id", []chain.Event{{Section: "eqDex", Method: chain.MethodOrderCreated}}, VerdictOrderCreated, ""},
		{"method is case sensitive", []chain.Event{{Section: "system", Method: "extrinsicsuccess"}}, VerdictNoOutcome, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.events)
			if c.Verdict != tt.want {
				t.Errorf("Verdict = %v, want %v", c.Verdict, tt.want)
			}
			if c.OrderID != tt.orderID {
				t.Errorf("OrderID = %q, want %q", c.OrderID, tt.orderID)
			}
		})
	}
}

func TestClassifyCollectsEveryFailure(t *testing.T) {
	second := chain.Event{Section: "system", Method: chain.MethodExtrinsicFailed, Data: []json.RawMessage{raw(`{"other":"BadOrigin"}`)}}
	c := Classify([]chain.Event{evFailed, second})
	if len(c.Failures) != 2 {
		t.Fatalf("len(Failures) = %d, want 2", len(c.Failures))
	}
}

func TestDescribeFailures(t *testing.T) {
	fake := chaintest.New()
	fake.SetMeta(chain.ModuleRef{Index: 7, Error: 3}, chain.MetaError{
		Section: "eqDex",
		Method:  "OrderNotFound",
		Docs:    []string{"Order", "not found"},
	})

	tests := []struct {
		name string
		raw  json.RawMessage
		want string
	}{
		{"module from metadata", raw(`{"module":{"index":7,"error":3}}`), "eqDex.OrderNotFound: Order not found"},
		{"unknown module", raw(`{"module":{"index":1,"error":2}}`), "module 1 error 2"},
		{"pre-decoded", raw(`{"section":"eqDex","method":"PriceStepError","docs":["bad step"]}`), "eqDex.PriceStepError: bad step"},
		{"pre-decoded without docs", raw(`{"section":"eqDex","method":"Paused"}`), "eqDex.Paused"},
		{"other", raw(`{"other":"BadOrigin"}`), "BadOrigin"},
		{"plain string", raw(`"CannotLookup"`), "CannotLookup"},
		{"empty object", raw(`{}`), "unknown dispatch error"},
		{"missing", nil, "unknown dispatch error"},
		{"garbage", raw(`[1,2`), "undecodable dispatch error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DescribeFailures(context.Background(), fake, []json.RawMessage{tt.raw})
			if got != tt.want {
				t.Errorf("DescribeFailures() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDescribeFailuresJoinsAndFallsBack(t *testing.T) {
	fake := chaintest.New()
	fake.FailMeta(errors.New("metadata unavailable"))

	got := DescribeFailures(context.Background(), fake, []json.RawMessage{
		raw(`{"module":{"index":7,"error":3},"section":"eqDex","method":"OrderNotFound"}`),
		raw(`{"other":"BadOrigin"}`),
	})
	if want := "eqDex.OrderNotFound, BadOrigin"; got != want {
		t.Errorf("DescribeFailures() = %q, want %q", got, want)
	}

	if got := DescribeFailures(context.Background(), nil, []json.RawMessage{raw(`{"module":{"index":2,"error":9}}`)}); got != "module 2 error 9" {
		t.Errorf("DescribeFailures(nil lookup) = %q", got)
	}
}

func TestScale(t *testing.T) {
	tests := []struct {
		in     string
		places int32
		want   string
	}{
		{"2500", PricePlaces, "2500000000000"},
		{"0.5", AmountPlaces, "500000000000000000"},
		{"1.23456789019", PricePlaces, "1234567890"},
		{"0.0000000001", TransferPlaces, "0"},
		{"-1.5", PricePlaces, "-1500000000"},
	}

	for _, tt := range tests {
		got := Scale(decimal.RequireFromString(tt.in), tt.places)
		if got.String() != tt.want {
			t.Errorf("Scale(%s, %d) = %s, want %s", tt.in, tt.places, got, tt.want)
		}
	}
}

func TestUnscaleInvertsScale(t *testing.T) {
	for _, s := range []string{"2500", "0.123456789", "99.5"} {
		v := decimal.RequireFromString(s)
		if got := Unscale(Scale(v, PricePlaces), PricePlaces); !got.Equal(v) {
			t.Errorf("Unscale(Scale(%s)) = %s", s, got)
		}
	}
	if got := Unscale(big.NewInt(1), AmountPlaces).String(); got != "0.000000000000000001" {
		t.Errorf("Unscale(1, 18) = %s", got)
	}
}
