package txflow

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/uhyunpark/dexgate/pkg/chain"
)

// Verdict is the classification of the events of an included transaction.
type Verdict int

const (
	VerdictFailed Verdict = iota
	VerdictOrderCreated
	VerdictSucceeded
	VerdictNoOutcome
)

func (v Verdict) String() string {
	switch v {
	case VerdictFailed:
		return "failed"
	case VerdictOrderCreated:
		return "order_created"
	case VerdictSucceeded:
		return "succeeded"
	default:
		return "no_outcome"
	}
}

// Classification is the outcome read from a transaction's events.
type Classification struct {
	Verdict Verdict
	OrderID string
	// Failures holds the first datum of every ExtrinsicFailed event.
	Failures []stdjson.RawMessage
}

// Classify inspects the events of an included transaction. ExtrinsicFailed
// takes precedence over everything, then OrderCreated, then
// ExtrinsicSuccess. No recognised event yields VerdictNoOutcome.
func Classify(events []chain.Event) Classification {
	var (
		c         Classification
		created   bool
		succeeded bool
	)
	for _, e := range events {
		switch {
		case e.Is(chain.SectionSystem, chain.MethodExtrinsicFailed):
			var datum stdjson.RawMessage
			if len(e.Data) > 0 {
				datum = e.Data[0]
			}
			c.Failures = append(c.Failures, datum)
		case e.Is(chain.SectionDex, chain.MethodOrderCreated):
			if !created && len(e.Data) > 1 {
				c.OrderID = rawToString(e.Data[1])
			}
			created = true
		case e.Is(chain.SectionSystem, chain.MethodExtrinsicSuccess):
			succeeded = true
		}
	}

	switch {
	case len(c.Failures) > 0:
		c.Verdict = VerdictFailed
		c.OrderID = ""
	case created:
		c.Verdict = VerdictOrderCreated
	case succeeded:
		c.Verdict = VerdictSucceeded
	default:
		c.Verdict = VerdictNoOutcome
	}
	return c
}

// rawToString renders a JSON scalar as text: strings are unquoted, numbers
// kept verbatim.
func rawToString(raw []byte) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// MetaLookup resolves module errors.
type MetaLookup interface {
	FindMetaError(ctx context.Context, ref chain.ModuleRef) (chain.MetaError, error)
}

// DescribeFailures renders dispatch errors as "section.method: docs", joined
// by ", ". Metadata lookup failures fall back to whatever the error carries.
func DescribeFailures(ctx context.Context, lookup MetaLookup, failures []stdjson.RawMessage) string {
	parts := make([]string, 0, len(failures))
	for _, raw := range failures {
		parts = append(parts, describeFailure(ctx, lookup, raw))
	}
	return strings.Join(parts, ", ")
}

func describeFailure(ctx context.Context, lookup MetaLookup, raw []byte) string {
	if len(raw) == 0 {
		return "unknown dispatch error"
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil && plain != "" {
		return plain
	}
	var de chain.DispatchError
	if err := json.Unmarshal(raw, &de); err != nil {
		return "undecodable dispatch error"
	}

	if de.Module != nil && lookup != nil {
		if m, err := lookup.FindMetaError(ctx, *de.Module); err == nil {
			return formatMeta(m.Section, m.Method, m.Docs)
		}
	}
	switch {
	case de.Section != "" || de.Method != "":
		return formatMeta(de.Section, de.Method, de.Docs)
	case de.Other != "":
		return de.Other
	case de.Module != nil:
		return fmt.Sprintf("module %d error %d", de.Module.Index, de.Module.Error)
	}
	return "unknown dispatch error"
}

func formatMeta(section, method string, docs []string) string {
	name := section + "." + method
	if len(docs) == 0 {
		return name
	}
	return name + ": " + strings.Join(docs, " ")
}
