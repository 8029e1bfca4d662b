// Package plan compiles filter expressions into where-plans: the part of a
// filter an index range scan can answer, and the residual that has to be
// evaluated against fetched rows.
package plan

import (
	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/filter"
)

// IndexCandidate is the single contiguous index range a scan can satisfy.
// Nil bounds are open; an eq predicate sets both bounds to the same value.
type IndexCandidate struct {
	IndexName string         `json:"indexName"`
	Field     string         `json:"field"`
	Lower     *backend.Bound `json:"lower,omitempty"`
	Upper     *backend.Bound `json:"upper,omitempty"`
}

// IsFullRange reports whether the candidate only selects the index for its
// ordering.
func (c *IndexCandidate) IsFullRange() bool {
	return c != nil && c.Lower == nil && c.Upper == nil
}

// IsEquality reports whether the range pins the field to a single value.
func (c *IndexCandidate) IsEquality() bool {
	return c != nil && c.Lower != nil && c.Upper != nil &&
		c.Lower.Inclusive && c.Upper.Inclusive && filter.Equal(c.Lower.Value, c.Upper.Value)
}

// Contains reports whether the value lies inside the range, using the same
// comparison as residual evaluation.
func (c *IndexCandidate) Contains(v any) bool {
	if c == nil || c.IsFullRange() {
		return true
	}
	if v == nil {
		return false
	}
	if c.IsEquality() {
		return filter.Equal(v, c.Lower.Value)
	}
	if c.Lower != nil {
		cmp, ok := filter.Compare(v, c.Lower.Value)
		if !ok || cmp < 0 || (cmp == 0 && !c.Lower.Inclusive) {
			return false
		}
	}
	if c.Upper != nil {
		cmp, ok := filter.Compare(v, c.Upper.Value)
		if !ok || cmp > 0 || (cmp == 0 && !c.Upper.Inclusive) {
			return false
		}
	}
	return true
}

// WherePlan is a compiled filter. The conjunction of the index range and the
// residual is equivalent to the original filter; an empty plan matches
// every document.
type WherePlan struct {
	Index    *IndexCandidate `json:"index,omitempty"`
	Residual *filter.Filter  `json:"residual,omitempty"`

	// HintIgnored is set when the caller named an index that does not exist.
	HintIgnored bool `json:"hintIgnored,omitempty"`
}

// IsEmpty reports whether the plan matches everything.
func (p *WherePlan) IsEmpty() bool {
	return p == nil || ((p.Index == nil || p.Index.IsFullRange()) && p.Residual.IsEmpty())
}

// HasResidual reports whether rows need in-memory evaluation after fetch.
func (p *WherePlan) HasResidual() bool {
	return p != nil && !p.Residual.IsEmpty()
}

// Matches evaluates the whole plan against a document in memory.
func (p *WherePlan) Matches(doc filter.Document) bool {
	if p == nil {
		return true
	}
	if p.Index != nil && !p.Index.IsFullRange() {
		v, ok := doc.Lookup(p.Index.Field)
		if !ok || !p.Index.Contains(v) {
			return false
		}
	}
	return p.Residual.Eval(doc)
}
