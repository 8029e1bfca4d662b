package plan

import (
	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/filter"
)

// Compile splits f into an index range and a residual.
//
// Only AND-composed leaves are considered for push-down; an OR anywhere
// keeps its whole subtree in the residual. At most one field is pushed
// down: the field of hint when hint names a known index, otherwise the first
// leaf in filter order with a range operator on an indexed field. An eq on
// that field becomes a point range; otherwise the first lower and first
// upper bound combine. Everything else stays residual.
//
// Compile has no state and never narrows the result set: a predicate is
// either absorbed exactly into the range or kept in the residual.
func Compile(f *filter.Filter, indexes []backend.IndexDef, hint string) *WherePlan {
	p := &WherePlan{}

	var chosen *backend.IndexDef
	if hint != "" {
		if def, ok := findIndex(indexes, hint); ok {
			chosen = &def
		} else {
			p.HintIgnored = true
		}
	}

	if f.IsEmpty() {
		if chosen != nil {
			p.Index = &IndexCandidate{IndexName: chosen.Name, Field: chosen.Field}
		}
		return p
	}

	conjuncts := flatten(f)

	if chosen == nil {
		for _, leaf := range conjuncts {
			if !pushable(leaf) {
				continue
			}
			if def, ok := indexOnField(indexes, leaf.Field); ok {
				chosen = &def
				break
			}
		}
	}

	if chosen == nil {
		p.Residual = residualOf(conjuncts, nil)
		return p
	}

	candidate, absorbed := buildRange(*chosen, conjuncts)
	p.Index = candidate
	p.Residual = residualOf(conjuncts, absorbed)
	return p
}

// flatten returns the conjuncts of f. Nested ANDs are conjunctions too and
// are flattened; any other node is returned as a single conjunct.
func flatten(f *filter.Filter) []*filter.Filter {
	if f == nil {
		return nil
	}
	if f.Op != filter.OpAnd {
		return []*filter.Filter{f}
	}
	var out []*filter.Filter
	for _, c := range f.Children {
		out = append(out, flatten(c)...)
	}
	return out
}

// pushable reports whether a leaf can be answered by an ordered scan.
func pushable(leaf *filter.Filter) bool {
	return leaf.Op.IsRangeOp() && filter.IsScalar(leaf.Value)
}

func buildRange(def backend.IndexDef, conjuncts []*filter.Filter) (*IndexCandidate, map[*filter.Filter]bool) {
	c := &IndexCandidate{IndexName: def.Name, Field: def.Field}
	absorbed := make(map[*filter.Filter]bool)

	for _, leaf := range conjuncts {
		if leaf.Field == def.Field && leaf.Op == filter.OpEq && pushable(leaf) {
			c.Lower = &backend.Bound{Value: leaf.Value, Inclusive: true}
			c.Upper = &backend.Bound{Value: leaf.Value, Inclusive: true}
			absorbed[leaf] = true
			return c, absorbed
		}
	}

	for _, leaf := range conjuncts {
		if leaf.Field != def.Field || !pushable(leaf) {
			continue
		}
		switch leaf.Op {
		case filter.OpGt, filter.OpGte:
			if c.Lower == nil {
				c.Lower = &backend.Bound{Value: leaf.Value, Inclusive: leaf.Op == filter.OpGte}
				absorbed[leaf] = true
			}
		case filter.OpLt, filter.OpLte:
			if c.Upper == nil {
				c.Upper = &backend.Bound{Value: leaf.Value, Inclusive: leaf.Op == filter.OpLte}
				absorbed[leaf] = true
			}
		}
	}
	return c, absorbed
}

func residualOf(conjuncts []*filter.Filter, absorbed map[*filter.Filter]bool) *filter.Filter {
	var rest []*filter.Filter
	for _, c := range conjuncts {
		if !absorbed[c] {
			rest = append(rest, c)
		}
	}
	switch len(rest) {
	case 0:
		return nil
	case 1:
		return rest[0]
	}
	return filter.And(rest...)
}

func findIndex(indexes []backend.IndexDef, name string) (backend.IndexDef, bool) {
	for _, def := range indexes {
		if def.Name == name {
			return def, true
		}
	}
	return backend.IndexDef{}, false
}

func indexOnField(indexes []backend.IndexDef, field string) (backend.IndexDef, bool) {
	for _, def := range indexes {
		if def.Field == field {
			return def, true
		}
	}
	return backend.IndexDef{}, false
}
