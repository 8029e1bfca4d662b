package filter

import (
	"strings"
)

// Document represents a document with attributes for filter evaluation.
type Document map[string]any

// Lookup resolves a possibly dotted field path inside the document.
func (d Document) Lookup(path string) (any, bool) {
	if v, ok := d[path]; ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}

	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

// Eval evaluates the filter against a document.
// Returns true if the document matches the filter.
func (f *Filter) Eval(doc Document) bool {
	if f == nil {
		return true // nil filter matches everything
	}

	switch f.Op {
	case OpAnd:
		return f.evalAnd(doc)
	case OpOr:
		return f.evalOr(doc)
	case OpEq:
		return f.evalEq(doc)
	case OpNe:
		return f.evalNe(doc)
	case OpIn:
		return f.evalIn(doc)
	case OpNin:
		return !f.evalIn(doc)
	case OpLt:
		return f.evalComparison(doc, -1, false)
	case OpLte:
		return f.evalComparison(doc, -1, true)
	case OpGt:
		return f.evalComparison(doc, 1, false)
	case OpGte:
		return f.evalComparison(doc, 1, true)
	case OpExists:
		return f.evalExists(doc)
	case OpLike:
		return f.evalLike(doc)
	default:
		return false
	}
}

func (f *Filter) evalAnd(doc Document) bool {
	for _, child := range f.Children {
		if !child.Eval(doc) {
			return false
		}
	}
	return true
}

func (f *Filter) evalOr(doc Document) bool {
	if len(f.Children) == 0 {
		return true // Empty OR is true (vacuously)
	}
	for _, child := range f.Children {
		if child.Eval(doc) {
			return true
		}
	}
	return false
}

func (f *Filter) evalEq(doc Document) bool {
	docVal, exists := doc.Lookup(f.Field)

	// eq null matches a missing field
	if f.Value == nil {
		return !exists || docVal == nil
	}
	if !exists {
		return false
	}
	return Equal(docVal, f.Value)
}

func (f *Filter) evalNe(doc Document) bool {
	return !f.evalEq(doc)
}

func (f *Filter) evalIn(doc Document) bool {
	docVal, exists := doc.Lookup(f.Field)
	if !exists {
		return false
	}

	values := toSlice(f.Value)
	for _, v := range values {
		if Equal(docVal, v) {
			return true
		}
	}
	return false
}

// evalComparison evaluates lt, lte, gt, gte.
// direction: -1 for lt/lte, 1 for gt/gte
// orEqual: true for lte/gte
func (f *Filter) evalComparison(doc Document, direction int, orEqual bool) bool {
	docVal, exists := doc.Lookup(f.Field)
	if !exists || docVal == nil {
		return false
	}

	cmp, ok := Compare(docVal, f.Value)
	if !ok {
		return false
	}
	if cmp == 0 {
		return orEqual
	}
	return cmp == direction
}

func (f *Filter) evalExists(doc Document) bool {
	want, _ := f.Value.(bool)
	docVal, exists := doc.Lookup(f.Field)
	present := exists && docVal != nil
	return present == want
}

// evalLike matches when every whitespace-separated word of the pattern
// occurs in the value, ignoring case.
func (f *Filter) evalLike(doc Document) bool {
	docVal, exists := doc.Lookup(f.Field)
	if !exists {
		return false
	}
	docStr, ok := docVal.(string)
	if !ok {
		return false
	}
	pattern, _ := f.Value.(string)

	haystack := strings.ToLower(docStr)
	for _, word := range strings.Fields(strings.ToLower(pattern)) {
		if !strings.Contains(haystack, word) {
			return false
		}
	}
	return true
}
