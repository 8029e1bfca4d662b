// Package filter provides the filter expression tree used by payvex queries.
//
// Filters are expressed as JSON arrays:
//   - Boolean operators: ["and", [f1, f2, ...]], ["or", [f1, f2, ...]]
//   - Comparisons: ["field", "eq", value], ["field", "lt", value], etc.
//
// The host framework's where-map form is accepted by ParseWhere.
package filter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Operator represents a filter operator.
type Operator string

// Boolean operators
const (
	OpAnd Operator = "and"
	OpOr  Operator = "or"
)

// Comparison operators
const (
	OpEq     Operator = "eq"
	OpNe     Operator = "ne"
	OpLt     Operator = "lt"
	OpLte    Operator = "lte"
	OpGt     Operator = "gt"
	OpGte    Operator = "gte"
	OpIn     Operator = "in"
	OpNin    Operator = "nin"
	OpExists Operator = "exists"
	OpLike   Operator = "like"
)

// IsBooleanOp returns true if the operator composes child filters.
func (o Operator) IsBooleanOp() bool {
	return o == OpAnd || o == OpOr
}

// IsLeafOp returns true if the operator compares a field against a value.
func (o Operator) IsLeafOp() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn, OpNin, OpExists, OpLike:
		return true
	}
	return false
}

// IsRangeOp returns true if an ordered index scan can answer the operator.
func (o Operator) IsRangeOp() bool {
	switch o {
	case OpEq, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Filter is a node of a filter expression. Leaves carry Field and Value,
// composites carry Children. A Filter must not be mutated after construction.
type Filter struct {
	Op       Operator
	Children []*Filter

	Field string
	Value any
}

// Leaf builds a comparison node.
func Leaf(field string, op Operator, value any) *Filter {
	return &Filter{Op: op, Field: field, Value: value}
}

// And builds a conjunction. Nil children are dropped.
func And(children ...*Filter) *Filter {
	return &Filter{Op: OpAnd, Children: compact(children)}
}

// Or builds a disjunction. Nil children are dropped.
func Or(children ...*Filter) *Filter {
	return &Filter{Op: OpOr, Children: compact(children)}
}

func compact(children []*Filter) []*Filter {
	out := make([]*Filter, 0, len(children))
	for _, c := range children {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// IsEmpty reports whether the filter matches every document without
// looking at it: nil, or an and-node with no children.
func (f *Filter) IsEmpty() bool {
	if f == nil {
		return true
	}
	return f.Op == OpAnd && len(f.Children) == 0
}

// Parse parses a filter expression from a JSON-compatible value.
// The input can be:
//   - ["and", [f1, f2, ...]] - logical AND
//   - ["or", [f1, f2, ...]] - logical OR
//   - ["field", "op", value] - comparison
func Parse(v any) (*Filter, error) {
	if v == nil {
		return nil, nil
	}

	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("filter must be an array, got %T", v)
	}

	if len(arr) < 2 {
		return nil, fmt.Errorf("filter array must have at least 2 elements, got %d", len(arr))
	}

	first, ok := arr[0].(string)
	if !ok {
		return nil, fmt.Errorf("first element must be a string, got %T", arr[0])
	}

	op := Operator(strings.ToLower(first))
	if op.IsBooleanOp() {
		return parseBooleanFilter(op, arr)
	}
	return parseComparisonFilter(first, arr)
}

func parseBooleanFilter(op Operator, arr []any) (*Filter, error) {
	if len(arr) != 2 {
		return nil, fmt.Errorf("%s filter must have exactly 2 elements [op, filters], got %d", op, len(arr))
	}

	childArr, ok := arr[1].([]any)
	if !ok {
		return nil, fmt.Errorf("%s filter second element must be an array of filters, got %T", op, arr[1])
	}

	children := make([]*Filter, 0, len(childArr))
	for i, child := range childArr {
		f, err := Parse(child)
		if err != nil {
			return nil, fmt.Errorf("%s filter child %d: %w", op, i, err)
		}
		if f != nil {
			children = append(children, f)
		}
	}

	return &Filter{Op: op, Children: children}, nil
}

func parseComparisonFilter(field string, arr []any) (*Filter, error) {
	if len(arr) != 3 {
		return nil, fmt.Errorf("comparison filter must have exactly 3 elements [field, op, value], got %d", len(arr))
	}

	opStr, ok := arr[1].(string)
	if !ok {
		return nil, fmt.Errorf("comparison operator must be a string, got %T", arr[1])
	}

	op := Operator(strings.ToLower(opStr))
	if !op.IsLeafOp() {
		return nil, fmt.Errorf("unknown operator: %s", opStr)
	}
	if field == "" {
		return nil, fmt.Errorf("comparison filter has an empty field name")
	}
	if err := validateValue(op, arr[2]); err != nil {
		return nil, err
	}

	return &Filter{Op: op, Field: field, Value: arr[2]}, nil
}

// ParseJSON parses a filter from a JSON byte slice.
func ParseJSON(data []byte) (*Filter, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return Parse(v)
}

// whereOperators maps the host framework's operator names to filter operators.
var whereOperators = map[string]Operator{
	"equals":             OpEq,
	"not_equals":         OpNe,
	"less_than":          OpLt,
	"less_than_equal":    OpLte,
	"greater_than":       OpGt,
	"greater_than_equal": OpGte,
	"in":                 OpIn,
	"not_in":             OpNin,
	"exists":             OpExists,
	"like":               OpLike,
}

// ParseWhere parses a where-map such as
//
//	{"status": {"equals": "active"}, "or": [{"age": {"less_than": 18}}, ...]}
//
// Map keys are visited in sorted order so the resulting filter order is
// deterministic. Multiple conditions are AND-composed.
func ParseWhere(where map[string]any) (*Filter, error) {
	if len(where) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var children []*Filter
	for _, key := range keys {
		raw := where[key]
		switch strings.ToLower(key) {
		case "and", "or":
			list, ok := raw.([]any)
			if !ok {
				return nil, fmt.Errorf("%s must be an array of where clauses, got %T", key, raw)
			}
			sub := make([]*Filter, 0, len(list))
			for i, item := range list {
				m, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%s clause %d must be an object, got %T", key, i, item)
				}
				f, err := ParseWhere(m)
				if err != nil {
					return nil, fmt.Errorf("%s clause %d: %w", key, i, err)
				}
				if f != nil {
					sub = append(sub, f)
				}
			}
			children = append(children, &Filter{Op: Operator(strings.ToLower(key)), Children: sub})
		default:
			conds, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("field %q: conditions must be an object, got %T", key, raw)
			}
			ops := make([]string, 0, len(conds))
			for op := range conds {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			for _, opName := range ops {
				op, ok := whereOperators[opName]
				if !ok {
					return nil, fmt.Errorf("field %q: unknown operator %q", key, opName)
				}
				value := conds[opName]
				if err := validateValue(op, value); err != nil {
					return nil, fmt.Errorf("field %q: %w", key, err)
				}
				children = append(children, &Filter{Op: op, Field: key, Value: value})
			}
		}
	}

	if len(children) == 1 {
		return children[0], nil
	}
	return &Filter{Op: OpAnd, Children: children}, nil
}

func validateValue(op Operator, value any) error {
	switch op {
	case OpIn, OpNin:
		if toSlice(value) == nil && value != nil {
			return fmt.Errorf("%s requires an array value, got %T", op, value)
		}
	case OpExists:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("exists requires a boolean value, got %T", value)
		}
	case OpLike:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("like requires a string value, got %T", value)
		}
	}
	return nil
}

// MapFields returns a copy of the filter with every field renamed by
// rename and every leaf value rewritten by convert (which receives the
// original field name). Either function may be nil.
func (f *Filter) MapFields(rename func(string) string, convert func(field string, v any) any) *Filter {
	if f == nil {
		return nil
	}
	if f.Op.IsBooleanOp() {
		children := make([]*Filter, len(f.Children))
		for i, c := range f.Children {
			children[i] = c.MapFields(rename, convert)
		}
		return &Filter{Op: f.Op, Children: children}
	}

	out := &Filter{Op: f.Op, Field: f.Field, Value: f.Value}
	if convert != nil {
		if arr := toSlice(f.Value); arr != nil && (f.Op == OpIn || f.Op == OpNin) {
			converted := make([]any, len(arr))
			for i, v := range arr {
				converted[i] = convert(f.Field, v)
			}
			out.Value = converted
		} else if f.Op != OpExists && f.Op != OpLike {
			out.Value = convert(f.Field, f.Value)
		}
	}
	if rename != nil {
		out.Field = rename(f.Field)
	}
	return out
}

// Fields returns the distinct field names referenced by the filter, in
// first-seen order.
func (f *Filter) Fields() []string {
	var out []string
	seen := make(map[string]bool)
	f.walk(func(leaf *Filter) {
		if !seen[leaf.Field] {
			seen[leaf.Field] = true
			out = append(out, leaf.Field)
		}
	})
	return out
}

func (f *Filter) walk(fn func(leaf *Filter)) {
	if f == nil {
		return
	}
	if f.Op.IsBooleanOp() {
		for _, c := range f.Children {
			c.walk(fn)
		}
		return
	}
	fn(f)
}

// ContainsOr reports whether any node of the tree is a disjunction.
func (f *Filter) ContainsOr() bool {
	if f == nil {
		return false
	}
	if f.Op == OpOr {
		return true
	}
	for _, c := range f.Children {
		if c.ContainsOr() {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the filter in array form.
func (f *Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.toArray())
}

func (f *Filter) toArray() any {
	if f == nil {
		return nil
	}
	if f.Op.IsBooleanOp() {
		children := make([]any, len(f.Children))
		for i, c := range f.Children {
			children[i] = c.toArray()
		}
		return []any{string(f.Op), children}
	}
	return []any{f.Field, string(f.Op), f.Value}
}

// UnmarshalJSON decodes the array form produced by MarshalJSON.
func (f *Filter) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	if parsed == nil {
		*f = Filter{Op: OpAnd}
		return nil
	}
	*f = *parsed
	return nil
}

func (f *Filter) String() string {
	if f == nil {
		return "<all>"
	}
	data, err := f.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid filter: %v>", err)
	}
	return string(data)
}
