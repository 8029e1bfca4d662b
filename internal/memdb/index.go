package memdb

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/filter"
)

// index maps the values of one field to the rows holding them. Rows where
// the field is missing or null live in a separate bitmap that sorts first.
type index struct {
	def      backend.IndexDef
	postings map[string]*posting
	sorted   []*posting
	missing  *roaring.Bitmap
	dirty    bool
}

type posting struct {
	key   string
	value any
	rows  *roaring.Bitmap
}

func newIndex(def backend.IndexDef) *index {
	return &index{
		def:      def,
		postings: make(map[string]*posting),
		missing:  roaring.NewBitmap(),
	}
}

// indexKey returns a canonical key for a value. Values that compare equal
// with filter.Equal share a key.
func indexKey(v any) (string, any) {
	if f, ok := filter.ToFloat64(v); ok {
		return fmt.Sprintf("n:%v", f), f
	}
	switch tv := v.(type) {
	case string:
		return "s:" + tv, tv
	case bool:
		if tv {
			return "b:1", tv
		}
		return "b:0", tv
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "o:" + fmt.Sprint(v), v
	}
	return "o:" + string(data), v
}

// value resolves the indexed field, following dotted paths the same way
// residual evaluation does.
func (idx *index) value(doc backend.Document) (any, bool) {
	v, ok := filter.Document(doc).Lookup(idx.def.Field)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (idx *index) add(row uint32, doc backend.Document) {
	v, ok := idx.value(doc)
	if !ok {
		idx.missing.Add(row)
		return
	}
	key, norm := indexKey(v)
	p, ok := idx.postings[key]
	if !ok {
		p = &posting{key: key, value: norm, rows: roaring.NewBitmap()}
		idx.postings[key] = p
		idx.dirty = true
	}
	p.rows.Add(row)
}

func (idx *index) remove(row uint32, doc backend.Document) {
	v, ok := idx.value(doc)
	if !ok {
		idx.missing.Remove(row)
		return
	}
	key, _ := indexKey(v)
	p, ok := idx.postings[key]
	if !ok {
		return
	}
	p.rows.Remove(row)
	if p.rows.IsEmpty() {
		delete(idx.postings, key)
		idx.dirty = true
	}
}

// comparePosting orders a posting against a value and key. Values that
// filter.Order ranks equal are ordered by key so the order is total.
func comparePosting(p *posting, value any, key string) int {
	if c := filter.Order(p.value, value); c != 0 {
		return c
	}
	return strings.Compare(p.key, key)
}

// entries returns the postings in index order.
func (idx *index) entries() []*posting {
	if idx.dirty {
		idx.sorted = idx.sorted[:0]
		for _, p := range idx.postings {
			idx.sorted = append(idx.sorted, p)
		}
		sort.SliceStable(idx.sorted, func(i, j int) bool {
			return comparePosting(idx.sorted[i], idx.sorted[j].value, idx.sorted[j].key) < 0
		})
		idx.dirty = false
	}
	return idx.sorted
}

// position identifies a row within an index scan: its slot (missing, or a
// posting) and its row id.
type position struct {
	Missing bool   `json:"m,omitempty"`
	Value   any    `json:"v,omitempty"`
	Key     string `json:"k,omitempty"`
	Row     uint32 `json:"r"`
}

// inRange reports whether an index value satisfies the scan bounds using
// the same comparison the residual evaluator uses.
func inRange(v any, lower, upper *backend.Bound) bool {
	if lower != nil && upper != nil && lower.Inclusive && upper.Inclusive && filter.Equal(lower.Value, upper.Value) {
		return filter.Equal(v, lower.Value)
	}
	if lower != nil {
		cmp, ok := filter.Compare(v, lower.Value)
		if !ok || cmp < 0 || (cmp == 0 && !lower.Inclusive) {
			return false
		}
	}
	if upper != nil {
		cmp, ok := filter.Compare(v, upper.Value)
		if !ok || cmp > 0 || (cmp == 0 && !upper.Inclusive) {
			return false
		}
	}
	return true
}

// resolve restores the typed value of a decoded cursor position. JSON
// turns time values into strings, which order differently.
func (idx *index) resolve(pos *position) {
	if pos == nil || pos.Missing {
		return
	}
	if p, ok := idx.postings[pos.Key]; ok {
		pos.Value = p.value
		return
	}
	if s, ok := pos.Value.(string); ok && !strings.HasPrefix(pos.Key, "s:") {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			pos.Value = ts
		}
	}
}

// scan returns up to limit rows inside the bounds that follow after in scan
// order, and whether the range is exhausted. The postings are sorted, so
// the bounds and the cursor are found by binary search. A limit of zero
// or less returns every remaining row.
func (idx *index) scan(lower, upper *backend.Bound, order backend.Order, after *position, limit int) ([]position, bool) {
	idx.resolve(after)

	var out []position
	// Collect one extra row to learn whether the range continues.
	emit := func(pos position) bool {
		out = append(out, pos)
		return limit <= 0 || len(out) <= limit
	}
	finish := func() ([]position, bool) {
		if limit > 0 && len(out) > limit {
			return out[:limit], false
		}
		return out, true
	}

	entries := idx.entries()
	withMissing := lower == nil && upper == nil

	if order == backend.Desc {
		hi := len(entries)
		if upper != nil {
			hi = sort.Search(len(entries), func(i int) bool {
				return filter.Order(entries[i].value, upper.Value) > 0
			})
		}
		if after != nil {
			if after.Missing {
				hi = 0
			} else if c := sort.Search(len(entries), func(i int) bool {
				return comparePosting(entries[i], after.Value, after.Key) > 0
			}); c < hi {
				hi = c
			}
		}
		for i := hi - 1; i >= 0; i-- {
			p := entries[i]
			if lower != nil && filter.Order(p.value, lower.Value) < 0 {
				break
			}
			if !inRange(p.value, lower, upper) {
				continue
			}
			sameSlot := after != nil && !after.Missing && p.key == after.Key
			it := p.rows.ReverseIterator()
			for it.HasNext() {
				row := it.Next()
				if sameSlot && row >= after.Row {
					continue
				}
				if !emit(position{Value: p.value, Key: p.key, Row: row}) {
					return finish()
				}
			}
		}
		if withMissing {
			it := idx.missing.ReverseIterator()
			for it.HasNext() {
				row := it.Next()
				if after != nil && after.Missing && row >= after.Row {
					continue
				}
				if !emit(position{Missing: true, Row: row}) {
					return finish()
				}
			}
		}
		return finish()
	}

	lo := 0
	if lower != nil {
		lo = sort.Search(len(entries), func(i int) bool {
			return filter.Order(entries[i].value, lower.Value) >= 0
		})
	}
	if after != nil && !after.Missing {
		if c := sort.Search(len(entries), func(i int) bool {
			return comparePosting(entries[i], after.Value, after.Key) >= 0
		}); c > lo {
			lo = c
		}
	}
	if withMissing && (after == nil || after.Missing) {
		it := idx.missing.Iterator()
		if after != nil {
			it.AdvanceIfNeeded(after.Row + 1)
		}
		for it.HasNext() {
			if !emit(position{Missing: true, Row: it.Next()}) {
				return finish()
			}
		}
	}
	for i := lo; i < len(entries); i++ {
		p := entries[i]
		if upper != nil && filter.Order(p.value, upper.Value) > 0 {
			break
		}
		if !inRange(p.value, lower, upper) {
			continue
		}
		it := p.rows.Iterator()
		if after != nil && !after.Missing && p.key == after.Key {
			it.AdvanceIfNeeded(after.Row + 1)
		}
		for it.HasNext() {
			if !emit(position{Value: p.value, Key: p.key, Row: it.Next()}) {
				return finish()
			}
		}
	}
	return finish()
}
