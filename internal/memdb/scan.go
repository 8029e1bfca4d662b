package memdb

import (
	"fmt"

	"github.com/payvex/payvex/internal/backend"
)

func (d *DB) scanLocked(req backend.ScanRequest) (*backend.ScanResult, error) {
	order := req.Order
	switch order {
	case "":
		order = backend.Asc
	case backend.Asc, backend.Desc:
	default:
		return nil, fmt.Errorf("invalid scan order %q", req.Order)
	}

	t, ok := d.tables[req.Table]
	if !ok {
		// A table that was never written is empty, but the index name still
		// has to be valid.
		t = newTable(req.Table)
	}
	idx, err := d.index(t, req.Index)
	if err != nil {
		return nil, err
	}

	var after *position
	if req.Cursor != "" {
		c, err := decodeCursor(req.Cursor, req.Table, req.Index)
		if err != nil {
			return nil, err
		}
		after = &c.Pos
	}
	positions, done := idx.scan(req.Lower, req.Upper, order, after, req.PageSize)

	result := &backend.ScanResult{
		Docs:   make([]backend.Document, 0, len(positions)),
		Cursor: req.Cursor,
		Done:   done,
	}
	for _, pos := range positions {
		result.Docs = append(result.Docs, t.rows[pos.Row].Clone())
	}
	if len(positions) > 0 {
		token, err := encodeCursor(cursor{Table: req.Table, Index: req.Index, Pos: positions[len(positions)-1]})
		if err != nil {
			return nil, err
		}
		result.Cursor = token
	}
	return result, nil
}
