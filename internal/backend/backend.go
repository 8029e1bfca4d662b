// Package backend defines the collaborators the payvex query core talks to:
// a live transaction context for inline execution and a remote connection
// for marshalled execution.
package backend

import (
	"context"
	"encoding/json"
	"errors"
)

// Physical system fields maintained by the backend.
const (
	FieldID           = "_id"
	FieldCreationTime = "_creationTime"
	FieldUpdateTime   = "_updateTime"
)

// Built-in indexes present on every table.
const (
	IndexByID           = "by_id"
	IndexByCreationTime = "by_creation_time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrUnknownIndex  = errors.New("unknown index")
	ErrInvalidCursor = errors.New("invalid pagination cursor")
	ErrSystemField   = errors.New("system fields cannot be written")
)

// Document is a backend row keyed by physical field names.
type Document map[string]any

// ID returns the document identity, or "" when absent.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Order is the direction of an index scan.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Bound is one end of an index range.
type Bound struct {
	Value     any  `json:"value"`
	Inclusive bool `json:"inclusive"`
}

// ScanRequest describes an index range scan. A nil Lower and Upper scan the
// whole index. PageSize 0 means no page bound.
type ScanRequest struct {
	Table    string `json:"table"`
	Index    string `json:"index"`
	Lower    *Bound `json:"lower,omitempty"`
	Upper    *Bound `json:"upper,omitempty"`
	Order    Order  `json:"order"`
	Cursor   string `json:"cursor,omitempty"`
	PageSize int    `json:"pageSize,omitempty"`
}

// ScanResult is one page of a scan. Cursor continues after the last
// returned row; Done is set when nothing remains.
type ScanResult struct {
	Docs   []Document `json:"docs"`
	Cursor string     `json:"cursor"`
	Done   bool       `json:"done"`
}

// IndexDef names a single-field index.
type IndexDef struct {
	Name  string `json:"name"`
	Field string `json:"field"`
}

// Tx is the live execution context available when running inside the
// backend. Get returns ErrNotFound for a missing identity.
type Tx interface {
	Get(ctx context.Context, table, id string) (Document, error)
	Insert(ctx context.Context, table string, doc Document) (string, error)
	Patch(ctx context.Context, table, id string, fields Document) error
	Replace(ctx context.Context, table, id string, doc Document) error
	Delete(ctx context.Context, table, id string) error
	Scan(ctx context.Context, req ScanRequest) (*ScanResult, error)
	Indexes(table string) []IndexDef
}

// Transactor is a Tx that can run a function atomically.
type Transactor interface {
	Tx
	Transact(ctx context.Context, fn func(tx Tx) error) error
}

// Conn is a connection to a backend running in another process.
type Conn interface {
	Query(ctx context.Context, ref string, args any) (json.RawMessage, error)
	Mutation(ctx context.Context, ref string, args any) (json.RawMessage, error)
}
