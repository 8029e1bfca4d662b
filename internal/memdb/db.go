// Package memdb is the embedded backend engine: tables of documents with
// roaring-bitmap single-field indexes, ordered range scans with opaque
// cursors, and atomic transactions. It hosts inline execution and serves as
// the backend side of remote mode.
package memdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/plan"
)

// DB is an in-memory document store. It implements backend.Transactor.
type DB struct {
	// writeMu serializes writers and transactions; mu guards table state.
	writeMu sync.Mutex
	mu      sync.RWMutex

	tables   map[string]*table
	catalog  *plan.Catalog
	lastTime float64
	now      func() time.Time
}

type table struct {
	name    string
	rows    map[uint32]backend.Document
	ids     map[string]uint32
	nextRow uint32
	indexes map[string]*index
}

// Option configures a DB.
type Option func(*DB)

// WithClock replaces the wall clock used for system timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *DB) { d.now = now }
}

// New creates an empty database whose declared indexes come from catalog.
func New(catalog *plan.Catalog, opts ...Option) *DB {
	if catalog == nil {
		catalog = plan.NewCatalog()
	}
	d := &DB{
		tables:  make(map[string]*table),
		catalog: catalog,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Catalog returns the index catalog the database was created with.
func (d *DB) Catalog() *plan.Catalog {
	return d.catalog
}

func newTable(name string) *table {
	return &table{
		name:    name,
		rows:    make(map[uint32]backend.Document),
		ids:     make(map[string]uint32),
		nextRow: 1,
		indexes: make(map[string]*index),
	}
}

// timestamp returns a strictly increasing whole epoch-millisecond value.
// Whole milliseconds survive the round trip through time.Time unchanged.
func (d *DB) timestamp() float64 {
	ts := float64(d.now().UnixMilli())
	if ts <= d.lastTime {
		ts = d.lastTime + 1
	}
	d.lastTime = ts
	return ts
}

// index returns the named index of t, building it on first use.
func (d *DB) index(t *table, name string) (*index, error) {
	if idx, ok := t.indexes[name]; ok {
		return idx, nil
	}
	for _, def := range d.catalog.Indexes(t.name) {
		if def.Name != name {
			continue
		}
		idx := newIndex(def)
		for row, doc := range t.rows {
			idx.add(row, doc)
		}
		t.indexes[name] = idx
		return idx, nil
	}
	return nil, fmt.Errorf("%w: %s on %s", backend.ErrUnknownIndex, name, t.name)
}

func (d *DB) put(t *table, row uint32, doc backend.Document) {
	t.rows[row] = doc
	t.ids[doc.ID()] = row
	for _, idx := range t.indexes {
		idx.add(row, doc)
	}
}

func (d *DB) drop(t *table, row uint32) backend.Document {
	doc, ok := t.rows[row]
	if !ok {
		return nil
	}
	for _, idx := range t.indexes {
		idx.remove(row, doc)
	}
	delete(t.rows, row)
	delete(t.ids, doc.ID())
	return doc
}

func (d *DB) lookup(tableName, id string) (*table, uint32, bool) {
	t, ok := d.tables[tableName]
	if !ok {
		return nil, 0, false
	}
	row, ok := t.ids[id]
	return t, row, ok
}

func checkUserFields(doc backend.Document) error {
	for _, f := range []string{backend.FieldID, backend.FieldCreationTime, backend.FieldUpdateTime} {
		if _, ok := doc[f]; ok {
			return fmt.Errorf("%w: %s", backend.ErrSystemField, f)
		}
	}
	return nil
}

// The *Locked helpers expect d.mu to be held for writing. Each returns an
// undo function restoring the previous state.

func (d *DB) insertLocked(tableName string, doc backend.Document) (string, func(), error) {
	if err := checkUserFields(doc); err != nil {
		return "", nil, err
	}
	t, ok := d.tables[tableName]
	if !ok {
		t = newTable(tableName)
		d.tables[tableName] = t
	}

	row := t.nextRow
	t.nextRow++

	stored := doc.Clone()
	if stored == nil {
		stored = backend.Document{}
	}
	id := uuid.NewString()
	ts := d.timestamp()
	stored[backend.FieldID] = id
	stored[backend.FieldCreationTime] = ts
	stored[backend.FieldUpdateTime] = ts
	d.put(t, row, stored)

	return id, func() { d.drop(t, row) }, nil
}

func (d *DB) rewriteLocked(tableName, id string, fn func(old backend.Document) backend.Document) (func(), error) {
	t, row, ok := d.lookup(tableName, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", backend.ErrNotFound, tableName, id)
	}
	old := d.drop(t, row)
	next := fn(old)
	next[backend.FieldID] = old[backend.FieldID]
	next[backend.FieldCreationTime] = old[backend.FieldCreationTime]
	next[backend.FieldUpdateTime] = d.timestamp()
	d.put(t, row, next)

	return func() {
		d.drop(t, row)
		d.put(t, row, old)
	}, nil
}

func (d *DB) patchLocked(tableName, id string, fields backend.Document) (func(), error) {
	if err := checkUserFields(fields); err != nil {
		return nil, err
	}
	return d.rewriteLocked(tableName, id, func(old backend.Document) backend.Document {
		next := old.Clone()
		for k, v := range fields {
			next[k] = v
		}
		return next
	})
}

func (d *DB) replaceLocked(tableName, id string, doc backend.Document) (func(), error) {
	if err := checkUserFields(doc); err != nil {
		return nil, err
	}
	return d.rewriteLocked(tableName, id, func(backend.Document) backend.Document {
		next := doc.Clone()
		if next == nil {
			next = backend.Document{}
		}
		return next
	})
}

func (d *DB) deleteLocked(tableName, id string) (func(), error) {
	t, row, ok := d.lookup(tableName, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", backend.ErrNotFound, tableName, id)
	}
	old := d.drop(t, row)
	return func() { d.put(t, row, old) }, nil
}

func (d *DB) getLocked(tableName, id string) (backend.Document, error) {
	t, row, ok := d.lookup(tableName, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", backend.ErrNotFound, tableName, id)
	}
	return t.rows[row].Clone(), nil
}

// Get returns a copy of the document with the given identity.
func (d *DB) Get(ctx context.Context, tableName, id string) (backend.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getLocked(tableName, id)
}

// Insert stores a new document and returns its generated identity. The
// table is created on first insert.
func (d *DB) Insert(ctx context.Context, tableName string, doc backend.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	id, _, err := d.insertLocked(tableName, doc)
	return id, err
}

// Patch merges fields into an existing document.
func (d *DB) Patch(ctx context.Context, tableName, id string, fields backend.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.patchLocked(tableName, id, fields)
	return err
}

// Replace overwrites all user fields of an existing document.
func (d *DB) Replace(ctx context.Context, tableName, id string, doc backend.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.replaceLocked(tableName, id, doc)
	return err
}

// Delete removes a document.
func (d *DB) Delete(ctx context.Context, tableName, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.deleteLocked(tableName, id)
	return err
}

// Scan reads one page of an index range.
func (d *DB) Scan(ctx context.Context, req backend.ScanRequest) (*backend.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Scans may build indexes lazily and re-sort postings.
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scanLocked(req)
}

// Indexes returns the built-in and declared indexes of a table.
func (d *DB) Indexes(tableName string) []backend.IndexDef {
	return d.catalog.Indexes(tableName)
}

// Count returns the number of rows in a table.
func (d *DB) Count(tableName string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t, ok := d.tables[tableName]; ok {
		return len(t.rows)
	}
	return 0
}

// Tables returns the names of all tables holding rows.
func (d *DB) Tables() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.tables))
	for name, t := range d.tables {
		if len(t.rows) > 0 {
			out = append(out, name)
		}
	}
	return out
}

var _ backend.Transactor = (*DB)(nil)
