package memdb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/payvex/payvex/internal/backend"
)

// ErrTxDone is returned when a transaction handle is used after Transact
// returned.
var ErrTxDone = errors.New("transaction already finished")

// Transact runs fn atomically. Writers outside the transaction wait until
// it finishes; if fn returns an error or panics every write it made is
// undone. fn must only use the Tx it is given.
func (d *DB) Transact(ctx context.Context, fn func(tx backend.Tx) error) (err error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx := &txn{db: d}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
			return
		}
		tx.finish()
	}()

	return fn(tx)
}

// txn is the Tx passed to a Transact callback. Its methods may be called
// concurrently.
type txn struct {
	db *DB

	mu   sync.Mutex
	undo []func()
	done bool
}

func (t *txn) record(undo func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		undo()
		return ErrTxDone
	}
	t.undo = append(t.undo, undo)
	return nil
}

func (t *txn) rollback() {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.done = true
}

func (t *txn) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = nil
	t.done = true
}

func (t *txn) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	return nil
}

func (t *txn) Get(ctx context.Context, table, id string) (backend.Document, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.db.mu.RLock()
	defer t.db.mu.RUnlock()
	return t.db.getLocked(table, id)
}

func (t *txn) Insert(ctx context.Context, table string, doc backend.Document) (string, error) {
	if err := t.check(ctx); err != nil {
		return "", err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	id, undo, err := t.db.insertLocked(table, doc)
	if err != nil {
		return "", err
	}
	if err := t.record(undo); err != nil {
		return "", err
	}
	return id, nil
}

func (t *txn) Patch(ctx context.Context, table, id string, fields backend.Document) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	undo, err := t.db.patchLocked(table, id, fields)
	if err != nil {
		return err
	}
	return t.record(undo)
}

func (t *txn) Replace(ctx context.Context, table, id string, doc backend.Document) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	undo, err := t.db.replaceLocked(table, id, doc)
	if err != nil {
		return err
	}
	return t.record(undo)
}

func (t *txn) Delete(ctx context.Context, table, id string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	undo, err := t.db.deleteLocked(table, id)
	if err != nil {
		return err
	}
	return t.record(undo)
}

func (t *txn) Scan(ctx context.Context, req backend.ScanRequest) (*backend.ScanResult, error) {
	if err := t.check(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	return t.db.scanLocked(req)
}

func (t *txn) Indexes(table string) []backend.IndexDef {
	return t.db.Indexes(table)
}
