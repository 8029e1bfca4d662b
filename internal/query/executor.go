package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/filter"
	"golang.org/x/sync/errgroup"
)

// executor runs compiled specs and physical mutations. inlineExecutor talks
// to a live transaction context; remoteExecutor marshals the same calls
// over a connection. Missing documents surface as backend.ErrNotFound.
type executor interface {
	query(ctx context.Context, spec *Spec) (*Result, error)
	count(ctx context.Context, spec *Spec) (int, error)
	get(ctx context.Context, table, id string) (backend.Document, error)
	insert(ctx context.Context, table string, doc backend.Document) (backend.Document, error)
	patch(ctx context.Context, table, id string, fields backend.Document) (backend.Document, error)
	replace(ctx context.Context, table, id string, doc backend.Document) (backend.Document, error)
	delete(ctx context.Context, table, id string) error
	upsert(ctx context.Context, table, id string, doc backend.Document) (*UpsertResult, error)
	increment(ctx context.Context, table, id, field string, amount float64) (backend.Document, error)
	updateMany(ctx context.Context, spec *Spec, fields backend.Document) (int, error)
	deleteMany(ctx context.Context, spec *Spec) (int, error)
	transaction(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

type inlineExecutor struct {
	proc *Processor
	tx   backend.Tx
}

// atomically runs fn in a backend transaction when the context can open
// one; a context that is already a transaction runs fn directly.
func (e *inlineExecutor) atomically(ctx context.Context, fn func(tx backend.Tx) error) error {
	if t, ok := e.tx.(backend.Transactor); ok {
		return t.Transact(ctx, fn)
	}
	return fn(e.tx)
}

func (e *inlineExecutor) query(ctx context.Context, spec *Spec) (*Result, error) {
	return Execute(ctx, e.tx, spec)
}

func (e *inlineExecutor) count(ctx context.Context, spec *Spec) (int, error) {
	return CountSpec(ctx, e.tx, spec)
}

func (e *inlineExecutor) get(ctx context.Context, table, id string) (backend.Document, error) {
	return e.tx.Get(ctx, table, id)
}

func (e *inlineExecutor) insert(ctx context.Context, table string, doc backend.Document) (out backend.Document, err error) {
	err = e.atomically(ctx, func(tx backend.Tx) error {
		id, err := tx.Insert(ctx, table, doc)
		if err != nil {
			return err
		}
		out, err = tx.Get(ctx, table, id)
		return err
	})
	return out, err
}

func (e *inlineExecutor) patch(ctx context.Context, table, id string, fields backend.Document) (out backend.Document, err error) {
	err = e.atomically(ctx, func(tx backend.Tx) error {
		if err := tx.Patch(ctx, table, id, fields); err != nil {
			return err
		}
		out, err = tx.Get(ctx, table, id)
		return err
	})
	return out, err
}

func (e *inlineExecutor) replace(ctx context.Context, table, id string, doc backend.Document) (out backend.Document, err error) {
	err = e.atomically(ctx, func(tx backend.Tx) error {
		if err := tx.Replace(ctx, table, id, doc); err != nil {
			return err
		}
		out, err = tx.Get(ctx, table, id)
		return err
	})
	return out, err
}

func (e *inlineExecutor) delete(ctx context.Context, table, id string) error {
	return e.tx.Delete(ctx, table, id)
}

// upsert patches the document with identity id when it exists and inserts
// a new document otherwise, including when id is empty.
func (e *inlineExecutor) upsert(ctx context.Context, table, id string, doc backend.Document) (*UpsertResult, error) {
	res := &UpsertResult{}
	err := e.atomically(ctx, func(tx backend.Tx) error {
		if id != "" {
			_, err := tx.Get(ctx, table, id)
			switch {
			case err == nil:
				if err := tx.Patch(ctx, table, id, doc); err != nil {
					return err
				}
				res.Doc, err = tx.Get(ctx, table, id)
				return err
			case !errors.Is(err, backend.ErrNotFound):
				return err
			}
		}

		newID, err := tx.Insert(ctx, table, doc)
		if err != nil {
			return err
		}
		res.Inserted = true
		res.Doc, err = tx.Get(ctx, table, newID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// increment adds amount to field; a missing or null value counts as zero.
func (e *inlineExecutor) increment(ctx context.Context, table, id, field string, amount float64) (out backend.Document, err error) {
	err = e.atomically(ctx, func(tx backend.Tx) error {
		doc, err := tx.Get(ctx, table, id)
		if err != nil {
			return err
		}
		base := 0.0
		if v := doc[field]; v != nil {
			f, ok := filter.ToFloat64(v)
			if !ok {
				return fmt.Errorf("%w: %s is %T", ErrNotNumeric, field, v)
			}
			base = f
		}
		if err := tx.Patch(ctx, table, id, backend.Document{field: base + amount}); err != nil {
			return err
		}
		out, err = tx.Get(ctx, table, id)
		return err
	})
	return out, err
}

// fanOut applies fn to every document with bounded concurrency. Every
// started call runs to completion; the first error is returned after all
// of them finish and writes that already succeeded stay applied.
func (e *inlineExecutor) fanOut(docs []backend.Document, fn func(doc backend.Document) error) error {
	var g errgroup.Group
	g.SetLimit(e.proc.bulkConcurrency)
	for _, doc := range docs {
		g.Go(func() error { return fn(doc) })
	}
	return g.Wait()
}

func (e *inlineExecutor) updateMany(ctx context.Context, spec *Spec, fields backend.Document) (int, error) {
	res, err := Execute(ctx, e.tx, spec)
	if err != nil {
		return 0, err
	}
	err = e.fanOut(res.Docs, func(doc backend.Document) error {
		return e.tx.Patch(ctx, spec.Table, doc.ID(), fields)
	})
	if err != nil {
		return 0, err
	}
	return len(res.Docs), nil
}

func (e *inlineExecutor) deleteMany(ctx context.Context, spec *Spec) (int, error) {
	res, err := Execute(ctx, e.tx, spec)
	if err != nil {
		return 0, err
	}
	err = e.fanOut(res.Docs, func(doc backend.Document) error {
		return e.tx.Delete(ctx, spec.Table, doc.ID())
	})
	if err != nil {
		return 0, err
	}
	return len(res.Docs), nil
}

func (e *inlineExecutor) transaction(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	fn, ok := e.proc.transactions.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, name)
	}

	var out json.RawMessage
	err := e.atomically(ctx, func(tx backend.Tx) error {
		v, err := fn(ctx, e.proc.withTx(tx), args)
		if err != nil {
			return err
		}
		out, err = json.Marshal(v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type remoteExecutor struct {
	conn backend.Conn
}

func (e *remoteExecutor) call(ctx context.Context, mutation bool, ref string, args, out any) error {
	var (
		raw json.RawMessage
		err error
	)
	if mutation {
		raw, err = e.conn.Mutation(ctx, ref, args)
	} else {
		raw, err = e.conn.Query(ctx, ref, args)
	}
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", ref, err)
	}
	return nil
}

func (e *remoteExecutor) query(ctx context.Context, spec *Spec) (*Result, error) {
	var res Result
	if err := e.call(ctx, false, RefCollect, spec, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (e *remoteExecutor) count(ctx context.Context, spec *Spec) (int, error) {
	var res CountResult
	if err := e.call(ctx, false, RefCount, spec, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (e *remoteExecutor) get(ctx context.Context, table, id string) (backend.Document, error) {
	var doc backend.Document
	if err := e.call(ctx, false, RefGet, DocArgs{Table: table, ID: id}, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (e *remoteExecutor) insert(ctx context.Context, table string, doc backend.Document) (backend.Document, error) {
	var out backend.Document
	if err := e.call(ctx, true, RefInsert, DocArgs{Table: table, Doc: doc}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *remoteExecutor) patch(ctx context.Context, table, id string, fields backend.Document) (backend.Document, error) {
	var out backend.Document
	if err := e.call(ctx, true, RefPatch, DocArgs{Table: table, ID: id, Doc: fields}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *remoteExecutor) replace(ctx context.Context, table, id string, doc backend.Document) (backend.Document, error) {
	var out backend.Document
	if err := e.call(ctx, true, RefReplace, DocArgs{Table: table, ID: id, Doc: doc}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *remoteExecutor) delete(ctx context.Context, table, id string) error {
	return e.call(ctx, true, RefDelete, DocArgs{Table: table, ID: id}, nil)
}

func (e *remoteExecutor) upsert(ctx context.Context, table, id string, doc backend.Document) (*UpsertResult, error) {
	var res UpsertResult
	if err := e.call(ctx, true, RefUpsert, DocArgs{Table: table, ID: id, Doc: doc}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (e *remoteExecutor) increment(ctx context.Context, table, id, field string, amount float64) (backend.Document, error) {
	var out backend.Document
	args := IncrementArgs{Table: table, ID: id, Field: field, Amount: amount}
	if err := e.call(ctx, true, RefIncrement, args, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *remoteExecutor) updateMany(ctx context.Context, spec *Spec, fields backend.Document) (int, error) {
	var res CountResult
	if err := e.call(ctx, true, RefUpdateMany, BulkArgs{Spec: spec, Fields: fields}, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (e *remoteExecutor) deleteMany(ctx context.Context, spec *Spec) (int, error) {
	var res CountResult
	if err := e.call(ctx, true, RefDeleteMany, BulkArgs{Spec: spec}, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (e *remoteExecutor) transaction(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	raw, err := e.conn.Mutation(ctx, RefTransaction, TransactionArgs{Name: name, Args: args})
	if err != nil {
		return nil, err
	}
	return raw, nil
}
