package query

import (
	"context"
	"errors"
	"time"

	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/fields"
	"github.com/payvex/payvex/internal/metrics"
)

func (p *Processor) record(ctx context.Context, op, collection string, args, result any, err error) {
	metrics.ObserveMutation(collection, op, err)
	p.logger.Operation(ctx, op, collection, args, result, err)
}

// Identity-keyed operations skip, rather than fail, when there is nothing
// to act on.

func (p *Processor) warnMissingID(ctx context.Context, op, collection string) {
	p.logger.WithContext(ctx).Warn("missing document id, skipping",
		"op", op,
		"collection", collection,
	)
}

func (p *Processor) warnNotFound(ctx context.Context, op, collection, id string) {
	p.logger.WithContext(ctx).Warn("document not found",
		"op", op,
		"collection", collection,
		"id", id,
	)
}

// FindByID returns the document with identity id, or nil when id is empty
// or no such document exists.
func (p *Processor) FindByID(ctx context.Context, collection, id string) (out map[string]any, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveQuery(collection, string(p.mode), time.Since(start).Seconds(), err)
		p.logger.Operation(ctx, "get", collection, map[string]any{"id": id}, out, err)
	}()

	table, err := p.Table(collection)
	if err != nil {
		return nil, err
	}
	if id == "" {
		p.warnMissingID(ctx, "get", collection)
		return nil, nil
	}
	doc, err := p.exec.get(ctx, table, id)
	if errors.Is(err, backend.ErrNotFound) {
		p.warnNotFound(ctx, "get", collection, id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.ToPayload(doc), nil
}

// Insert stores a new document and returns it with its system fields.
func (p *Processor) Insert(ctx context.Context, collection string, doc map[string]any) (out map[string]any, err error) {
	defer func() { p.record(ctx, "insert", collection, doc, out, err) }()

	table, err := p.Table(collection)
	if err != nil {
		return nil, err
	}
	stored, err := p.exec.insert(ctx, table, p.translator.ToPhysicalDocument(doc))
	if err != nil {
		return nil, err
	}
	return p.ToPayload(stored), nil
}

// Patch merges patch into the document with identity id and returns the
// result, or nil when there is no such document.
func (p *Processor) Patch(ctx context.Context, collection, id string, patch map[string]any) (out map[string]any, err error) {
	defer func() { p.record(ctx, "patch", collection, map[string]any{"id": id, "patch": patch}, out, err) }()

	table, err := p.Table(collection)
	if err != nil {
		return nil, err
	}
	if id == "" {
		p.warnMissingID(ctx, "patch", collection)
		return nil, nil
	}
	stored, err := p.exec.patch(ctx, table, id, p.translator.ToPhysicalPatch(patch))
	if errors.Is(err, backend.ErrNotFound) {
		p.warnNotFound(ctx, "patch", collection, id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.ToPayload(stored), nil
}

// Replace overwrites the user fields of the document with identity id.
func (p *Processor) Replace(ctx context.Context, collection, id string, doc map[string]any) (out map[string]any, err error) {
	defer func() { p.record(ctx, "replace", collection, map[string]any{"id": id, "doc": doc}, out, err) }()

	table, err := p.Table(collection)
	if err != nil {
		return nil, err
	}
	if id == "" {
		p.warnMissingID(ctx, "replace", collection)
		return nil, nil
	}
	stored, err := p.exec.replace(ctx, table, id, p.translator.ToPhysicalDocument(doc))
	if errors.Is(err, backend.ErrNotFound) {
		p.warnNotFound(ctx, "replace", collection, id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.ToPayload(stored), nil
}

// Delete removes the document with identity id. It reports false when
// there was nothing to delete.
func (p *Processor) Delete(ctx context.Context, collection, id string) (deleted bool, err error) {
	defer func() { p.record(ctx, "delete", collection, map[string]any{"id": id}, deleted, err) }()

	table, err := p.Table(collection)
	if err != nil {
		return false, err
	}
	if id == "" {
		p.warnMissingID(ctx, "delete", collection)
		return false, nil
	}
	err = p.exec.delete(ctx, table, id)
	if errors.Is(err, backend.ErrNotFound) {
		p.warnNotFound(ctx, "delete", collection, id)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Upsert patches the document with identity id when it exists. An empty
// id, or one that fetches nothing, inserts doc as a new document.
func (p *Processor) Upsert(ctx context.Context, collection, id string, doc map[string]any) (out map[string]any, inserted bool, err error) {
	defer func() {
		p.record(ctx, "upsert", collection, map[string]any{"id": id, "doc": doc},
			map[string]any{"doc": out, "inserted": inserted}, err)
	}()

	table, err := p.Table(collection)
	if err != nil {
		return nil, false, err
	}
	res, err := p.exec.upsert(ctx, table, id, p.translator.ToPhysicalDocument(doc))
	if err != nil {
		return nil, false, err
	}
	return p.ToPayload(res.Doc), res.Inserted, nil
}

// Increment adds amount to a numeric field, treating an unset field as
// zero, and returns the updated document.
func (p *Processor) Increment(ctx context.Context, collection, id, field string, amount float64) (out map[string]any, err error) {
	defer func() {
		p.record(ctx, "increment", collection, map[string]any{"id": id, "field": field, "amount": amount}, out, err)
	}()

	table, err := p.Table(collection)
	if err != nil {
		return nil, err
	}
	physical := p.translator.ToPhysical(field)
	if field == "" || fields.IsSystem(physical) {
		return nil, validationf("field", "%q cannot be incremented", field)
	}
	if id == "" {
		p.warnMissingID(ctx, "increment", collection)
		return nil, nil
	}
	stored, err := p.exec.increment(ctx, table, id, physical, amount)
	if errors.Is(err, backend.ErrNotFound) {
		p.warnNotFound(ctx, "increment", collection, id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.ToPayload(stored), nil
}

// UpdateManyWhere runs the query pipeline for req and patches every
// matched document. The count equals the number of matched documents;
// any failed patch fails the whole call.
func (p *Processor) UpdateManyWhere(ctx context.Context, req Request, patch map[string]any) (n int, err error) {
	defer func() {
		p.record(ctx, "updateMany", req.Collection, map[string]any{"where": req.Where, "patch": patch}, n, err)
	}()

	h, err := p.Query(req)
	if err != nil {
		return 0, err
	}
	spec, err := h.finalize()
	if err != nil {
		return 0, err
	}
	n, err = p.exec.updateMany(ctx, spec, p.translator.ToPhysicalPatch(patch))
	if err != nil {
		return 0, err
	}
	metrics.AddBulkAffected(req.Collection, "updateMany", n)
	return n, nil
}

// DeleteManyWhere runs the query pipeline for req and deletes every
// matched document.
func (p *Processor) DeleteManyWhere(ctx context.Context, req Request) (n int, err error) {
	defer func() {
		p.record(ctx, "deleteMany", req.Collection, map[string]any{"where": req.Where}, n, err)
	}()

	h, err := p.Query(req)
	if err != nil {
		return 0, err
	}
	spec, err := h.finalize()
	if err != nil {
		return 0, err
	}
	n, err = p.exec.deleteMany(ctx, spec)
	if err != nil {
		return 0, err
	}
	metrics.AddBulkAffected(req.Collection, "deleteMany", n)
	return n, nil
}
