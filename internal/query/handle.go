package query

import (
	"context"
	"fmt"
	"time"

	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/filter"
	"github.com/payvex/payvex/internal/metrics"
	"github.com/payvex/payvex/internal/plan"
)

// Handle is the planning state of one logical request. It is owned by the
// call that created it and is not safe for concurrent use. Executing it
// finalizes it; later changes fail with ErrHandleFinalized.
type Handle struct {
	proc       *Processor
	collection string
	where      *filter.Filter
	indexes    []backend.IndexDef
	hinted     bool
	spec       Spec
	finalized  bool
}

// PageResult is one page of logical documents. A short or empty page does
// not mean the scan is over; follow Cursor while HasNextPage is set.
type PageResult struct {
	Docs        []map[string]any `json:"docs"`
	Cursor      string           `json:"cursor"`
	HasNextPage bool             `json:"hasNextPage"`
}

// Collection returns the logical collection the handle queries.
func (h *Handle) Collection() string {
	return h.collection
}

// Spec returns a copy of the compiled physical query.
func (h *Handle) Spec() Spec {
	return h.spec
}

// Plan returns the compiled where-plan.
func (h *Handle) Plan() *plan.WherePlan {
	return h.spec.Plan
}

// Order sets the direction of the declared sort field.
func (h *Handle) Order(dir backend.Order) error {
	if h.finalized {
		return ErrHandleFinalized
	}
	switch dir {
	case backend.Asc, backend.Desc:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	h.spec.Order = dir
	return nil
}

// Take caps the number of returned rows. The cap counts rows that passed
// the whole filter, so the scan reads further when the residual rejects
// candidates. Zero removes the cap.
func (h *Handle) Take(n int) error {
	if h.finalized {
		return ErrHandleFinalized
	}
	if n < 0 {
		return ErrInvalidLimit
	}
	h.spec.Limit = n
	return nil
}

// Paginate requests one cursor-bounded page. Residual filtering can make a
// page shorter than PageSize.
func (h *Handle) Paginate(p Pagination) error {
	if h.finalized {
		return ErrHandleFinalized
	}
	if p.PageSize <= 0 {
		return ErrInvalidPageSize
	}
	h.spec.Paginate = true
	h.spec.PageSize = p.PageSize
	h.spec.Cursor = p.Cursor
	h.chooseIndex()
	return nil
}

// PostFilter marks the residual for evaluation against fetched rows. It is
// implied whenever the plan has a residual.
func (h *Handle) PostFilter() error {
	if h.finalized {
		return ErrHandleFinalized
	}
	h.spec.PostFilter = true
	return nil
}

// chooseIndex picks the scanned index: the plan's range, else an index on
// the sort field, else creation order. A paginated sort that the scan
// cannot serve moves the scan to an index on the sort field when one
// exists and the caller named no index.
func (h *Handle) chooseIndex() {
	s := &h.spec
	if s.Plan.Index != nil {
		s.Index, s.IndexField = s.Plan.Index.IndexName, s.Plan.Index.Field
	} else if def, ok := indexOn(h.indexes, s.SortField); ok {
		s.Index, s.IndexField = def.Name, def.Field
	} else {
		s.Index, s.IndexField = backend.IndexByCreationTime, backend.FieldCreationTime
	}

	if s.Paginate && !s.sortServed() && !h.hinted {
		if def, ok := indexOn(h.indexes, s.SortField); ok {
			s.Plan = plan.Compile(h.where, h.indexes, def.Name)
			s.Index, s.IndexField = def.Name, def.Field
		}
	}
	if s.Plan.HasResidual() {
		s.PostFilter = true
	}
}

func indexOn(indexes []backend.IndexDef, field string) (backend.IndexDef, bool) {
	for _, def := range indexes {
		if def.Field == field {
			return def, true
		}
	}
	return backend.IndexDef{}, false
}

func (h *Handle) finalize() (*Spec, error) {
	if h.finalized {
		return nil, ErrHandleFinalized
	}
	h.finalized = true
	spec := h.spec
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (h *Handle) run(ctx context.Context) (res *Result, err error) {
	spec, err := h.finalize()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		p := h.proc
		metrics.ObserveQuery(h.collection, string(p.mode), time.Since(start).Seconds(), err)
		var summary map[string]any
		if res != nil {
			summary = map[string]any{"rows": len(res.Docs), "scanned": res.Scanned, "done": res.Done}
		}
		p.logger.Operation(ctx, "query", h.collection, spec, summary, err)
	}()
	return h.proc.exec.query(ctx, spec)
}

// Collect executes the handle and returns the matching rows in logical
// shape.
func (h *Handle) Collect(ctx context.Context) ([]map[string]any, error) {
	res, err := h.run(ctx)
	if err != nil {
		return nil, err
	}
	return h.proc.ToPayloads(res.Docs), nil
}

// CollectRaw executes the handle and returns physical rows.
func (h *Handle) CollectRaw(ctx context.Context) ([]backend.Document, error) {
	res, err := h.run(ctx)
	if err != nil {
		return nil, err
	}
	return res.Docs, nil
}

// First executes the handle capped at one row and returns it, or nil.
func (h *Handle) First(ctx context.Context) (map[string]any, error) {
	if err := h.Take(1); err != nil {
		return nil, err
	}
	docs, err := h.Collect(ctx)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Page executes a paginated handle and returns the page with its
// continuation cursor.
func (h *Handle) Page(ctx context.Context) (*PageResult, error) {
	if !h.spec.Paginate && !h.finalized {
		return nil, validationf("pagination", "page requested without a page size")
	}
	res, err := h.run(ctx)
	if err != nil {
		return nil, err
	}
	return &PageResult{
		Docs:        h.proc.ToPayloads(res.Docs),
		Cursor:      res.Cursor,
		HasNextPage: !res.Done,
	}, nil
}

// Count executes the handle as a count of every matching row.
func (h *Handle) Count(ctx context.Context) (n int, err error) {
	spec, err := h.finalize()
	if err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() {
		p := h.proc
		metrics.ObserveQuery(h.collection, string(p.mode), time.Since(start).Seconds(), err)
		p.logger.Operation(ctx, "count", h.collection, spec, n, err)
	}()
	return h.proc.exec.count(ctx, spec)
}
