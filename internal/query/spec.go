package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/filter"
	"github.com/payvex/payvex/internal/metrics"
	"github.com/payvex/payvex/internal/plan"
)

const (
	// minOverfetch is the smallest batch read while looking for rows that
	// pass the residual under a row cap.
	minOverfetch = 64
	maxOverfetch = 1024
)

// Spec is a compiled physical query. It is what crosses the connection in
// remote mode: the where-plan, not the raw predicates.
type Spec struct {
	Table      string          `json:"table"`
	Index      string          `json:"index"`
	IndexField string          `json:"indexField"`
	Plan       *plan.WherePlan `json:"plan,omitempty"`
	SortField  string          `json:"sortField"`
	Order      backend.Order   `json:"order"`
	Limit      int             `json:"limit,omitempty"`
	Paginate   bool            `json:"paginate,omitempty"`
	PageSize   int             `json:"pageSize,omitempty"`
	Cursor     string          `json:"cursor,omitempty"`
	PostFilter bool            `json:"postFilter,omitempty"`
}

// Result holds the rows produced by a spec. Cursor and Done describe the
// continuation of a paginated spec; unpaginated results are always Done.
type Result struct {
	Docs     []backend.Document `json:"docs"`
	Cursor   string             `json:"cursor,omitempty"`
	Done     bool               `json:"done"`
	Scanned  int                `json:"scanned"`
	Rejected int                `json:"rejected"`
}

// Validate checks a spec received from outside the process.
func (s *Spec) Validate() error {
	if s.Table == "" {
		return validationf("table", "is required")
	}
	if s.Index == "" {
		return validationf("index", "is required")
	}
	switch s.Order {
	case backend.Asc, backend.Desc:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDirection, s.Order)
	}
	if s.Limit < 0 {
		return ErrInvalidLimit
	}
	if s.Paginate && s.PageSize <= 0 {
		return ErrInvalidPageSize
	}
	if s.Plan != nil && s.Plan.Index != nil && s.Plan.Index.IndexName != s.Index {
		return validationf("plan", "range targets index %q but the scan uses %q", s.Plan.Index.IndexName, s.Index)
	}
	if s.Paginate && !s.sortServed() {
		return fmt.Errorf("%w: %s", ErrSortRequiresIndex, s.SortField)
	}
	return nil
}

// sortServed reports whether the index scan already yields rows in sort
// order. Rows with equal index keys come back in creation order.
func (s *Spec) sortServed() bool {
	if s.SortField == s.IndexField {
		return true
	}
	if s.SortField == backend.FieldCreationTime {
		return s.Plan != nil && s.Plan.Index.IsEquality()
	}
	return false
}

func (s *Spec) hasResidual() bool {
	return s.Plan.HasResidual()
}

func (s *Spec) keep(doc backend.Document) bool {
	if !s.hasResidual() {
		return true
	}
	return s.Plan.Residual.Eval(filter.Document(doc))
}

func (s *Spec) scanRequest() backend.ScanRequest {
	req := backend.ScanRequest{
		Table: s.Table,
		Index: s.Index,
		Order: s.Order,
	}
	if s.Plan != nil && s.Plan.Index != nil {
		req.Lower = s.Plan.Index.Lower
		req.Upper = s.Plan.Index.Upper
	}
	return req
}

// Execute runs spec against a live transaction context: index range scan,
// residual evaluation, sort and row cap in one call.
func Execute(ctx context.Context, tx backend.Tx, spec *Spec) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var (
		res *Result
		err error
	)
	switch {
	case spec.Paginate:
		res, err = executePage(ctx, tx, spec)
	case !spec.sortServed():
		res, err = executeSorted(ctx, tx, spec)
	default:
		res, err = executeStream(ctx, tx, spec)
	}
	if err != nil {
		return nil, err
	}
	metrics.AddResidualRejected(spec.Table, res.Rejected)
	return res, nil
}

// CountSpec returns the number of rows matching spec, ignoring its row cap
// and pagination.
func CountSpec(ctx context.Context, tx backend.Tx, spec *Spec) (int, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	page, err := tx.Scan(ctx, spec.scanRequest())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, doc := range page.Docs {
		if spec.keep(doc) {
			n++
		}
	}
	metrics.AddResidualRejected(spec.Table, len(page.Docs)-n)
	return n, nil
}

// executeStream reads the scan in batches until the cap is met. Residual
// rejections are made up by reading further rather than by returning a
// short result.
func executeStream(ctx context.Context, tx backend.Tx, spec *Spec) (*Result, error) {
	req := spec.scanRequest()
	req.PageSize = overfetch(spec.Limit, spec.hasResidual())

	res := &Result{Docs: []backend.Document{}, Done: true}
	for {
		page, err := tx.Scan(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, doc := range page.Docs {
			res.Scanned++
			if !spec.keep(doc) {
				res.Rejected++
				continue
			}
			res.Docs = append(res.Docs, doc)
			if spec.Limit > 0 && len(res.Docs) == spec.Limit {
				return res, nil
			}
		}
		if page.Done || len(page.Docs) == 0 {
			return res, nil
		}
		req.Cursor = page.Cursor
	}
}

func overfetch(limit int, residual bool) int {
	if limit <= 0 {
		return 0
	}
	if !residual {
		return limit
	}
	n := limit * 2
	if n < minOverfetch {
		n = minOverfetch
	}
	if n > maxOverfetch {
		n = maxOverfetch
	}
	return n
}

// executeSorted materializes every matching row and sorts in memory. Only
// unpaginated specs get here.
func executeSorted(ctx context.Context, tx backend.Tx, spec *Spec) (*Result, error) {
	page, err := tx.Scan(ctx, spec.scanRequest())
	if err != nil {
		return nil, err
	}

	res := &Result{Docs: make([]backend.Document, 0, len(page.Docs)), Done: true}
	for _, doc := range page.Docs {
		res.Scanned++
		if !spec.keep(doc) {
			res.Rejected++
			continue
		}
		res.Docs = append(res.Docs, doc)
	}

	sortDocuments(res.Docs, spec.SortField, spec.Order)
	if spec.Limit > 0 && len(res.Docs) > spec.Limit {
		res.Docs = res.Docs[:spec.Limit]
	}
	return res, nil
}

func executePage(ctx context.Context, tx backend.Tx, spec *Spec) (*Result, error) {
	req := spec.scanRequest()
	req.Cursor = spec.Cursor
	req.PageSize = spec.PageSize
	if spec.Limit > 0 && spec.Limit < req.PageSize {
		req.PageSize = spec.Limit
	}

	page, err := tx.Scan(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Docs:   make([]backend.Document, 0, len(page.Docs)),
		Cursor: page.Cursor,
		Done:   page.Done,
	}
	for _, doc := range page.Docs {
		res.Scanned++
		if !spec.keep(doc) {
			res.Rejected++
			continue
		}
		res.Docs = append(res.Docs, doc)
	}
	return res, nil
}

// sortDocuments orders docs by field, breaking ties by creation time, the
// same layout an index on field produces.
func sortDocuments(docs []backend.Document, field string, order backend.Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		c := compareField(docs[i], docs[j], field)
		if c == 0 && field != backend.FieldCreationTime {
			c = compareField(docs[i], docs[j], backend.FieldCreationTime)
		}
		if order == backend.Desc {
			return c > 0
		}
		return c < 0
	})
}

func compareField(a, b backend.Document, field string) int {
	va, _ := filter.Document(a).Lookup(field)
	vb, _ := filter.Document(b).Lookup(field)
	return filter.Order(va, vb)
}
