// Package payvex binds the query core to a host CMS. The Adapter exposes
// one entry point per access pattern and mutation kind; collections, field
// names and documents cross it in logical form only.
package payvex

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/fields"
	"github.com/payvex/payvex/internal/filter"
	"github.com/payvex/payvex/internal/logging"
	"github.com/payvex/payvex/internal/plan"
	"github.com/payvex/payvex/internal/query"
	"github.com/payvex/payvex/internal/versions"
)

// Options configures an Adapter.
type Options struct {
	// Prefix namespaces collections: "users" becomes "<prefix>_users".
	Prefix string
	// FieldPrefix namespaces user fields. Default: "payvex_"
	FieldPrefix     string
	Catalog         *plan.Catalog
	Logger          *logging.Logger
	BulkConcurrency int
	Transactions    *query.Transactions
}

// Adapter is the host binding.
type Adapter struct {
	proc     *query.Processor
	versions *versions.Store
}

// NewInline creates an adapter executing against a live transaction
// context.
func NewInline(tx backend.Tx, opts Options) (*Adapter, error) {
	return newAdapter(query.Config{Mode: query.ModeInline, Tx: tx}, opts)
}

// NewRemote creates an adapter executing over a backend connection.
func NewRemote(conn backend.Conn, opts Options) (*Adapter, error) {
	return newAdapter(query.Config{Mode: query.ModeRemote, Conn: conn}, opts)
}

func newAdapter(cfg query.Config, opts Options) (*Adapter, error) {
	cfg.Prefix = opts.Prefix
	cfg.Translator = fields.New(opts.FieldPrefix)
	cfg.Catalog = opts.Catalog
	cfg.Logger = opts.Logger
	cfg.BulkConcurrency = opts.BulkConcurrency
	cfg.Transactions = opts.Transactions

	proc, err := query.NewProcessor(cfg)
	if err != nil {
		return nil, err
	}
	return &Adapter{proc: proc, versions: versions.New(proc)}, nil
}

// Processor returns the underlying query processor.
func (a *Adapter) Processor() *query.Processor {
	return a.proc
}

// FindArgs describes a collection query. Where uses the host framework's
// operator names; Sort is a field name, prefixed with "-" for descending.
type FindArgs struct {
	Collection string
	Where      map[string]any
	Sort       string
	Limit      int
	PageSize   int
	Cursor     string
	Index      string
}

// Page is one page of a paginated find.
type Page struct {
	Docs        []map[string]any `json:"docs"`
	HasNextPage bool             `json:"hasNextPage"`
	NextCursor  string           `json:"nextCursor,omitempty"`
}

func (a *Adapter) request(args FindArgs) (query.Request, error) {
	where, err := parseWhere(args.Where)
	if err != nil {
		return query.Request{}, err
	}
	req := query.Request{
		Collection: args.Collection,
		Where:      where,
		Sort:       parseSort(args.Sort),
		Limit:      args.Limit,
		Index:      args.Index,
	}
	if args.PageSize > 0 || args.Cursor != "" {
		req.Pagination = &query.Pagination{PageSize: args.PageSize, Cursor: args.Cursor}
	}
	return req, nil
}

func parseWhere(where map[string]any) (*filter.Filter, error) {
	f, err := filter.ParseWhere(where)
	if err != nil {
		return nil, &query.ValidationError{Field: "where", Message: err.Error()}
	}
	return f, nil
}

func parseSort(s string) *query.Sort {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if field, ok := strings.CutPrefix(s, "-"); ok {
		return &query.Sort{Field: field, Direction: backend.Desc}
	}
	return &query.Sort{Field: strings.TrimPrefix(s, "+"), Direction: backend.Asc}
}

// FindByID returns one document, or nil when there is none.
func (a *Adapter) FindByID(ctx context.Context, collection, id string) (map[string]any, error) {
	return a.proc.FindByID(ctx, collection, id)
}

// Find returns every matching document, honoring sort and limit.
// Pagination fields are ignored; use FindPage.
func (a *Adapter) Find(ctx context.Context, args FindArgs) ([]map[string]any, error) {
	args.PageSize, args.Cursor = 0, ""
	req, err := a.request(args)
	if err != nil {
		return nil, err
	}
	h, err := a.proc.Query(req)
	if err != nil {
		return nil, err
	}
	return h.Collect(ctx)
}

// FindOne returns the first matching document, or nil.
func (a *Adapter) FindOne(ctx context.Context, args FindArgs) (map[string]any, error) {
	args.PageSize, args.Cursor = 0, ""
	req, err := a.request(args)
	if err != nil {
		return nil, err
	}
	h, err := a.proc.Query(req)
	if err != nil {
		return nil, err
	}
	return h.First(ctx)
}

// FindPage returns one page. Pass the returned NextCursor back in Cursor
// to continue.
func (a *Adapter) FindPage(ctx context.Context, args FindArgs) (*Page, error) {
	if args.PageSize <= 0 {
		return nil, &query.ValidationError{Field: "pageSize", Message: "must be positive"}
	}
	req, err := a.request(args)
	if err != nil {
		return nil, err
	}
	h, err := a.proc.Query(req)
	if err != nil {
		return nil, err
	}
	res, err := h.Page(ctx)
	if err != nil {
		return nil, err
	}
	return &Page{Docs: res.Docs, HasNextPage: res.HasNextPage, NextCursor: res.Cursor}, nil
}

// Explain compiles args without running them and returns the physical
// query that would execute.
func (a *Adapter) Explain(args FindArgs) (query.Spec, error) {
	req, err := a.request(args)
	if err != nil {
		return query.Spec{}, err
	}
	h, err := a.proc.Query(req)
	if err != nil {
		return query.Spec{}, err
	}
	return h.Spec(), nil
}

// Count returns the number of matching documents.
func (a *Adapter) Count(ctx context.Context, collection string, where map[string]any) (int, error) {
	f, err := parseWhere(where)
	if err != nil {
		return 0, err
	}
	h, err := a.proc.Query(query.Request{Collection: collection, Where: f})
	if err != nil {
		return 0, err
	}
	return h.Count(ctx)
}

// Create inserts data as a new document.
func (a *Adapter) Create(ctx context.Context, collection string, data map[string]any) (map[string]any, error) {
	return a.proc.Insert(ctx, collection, data)
}

// UpdateOne patches one document.
func (a *Adapter) UpdateOne(ctx context.Context, collection, id string, data map[string]any) (map[string]any, error) {
	return a.proc.Patch(ctx, collection, id, data)
}

// Replace overwrites one document.
func (a *Adapter) Replace(ctx context.Context, collection, id string, data map[string]any) (map[string]any, error) {
	return a.proc.Replace(ctx, collection, id, data)
}

// DeleteOne deletes one document.
func (a *Adapter) DeleteOne(ctx context.Context, collection, id string) (bool, error) {
	return a.proc.Delete(ctx, collection, id)
}

// Upsert patches the document id when it exists and inserts otherwise.
func (a *Adapter) Upsert(ctx context.Context, collection, id string, data map[string]any) (map[string]any, bool, error) {
	return a.proc.Upsert(ctx, collection, id, data)
}

// Increment adds amount to a numeric field.
func (a *Adapter) Increment(ctx context.Context, collection, id, field string, amount float64) (map[string]any, error) {
	return a.proc.Increment(ctx, collection, id, field, amount)
}

// UpdateMany patches every matching document and returns how many matched.
func (a *Adapter) UpdateMany(ctx context.Context, collection string, where map[string]any, data map[string]any) (int, error) {
	f, err := parseWhere(where)
	if err != nil {
		return 0, err
	}
	return a.proc.UpdateManyWhere(ctx, query.Request{Collection: collection, Where: f}, data)
}

// DeleteMany deletes every matching document and returns how many matched.
func (a *Adapter) DeleteMany(ctx context.Context, collection string, where map[string]any) (int, error) {
	f, err := parseWhere(where)
	if err != nil {
		return 0, err
	}
	return a.proc.DeleteManyWhere(ctx, query.Request{Collection: collection, Where: f})
}

// RegisterTransaction makes fn runnable by name.
func (a *Adapter) RegisterTransaction(name string, fn query.TxFunc) {
	a.proc.Transactions().Register(name, fn)
}

// Transaction runs the registered transaction name atomically.
func (a *Adapter) Transaction(ctx context.Context, name string, args any) (json.RawMessage, error) {
	return a.proc.RunTransaction(ctx, name, args)
}

// CreateVersion records a version of parentID. Keep the token for the
// CleanupVersions call of the same session.
func (a *Adapter) CreateVersion(ctx context.Context, collection, parentID string, version map[string]any) (versions.Token, map[string]any, error) {
	return a.versions.Create(ctx, collection, parentID, version)
}

// FindVersions lists the versions of parentID, newest first.
func (a *Adapter) FindVersions(ctx context.Context, collection, parentID string) ([]map[string]any, error) {
	return a.versions.List(ctx, collection, parentID)
}

// CleanupVersions prunes versions of parentID beyond maxPerDoc, sparing
// the record named by token.
func (a *Adapter) CleanupVersions(ctx context.Context, collection, parentID string, maxPerDoc int, token versions.Token) (int, error) {
	return a.versions.Cleanup(ctx, collection, parentID, maxPerDoc, token)
}
