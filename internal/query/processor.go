// Package query implements the payvex query processor: it turns logical
// requests into compiled physical specs and runs them either inline against
// a live transaction context or remotely over a backend connection.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/collection"
	"github.com/payvex/payvex/internal/fields"
	"github.com/payvex/payvex/internal/filter"
	"github.com/payvex/payvex/internal/logging"
	"github.com/payvex/payvex/internal/metrics"
	"github.com/payvex/payvex/internal/plan"
)

// Mode selects where specs execute.
type Mode string

const (
	ModeInline Mode = "inline"
	ModeRemote Mode = "remote"
)

// DefaultBulkConcurrency bounds per-document fan-out in bulk mutations.
const DefaultBulkConcurrency = 8

// Config configures a Processor. Tx is required in inline mode and Conn in
// remote mode.
type Config struct {
	Mode            Mode
	Tx              backend.Tx
	Conn            backend.Conn
	Prefix          string
	Translator      *fields.Translator
	Catalog         *plan.Catalog
	Logger          *logging.Logger
	BulkConcurrency int
	Transactions    *Transactions
}

// Processor plans and executes logical requests. It holds no per-request
// state and is safe for concurrent use.
type Processor struct {
	mode            Mode
	exec            executor
	tx              backend.Tx
	prefix          string
	translator      *fields.Translator
	catalog         *plan.Catalog
	logger          *logging.Logger
	bulkConcurrency int
	transactions    *Transactions
}

// NewProcessor creates a processor with the executor strategy for cfg.Mode.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Translator == nil {
		cfg.Translator = fields.New(fields.DefaultPrefix)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = DefaultBulkConcurrency
	}
	if cfg.Transactions == nil {
		cfg.Transactions = NewTransactions()
	}
	if err := collection.ValidatePrefix(cfg.Prefix); err != nil {
		return nil, err
	}

	p := &Processor{
		mode:            cfg.Mode,
		prefix:          cfg.Prefix,
		translator:      cfg.Translator,
		catalog:         cfg.Catalog,
		logger:          cfg.Logger,
		bulkConcurrency: cfg.BulkConcurrency,
		transactions:    cfg.Transactions,
	}

	switch cfg.Mode {
	case ModeInline:
		if cfg.Tx == nil {
			return nil, fmt.Errorf("%w: inline mode needs a transaction context", ErrMissingCollaborator)
		}
		p.tx = cfg.Tx
		p.exec = &inlineExecutor{proc: p, tx: cfg.Tx}
	case ModeRemote:
		if cfg.Conn == nil {
			return nil, fmt.Errorf("%w: remote mode needs a connection", ErrMissingCollaborator)
		}
		p.exec = &remoteExecutor{conn: cfg.Conn}
	default:
		return nil, fmt.Errorf("unknown execution mode %q", cfg.Mode)
	}
	return p, nil
}

// withTx returns an inline processor bound to tx, sharing everything else.
func (p *Processor) withTx(tx backend.Tx) *Processor {
	sub := *p
	sub.mode = ModeInline
	sub.tx = tx
	sub.exec = &inlineExecutor{proc: &sub, tx: tx}
	return &sub
}

// Mode returns the execution mode chosen at construction.
func (p *Processor) Mode() Mode {
	return p.mode
}

// Translator returns the field translator.
func (p *Processor) Translator() *fields.Translator {
	return p.translator
}

// Transactions returns the named transaction registry.
func (p *Processor) Transactions() *Transactions {
	return p.transactions
}

// Table resolves a logical collection name to its physical table.
func (p *Processor) Table(name string) (string, error) {
	return collection.Resolve(p.prefix, name)
}

func (p *Processor) indexes(table string) []backend.IndexDef {
	if p.catalog == nil && p.tx != nil {
		return p.tx.Indexes(table)
	}
	return p.catalog.Indexes(table)
}

// Sort names the logical sort field and its direction.
type Sort struct {
	Field     string
	Direction backend.Order
}

// Pagination asks for one cursor-bounded page.
type Pagination struct {
	PageSize int    `json:"pageSize"`
	Cursor   string `json:"cursor,omitempty"`
}

// Request is a logical query: collection and field names as the host
// framework sees them.
type Request struct {
	Collection string
	Where      *filter.Filter
	Sort       *Sort
	Limit      int
	Pagination *Pagination
	Index      string
}

// Query plans req without touching the backend. The returned handle can be
// adjusted and inspected until it is executed.
func (p *Processor) Query(req Request) (*Handle, error) {
	table, err := p.Table(req.Collection)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, ErrInvalidLimit
	}

	where := req.Where.MapFields(p.translator.ToPhysical, p.translator.ToPhysicalValue)
	indexes := p.indexes(table)
	wp := plan.Compile(where, indexes, req.Index)
	if wp.HintIgnored {
		p.logger.Warn("index hint ignored",
			"collection", req.Collection,
			"index", req.Index,
		)
	}

	h := &Handle{
		proc:       p,
		collection: req.Collection,
		where:      where,
		indexes:    indexes,
		hinted:     req.Index != "" && !wp.HintIgnored,
		spec: Spec{
			Table:     table,
			Plan:      wp,
			SortField: backend.FieldCreationTime,
			Order:     backend.Asc,
			Limit:     req.Limit,
		},
	}
	if req.Sort != nil {
		if req.Sort.Field != "" {
			h.spec.SortField = p.translator.ToPhysical(req.Sort.Field)
		}
		if req.Sort.Direction != "" {
			if err := h.Order(req.Sort.Direction); err != nil {
				return nil, err
			}
		}
	}
	if req.Pagination != nil {
		if err := h.Paginate(*req.Pagination); err != nil {
			return nil, err
		}
	}
	h.chooseIndex()

	metrics.ObservePlan(req.Collection, wp.Index != nil && !wp.Index.IsFullRange(), wp.HintIgnored)
	return h, nil
}

// ToPayload converts a backend row to its logical shape.
func (p *Processor) ToPayload(doc backend.Document) map[string]any {
	return p.translator.ToLogicalDocument(doc)
}

// ToPayloads converts backend rows to their logical shape.
func (p *Processor) ToPayloads(docs []backend.Document) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, doc := range docs {
		out[i] = p.ToPayload(doc)
	}
	return out
}

// RunTransaction runs the registered transaction name atomically with
// args. Inline it runs inside the backend's transaction; remote it is
// delegated to the backend by name.
func (p *Processor) RunTransaction(ctx context.Context, name string, args any) (out json.RawMessage, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveMutation("", "transaction", err)
		p.logger.Operation(ctx, "transaction", "", map[string]any{"name": name, "args": args}, map[string]any{
			"bytes":   len(out),
			"elapsed": time.Since(start).String(),
		}, err)
	}()

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, validationf("args", "not encodable: %v", err)
	}
	return p.exec.transaction(ctx, name, raw)
}
