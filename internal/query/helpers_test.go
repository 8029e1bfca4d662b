package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/fields"
	"github.com/payvex/payvex/internal/logging"
	"github.com/payvex/payvex/internal/memdb"
	"github.com/payvex/payvex/internal/plan"
)

const (
	testPrefix = "app"
	usersTable = "app_users"
)

func testCatalog() *plan.Catalog {
	cat := plan.NewCatalog()
	cat.Define(usersTable, "by_status", "payvex_status")
	cat.Define(usersTable, "by_age", "payvex_age")
	return cat
}

// syncBuffer is a log sink safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newInline(t *testing.T, tx backend.Tx, cat *plan.Catalog, logs *syncBuffer) *Processor {
	t.Helper()
	logger := logging.Discard()
	if logs != nil {
		logger = logging.NewWithWriter(logs)
	}
	p, err := NewProcessor(Config{
		Mode:            ModeInline,
		Tx:              tx,
		Prefix:          testPrefix,
		Translator:      fields.New(""),
		Catalog:         cat,
		Logger:          logger,
		BulkConcurrency: 4,
	})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	return p
}

func newTestProcessor(t *testing.T) (*Processor, *memdb.DB) {
	t.Helper()
	cat := testCatalog()
	db := memdb.New(cat)
	return newInline(t, db, cat, nil), db
}

func statusOf(i int) string {
	if i%2 == 0 {
		return "active"
	}
	return "inactive"
}

// seedUsers inserts n users with age i, alternating status and a
// zero-padded name.
func seedUsers(t *testing.T, p *Processor, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		doc, err := p.Insert(ctx, "users", map[string]any{
			"name":   fmt.Sprintf("user-%03d", i),
			"age":    i,
			"status": statusOf(i),
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		ids = append(ids, doc["id"].(string))
	}
	return ids
}

func idsOf(docs []map[string]any) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["id"].(string)
	}
	return out
}

func collect(t *testing.T, p *Processor, req Request) []map[string]any {
	t.Helper()
	h, err := p.Query(req)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	docs, err := h.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	return docs
}

// collectPages follows continuation cursors until the last page.
func collectPages(t *testing.T, p *Processor, req Request, size int) []string {
	t.Helper()
	var ids []string
	cursor := ""
	for i := 0; i < 1000; i++ {
		r := req
		r.Pagination = &Pagination{PageSize: size, Cursor: cursor}
		h, err := p.Query(r)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		page, err := h.Page(context.Background())
		if err != nil {
			t.Fatalf("Page failed: %v", err)
		}
		if len(page.Docs) > size {
			t.Fatalf("page has %d docs, page size is %d", len(page.Docs), size)
		}
		ids = append(ids, idsOf(page.Docs)...)
		if !page.HasNextPage {
			return ids
		}
		cursor = page.Cursor
	}
	t.Fatal("pagination did not terminate")
	return nil
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// loopbackConn is a backend.Conn that serves calls with an inline
// processor, round-tripping arguments and results through JSON the way a
// network transport would.
type loopbackConn struct {
	server *Processor
	calls  []string
	mu     sync.Mutex
}

func (c *loopbackConn) Query(ctx context.Context, ref string, args any) (json.RawMessage, error) {
	return c.do(ctx, ref, args)
}

func (c *loopbackConn) Mutation(ctx context.Context, ref string, args any) (json.RawMessage, error) {
	return c.do(ctx, ref, args)
}

func (c *loopbackConn) do(ctx context.Context, ref string, args any) (json.RawMessage, error) {
	c.mu.Lock()
	c.calls = append(c.calls, ref)
	c.mu.Unlock()

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	v, err := c.server.Serve(ctx, ref, raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// strictTx fails the test on any backend access.
type strictTx struct {
	t *testing.T
}

func (s strictTx) fail(op string) error {
	s.t.Errorf("unexpected backend call: %s", op)
	return fmt.Errorf("unexpected %s", op)
}

func (s strictTx) Get(context.Context, string, string) (backend.Document, error) {
	return nil, s.fail("get")
}

func (s strictTx) Insert(context.Context, string, backend.Document) (string, error) {
	return "", s.fail("insert")
}

func (s strictTx) Patch(context.Context, string, string, backend.Document) error {
	return s.fail("patch")
}

func (s strictTx) Replace(context.Context, string, string, backend.Document) error {
	return s.fail("replace")
}

func (s strictTx) Delete(context.Context, string, string) error {
	return s.fail("delete")
}

func (s strictTx) Scan(context.Context, backend.ScanRequest) (*backend.ScanResult, error) {
	return nil, s.fail("scan")
}

func (s strictTx) Indexes(string) []backend.IndexDef {
	return plan.Builtin
}
