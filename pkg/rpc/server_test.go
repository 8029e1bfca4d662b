package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/logging"
	"github.com/payvex/payvex/internal/memdb"
	"github.com/payvex/payvex/internal/metrics"
	"github.com/payvex/payvex/internal/plan"
	"github.com/payvex/payvex/internal/query"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	cat := plan.NewCatalog()
	cat.Define("app_users", "by_status", "payvex_status")
	proc, err := query.NewProcessor(query.Config{
		Mode:    query.ModeInline,
		Tx:      memdb.New(cat),
		Prefix:  "app",
		Catalog: cat,
		Logger:  logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	opts.Logger = logging.Discard()
	srv, err := NewServer(proc, opts)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, path, token string, body []byte, gzipped bool) (int, Response) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.StatusCode, out
}

func callBody(t *testing.T, ref string, args any) []byte {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(Call{Path: ref, Args: raw})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestNewServerRequiresInline(t *testing.T) {
	proc, err := query.NewProcessor(query.Config{Mode: query.ModeRemote, Conn: nopConn{}})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	if _, err := NewServer(proc, Options{}); !errors.Is(err, query.ErrNotInline) {
		t.Errorf("expected ErrNotInline, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Options{AuthToken: "secret"})
	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, Options{AuthToken: "secret"})
	body := callBody(t, query.RefGet, query.DocArgs{Table: "app_users", ID: "x"})

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong token", "nope", http.StatusUnauthorized},
		{"valid token", "secret", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := post(t, ts, PathQuery, tt.token, body, false)
			if status != tt.status {
				t.Errorf("status = %d, want %d (%+v)", status, tt.status, out)
			}
			if tt.status == http.StatusUnauthorized && out.ErrorKind != KindAuth {
				t.Errorf("errorKind = %q, want %q", out.ErrorKind, KindAuth)
			}
		})
	}
}

func TestCallRoundTrip(t *testing.T) {
	ts := newTestServer(t, Options{})

	status, out := post(t, ts, PathMutation, "", callBody(t, query.RefInsert, query.DocArgs{
		Table: "app_users",
		Doc:   backend.Document{"payvex_status": "active"},
	}), false)
	if status != http.StatusOK || out.Status != "success" {
		t.Fatalf("insert: %d %+v", status, out)
	}
	var inserted backend.Document
	if err := json.Unmarshal(out.Value, &inserted); err != nil {
		t.Fatalf("failed to decode inserted doc: %v", err)
	}
	id := inserted.ID()
	if id == "" {
		t.Fatalf("expected an id in %v", inserted)
	}

	before := testutil.ToFloat64(metrics.RPCRequests.WithLabelValues(query.RefGet, "success"))
	status, out = post(t, ts, PathQuery, "", callBody(t, query.RefGet, query.DocArgs{Table: "app_users", ID: id}), false)
	if status != http.StatusOK {
		t.Fatalf("get: %d %+v", status, out)
	}
	var got backend.Document
	if err := json.Unmarshal(out.Value, &got); err != nil || got["payvex_status"] != "active" {
		t.Errorf("unexpected document %s (%v)", out.Value, err)
	}
	if after := testutil.ToFloat64(metrics.RPCRequests.WithLabelValues(query.RefGet, "success")); after != before+1 {
		t.Errorf("rpc counter = %v, want %v", after, before+1)
	}

	spec := query.Spec{
		Table:      "app_users",
		Index:      "by_status",
		IndexField: "payvex_status",
		Plan: &plan.WherePlan{Index: &plan.IndexCandidate{
			IndexName: "by_status",
			Field:     "payvex_status",
			Lower:     &backend.Bound{Value: "active", Inclusive: true},
			Upper:     &backend.Bound{Value: "active", Inclusive: true},
		}},
		SortField: backend.FieldCreationTime,
		Order:     backend.Asc,
	}
	status, out = post(t, ts, PathQuery, "", callBody(t, query.RefCount, spec), false)
	if status != http.StatusOK || string(out.Value) != `{"count":1}` {
		t.Errorf("count: %d %s", status, out.Value)
	}
}

func TestCallErrors(t *testing.T) {
	ts := newTestServer(t, Options{})

	tests := []struct {
		name   string
		path   string
		body   []byte
		status int
		kind   string
	}{
		{"invalid JSON", PathQuery, []byte(`{"path":`), http.StatusBadRequest, KindValidation},
		{"mutation on query endpoint", PathQuery, callBody(t, query.RefInsert, query.DocArgs{Table: "app_users"}), http.StatusBadRequest, KindValidation},
		{"query on mutation endpoint", PathMutation, callBody(t, query.RefGet, query.DocArgs{Table: "app_users", ID: "x"}), http.StatusBadRequest, KindValidation},
		{"unknown ref", PathQuery, callBody(t, "payvex:explode", nil), http.StatusBadRequest, KindValidation},
		{"missing document", PathQuery, callBody(t, query.RefGet, query.DocArgs{Table: "app_users", ID: "x"}), http.StatusNotFound, KindNotFound},
		{"invalid spec", PathQuery, callBody(t, query.RefCollect, map[string]any{"table": "app_users"}), http.StatusBadRequest, KindValidation},
		{"unknown transaction", PathMutation, callBody(t, query.RefTransaction, query.TransactionArgs{Name: "nope"}), http.StatusBadRequest, KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := post(t, ts, tt.path, "", tt.body, false)
			if status != tt.status {
				t.Errorf("status = %d, want %d (%+v)", status, tt.status, out)
			}
			if out.Status != "error" || out.ErrorKind != tt.kind || out.ErrorMessage == "" {
				t.Errorf("unexpected error body %+v", out)
			}
		})
	}
}

func TestGzipRequestBody(t *testing.T) {
	ts := newTestServer(t, Options{})

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write(callBody(t, query.RefInsert, query.DocArgs{Table: "app_users", Doc: backend.Document{"payvex_n": 1}}))
	gz.Close()

	status, out := post(t, ts, PathMutation, "", buf.Bytes(), true)
	if status != http.StatusOK || out.Status != "success" {
		t.Errorf("gzipped insert: %d %+v", status, out)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{&query.ValidationError{Field: "f", Message: "bad"}, http.StatusBadRequest, KindValidation},
		{fmt.Errorf("wrapped: %w", backend.ErrInvalidCursor), http.StatusBadRequest, KindValidation},
		{fmt.Errorf("wrapped: %w", backend.ErrNotFound), http.StatusNotFound, KindNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError, KindBackend},
	}
	for _, tt := range tests {
		status, kind := Classify(tt.err)
		if status != tt.status || kind != tt.kind {
			t.Errorf("Classify(%v) = %d %s, want %d %s", tt.err, status, kind, tt.status, tt.kind)
		}
	}
}

type nopConn struct{}

func (nopConn) Query(context.Context, string, any) (json.RawMessage, error)    { return nil, nil }
func (nopConn) Mutation(context.Context, string, any) (json.RawMessage, error) { return nil, nil }
