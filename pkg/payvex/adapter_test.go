package payvex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/payvex/payvex/internal/config"
	"github.com/payvex/payvex/internal/logging"
	"github.com/payvex/payvex/internal/memdb"
	"github.com/payvex/payvex/internal/query"
	"github.com/payvex/payvex/pkg/rpc"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Prefix = "app"
	cfg.Collections = map[string]config.CollectionConfig{
		"posts": {Indexes: map[string]string{"by_status": "status", "by_rank": "rank"}},
	}
	return cfg
}

func newInlineAdapter(t *testing.T) (*Adapter, *memdb.DB) {
	t.Helper()
	cfg := testConfig()
	cat, err := cfg.Catalog()
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	db := memdb.New(cat)
	a, err := Open(cfg, db, logging.Discard())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return a, db
}

// newRemoteAdapter serves an inline adapter's processor over HTTP and
// returns a remote adapter connected to it, plus the inline one.
func newRemoteAdapter(t *testing.T) (remote, inline *Adapter) {
	t.Helper()
	inline, _ = newInlineAdapter(t)
	srv, err := rpc.NewServer(inline.Processor(), rpc.Options{AuthToken: "tok", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	cfg := testConfig()
	cfg.Mode = config.ModeRemote
	cfg.Remote.URL = ts.URL
	cfg.Remote.Token = "tok"
	remote, err = Open(cfg, nil, logging.Discard())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return remote, inline
}

func seedPosts(t *testing.T, a *Adapter, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		status := "draft"
		if i%2 == 0 {
			status = "published"
		}
		_, err := a.Create(context.Background(), "posts", map[string]any{
			"title":  fmt.Sprintf("post %02d", i),
			"status": status,
			"rank":   i,
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
}

func TestOpen(t *testing.T) {
	cfg := testConfig()
	if _, err := Open(cfg, nil, nil); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("inline without backend: expected ErrInvalidConfig, got %v", err)
	}

	cfg.Mode = config.ModeRemote
	if _, err := Open(cfg, nil, nil); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("remote without url: expected ErrInvalidConfig, got %v", err)
	}

	cfg.Remote.URL = "http://127.0.0.1:1"
	a, err := Open(cfg, nil, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if a.Processor().Mode() != query.ModeRemote {
		t.Errorf("Mode() = %q", a.Processor().Mode())
	}
}

func TestParseSort(t *testing.T) {
	tests := []struct {
		in    string
		field string
		dir   string
	}{
		{"", "", ""},
		{"rank", "rank", "asc"},
		{"+rank", "rank", "asc"},
		{"-createdAt", "createdAt", "desc"},
	}
	for _, tt := range tests {
		s := parseSort(tt.in)
		if tt.field == "" {
			if s != nil {
				t.Errorf("parseSort(%q) = %+v, want nil", tt.in, s)
			}
			continue
		}
		if s == nil || s.Field != tt.field || string(s.Direction) != tt.dir {
			t.Errorf("parseSort(%q) = %+v", tt.in, s)
		}
	}
}

func TestFind(t *testing.T) {
	a, _ := newInlineAdapter(t)
	seedPosts(t, a, 12)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      FindArgs
		wantCount int
		wantFirst string
	}{
		{"all", FindArgs{Collection: "posts"}, 12, "post 00"},
		{"where equals", FindArgs{Collection: "posts", Where: map[string]any{"status": map[string]any{"equals": "draft"}}}, 6, "post 01"},
		{"range sorted desc", FindArgs{
			Collection: "posts",
			Where:      map[string]any{"rank": map[string]any{"greater_than_equal": 4, "less_than": 9}},
			Sort:       "-rank",
		}, 5, "post 08"},
		{"or with limit", FindArgs{
			Collection: "posts",
			Where: map[string]any{"or": []any{
				map[string]any{"rank": map[string]any{"less_than": 2}},
				map[string]any{"title": map[string]any{"like": "post 1"}},
			}},
			Limit: 3,
		}, 3, "post 00"},
		{"newest first", FindArgs{Collection: "posts", Sort: "-createdAt", Limit: 1}, 1, "post 11"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := a.Find(ctx, tt.args)
			if err != nil {
				t.Fatalf("Find failed: %v", err)
			}
			if len(docs) != tt.wantCount {
				t.Fatalf("got %d docs, want %d", len(docs), tt.wantCount)
			}
			if docs[0]["title"] != tt.wantFirst {
				t.Errorf("first = %v, want %s", docs[0]["title"], tt.wantFirst)
			}
		})
	}

	one, err := a.FindOne(ctx, FindArgs{Collection: "posts", Sort: "-rank"})
	if err != nil || one["title"] != "post 11" {
		t.Errorf("FindOne = %v, %v", one, err)
	}
}

func TestFindValidation(t *testing.T) {
	a, _ := newInlineAdapter(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args FindArgs
	}{
		{"unknown operator", FindArgs{Collection: "posts", Where: map[string]any{"rank": map[string]any{"near": 1}}}},
		{"bad conditions", FindArgs{Collection: "posts", Where: map[string]any{"rank": 1}}},
		{"bad collection", FindArgs{Collection: "my_posts"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Find(ctx, tt.args); !IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	if _, err := a.FindPage(ctx, FindArgs{Collection: "posts"}); !IsValidation(err) {
		t.Errorf("FindPage without page size: expected validation error, got %v", err)
	}
}

func TestFindPage(t *testing.T) {
	a, _ := newInlineAdapter(t)
	seedPosts(t, a, 11)
	ctx := context.Background()

	args := FindArgs{Collection: "posts", Where: map[string]any{"status": map[string]any{"equals": "published"}}, PageSize: 4}
	var titles []any
	for i := 0; ; i++ {
		page, err := a.FindPage(ctx, args)
		if err != nil {
			t.Fatalf("FindPage failed: %v", err)
		}
		for _, d := range page.Docs {
			titles = append(titles, d["title"])
		}
		if !page.HasNextPage {
			break
		}
		if i > 10 {
			t.Fatal("pagination did not terminate")
		}
		args.Cursor = page.NextCursor
	}
	if len(titles) != 6 || titles[0] != "post 00" || titles[5] != "post 10" {
		t.Errorf("unexpected titles %v", titles)
	}
}

func TestMutations(t *testing.T) {
	a, _ := newInlineAdapter(t)
	seedPosts(t, a, 10)
	ctx := context.Background()

	n, err := a.Count(ctx, "posts", map[string]any{"status": map[string]any{"equals": "draft"}})
	if err != nil || n != 5 {
		t.Fatalf("Count = %d, %v", n, err)
	}

	n, err = a.UpdateMany(ctx, "posts",
		map[string]any{"status": map[string]any{"equals": "draft"}},
		map[string]any{"status": "archived"})
	if err != nil || n != 5 {
		t.Fatalf("UpdateMany = %d, %v", n, err)
	}

	n, err = a.DeleteMany(ctx, "posts", map[string]any{"status": map[string]any{"equals": "archived"}})
	if err != nil || n != 5 {
		t.Fatalf("DeleteMany = %d, %v", n, err)
	}
	if n, _ := a.Count(ctx, "posts", nil); n != 5 {
		t.Errorf("expected 5 posts left, got %d", n)
	}

	doc, err := a.Create(ctx, "posts", map[string]any{"title": "x"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	id := doc["id"].(string)

	if doc, err = a.UpdateOne(ctx, "posts", id, map[string]any{"views": 1}); err != nil || doc["views"] != 1 {
		t.Errorf("UpdateOne = %v, %v", doc, err)
	}
	if doc, err = a.Increment(ctx, "posts", id, "views", 2); err != nil || doc["views"] != float64(3) {
		t.Errorf("Increment = %v, %v", doc, err)
	}
	if doc, err = a.Replace(ctx, "posts", id, map[string]any{"title": "y"}); err != nil || doc["views"] != nil {
		t.Errorf("Replace = %v, %v", doc, err)
	}
	if _, inserted, err := a.Upsert(ctx, "posts", id, map[string]any{"title": "z"}); err != nil || inserted {
		t.Errorf("Upsert existing: inserted=%v err=%v", inserted, err)
	}
	if ok, err := a.DeleteOne(ctx, "posts", id); err != nil || !ok {
		t.Errorf("DeleteOne = %v, %v", ok, err)
	}
	if doc, err := a.FindByID(ctx, "posts", id); doc != nil || err != nil {
		t.Errorf("FindByID after delete = %v, %v", doc, err)
	}
}

func TestVersions(t *testing.T) {
	a, _ := newInlineAdapter(t)
	ctx := context.Background()

	var last VersionToken
	for i := 0; i < 5; i++ {
		tok, _, err := a.CreateVersion(ctx, "posts", "p1", map[string]any{"rev": i})
		if err != nil {
			t.Fatalf("CreateVersion failed: %v", err)
		}
		last = tok
	}
	deleted, err := a.CleanupVersions(ctx, "posts", "p1", 2, last)
	if err != nil || deleted != 3 {
		t.Fatalf("CleanupVersions = %d, %v", deleted, err)
	}
	docs, err := a.FindVersions(ctx, "posts", "p1")
	if err != nil || len(docs) != 2 || docs[0]["id"] != last.ID {
		t.Errorf("FindVersions = %v, %v", docs, err)
	}
}

func TestRemoteAdapter(t *testing.T) {
	remote, inline := newRemoteAdapter(t)
	seedPosts(t, remote, 8)
	ctx := context.Background()

	args := FindArgs{Collection: "posts", Where: map[string]any{"rank": map[string]any{"greater_than": 2}}, Sort: "-rank"}
	want, err := inline.Find(ctx, args)
	if err != nil {
		t.Fatalf("inline Find failed: %v", err)
	}
	got, err := remote.Find(ctx, args)
	if err != nil {
		t.Fatalf("remote Find failed: %v", err)
	}
	if len(got) != len(want) || len(got) != 5 {
		t.Fatalf("remote returned %d docs, inline %d", len(got), len(want))
	}
	for i := range got {
		if got[i]["id"] != want[i]["id"] {
			t.Errorf("position %d: %v != %v", i, got[i]["id"], want[i]["id"])
		}
	}

	inline.RegisterTransaction("publish-all", func(ctx context.Context, p *Processor, _ json.RawMessage) (any, error) {
		return p.UpdateManyWhere(ctx, query.Request{Collection: "posts"}, map[string]any{"status": "published"})
	})
	out, err := remote.Transaction(ctx, "publish-all", nil)
	if err != nil || string(out) != "8" {
		t.Fatalf("Transaction = %s, %v", out, err)
	}
	n, err := remote.Count(ctx, "posts", map[string]any{"status": map[string]any{"equals": "published"}})
	if err != nil || n != 8 {
		t.Errorf("Count = %d, %v", n, err)
	}

	_, err = remote.FindPage(ctx, FindArgs{Collection: "posts", Sort: "title", PageSize: 2})
	if !errors.Is(err, query.ErrSortRequiresIndex) {
		t.Errorf("expected ErrSortRequiresIndex, got %v", err)
	}
}

func TestExplain(t *testing.T) {
	a, _ := newInlineAdapter(t)

	tests := []struct {
		name         string
		args         FindArgs
		wantIndex    string
		wantFiltered bool
	}{
		{
			name:      "equality on indexed field",
			args:      FindArgs{Collection: "posts", Where: map[string]any{"status": map[string]any{"equals": "draft"}}},
			wantIndex: "by_status",
		},
		{
			name:         "unindexed field falls back to creation order",
			args:         FindArgs{Collection: "posts", Where: map[string]any{"title": map[string]any{"like": "go"}}},
			wantIndex:    "by_creation_time",
			wantFiltered: true,
		},
		{
			name:      "sort on indexed field",
			args:      FindArgs{Collection: "posts", Sort: "-rank"},
			wantIndex: "by_rank",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := a.Explain(tt.args)
			if err != nil {
				t.Fatalf("Explain failed: %v", err)
			}
			if spec.Table != "app_posts" {
				t.Errorf("table = %q, want app_posts", spec.Table)
			}
			if spec.Index != tt.wantIndex {
				t.Errorf("index = %q, want %q", spec.Index, tt.wantIndex)
			}
			if spec.PostFilter != tt.wantFiltered {
				t.Errorf("postFilter = %v, want %v", spec.PostFilter, tt.wantFiltered)
			}
		})
	}

	if _, err := a.Explain(FindArgs{Collection: "bad name!"}); err == nil {
		t.Error("expected error for invalid collection name")
	}
}
