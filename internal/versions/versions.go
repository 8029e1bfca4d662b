// Package versions keeps a bounded history of document versions. Each
// Create returns a Token naming the record it wrote; passing that token to
// the Cleanup of the same session keeps the record from being pruned.
package versions

import (
	"context"
	"fmt"

	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/fields"
	"github.com/payvex/payvex/internal/filter"
	"github.com/payvex/payvex/internal/query"
)

// Suffix is appended to a collection name to form its versions collection.
const Suffix = "-versions"

// Logical field names of a version record.
const (
	FieldParent  = "parent"
	FieldVersion = "version"
	FieldLatest  = "latest"
)

// Token identifies the version record a session just created. The zero
// Token protects nothing.
type Token struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// IsZero reports whether the token names no record.
func (t Token) IsZero() bool {
	return t.ID == ""
}

// Protects reports whether the token names the record id in collection.
func (t Token) Protects(collection, id string) bool {
	return !t.IsZero() && t.Collection == collection && t.ID == id
}

// Store reads and writes version records through a query processor.
type Store struct {
	proc *query.Processor
}

// New creates a version store.
func New(proc *query.Processor) *Store {
	return &Store{proc: proc}
}

// Collection returns the versions collection of collection.
func Collection(collection string) string {
	return collection + Suffix
}

// Create records version as the latest version of parentID. Earlier
// records lose their latest flag.
func (s *Store) Create(ctx context.Context, collection, parentID string, version map[string]any) (Token, map[string]any, error) {
	if parentID == "" {
		return Token{}, nil, &query.ValidationError{Field: FieldParent, Message: "is required"}
	}
	vc := Collection(collection)

	_, err := s.proc.UpdateManyWhere(ctx, query.Request{
		Collection: vc,
		Where: filter.And(
			filter.Leaf(FieldParent, filter.OpEq, parentID),
			filter.Leaf(FieldLatest, filter.OpEq, true),
		),
	}, map[string]any{FieldLatest: false})
	if err != nil {
		return Token{}, nil, fmt.Errorf("failed to clear latest flag: %w", err)
	}

	doc, err := s.proc.Insert(ctx, vc, map[string]any{
		FieldParent:  parentID,
		FieldVersion: version,
		FieldLatest:  true,
	})
	if err != nil {
		return Token{}, nil, err
	}
	id, _ := doc[fields.LogicalID].(string)
	return Token{Collection: vc, ID: id}, doc, nil
}

// List returns the version records of parentID, newest first.
func (s *Store) List(ctx context.Context, collection, parentID string) ([]map[string]any, error) {
	h, err := s.proc.Query(query.Request{
		Collection: Collection(collection),
		Where:      filter.Leaf(FieldParent, filter.OpEq, parentID),
		Sort:       &query.Sort{Field: fields.LogicalCreatedAt, Direction: backend.Desc},
	})
	if err != nil {
		return nil, err
	}
	return h.Collect(ctx)
}

// Cleanup deletes the oldest versions of parentID beyond the newest
// maxPerDoc. The record named by protect is never deleted. A maxPerDoc of
// zero or less keeps everything.
func (s *Store) Cleanup(ctx context.Context, collection, parentID string, maxPerDoc int, protect Token) (int, error) {
	if maxPerDoc <= 0 {
		return 0, nil
	}
	vc := Collection(collection)

	docs, err := s.List(ctx, collection, parentID)
	if err != nil {
		return 0, err
	}
	if len(docs) <= maxPerDoc {
		return 0, nil
	}

	deleted := 0
	for _, doc := range docs[maxPerDoc:] {
		id, _ := doc[fields.LogicalID].(string)
		if protect.Protects(vc, id) {
			continue
		}
		ok, err := s.proc.Delete(ctx, vc, id)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}
