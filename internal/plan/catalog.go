package plan

import (
	"sort"
	"sync"

	"github.com/payvex/payvex/internal/backend"
)

// Builtin are the indexes every table has.
var Builtin = []backend.IndexDef{
	{Name: backend.IndexByID, Field: backend.FieldID},
	{Name: backend.IndexByCreationTime, Field: backend.FieldCreationTime},
}

// Catalog holds the declared indexes per physical table. Client and backend
// are configured from the same catalog so index names agree on both sides.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string][]backend.IndexDef
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tables: make(map[string][]backend.IndexDef)}
}

// Define declares an index on a physical table. Redefining a name replaces
// its field.
func (c *Catalog) Define(table, name, field string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defs := c.tables[table]
	for i := range defs {
		if defs[i].Name == name {
			defs[i].Field = field
			return
		}
	}
	c.tables[table] = append(defs, backend.IndexDef{Name: name, Field: field})
}

// Indexes returns the built-in indexes followed by the declared ones.
func (c *Catalog) Indexes(table string) []backend.IndexDef {
	out := make([]backend.IndexDef, 0, len(Builtin)+4)
	out = append(out, Builtin...)
	if c == nil {
		return out
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return append(out, c.tables[table]...)
}

// Tables returns the tables with declared indexes, sorted.
func (c *Catalog) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.tables))
	for t := range c.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
