package query

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// TxFunc is a named unit of work. It receives a processor bound to the
// transaction and must use only that processor for its reads and writes.
type TxFunc func(ctx context.Context, p *Processor, args json.RawMessage) (any, error)

// Transactions is a registry of named transactions. Host and backend
// register the same names; remote callers refer to them by name only.
type Transactions struct {
	mu  sync.RWMutex
	fns map[string]TxFunc
}

// NewTransactions creates an empty registry.
func NewTransactions() *Transactions {
	return &Transactions{fns: make(map[string]TxFunc)}
}

// Register adds or replaces a transaction.
func (t *Transactions) Register(name string, fn TxFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fns[name] = fn
}

// Lookup returns the transaction registered under name.
func (t *Transactions) Lookup(name string) (TxFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.fns[name]
	return fn, ok
}

// Names returns the registered names, sorted.
func (t *Transactions) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.fns))
	for name := range t.fns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
