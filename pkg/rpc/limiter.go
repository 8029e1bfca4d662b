package rpc

import (
	"context"
	"sync"

	"github.com/payvex/payvex/internal/metrics"
)

// DefaultConcurrencyLimit is the maximum concurrent calls per table.
const DefaultConcurrencyLimit = 16

// TableLimiter bounds concurrent query execution per physical table. Calls
// over the limit wait for a slot or for their context to end.
type TableLimiter struct {
	mu     sync.Mutex
	limit  int
	tables map[string]chan struct{}
}

// NewTableLimiter creates a limiter allowing limit concurrent calls per table.
func NewTableLimiter(limit int) *TableLimiter {
	if limit <= 0 {
		limit = DefaultConcurrencyLimit
	}
	return &TableLimiter{
		limit:  limit,
		tables: make(map[string]chan struct{}),
	}
}

// Acquire blocks until a slot for table is free. The returned release
// function must be called exactly once.
func (l *TableLimiter) Acquire(ctx context.Context, table string) (release func(), err error) {
	sem := l.semaphore(table)

	select {
	case sem <- struct{}{}:
		metrics.IncQueryConcurrency(table)
		return func() {
			<-sem
			metrics.DecQueryConcurrency(table)
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes a slot without waiting.
func (l *TableLimiter) TryAcquire(table string) (release func(), ok bool) {
	sem := l.semaphore(table)

	select {
	case sem <- struct{}{}:
		metrics.IncQueryConcurrency(table)
		return func() {
			<-sem
			metrics.DecQueryConcurrency(table)
		}, true
	default:
		return nil, false
	}
}

// Active returns the number of calls holding a slot for table.
func (l *TableLimiter) Active(table string) int {
	l.mu.Lock()
	sem, ok := l.tables[table]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	return len(sem)
}

// Limit returns the per-table limit.
func (l *TableLimiter) Limit() int {
	return l.limit
}

func (l *TableLimiter) semaphore(table string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.tables[table]
	if !ok {
		sem = make(chan struct{}, l.limit)
		l.tables[table] = sem
	}
	return sem
}
