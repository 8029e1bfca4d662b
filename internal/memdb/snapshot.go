package memdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/metrics"
	"github.com/payvex/payvex/pkg/objectstore"
)

const snapshotFormatVersion = 1

type snapshotFile struct {
	FormatVersion int                      `json:"format_version"`
	LastTime      float64                  `json:"last_time"`
	CreatedAt     time.Time                `json:"created_at"`
	Tables        map[string]snapshotTable `json:"tables"`
}

type snapshotTable struct {
	NextRow uint32        `json:"next_row"`
	Rows    []snapshotRow `json:"rows"`
}

type snapshotRow struct {
	Row uint32           `json:"row"`
	Doc backend.Document `json:"doc"`
}

// Snapshot writes every table to store under key as zstd-compressed JSON and
// returns the compressed size.
func (d *DB) Snapshot(ctx context.Context, store objectstore.Store, key string) (size int64, err error) {
	defer func() { metrics.ObserveSnapshot(size, err) }()

	raw, err := d.marshalSnapshot()
	if err != nil {
		return 0, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(raw, nil)
	enc.Close()

	_, err = store.Put(ctx, key, bytes.NewReader(compressed), int64(len(compressed)), &objectstore.PutOptions{
		ContentType: "application/zstd",
		Checksum:    objectstore.Checksum(compressed),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write snapshot %s: %w", key, err)
	}
	return int64(len(compressed)), nil
}

func (d *DB) marshalSnapshot() ([]byte, error) {
	// Exclude writers so the snapshot never contains half a transaction.
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap := snapshotFile{
		FormatVersion: snapshotFormatVersion,
		LastTime:      d.lastTime,
		CreatedAt:     d.now().UTC(),
		Tables:        make(map[string]snapshotTable, len(d.tables)),
	}
	for name, t := range d.tables {
		st := snapshotTable{NextRow: t.nextRow, Rows: make([]snapshotRow, 0, len(t.rows))}
		for row, doc := range t.rows {
			st.Rows = append(st.Rows, snapshotRow{Row: row, Doc: doc})
		}
		snap.Tables[name] = st
	}
	return json.Marshal(snap)
}

// Restore replaces the database contents with the snapshot stored under key.
// A missing snapshot returns an error wrapping objectstore.ErrNotFound and
// leaves the database untouched.
func (d *DB) Restore(ctx context.Context, store objectstore.Store, key string) error {
	rc, _, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}
	defer rc.Close()

	compressed, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress snapshot %s: %w", key, err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	if snap.FormatVersion != snapshotFormatVersion {
		return fmt.Errorf("unsupported snapshot format version %d", snap.FormatVersion)
	}

	tables := make(map[string]*table, len(snap.Tables))
	for name, st := range snap.Tables {
		t := newTable(name)
		t.nextRow = st.NextRow
		for _, r := range st.Rows {
			t.rows[r.Row] = r.Doc
			t.ids[r.Doc.ID()] = r.Row
		}
		tables[name] = t
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables = tables
	if snap.LastTime > d.lastTime {
		d.lastTime = snap.LastTime
	}
	return nil
}

// generationSuffix marks snapshot generation objects. Generation keys embed
// a fixed-width UTC timestamp so that key order is write order.
const (
	generationSuffix = ".json.zst"
	generationLayout = "20060102T150405.000000000Z"
)

// Generations writes timestamped snapshots of a DB under a key prefix and
// keeps the newest Retain of them.
type Generations struct {
	store  objectstore.Store
	prefix string
	retain int
}

// NewGenerations creates a generation manager. A retain below one keeps a
// single generation.
func NewGenerations(store objectstore.Store, prefix string, retain int) *Generations {
	if retain < 1 {
		retain = 1
	}
	return &Generations{store: store, prefix: prefix, retain: retain}
}

// Write snapshots d under a new generation key and prunes old generations.
func (g *Generations) Write(ctx context.Context, d *DB) (key string, size int64, err error) {
	key = g.prefix + d.now().UTC().Format(generationLayout) + generationSuffix
	size, err = d.Snapshot(ctx, g.store, key)
	if err != nil {
		return "", 0, err
	}
	if _, err := g.Prune(ctx); err != nil {
		return key, size, fmt.Errorf("snapshot %s written, prune failed: %w", key, err)
	}
	return key, size, nil
}

// List returns the stored generations, oldest first.
func (g *Generations) List(ctx context.Context) ([]objectstore.ObjectInfo, error) {
	var out []objectstore.ObjectInfo
	opts := &objectstore.ListOptions{Prefix: g.prefix}
	for {
		res, err := g.store.List(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots under %s: %w", g.prefix, err)
		}
		for _, obj := range res.Objects {
			if strings.HasSuffix(obj.Key, generationSuffix) {
				out = append(out, obj)
			}
		}
		if !res.IsTruncated || res.NextMarker == "" {
			break
		}
		opts.Marker = res.NextMarker
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Prune deletes every generation but the newest retain and returns how many
// were deleted.
func (g *Generations) Prune(ctx context.Context) (int, error) {
	gens, err := g.List(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for i := 0; i < len(gens)-g.retain; i++ {
		err := g.store.Delete(ctx, gens[i].Key)
		if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			return deleted, fmt.Errorf("failed to delete snapshot %s: %w", gens[i].Key, err)
		}
		deleted++
	}
	return deleted, nil
}

// Restore loads the newest generation into d and returns its key.
// Generations removed or left empty since listing are skipped. When none
// exists the error wraps objectstore.ErrNotFound.
func (g *Generations) Restore(ctx context.Context, d *DB) (string, error) {
	gens, err := g.List(ctx)
	if err != nil {
		return "", err
	}
	for i := len(gens) - 1; i >= 0; i-- {
		info, err := g.store.Head(ctx, gens[i].Key)
		if errors.Is(err, objectstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat snapshot %s: %w", gens[i].Key, err)
		}
		if info.Size == 0 {
			continue
		}
		if err := d.Restore(ctx, g.store, gens[i].Key); err != nil {
			return "", err
		}
		return gens[i].Key, nil
	}
	return "", fmt.Errorf("no snapshot under %s: %w", g.prefix, objectstore.ErrNotFound)
}

// RunSnapshots writes a generation every interval until ctx is done, then
// writes a final one.
func (d *DB) RunSnapshots(ctx context.Context, gens *Generations, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if key, size, err := gens.Write(final, d); err != nil {
				logger.Error("final snapshot failed", "key", key, "error", err)
			} else {
				logger.Info("final snapshot written", "key", key, "bytes", size)
			}
			cancel()
			return
		case <-ticker.C:
			if key, size, err := gens.Write(ctx, d); err != nil {
				logger.Warn("snapshot failed", "key", key, "error", err)
			} else {
				logger.Debug("snapshot written", "key", key, "bytes", size)
			}
		}
	}
}
