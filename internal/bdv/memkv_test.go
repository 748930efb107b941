package bdv

import (
	"bytes"
	"sort"
	"sync"

	"github.com/0ZTR/BitcoinArmory/internal/store"
)

// memKV is a minimal in-memory store.KVStore, sufficient to drive a BDV
// through loadSSH/getHistoryPage without an on-disk leveldb instance.
// Mutations apply immediately on Put/Delete; Commit/Rollback are no-ops,
// which is fine for single-threaded test scenarios.
type memKV struct {
	mu     sync.RWMutex
	tables map[store.Table]map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{tables: make(map[store.Table]map[string][]byte)}
}

func (m *memKV) BeginRead() (store.ReadTx, error)  { return memTx{m}, nil }
func (m *memKV) BeginWrite() (store.WriteTx, error) { return memTx{m}, nil }
func (m *memKV) Close() error                       { return nil }

type memTx struct{ m *memKV }

func (t memTx) Get(table store.Table, key []byte) ([]byte, error) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	tbl, ok := t.m.tables[table]
	if !ok {
		return nil, store.ErrNotFound
	}
	v, ok := tbl[string(key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (t memTx) Put(table store.Table, key, value []byte) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	tbl, ok := t.m.tables[table]
	if !ok {
		tbl = make(map[string][]byte)
		t.m.tables[table] = tbl
	}
	tbl[string(key)] = value
	return nil
}

func (t memTx) Delete(table store.Table, key []byte) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if tbl, ok := t.m.tables[table]; ok {
		delete(tbl, string(key))
	}
	return nil
}

func (t memTx) Cursor(table store.Table, prefix []byte) (store.Cursor, error) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	tbl := t.m.tables[table]
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return &memCursor{tbl: tbl, keys: keys, idx: -1}, nil
}

func (t memTx) Commit() error   { return nil }
func (t memTx) Rollback() error { return nil }

type memCursor struct {
	tbl  map[string][]byte
	keys []string
	idx  int
}

func (c *memCursor) Next() bool {
	c.idx++
	return c.idx < len(c.keys)
}

func (c *memCursor) Key() []byte   { return []byte(c.keys[c.idx]) }
func (c *memCursor) Value() []byte { return c.tbl[c.keys[c.idx]] }
func (c *memCursor) Close() error  { return nil }
