package store

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/0ZTR/BitcoinArmory/internal/logs"
)

var log, _ = logs.Get(logs.STOR)

// LevelDB is the default KVStore backend: a single goleveldb.DB handle
// shared across every table namespace.
type LevelDB struct {
	db *leveldb.DB
}

// Open opens (or creates) a LevelDB-backed store at path.
func Open(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		Filter: nil,
	})
	if err != nil {
		return nil, err
	}
	log.Infof("opened KV store at %s", path)
	return &LevelDB{db: db}, nil
}

func tableKey(table Table, key []byte) []byte {
	buf := make([]byte, 0, 1+len(key))
	buf = append(buf, byte(table))
	buf = append(buf, key...)
	return buf
}

// BeginRead opens a goleveldb snapshot-backed read transaction.
func (l *LevelDB) BeginRead() (ReadTx, error) {
	snap, err := l.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &levelReadTx{snap: snap}, nil
}

// BeginWrite opens the single confirmed-index write transaction.
func (l *LevelDB) BeginWrite() (WriteTx, error) {
	batch := new(leveldb.Batch)
	snap, err := l.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &levelWriteTx{db: l.db, snap: snap, batch: batch}, nil
}

// Close closes the underlying goleveldb handle.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelReadTx struct {
	snap *leveldb.Snapshot
}

func (r *levelReadTx) Get(table Table, key []byte) ([]byte, error) {
	v, err := r.snap.Get(tableKey(table, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *levelReadTx) Cursor(table Table, prefix []byte) (Cursor, error) {
	rng := util.BytesPrefix(tableKey(table, prefix))
	iter := r.snap.NewIterator(rng, nil)
	return &levelCursor{iter: iter, tableLen: 1}, nil
}

func (r *levelReadTx) Rollback() error {
	r.snap.Release()
	return nil
}

type levelWriteTx struct {
	db    *leveldb.DB
	snap  *leveldb.Snapshot
	batch *leveldb.Batch
}

func (w *levelWriteTx) Get(table Table, key []byte) ([]byte, error) {
	v, err := w.snap.Get(tableKey(table, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (w *levelWriteTx) Cursor(table Table, prefix []byte) (Cursor, error) {
	rng := util.BytesPrefix(tableKey(table, prefix))
	iter := w.snap.NewIterator(rng, nil)
	return &levelCursor{iter: iter, tableLen: 1}, nil
}

func (w *levelWriteTx) Put(table Table, key, value []byte) error {
	w.batch.Put(tableKey(table, key), value)
	return nil
}

func (w *levelWriteTx) Delete(table Table, key []byte) error {
	w.batch.Delete(tableKey(table, key))
	return nil
}

func (w *levelWriteTx) Commit() error {
	defer w.snap.Release()
	return w.db.Write(w.batch, nil)
}

func (w *levelWriteTx) Rollback() error {
	w.snap.Release()
	w.batch.Reset()
	return nil
}

type levelCursor struct {
	iter     iterator
	tableLen int
	started  bool
}

// iterator is the subset of goleveldb's Iterator this package needs;
// declared locally so levelCursor can be constructed from either a
// snapshot's or a transaction's iterator without importing the concrete
// type at every call site.
type iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
}

func (c *levelCursor) Next() bool {
	return c.iter.Next()
}

func (c *levelCursor) Key() []byte {
	k := c.iter.Key()
	if len(k) <= c.tableLen {
		return nil
	}
	out := make([]byte, len(k)-c.tableLen)
	copy(out, k[c.tableLen:])
	return out
}

func (c *levelCursor) Value() []byte {
	v := c.iter.Value()
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (c *levelCursor) Close() error {
	c.iter.Release()
	return nil
}
