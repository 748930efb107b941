// Package ssh implements the StoredScriptHistory: the durable
// per-scrAddr index, lazily materialized from the KV store.
package ssh

import (
	"github.com/0ZTR/BitcoinArmory/internal/logs"
	"github.com/0ZTR/BitcoinArmory/internal/store"
	"github.com/0ZTR/BitcoinArmory/internal/txio"
)

var log, _ = logs.Get(logs.STOR)

// SubHistory holds the TxIOPair map for one block-height-prefix bucket
// of one scrAddr's history.
type SubHistory struct {
	HgTx     txio.HgTx
	TxioMap  map[string]*txio.TxIOPair // keyed by output-dbkey string
	TxioKeys []txio.DBKey              // insertion order, for deterministic page sweeps
}

func newSubHistory(hgtx txio.HgTx) *SubHistory {
	return &SubHistory{HgTx: hgtx, TxioMap: make(map[string]*txio.TxIOPair)}
}

// Count returns the number of TxIOPairs in this bucket.
func (sh *SubHistory) Count() int {
	return len(sh.TxioMap)
}

// StoredScriptHistory (SSH) is the durable per-scrAddr index. Invariant
//: ScriptBalance == sum of the values of the unspent TxIOPairs across all
// sub-histories at height <= AlreadyScannedUpToBlk.
type StoredScriptHistory struct {
	ScrAddr               txio.ScriptHash
	AlreadyScannedUpToBlk uint32
	TotalTxioCount        uint64
	ScriptBalance         int64

	subHistories map[txio.HgTx]*SubHistory
	order        []txio.HgTx // ascending height order, maintained incrementally
}

// NewEmpty returns an uninitialized SSH for a scrAddr that has never
// been seen: querying its balance returns 0 without error.
func NewEmpty(scrAddr txio.ScriptHash) *StoredScriptHistory {
	return &StoredScriptHistory{
		ScrAddr:      scrAddr,
		subHistories: make(map[txio.HgTx]*SubHistory),
	}
}

// Load materializes the SSH for scrAddr from the KV store's HISTORY
// table, or returns an empty SSH if none exists yet.
func Load(tx store.ReadTx, scrAddr txio.ScriptHash) (*StoredScriptHistory, error) {
	raw, err := tx.Get(store.TableHistory, scrAddr.Bytes())
	if err == store.ErrNotFound {
		return NewEmpty(scrAddr), nil
	}
	if err != nil {
		return nil, err
	}
	ssh, err := decodeSSHSummary(scrAddr, raw)
	if err != nil {
		return nil, err
	}
	ssh.subHistories = make(map[txio.HgTx]*SubHistory)
	return ssh, nil
}

// LoadSubHistory lazily loads a single sub-history bucket from the
// SUBSSH table, used by the paged-history reader so it never has to
// load every TxIOPair for a scrAddr into memory at once.
func (s *StoredScriptHistory) LoadSubHistory(tx store.ReadTx, hgtx txio.HgTx) (*SubHistory, error) {
	if sh, ok := s.subHistories[hgtx]; ok {
		return sh, nil
	}
	key := subSSHKey(s.ScrAddr, hgtx)
	raw, err := tx.Get(store.TableSubSSH, key)
	if err == store.ErrNotFound {
		sh := newSubHistory(hgtx)
		s.subHistories[hgtx] = sh
		s.insertOrder(hgtx)
		return sh, nil
	}
	if err != nil {
		return nil, err
	}
	sh, err := decodeSubHistory(hgtx, raw)
	if err != nil {
		return nil, err
	}
	s.subHistories[hgtx] = sh
	return sh, nil
}

func subSSHKey(scrAddr txio.ScriptHash, hgtx txio.HgTx) []byte {
	key := make([]byte, 0, len(scrAddr)+4)
	key = append(key, scrAddr.Bytes()...)
	key = append(key, byte(hgtx>>24), byte(hgtx>>16), byte(hgtx>>8), byte(hgtx))
	return key
}

// AddTxio inserts or replaces a TxIOPair in the sub-history bucket for
// its output's height, updating TotalTxioCount and ScriptBalance so that
// ScriptBalance always equals sum(unspent) - sum(spent).
// The caller is the single confirmed-index writer.
func (s *StoredScriptHistory) AddTxio(hgtx txio.HgTx, t *txio.TxIOPair) {
	sh, ok := s.subHistories[hgtx]
	if !ok {
		sh = newSubHistory(hgtx)
		s.subHistories[hgtx] = sh
		s.insertOrder(hgtx)
	}
	key := t.TxOutKey.String()
	prev, existed := sh.TxioMap[key]
	if !existed {
		s.TotalTxioCount++
		sh.TxioKeys = append(sh.TxioKeys, t.TxOutKey)
	} else if !prev.IsSpent() {
		// reverse the previous unspent contribution before applying t.
		s.ScriptBalance -= prev.Value
	}
	sh.TxioMap[key] = t
	if !t.IsSpent() {
		s.ScriptBalance += t.Value
	}
}

// RemoveTxio deletes a TxIOPair by its output key, reversing its balance
// contribution. Used by reorg/purge handling to undo entries that no
// longer belong to the confirmed or ZC frontier.
func (s *StoredScriptHistory) RemoveTxio(hgtx txio.HgTx, outKey txio.DBKey) {
	sh, ok := s.subHistories[hgtx]
	if !ok {
		return
	}
	key := outKey.String()
	prev, existed := sh.TxioMap[key]
	if !existed {
		return
	}
	if !prev.IsSpent() {
		s.ScriptBalance -= prev.Value
	}
	delete(sh.TxioMap, key)
	s.TotalTxioCount--
}

func (s *StoredScriptHistory) insertOrder(hgtx txio.HgTx) {
	// keep order ascending by height; linear insert is fine, sub-history
	// buckets per scrAddr are small relative to chain height.
	i := 0
	for ; i < len(s.order); i++ {
		if s.order[i] > hgtx {
			break
		}
	}
	s.order = append(s.order, 0)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = hgtx
}

// SummaryEntry is one row of getSSHSummary: a block-height prefix and
// the TxIOPair count recorded in that bucket.
type SummaryEntry struct {
	HgTx  txio.HgTx
	Count int
}

// Summary returns the block-height -> txio-count map the paged-history
// sweep consumes, in descending-height order.
func (s *StoredScriptHistory) Summary() []SummaryEntry {
	entries := make([]SummaryEntry, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		hgtx := s.order[i]
		entries = append(entries, SummaryEntry{HgTx: hgtx, Count: s.subHistories[hgtx].Count()})
	}
	return entries
}

// SubHistories exposes the bucket map for callers (e.g. rescan/merge)
// that need direct access rather than the lazy loader.
func (s *StoredScriptHistory) SubHistories() map[txio.HgTx]*SubHistory {
	return s.subHistories
}
