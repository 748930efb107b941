// Package zeroconf implements the ZeroConfContainer: it maintains a
// consistent view of the mempool as it relates to registered scrAddrs,
// surviving new blocks and reorgs.
package zeroconf

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/0ZTR/BitcoinArmory/internal/logs"
	"github.com/0ZTR/BitcoinArmory/internal/panics"
	"github.com/0ZTR/BitcoinArmory/internal/txio"
)

var log, _ = logs.Get(logs.ZERC)
var spawn = panics.GoroutineWrapperFunc(log)

// ConfirmedLookup is the confirmed-KV-store side of ZCisMineBulkFilter:
// an external collaborator interface.
type ConfirmedLookup interface {
	// LookupOutpoint resolves a confirmed outpoint to its TxOut dbkey
	// and scrAddr, if the output exists and is unspent in the confirmed
	// index.
	LookupOutpoint(op Outpoint) (dbkey txio.DBKey, scrAddr txio.ScriptHash, found bool)
	// IsMined reports whether hash already resolves to a confirmed
	// TxRef, in which case the candidate is already mined.
	IsMined(hash [32]byte) bool
}

// FilterFunc decides whether a scrAddr is tracked (ScrAddrFilter.Tracks).
type FilterFunc func(txio.ScriptHash) bool

// Config controls optional ZCisMineBulkFilter behavior.
type Config struct {
	WithSecondOrderMultisig bool
}

// Container is the ZeroConfContainer.
type Container struct {
	cfg Config
	kv  ConfirmedLookup

	topID uint32 // atomic monotonic ZC-key counter

	stagingMu sync.Mutex
	newZCMap  map[[32]byte]*Tx // staging buffer written by the network thread

	// The following are mutated only by the ZC parser on the main
	// indexer thread; readers see them via snapshot swap.
	mu            sync.RWMutex
	txMap         map[uint32]*Tx                      // zcKey -> Tx
	txHashToKey   map[[32]byte]uint32                  // txHash -> zcKey
	txioMap       map[string]map[string]*txio.TxIOPair // scrAddr -> (txioKey -> TxIOPair)
	newTxioMap    map[string]map[string]*txio.TxIOPair // additions since the last consumer read
}

// New constructs an empty ZeroConfContainer.
func New(cfg Config, kv ConfirmedLookup) *Container {
	return &Container{
		cfg:         cfg,
		kv:          kv,
		newZCMap:    make(map[[32]byte]*Tx),
		txMap:       make(map[uint32]*Tx),
		txHashToKey: make(map[[32]byte]uint32),
		txioMap:     make(map[string]map[string]*txio.TxIOPair),
		newTxioMap:  make(map[string]map[string]*txio.TxIOPair),
	}
}

// AddRawTx is the network thread's entry point: it stamps tx with its
// local receive-time, allocates a zcKey from the monotonic counter, and
// inserts it into newZCMap under the staging lock.
func (c *Container) AddRawTx(tx *Tx, receiveTime uint64) uint32 {
	tx.ReceiveTime = receiveTime
	tx.zcKey = atomic.AddUint32(&c.topID, 1)

	c.stagingMu.Lock()
	c.newZCMap[tx.Hash] = tx
	c.stagingMu.Unlock()

	return tx.zcKey
}

// TopID returns the current value of the monotonic ZC-key counter. It
// strictly increases for the lifetime of the container.
func (c *Container) TopID() uint32 {
	return atomic.LoadUint32(&c.topID)
}

// ParseNewZC drains the staging buffer and resolves each candidate
// against the filter. Runs on the main index thread. Returns zcIsOurs:
// true iff at least one newly-parsed transaction was relevant to
// filterFn.
func (c *Container) ParseNewZC(filterFn FilterFunc) bool {
	zcIsOurs := false

	for {
		// 1. Snapshot newZCMap under the staging lock; release.
		c.stagingMu.Lock()
		snapshot := make(map[[32]byte]*Tx, len(c.newZCMap))
		for h, tx := range c.newZCMap {
			snapshot[h] = tx
		}
		c.stagingMu.Unlock()

		if len(snapshot) == 0 {
			return zcIsOurs
		}

		// Ordering guarantee: earlier tx-time parses first within a
		// batch, so a ZC spending another ZC in the same batch
		// resolves correctly.
		ordered := make([]*Tx, 0, len(snapshot))
		for _, tx := range snapshot {
			ordered = append(ordered, tx)
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].ReceiveTime < ordered[j].ReceiveTime })

		for _, tx := range ordered {
			c.mu.RLock()
			_, known := c.txHashToKey[tx.Hash]
			c.mu.RUnlock()
			if known {
				continue
			}

			zcKey := tx.zcKey
			pairs := c.zcIsMineBulkFilter(zcKey, tx, filterFn)
			if len(pairs) == 0 {
				continue
			}

			c.publish(zcKey, tx, pairs)
			zcIsOurs = true
		}

		// 3. Re-acquire the staging lock and diff the snapshot's
		// keyset against the live newZCMap keyset; if nothing was
		// added during the pass, clear newZCMap and exit.
		c.stagingMu.Lock()
		grew := false
		for h := range c.newZCMap {
			if _, inSnapshot := snapshot[h]; !inSnapshot {
				grew = true
				break
			}
		}
		if !grew {
			for h := range snapshot {
				delete(c.newZCMap, h)
			}
			c.stagingMu.Unlock()
			return zcIsOurs
		}
		c.stagingMu.Unlock()
		// loop again: newZCMap grew during the pass, diff handled by
		// re-snapshotting (entries already resolved are skipped via
		// txHashToKey above).
	}
}

func (c *Container) publish(zcKey uint32, tx *Tx, pairs []*txio.TxIOPair) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.txMap[zcKey] = tx
	c.txHashToKey[tx.Hash] = zcKey

	for _, p := range pairs {
		scrAddr := string(p.ScrAddr.Bytes())
		if c.txioMap[scrAddr] == nil {
			c.txioMap[scrAddr] = make(map[string]*txio.TxIOPair)
		}
		if c.newTxioMap[scrAddr] == nil {
			c.newTxioMap[scrAddr] = make(map[string]*txio.TxIOPair)
		}
		key := p.TxOutKey.String()
		c.txioMap[scrAddr][key] = p
		c.newTxioMap[scrAddr][key] = p
	}
}

// zcIsMineBulkFilter resolves which of tx's inputs and outputs touch a
// tracked scrAddr. zcKey is the ZC key already allocated for tx.
func (c *Container) zcIsMineBulkFilter(zcKey uint32, tx *Tx, filterFn FilterFunc) []*txio.TxIOPair {
	// Short-circuit: if the candidate's hash already resolves to a
	// TxRef in the confirmed store, it is already mined.
	if c.kv != nil && c.kv.IsMined(tx.Hash) {
		return nil
	}

	var pairs []*txio.TxIOPair

	for _, in := range tx.Inputs {
		c.mu.RLock()
		spentZCKey, isChainedZC := c.txHashToKey[in.PrevOut.Hash]
		c.mu.RUnlock()

		if isChainedZC {
			// Spends an unconfirmed output we already track: synthesize
			// a TxIOPair linking the two ZC keys, carrying forward the
			// spent output's own Value/OutTxHash/FromCoinbase so the
			// pair ends up with both legs populated.
			pair, ok := c.zcChainedSpendPair(spentZCKey, in.PrevOut.Index, zcKey, tx)
			if !ok {
				continue
			}
			pairs = append(pairs, pair)
			continue
		}

		if c.kv == nil {
			continue
		}
		dbkey, scrAddr, found := c.kv.LookupOutpoint(in.PrevOut)
		if !found || !filterFn(scrAddr) {
			continue
		}
		pairs = append(pairs, &txio.TxIOPair{
			ScrAddr:  scrAddr,
			TxOutKey: dbkey,
			TxInKey:  txio.NewZCTxKey(zcKey),
			InTxHash: tx.Hash,
			TxTime:   uint32(tx.ReceiveTime),
			IsZCIn:   true,
		})
	}

	for outIdx, out := range tx.Outputs {
		scrAddr := txio.ScriptHash(out.ScrAddr)
		if filterFn(scrAddr) {
			pairs = append(pairs, &txio.TxIOPair{
				ScrAddr:      scrAddr,
				TxOutKey:     txio.NewZCTxOutKey(zcKey, uint16(outIdx)),
				Value:        out.Value,
				OutTxHash:    tx.Hash,
				TxTime:       uint32(tx.ReceiveTime),
				FromCoinbase: tx.FromCoinbase,
				IsZCOut:      true,
				IsSpendable:  true,
			})
		}

		if out.IsMultisig && c.cfg.WithSecondOrderMultisig {
			for _, pkh := range out.EmbeddedPubKeyHash {
				embeddedScrAddr := txio.NewScriptHash(txio.PrefixP2PKH, pkh)
				if !filterFn(embeddedScrAddr) {
					continue
				}
				pairs = append(pairs, &txio.TxIOPair{
					ScrAddr:      embeddedScrAddr,
					TxOutKey:     txio.NewZCTxOutKey(zcKey, uint16(outIdx)),
					Value:        out.Value,
					OutTxHash:    tx.Hash,
					TxTime:       uint32(tx.ReceiveTime),
					FromCoinbase: tx.FromCoinbase,
					IsZCOut:      true,
					IsMultisig:   true,
					IsSpendable:  true,
				})
			}
		}
	}

	return pairs
}

// zcChainedSpendPair builds the merged TxIOPair for an input spending
// output outIdx of the already-tracked ZC transaction at spentZCKey. It
// carries forward that output's Value/OutTxHash/FromCoinbase/IsSpendable
// rather than returning a pair with only the spending side populated, so
// ledger.UpdateLedgers folds both legs (producing tx +Value, spending tx
// -Value) instead of collapsing to zero.
func (c *Container) zcChainedSpendPair(spentZCKey uint32, outIdx uint32, spendingZCKey uint32, spendingTx *Tx) (*txio.TxIOPair, bool) {
	c.mu.RLock()
	prevTx, ok := c.txMap[spentZCKey]
	c.mu.RUnlock()
	if !ok || int(outIdx) >= len(prevTx.Outputs) {
		return nil, false
	}
	out := prevTx.Outputs[outIdx]
	return &txio.TxIOPair{
		ScrAddr:      txio.ScriptHash(out.ScrAddr),
		TxOutKey:     txio.NewZCTxOutKey(spentZCKey, uint16(outIdx)),
		TxInKey:      txio.NewZCTxKey(spendingZCKey),
		Value:        out.Value,
		OutTxHash:    prevTx.Hash,
		InTxHash:     spendingTx.Hash,
		TxTime:       uint32(spendingTx.ReceiveTime),
		FromCoinbase: prevTx.FromCoinbase,
		IsZCOut:      true,
		IsZCIn:       true,
		IsSpendable:  true,
	}, true
}

// DrainNewTxio returns a snapshot of newTxioMap and clears it, for
// consumers (wallet scanners) that read it via snapshot swap.
func (c *Container) DrainNewTxio() map[string]map[string]*txio.TxIOPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := c.newTxioMap
	c.newTxioMap = make(map[string]map[string]*txio.TxIOPair)
	return snapshot
}

// TxioMapSnapshot returns a shallow copy of the full "mine" view.
func (c *Container) TxioMapSnapshot() map[string]map[string]*txio.TxIOPair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[string]*txio.TxIOPair, len(c.txioMap))
	for scrAddr, m := range c.txioMap {
		inner := make(map[string]*txio.TxIOPair, len(m))
		for k, v := range m {
			inner[k] = v
		}
		out[scrAddr] = inner
	}
	return out
}

// Spawn launches f as a guarded background goroutine.
func Spawn(f func()) {
	spawn(f)
}
