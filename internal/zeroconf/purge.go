package zeroconf

import (
	"sort"

	"github.com/0ZTR/BitcoinArmory/internal/txio"
)

// InvalidatedKeys maps scrAddr -> the txioKeys that were present before
// a purge and are not present after.
type InvalidatedKeys map[string][]string

// Purge re-resolves the mempool view after a block lands: some mempool
// transactions become invalid (included, or double-spent by the
// block). Purge re-parses the entire current txMap from scratch against
// the post-block KV state, then diffs the old txioMap against the new
// one to find every key present before that is absent after.
//
// Re-parsing rather than incrementally deleting is required because an
// input included in the new block may invalidate a chain of dependent
// ZC transactions; only re-resolution against the updated confirmed
// state produces a correct frontier.
func (c *Container) Purge(filterFn FilterFunc) InvalidatedKeys {
	c.mu.Lock()
	oldTxio := c.txioMap
	oldTxMap := c.txMap
	c.mu.Unlock()

	newTxMap := make(map[uint32]*Tx)
	newTxHashToKey := make(map[[32]byte]uint32)
	newTxioMapCandidate := make(map[string]map[string]*txio.TxIOPair)

	// Re-parse in zcKey order so any chain of dependent ZC transactions
	// resolves against the newly-reparsed predecessors in the same pass.
	keys := make([]uint32, 0, len(oldTxMap))
	for k := range oldTxMap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, zcKey := range keys {
		tx := oldTxMap[zcKey]
		pairs := c.zcIsMineBulkFilterAgainst(newTxHashToKey, newTxMap, zcKey, tx, filterFn)
		if len(pairs) == 0 {
			continue
		}
		newTxMap[zcKey] = tx
		newTxHashToKey[tx.Hash] = zcKey
		for _, p := range pairs {
			scrAddr := string(p.ScrAddr.Bytes())
			if newTxioMapCandidate[scrAddr] == nil {
				newTxioMapCandidate[scrAddr] = make(map[string]*txio.TxIOPair)
			}
			newTxioMapCandidate[scrAddr][p.TxOutKey.String()] = p
		}
	}

	invalidated := diffTxioMaps(oldTxio, newTxioMapCandidate)

	c.mu.Lock()
	c.txMap = newTxMap
	c.txHashToKey = newTxHashToKey
	c.txioMap = newTxioMapCandidate
	// trim newTxioMap to the intersection with the new txioMap.
	trimmed := make(map[string]map[string]*txio.TxIOPair)
	for scrAddr, m := range c.newTxioMap {
		newInner, ok := newTxioMapCandidate[scrAddr]
		if !ok {
			continue
		}
		for k, v := range m {
			if _, stillPresent := newInner[k]; stillPresent {
				if trimmed[scrAddr] == nil {
					trimmed[scrAddr] = make(map[string]*txio.TxIOPair)
				}
				trimmed[scrAddr][k] = v
			}
		}
	}
	c.newTxioMap = trimmed
	c.mu.Unlock()

	return invalidated
}

// zcIsMineBulkFilterAgainst is zcIsMineBulkFilter's logic, but resolving
// "spends another ZC" against an in-progress rebuild (newTxHashToKey/
// newTxMap) instead of the container's live maps, so Purge's full
// re-parse sees its own freshly-reparsed predecessors.
func (c *Container) zcIsMineBulkFilterAgainst(
	rebuildHashToKey map[[32]byte]uint32, rebuildTxMap map[uint32]*Tx,
	zcKey uint32, tx *Tx, filterFn FilterFunc) []*txio.TxIOPair {

	if c.kv != nil && c.kv.IsMined(tx.Hash) {
		return nil
	}

	var pairs []*txio.TxIOPair

	for _, in := range tx.Inputs {
		if spentZCKey, isChainedZC := rebuildHashToKey[in.PrevOut.Hash]; isChainedZC {
			prevTx, ok := rebuildTxMap[spentZCKey]
			if !ok || int(in.PrevOut.Index) >= len(prevTx.Outputs) {
				continue
			}
			// Carry forward the spent output's own Value/OutTxHash/
			// FromCoinbase instead of returning a pair with only the
			// spending side populated.
			prevOut := prevTx.Outputs[in.PrevOut.Index]
			pairs = append(pairs, &txio.TxIOPair{
				ScrAddr:      txio.ScriptHash(prevOut.ScrAddr),
				TxOutKey:     txio.NewZCTxOutKey(spentZCKey, uint16(in.PrevOut.Index)),
				TxInKey:      txio.NewZCTxKey(zcKey),
				Value:        prevOut.Value,
				OutTxHash:    prevTx.Hash,
				InTxHash:     tx.Hash,
				TxTime:       uint32(tx.ReceiveTime),
				FromCoinbase: prevTx.FromCoinbase,
				IsZCOut:      true,
				IsZCIn:       true,
				IsSpendable:  true,
			})
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

func diffTxioMaps(oldMap, newMap map[string]map[string]*txio.TxIOPair) InvalidatedKeys {
	invalidated := make(InvalidatedKeys)
	for scrAddr, oldInner := range oldMap {
		newInner := newMap[scrAddr]
		for key := range oldInner {
			if newInner == nil {
				invalidated[scrAddr] = append(invalidated[scrAddr], key)
				continue
			}
			if _, stillPresent := newInner[key]; !stillPresent {
				invalidated[scrAddr] = append(invalidated[scrAddr], key)
			}
		}
	}
	return invalidated
}
