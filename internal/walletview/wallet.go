package walletview

import (
	"sort"

	"github.com/0ZTR/BitcoinArmory/internal/corerr"
	"github.com/0ZTR/BitcoinArmory/internal/ledger"
	"github.com/0ZTR/BitcoinArmory/internal/txio"
)

// BtcWallet is an ordered collection of ScrAddrObjs under a
// client-chosen ID, plus an aggregated ledger. Invariant:
// a wallet's balances are the sum of its scrAddrs' balances computed
// against the same confirmed-height snapshot.
type BtcWallet struct {
	ID       string
	order    []txio.ScriptHash
	scrAddrs map[string]*ScrAddrObj
}

// NewBtcWallet constructs an empty wallet with the given client ID.
func NewBtcWallet(id string) *BtcWallet {
	return &BtcWallet{ID: id, scrAddrs: make(map[string]*ScrAddrObj)}
}

// AddScrAddr registers scrAddr under this wallet, preserving insertion
// order for deterministic iteration.
func (w *BtcWallet) AddScrAddr(obj *ScrAddrObj) {
	key := string(obj.ScrAddr.Bytes())
	if _, exists := w.scrAddrs[key]; exists {
		return
	}
	w.scrAddrs[key] = obj
	w.order = append(w.order, obj.ScrAddr)
}

// ScrAddrObjs returns every ScrAddrObj in registration order.
func (w *BtcWallet) ScrAddrObjs() []*ScrAddrObj {
	out := make([]*ScrAddrObj, 0, len(w.order))
	for _, a := range w.order {
		if obj, ok := w.scrAddrs[string(a.Bytes())]; ok {
			out = append(out, obj)
		}
	}
	return out
}

// Get returns the ScrAddrObj for scrAddr, if registered.
func (w *BtcWallet) Get(scrAddr txio.ScriptHash) (*ScrAddrObj, bool) {
	obj, ok := w.scrAddrs[string(scrAddr.Bytes())]
	return obj, ok
}

// Balances is the full/spendable/unconfirmed/count tuple returned by
// getBalancesAndCount.
type Balances struct {
	Full      int64
	Spendable int64
	Unconf    int64
	Count     uint64
}

// ComputeBalances computes the wallet's aggregate balances. confirmed
// supplies each scrAddr's confirmed (SSH) balance and spendable portion
// (coinbase maturity, etc. are resolved by the caller, an external
// collaborator concern); unconfirmed is taken from the ScrAddrObj's own
// Relevant map.
func (w *BtcWallet) ComputeBalances(confirmed func(txio.ScriptHash) (full, spendable int64)) Balances {
	var b Balances
	for _, obj := range w.ScrAddrObjs() {
		full, spendable := confirmed(obj.ScrAddr)
		b.Full += full
		b.Spendable += spendable
		b.Unconf += obj.Balance()
		b.Count += obj.TotalTxioCount
	}
	return b
}

// AggregatedLedger merges every scrAddr's ledger entries (as produced by
// ledger.UpdateLedgers over each ScrAddrObj's Relevant map, i.e. the
// unconfirmed component) into one sorted slice scoped to the wallet ID.
func (w *BtcWallet) AggregatedLedger(headers ledger.HeaderLookup) []*ledger.Entry {
	merged := make(map[string]*ledger.Entry)
	for _, obj := range w.ScrAddrObjs() {
		for key, e := range ledger.UpdateLedgers(w.ID, obj.Relevant, headers) {
			if existing, ok := merged[key]; ok {
				existing.NetValue += e.NetValue
				continue
			}
			clone := *e
			clone.ScopeID = w.ID
			merged[key] = &clone
		}
	}

	out := make([]*ledger.Entry, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	ledger.SortEntries(out)
	return out
}

// ScrAddrStrings returns the wallet's scrAddrs as raw byte strings, the
// shape the ScrAddrFilter's RegisterAddresses expects.
func (w *BtcWallet) ScrAddrStrings() []txio.ScriptHash {
	out := make([]txio.ScriptHash, len(w.order))
	copy(out, w.order)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RequireScrAddr returns the ScrAddrObj for scrAddr or a tagged
// UnknownID error if the wallet doesn't own it.
func (w *BtcWallet) RequireScrAddr(scrAddr txio.ScriptHash) (*ScrAddrObj, error) {
	obj, ok := w.Get(scrAddr)
	if !ok {
		return nil, corerr.UnknownID("scrAddr", scrAddr.String())
	}
	return obj, nil
}
