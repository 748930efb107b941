package txio

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// TxIOPair is the fundamental indexed unit: a (txout-dbkey, txin-dbkey?)
// pair scoped to one scrAddr.
type TxIOPair struct {
	ScrAddr ScriptHash

	TxOutKey DBKey
	TxInKey  DBKey // empty/nil when unspent

	Value     int64
	OutTxHash chainhash.Hash
	InTxHash  chainhash.Hash // zero when unspent
	TxTime    uint32

	FromCoinbase bool
	IsMultisig   bool
	IsSpendable  bool
	IsZCOut      bool
	IsZCIn       bool
}

// IsSpent reports whether this TxIOPair has a spending input recorded.
func (t *TxIOPair) IsSpent() bool {
	return len(t.TxInKey) > 0
}

// IsUnconfirmed reports whether either side of the pair carries the ZC
// sentinel prefix.
func (t *TxIOPair) IsUnconfirmed() bool {
	return t.TxOutKey.IsZC() || (t.IsSpent() && t.TxInKey.IsZC())
}

// Clone returns a deep-enough copy for safe storage across snapshot
// boundaries (the ZeroConfContainer and side-scan merges pass TxIOPairs
// between goroutines by value after this call).
func (t *TxIOPair) Clone() *TxIOPair {
	clone := *t
	clone.TxOutKey = append(DBKey(nil), t.TxOutKey...)
	clone.TxInKey = append(DBKey(nil), t.TxInKey...)
	return &clone
}
