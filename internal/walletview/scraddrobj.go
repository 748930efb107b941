// Package walletview implements the in-memory per-client projection of
// the indexed state: ScrAddrObj and BtcWallet.
package walletview

import (
	"github.com/0ZTR/BitcoinArmory/internal/ledger"
	"github.com/0ZTR/BitcoinArmory/internal/ssh"
	"github.com/0ZTR/BitcoinArmory/internal/txio"
)

// ScrAddrObj is the in-memory projection of one scrAddr inside a wallet
//: the scrAddr bytes, registration timestamps/heights, a
// map of relevant TxIOPairs keyed by output-dbkey, a paged ledger cache,
// and an authoritative totalTxioCount last read from SSH.
type ScrAddrObj struct {
	ScrAddr         txio.ScriptHash
	RegisteredAt    uint32
	RegisteredTime  uint32
	FirstScannedBlk uint32

	Relevant map[string]*txio.TxIOPair // output-dbkey -> TxIOPair
	Paged    *ledger.PagedHistory

	TotalTxioCount uint64 // authoritative count last read from SSH
}

// NewScrAddrObj builds an empty projection, ready to be populated from
// an SSH snapshot.
func NewScrAddrObj(scrAddr txio.ScriptHash, registeredAt uint32) *ScrAddrObj {
	return &ScrAddrObj{
		ScrAddr:      scrAddr,
		RegisteredAt: registeredAt,
		Relevant:     make(map[string]*txio.TxIOPair),
	}
}

// LoadFromSSH refreshes this projection from the authoritative SSH,
// rebuilding the paged-history index and the authoritative txio count.
func (s *ScrAddrObj) LoadFromSSH(sh *ssh.StoredScriptHistory, txnPerPage int) {
	s.TotalTxioCount = sh.TotalTxioCount
	s.Paged = ledger.NewPagedHistory(sh, txnPerPage)
}

// ApplyZC merges the ZeroConfContainer's newTxioMap entries for this
// scrAddr into Relevant.
func (s *ScrAddrObj) ApplyZC(zcTxio map[string]*txio.TxIOPair) {
	for k, v := range zcTxio {
		s.Relevant[k] = v
	}
}

// InvalidateZC removes keys the ZeroConfContainer's Purge reported as
// invalidated for this scrAddr.
func (s *ScrAddrObj) InvalidateZC(keys []string) {
	for _, k := range keys {
		delete(s.Relevant, k)
	}
}

// Balance sums Relevant's unspent values, the ZC/unconfirmed component
// of the scrAddr's balance. The confirmed component lives in SSH.
func (s *ScrAddrObj) Balance() int64 {
	var total int64
	for _, t := range s.Relevant {
		if !t.IsSpent() {
			total += t.Value
		}
	}
	return total
}
