// Package ledger implements the paged-history sweep and the
// denormalized LedgerEntry view consumed by UI clients.
package ledger

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/0ZTR/BitcoinArmory/internal/ssh"
	"github.com/0ZTR/BitcoinArmory/internal/txio"
)

// UnconfirmedBlockNum marks a LedgerEntry produced from a ZC TxIOPair.
const UnconfirmedBlockNum = ^uint32(0)

// Entry is the denormalized per-transaction record handed to clients.
type Entry struct {
	ScopeID        string // scrAddr bytes, or wallet ID for wallet-scoped entries
	NetValue       int64
	BlockNum       uint32
	TxHash         chainhash.Hash
	IndexWithinBlk uint32
	TxTime         uint32

	Valid      bool
	Coinbase   bool
	SentToSelf bool
	ChangeBack bool
}

// Less implements the canonical ledger order: (blockNum, index)
// ascending, invalid entries first.
func Less(a, b *Entry) bool {
	if a.Valid != b.Valid {
		return !a.Valid
	}
	if a.BlockNum != b.BlockNum {
		return a.BlockNum < b.BlockNum
	}
	return a.IndexWithinBlk < b.IndexWithinBlk
}

// SortEntries sorts entries in place per the canonical order.
func SortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}

// HeaderLookup resolves coinbase-ness and tx-time for a confirmed block,
// used by UpdateLedgers when a TxIOPair doesn't already carry them. An
// external collaborator.
type HeaderLookup interface {
	BlockTime(hgtx txio.HgTx) (uint32, bool)
	IsCoinbaseTx(hgtx txio.HgTx, txIndex uint16) bool
}

// UpdateLedgers folds a {txioKey -> TxIOPair} map into a
// {txKey -> LedgerEntry} map. Each
// output contributes +value to its txKey; each input contributes
// -value; coinbase and tx-time are resolved from block headers when the
// TxIOPair does not already carry them; ZC keys are tagged with
// blockNum = UnconfirmedBlockNum.
func UpdateLedgers(scopeID string, txios map[string]*txio.TxIOPair, headers HeaderLookup) map[string]*Entry {
	out := make(map[string]*Entry)

	fold := func(hash chainhash.Hash, zc bool, hgtx txio.HgTx, txIndex uint16, delta int64, t *txio.TxIOPair) {
		key := hash.String()
		e, ok := out[key]
		if !ok {
			e = &Entry{
				ScopeID: scopeID,
				TxHash:  hash,
				Valid:   true,
			}
			if zc {
				e.BlockNum = UnconfirmedBlockNum
			} else {
				e.BlockNum = hgtx.Height()
				e.IndexWithinBlk = uint32(txIndex)
			}
			e.TxTime = t.TxTime
			e.Coinbase = t.FromCoinbase
			if !zc && headers != nil {
				if e.TxTime == 0 {
					if bt, ok := headers.BlockTime(hgtx); ok {
						e.TxTime = bt
					}
				}
				if !e.Coinbase {
					e.Coinbase = headers.IsCoinbaseTx(hgtx, txIndex)
				}
			}
			out[key] = e
		}
		e.NetValue += delta
	}

	for _, t := range txios {
		if len(t.TxOutKey) > 0 {
			var hgtx txio.HgTx
			var txIndex uint16
			zc := t.TxOutKey.IsZC()
			if !zc {
				if h, err := t.TxOutKey.HgTx(); err == nil {
					hgtx = h
				}
				if idx, err := t.TxOutKey.TxIndex(); err == nil {
					txIndex = idx
				}
			}
			fold(t.OutTxHash, zc, hgtx, txIndex, t.Value, t)
		}
		if t.IsSpent() {
			var hgtx txio.HgTx
			var txIndex uint16
			zc := t.TxInKey.IsZC()
			if !zc {
				if h, err := t.TxInKey.HgTx(); err == nil {
					hgtx = h
				}
				if idx, err := t.TxInKey.TxIndex(); err == nil {
					txIndex = idx
				}
			}
			fold(t.InTxHash, zc, hgtx, txIndex, -t.Value, t)
		}
	}

	for _, e := range out {
		e.SentToSelf = e.NetValue == 0 && !e.Coinbase
	}

	return out
}

// Page describes one page of a paged-history sweep: the block range it
// covers and the TxIOPair count it accumulates.
type Page struct {
	ID         string
	Count      int
	BlockStart uint32
	BlockEnd   uint32
}

// BuildPages sweeps descending heights from summary, accumulating count
// until it exceeds txnPerPage, emitting a page (count, blockStart,
// blockEnd), then resetting. A residual non-empty accumulator at height
// 0 becomes the last page. ids supplies a fresh page ID
// per emitted page.
func BuildPages(summary []ssh.SummaryEntry, txnPerPage int, ids func() string) []*Page {
	var pages []*Page
	var cur *Page

	flush := func() {
		if cur != nil && cur.Count > 0 {
			pages = append(pages, cur)
		}
		cur = nil
	}

	for _, entry := range summary {
		if cur == nil {
			cur = &Page{ID: ids(), BlockStart: entry.HgTx.Height(), BlockEnd: entry.HgTx.Height()}
		}
		cur.Count += entry.Count
		if entry.HgTx.Height() < cur.BlockEnd {
			cur.BlockEnd = entry.HgTx.Height()
		}
		if entry.HgTx.Height() > cur.BlockStart {
			cur.BlockStart = entry.HgTx.Height()
		}
		if cur.Count > txnPerPage {
			flush()
		}
	}
	flush()
	return pages
}
