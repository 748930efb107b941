package zeroconf

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/0ZTR/BitcoinArmory/internal/txio"
)

// TestPurgeReparsePreservesChainedSpendValues exercises the same
// depth-3 ZC chain as TestParseNewZCChainOfDepthNProducesNTxioPairs, but
// drives the values through Purge's full re-parse path
// (zcIsMineBulkFilterAgainst) rather than the live-parse path, to catch
// the same zeroed-Value regression in purge.go.
func TestPurgeReparsePreservesChainedSpendValues(t *testing.T) {
	c := New(Config{}, nil)

	root := &Tx{
		Hash:        hashByte(1),
		ReceiveTime: 1,
		Outputs:     []TxOut{{Value: 2000, ScrAddr: trackedScrAddr}},
	}
	c.AddRawTx(root, 1)
	child := &Tx{
		Hash:        hashByte(2),
		ReceiveTime: 2,
		Inputs:      []TxIn{{PrevOut: Outpoint{Hash: root.Hash, Index: 0}}},
		Outputs:     []TxOut{{Value: 2000, ScrAddr: trackedScrAddr}},
	}
	c.AddRawTx(child, 2)
	grandchild := &Tx{
		Hash:        hashByte(3),
		ReceiveTime: 3,
		Inputs:      []TxIn{{PrevOut: Outpoint{Hash: child.Hash, Index: 0}}},
		Outputs:     []TxOut{{Value: 2000, ScrAddr: trackedScrAddr}},
	}
	c.AddRawTx(grandchild, 3)

	if ours := c.ParseNewZC(trackAll); !ours {
		t.Fatalf("ParseNewZC returned false for a 3-tx chain")
	}

	invalidated := c.Purge(trackAll)
	if len(invalidated) != 0 {
		t.Fatalf("Purge invalidated keys with no removed transactions: %v", invalidated)
	}

	snap := c.TxioMapSnapshot()
	m := snap[string(trackedScrAddr)]
	if len(m) != 3 {
		t.Fatalf("len(txioMap) after Purge = %d, want 3", len(m))
	}

	byOutHash := make(map[chainhash.Hash]*txio.TxIOPair, len(m))
	for _, p := range m {
		byOutHash[p.OutTxHash] = p
	}

	rootEntry, ok := byOutHash[root.Hash]
	if !ok {
		t.Fatalf("no entry for root's output after Purge")
	}
	if rootEntry.Value != 2000 {
		t.Errorf("root entry Value after Purge = %d, want 2000", rootEntry.Value)
	}
	if rootEntry.InTxHash != child.Hash {
		t.Errorf("root entry InTxHash after Purge = %x, want child hash %x", rootEntry.InTxHash, child.Hash)
	}

	childEntry, ok := byOutHash[child.Hash]
	if !ok {
		t.Fatalf("no entry for child's output after Purge")
	}
	if childEntry.Value != 2000 {
		t.Errorf("child entry Value after Purge = %d, want 2000", childEntry.Value)
	}
	if childEntry.InTxHash != grandchild.Hash {
		t.Errorf("child entry InTxHash after Purge = %x, want grandchild hash %x", childEntry.InTxHash, grandchild.Hash)
	}
}
