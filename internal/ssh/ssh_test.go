package ssh

import (
	"testing"

	"github.com/0ZTR/BitcoinArmory/internal/txio"
)

func makeScrAddr(b byte) txio.ScriptHash {
	return txio.NewScriptHash(txio.PrefixP2PKH, []byte{b, b, b})
}

func TestEmptySSHHasZeroBalance(t *testing.T) {
	s := NewEmpty(makeScrAddr(1))
	if s.ScriptBalance != 0 {
		t.Errorf("ScriptBalance = %d, want 0", s.ScriptBalance)
	}
	if s.TotalTxioCount != 0 {
		t.Errorf("TotalTxioCount = %d, want 0", s.TotalTxioCount)
	}
	if len(s.Summary()) != 0 {
		t.Errorf("Summary() on an empty SSH should be empty")
	}
}

func TestAddTxioUpdatesBalanceAndCount(t *testing.T) {
	s := NewEmpty(makeScrAddr(1))
	hgtx := txio.NewHgTx(100, 0)

	unspent := &txio.TxIOPair{
		TxOutKey: txio.NewConfirmedTxOutKey(hgtx, 0, 0),
		Value:    500,
	}
	s.AddTxio(hgtx, unspent)

	if s.ScriptBalance != 500 {
		t.Fatalf("ScriptBalance = %d, want 500", s.ScriptBalance)
	}
	if s.TotalTxioCount != 1 {
		t.Fatalf("TotalTxioCount = %d, want 1", s.TotalTxioCount)
	}

	spent := &txio.TxIOPair{
		TxOutKey: unspent.TxOutKey,
		TxInKey:  txio.NewConfirmedTxKey(txio.NewHgTx(101, 0), 2),
		Value:    500,
	}
	s.AddTxio(hgtx, spent)

	if s.ScriptBalance != 0 {
		t.Errorf("ScriptBalance after spend = %d, want 0", s.ScriptBalance)
	}
	if s.TotalTxioCount != 1 {
		t.Errorf("TotalTxioCount after replacing existing output = %d, want 1", s.TotalTxioCount)
	}
}

func TestAddTxioIsIdempotentForSamePair(t *testing.T) {
	s := NewEmpty(makeScrAddr(7))
	hgtx := txio.NewHgTx(100, 0)
	pair := &txio.TxIOPair{
		TxOutKey: txio.NewConfirmedTxOutKey(hgtx, 0, 0),
		Value:    500,
	}

	s.AddTxio(hgtx, pair)
	once := s.Encode()

	s.AddTxio(hgtx, pair)
	twice := s.Encode()

	if string(once) != string(twice) {
		t.Errorf("re-applying the same txio changed the encoded SSH:\n once: %x\ntwice: %x", once, twice)
	}
	if s.ScriptBalance != 500 {
		t.Errorf("ScriptBalance = %d, want 500", s.ScriptBalance)
	}
	if s.TotalTxioCount != 1 {
		t.Errorf("TotalTxioCount = %d, want 1", s.TotalTxioCount)
	}
}

func TestRemoveTxioReversesBalance(t *testing.T) {
	s := NewEmpty(makeScrAddr(2))
	hgtx := txio.NewHgTx(50, 0)
	key := txio.NewConfirmedTxOutKey(hgtx, 0, 0)

	s.AddTxio(hgtx, &txio.TxIOPair{TxOutKey: key, Value: 1000})
	if s.ScriptBalance != 1000 {
		t.Fatalf("ScriptBalance = %d, want 1000", s.ScriptBalance)
	}

	s.RemoveTxio(hgtx, key)
	if s.ScriptBalance != 0 {
		t.Errorf("ScriptBalance after RemoveTxio = %d, want 0", s.ScriptBalance)
	}
	if s.TotalTxioCount != 0 {
		t.Errorf("TotalTxioCount after RemoveTxio = %d, want 0", s.TotalTxioCount)
	}
}

func TestSummaryIsDescendingByHeight(t *testing.T) {
	s := NewEmpty(makeScrAddr(3))
	heights := []uint32{100, 50, 200, 150}
	for _, h := range heights {
		hgtx := txio.NewHgTx(h, 0)
		s.AddTxio(hgtx, &txio.TxIOPair{TxOutKey: txio.NewConfirmedTxOutKey(hgtx, 0, 0), Value: 1})
	}

	summary := s.Summary()
	if len(summary) != len(heights) {
		t.Fatalf("Summary() returned %d entries, want %d", len(summary), len(heights))
	}
	for i := 1; i < len(summary); i++ {
		if summary[i].HgTx.Height() > summary[i-1].HgTx.Height() {
			t.Errorf("Summary() not descending: entry %d height %d > entry %d height %d",
				i, summary[i].HgTx.Height(), i-1, summary[i-1].HgTx.Height())
		}
	}
}

func TestEncodeDecodeSSHSummaryRoundTrip(t *testing.T) {
	s := NewEmpty(makeScrAddr(4))
	s.AlreadyScannedUpToBlk = 12345
	hgtx := txio.NewHgTx(999, 1)
	s.AddTxio(hgtx, &txio.TxIOPair{TxOutKey: txio.NewConfirmedTxOutKey(hgtx, 0, 0), Value: 777})

	raw := s.Encode()
	decoded, err := decodeSSHSummary(s.ScrAddr, raw)
	if err != nil {
		t.Fatalf("decodeSSHSummary: %s", err)
	}
	if decoded.AlreadyScannedUpToBlk != s.AlreadyScannedUpToBlk {
		t.Errorf("AlreadyScannedUpToBlk = %d, want %d", decoded.AlreadyScannedUpToBlk, s.AlreadyScannedUpToBlk)
	}
	if decoded.TotalTxioCount != s.TotalTxioCount {
		t.Errorf("TotalTxioCount = %d, want %d", decoded.TotalTxioCount, s.TotalTxioCount)
	}
	if decoded.ScriptBalance != s.ScriptBalance {
		t.Errorf("ScriptBalance = %d, want %d", decoded.ScriptBalance, s.ScriptBalance)
	}
	if len(decoded.order) != 1 || decoded.order[0] != hgtx {
		t.Errorf("order = %v, want [%v]", decoded.order, hgtx)
	}
}

func TestEncodeDecodeSubHistoryRoundTrip(t *testing.T) {
	hgtx := txio.NewHgTx(321, 0)
	sh := newSubHistory(hgtx)
	t1 := &txio.TxIOPair{
		ScrAddr:  makeScrAddr(9),
		TxOutKey: txio.NewConfirmedTxOutKey(hgtx, 0, 0),
		Value:    42,
		IsZCOut:  false,
	}
	sh.TxioMap[t1.TxOutKey.String()] = t1
	sh.TxioKeys = append(sh.TxioKeys, t1.TxOutKey)

	raw := sh.Encode()
	decoded, err := decodeSubHistory(hgtx, raw)
	if err != nil {
		t.Fatalf("decodeSubHistory: %s", err)
	}
	if decoded.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", decoded.Count())
	}
	got := decoded.TxioMap[t1.TxOutKey.String()]
	if got == nil {
		t.Fatalf("missing decoded txio for key %s", t1.TxOutKey)
	}
	if got.Value != t1.Value {
		t.Errorf("Value = %d, want %d", got.Value, t1.Value)
	}
	if string(got.ScrAddr) != string(t1.ScrAddr) {
		t.Errorf("ScrAddr = %q, want %q", got.ScrAddr, t1.ScrAddr)
	}
}
