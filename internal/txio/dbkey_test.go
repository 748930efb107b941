package txio

import "testing"

func TestNewHgTx(t *testing.T) {
	tests := []struct {
		name   string
		height uint32
		dup    byte
	}{
		{"zero", 0, 0},
		{"typical", 700000, 3},
		{"maxDup", 12345, 0xff},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := NewHgTx(test.height, test.dup)
			if got := h.Height(); got != test.height {
				t.Errorf("Height() = %d, want %d", got, test.height)
			}
			if got := h.Dup(); got != test.dup {
				t.Errorf("Dup() = %d, want %d", got, test.dup)
			}
		})
	}
}

func TestConfirmedKeyIsNotZC(t *testing.T) {
	hgtx := NewHgTx(500, 0)
	key := NewConfirmedTxOutKey(hgtx, 0, 2)
	if key.IsZC() {
		t.Errorf("confirmed key reported IsZC() = true")
	}
	gotHgtx, err := key.HgTx()
	if err != nil {
		t.Fatalf("HgTx() returned error: %s", err)
	}
	if gotHgtx != hgtx {
		t.Errorf("HgTx() = %v, want %v", gotHgtx, hgtx)
	}
	if !key.HasOutIndex() {
		t.Errorf("HasOutIndex() = false, want true")
	}
	idx, ok := key.OutIndex()
	if !ok || idx != 2 {
		t.Errorf("OutIndex() = (%d, %t), want (2, true)", idx, ok)
	}
}

func TestZCKeyIsZC(t *testing.T) {
	key := NewZCTxOutKey(42, 7)
	if !key.IsZC() {
		t.Errorf("zc key reported IsZC() = false")
	}
	if _, err := key.HgTx(); err == nil {
		t.Errorf("HgTx() on a zc key should error")
	}
	counter, err := key.ZCCounter()
	if err != nil || counter != 42 {
		t.Errorf("ZCCounter() = (%d, %v), want (42, nil)", counter, err)
	}
	idx, ok := key.OutIndex()
	if !ok || idx != 7 {
		t.Errorf("OutIndex() = (%d, %t), want (7, true)", idx, ok)
	}
}

func TestDBKeyOrderPreservesHeight(t *testing.T) {
	low := NewConfirmedTxOutKey(NewHgTx(100, 0), 0, 0)
	high := NewConfirmedTxOutKey(NewHgTx(200, 0), 0, 0)

	if string(low) >= string(high) {
		t.Errorf("expected height 100 key to sort before height 200 key")
	}
}

func TestZCKeysSortAfterConfirmedKeys(t *testing.T) {
	confirmed := NewConfirmedTxOutKey(NewHgTx(0xFFFFFF, 0xFF), 0xFFFF, 0)
	zc := NewZCTxOutKey(0, 0)

	if string(confirmed) >= string(zc) {
		t.Errorf("expected the zero-conf sentinel prefix to sort after any confirmed height")
	}
}
