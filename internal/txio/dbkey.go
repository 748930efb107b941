package txio

import (
	"encoding/binary"
	"fmt"
)

// ZCSentinel is the 2-byte prefix that marks an unconfirmed (zero-conf)
// DBkey. It sorts after every real block height, which makes "is this
// key confirmed?" a single prefix comparison.
const ZCSentinel uint16 = 0xFFFF

// DBKey is the sort-ordered composite key indexing confirmed and
// unconfirmed transaction data:
//
//	confirmed:   4 bytes BE (height<<8 | dup) + 2 bytes BE tx-index [+ 2 bytes BE output-index]
//	unconfirmed: 0xFFFF + 4 bytes BE monotonic counter [+ 2 bytes BE output-index]
type DBKey []byte

// HgTx is the 4-byte (height<<8 | dup) prefix shared by every DBkey and
// sub-history bucket key in a given block.
type HgTx uint32

// NewHgTx packs a block height and duplicate-block index into the
// 4-byte hgtx composite.
func NewHgTx(height uint32, dup uint8) HgTx {
	return HgTx((height << 8) | uint32(dup))
}

// Height extracts the block height from an hgtx composite.
func (h HgTx) Height() uint32 {
	return uint32(h) >> 8
}

// Dup extracts the duplicate-block index from an hgtx composite.
func (h HgTx) Dup() uint8 {
	return uint8(h)
}

// NewConfirmedTxKey builds a confirmed DBkey for a transaction (no
// output index component).
func NewConfirmedTxKey(hgtx HgTx, txIndex uint16) DBKey {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint32(buf[0:4], uint32(hgtx))
	binary.BigEndian.PutUint16(buf[4:6], txIndex)
	return buf
}

// NewConfirmedTxOutKey builds a confirmed DBkey for a specific output of
// a transaction.
func NewConfirmedTxOutKey(hgtx HgTx, txIndex uint16, outIndex uint16) DBKey {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(hgtx))
	binary.BigEndian.PutUint16(buf[4:6], txIndex)
	binary.BigEndian.PutUint16(buf[6:8], outIndex)
	return buf
}

// NewZCTxKey builds an unconfirmed DBkey for a transaction from the
// ZeroConfContainer's monotonic counter.
func NewZCTxKey(counter uint32) DBKey {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf[0:2], ZCSentinel)
	binary.BigEndian.PutUint32(buf[2:6], counter)
	return buf
}

// NewZCTxOutKey builds an unconfirmed DBkey for a specific output of a
// ZC transaction.
func NewZCTxOutKey(counter uint32, outIndex uint16) DBKey {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint16(buf[0:2], ZCSentinel)
	binary.BigEndian.PutUint32(buf[2:6], counter)
	binary.BigEndian.PutUint16(buf[6:8], outIndex)
	return buf
}

// IsZC reports whether key carries the 0xFFFF zero-conf sentinel prefix.
func (k DBKey) IsZC() bool {
	if len(k) < 2 {
		return false
	}
	return binary.BigEndian.Uint16(k[0:2]) == ZCSentinel
}

// Height returns the confirmed block height encoded in key, or 0 for a
// ZC key (callers must check IsZC first).
func (k DBKey) Height() uint32 {
	if len(k) < 4 || k.IsZC() {
		return 0
	}
	return HgTx(binary.BigEndian.Uint32(k[0:4])).Height()
}

// HgTx returns the 4-byte height/dup composite for a confirmed key.
func (k DBKey) HgTx() (HgTx, error) {
	if k.IsZC() {
		return 0, fmt.Errorf("dbkey is a ZC key, has no hgtx")
	}
	if len(k) < 4 {
		return 0, fmt.Errorf("dbkey too short: %d bytes", len(k))
	}
	return HgTx(binary.BigEndian.Uint32(k[0:4])), nil
}

// ZCCounter returns the monotonic ZC counter for an unconfirmed key.
func (k DBKey) ZCCounter() (uint32, error) {
	if !k.IsZC() {
		return 0, fmt.Errorf("dbkey is not a ZC key")
	}
	if len(k) < 6 {
		return 0, fmt.Errorf("zc dbkey too short: %d bytes", len(k))
	}
	return binary.BigEndian.Uint32(k[2:6]), nil
}

// TxIndex returns the within-block transaction index for a confirmed
// key, or an error for a ZC key (which carries a counter instead).
func (k DBKey) TxIndex() (uint16, error) {
	if k.IsZC() {
		return 0, fmt.Errorf("dbkey is a ZC key, has no tx index")
	}
	if len(k) < 6 {
		return 0, fmt.Errorf("dbkey too short: %d bytes", len(k))
	}
	return binary.BigEndian.Uint16(k[4:6]), nil
}

// HasOutIndex reports whether key carries a trailing 2-byte output
// index component (i.e. was built as a TxOut key rather than a Tx key).
func (k DBKey) HasOutIndex() bool {
	return len(k) == 8
}

// OutIndex returns the trailing output-index component, if present.
func (k DBKey) OutIndex() (uint16, bool) {
	if !k.HasOutIndex() {
		return 0, false
	}
	return binary.BigEndian.Uint16(k[6:8]), true
}

// String renders a DBKey for logs/tests.
func (k DBKey) String() string {
	if k.IsZC() {
		counter, _ := k.ZCCounter()
		if idx, ok := k.OutIndex(); ok {
			return fmt.Sprintf("zc:%d:%d", counter, idx)
		}
		return fmt.Sprintf("zc:%d", counter)
	}
	hgtx, err := k.HgTx()
	if err != nil {
		return fmt.Sprintf("invalid(%x)", []byte(k))
	}
	if idx, ok := k.OutIndex(); ok {
		return fmt.Sprintf("h%d.%d:%d", hgtx.Height(), hgtx.Dup(), idx)
	}
	return fmt.Sprintf("h%d.%d", hgtx.Height(), hgtx.Dup())
}
