package ssh

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/0ZTR/BitcoinArmory/internal/txio"
)

// encodeSSHSummary serializes the HISTORY-table row for a scrAddr: the
// watermark, total count, balance, and the ordered list of hgtx buckets
// (the bucket contents themselves live in SUBSSH, keyed separately).
func encodeSSHSummary(s *StoredScriptHistory) []byte {
	buf := new(bytes.Buffer)
	var scratch [8]byte
	binary.BigEndian.PutUint32(scratch[:4], s.AlreadyScannedUpToBlk)
	buf.Write(scratch[:4])
	binary.BigEndian.PutUint64(scratch[:8], s.TotalTxioCount)
	buf.Write(scratch[:8])
	binary.BigEndian.PutUint64(scratch[:8], uint64(s.ScriptBalance))
	buf.Write(scratch[:8])
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(s.order)))
	buf.Write(scratch[:4])
	for _, hgtx := range s.order {
		binary.BigEndian.PutUint32(scratch[:4], uint32(hgtx))
		buf.Write(scratch[:4])
	}
	return buf.Bytes()
}

func decodeSSHSummary(scrAddr txio.ScriptHash, raw []byte) (*StoredScriptHistory, error) {
	if len(raw) < 24 {
		return nil, fmt.Errorf("ssh: truncated HISTORY row for %s (%d bytes)", scrAddr, len(raw))
	}
	s := NewEmpty(scrAddr)
	s.AlreadyScannedUpToBlk = binary.BigEndian.Uint32(raw[0:4])
	s.TotalTxioCount = binary.BigEndian.Uint64(raw[4:12])
	s.ScriptBalance = int64(binary.BigEndian.Uint64(raw[12:20]))
	count := binary.BigEndian.Uint32(raw[20:24])
	offset := 24
	s.order = make([]txio.HgTx, 0, count)
	for i := uint32(0); i < count; i++ {
		if offset+4 > len(raw) {
			return nil, fmt.Errorf("ssh: truncated hgtx list for %s", scrAddr)
		}
		s.order = append(s.order, txio.HgTx(binary.BigEndian.Uint32(raw[offset:offset+4])))
		offset += 4
	}
	return s, nil
}

// Encode serializes the HISTORY row for Put(TableHistory, ...).
func (s *StoredScriptHistory) Encode() []byte {
	return encodeSSHSummary(s)
}

// encodeSubHistory serializes one SUBSSH bucket: its TxIOPairs in
// insertion order.
func encodeSubHistory(sh *SubHistory) []byte {
	buf := new(bytes.Buffer)
	var scratch [8]byte
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(sh.TxioKeys)))
	buf.Write(scratch[:4])
	for _, key := range sh.TxioKeys {
		t := sh.TxioMap[key.String()]
		encodeTxio(buf, t)
	}
	return buf.Bytes()
}

func decodeSubHistory(hgtx txio.HgTx, raw []byte) (*SubHistory, error) {
	sh := newSubHistory(hgtx)
	if len(raw) < 4 {
		return sh, nil
	}
	count := binary.BigEndian.Uint32(raw[0:4])
	r := bytes.NewReader(raw[4:])
	for i := uint32(0); i < count; i++ {
		t, err := decodeTxio(r)
		if err != nil {
			return nil, fmt.Errorf("ssh: decoding subhistory bucket h%d: %w", hgtx, err)
		}
		sh.TxioKeys = append(sh.TxioKeys, t.TxOutKey)
		sh.TxioMap[t.TxOutKey.String()] = t
	}
	return sh, nil
}

// Encode serializes sh for Put(TableSubSSH, ...).
func (sh *SubHistory) Encode() []byte {
	return encodeSubHistory(sh)
}

func encodeTxio(buf *bytes.Buffer, t *txio.TxIOPair) {
	writeVarBytes(buf, t.ScrAddr.Bytes())
	writeVarBytes(buf, t.TxOutKey)
	writeVarBytes(buf, t.TxInKey)
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:8], uint64(t.Value))
	buf.Write(scratch[:8])
	buf.Write(t.OutTxHash[:])
	buf.Write(t.InTxHash[:])
	binary.BigEndian.PutUint32(scratch[:4], t.TxTime)
	buf.Write(scratch[:4])
	buf.WriteByte(encodeTxioFlags(t))
}

func decodeTxio(r *bytes.Reader) (*txio.TxIOPair, error) {
	scrAddr, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	outKey, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	inKey, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	var scratch [8]byte
	if _, err := r.Read(scratch[:8]); err != nil {
		return nil, err
	}
	value := int64(binary.BigEndian.Uint64(scratch[:8]))

	var outHash, inHash [32]byte
	if _, err := r.Read(outHash[:]); err != nil {
		return nil, err
	}
	if _, err := r.Read(inHash[:]); err != nil {
		return nil, err
	}
	if _, err := r.Read(scratch[:4]); err != nil {
		return nil, err
	}
	txTime := binary.BigEndian.Uint32(scratch[:4])
	flags, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	t := &txio.TxIOPair{
		ScrAddr:   txio.ScriptHash(scrAddr),
		TxOutKey:  outKey,
		TxInKey:   inKey,
		Value:     value,
		TxTime:    txTime,
		OutTxHash: outHash,
		InTxHash:  inHash,
	}
	decodeTxioFlags(t, flags)
	return t, nil
}

const (
	flagFromCoinbase byte = 1 << iota
	flagIsMultisig
	flagIsSpendable
	flagIsZCOut
	flagIsZCIn
)

func encodeTxioFlags(t *txio.TxIOPair) byte {
	var f byte
	if t.FromCoinbase {
		f |= flagFromCoinbase
	}
	if t.IsMultisig {
		f |= flagIsMultisig
	}
	if t.IsSpendable {
		f |= flagIsSpendable
	}
	if t.IsZCOut {
		f |= flagIsZCOut
	}
	if t.IsZCIn {
		f |= flagIsZCIn
	}
	return f
}

func decodeTxioFlags(t *txio.TxIOPair, f byte) {
	t.FromCoinbase = f&flagFromCoinbase != 0
	t.IsMultisig = f&flagIsMultisig != 0
	t.IsSpendable = f&flagIsSpendable != 0
	t.IsZCOut = f&flagIsZCOut != 0
	t.IsZCIn = f&flagIsZCIn != 0
}

func writeVarBytes(buf *bytes.Buffer, b []byte) {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(b)))
	buf.Write(scratch[:4])
	buf.Write(b)
}

func readVarBytes(r *bytes.Reader) ([]byte, error) {
	var scratch [4]byte
	if _, err := r.Read(scratch[:4]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(scratch[:4])
	out := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
