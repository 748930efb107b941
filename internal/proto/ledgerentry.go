package proto

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/0ZTR/BitcoinArmory/internal/ledger"
)

// LedgerEntryRecord is the wire shape of a ledger entry: scrAddr
// (varint + bytes), value (i64), blockNum (u32), txHash (32 bytes),
// index (u32), txTime (u32), flags (u8 bitfield).
type LedgerEntryRecord struct {
	ScrAddr  []byte
	Value    int64
	BlockNum uint32
	TxHash   chainhash.Hash
	Index    uint32
	TxTime   uint32
	Flags    byte
}

// Ledger entry flag bits.
const (
	FlagValid      byte = 0x01
	FlagCoinbase   byte = 0x02
	FlagSentToSelf byte = 0x04
	FlagChangeBack byte = 0x08
)

// FromLedgerEntry converts a ledger.Entry into its wire record.
func FromLedgerEntry(scrAddr []byte, e *ledger.Entry) LedgerEntryRecord {
	var flags byte
	if e.Valid {
		flags |= FlagValid
	}
	if e.Coinbase {
		flags |= FlagCoinbase
	}
	if e.SentToSelf {
		flags |= FlagSentToSelf
	}
	if e.ChangeBack {
		flags |= FlagChangeBack
	}
	return LedgerEntryRecord{
		ScrAddr:  scrAddr,
		Value:    e.NetValue,
		BlockNum: e.BlockNum,
		TxHash:   e.TxHash,
		Index:    e.IndexWithinBlk,
		TxTime:   e.TxTime,
		Flags:    flags,
	}
}

// ToLedgerEntry converts a wire record back into a ledger.Entry scoped
// to scopeID.
func (r LedgerEntryRecord) ToLedgerEntry(scopeID string) *ledger.Entry {
	return &ledger.Entry{
		ScopeID:        scopeID,
		NetValue:       r.Value,
		BlockNum:       r.BlockNum,
		TxHash:         r.TxHash,
		IndexWithinBlk: r.Index,
		TxTime:         r.TxTime,
		Valid:          r.Flags&FlagValid != 0,
		Coinbase:       r.Flags&FlagCoinbase != 0,
		SentToSelf:     r.Flags&FlagSentToSelf != 0,
		ChangeBack:     r.Flags&FlagChangeBack != 0,
	}
}

func (r LedgerEntryRecord) encode(buf *bytes.Buffer) {
	writeVarUint(buf, uint64(len(r.ScrAddr)))
	buf.Write(r.ScrAddr)
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(r.Value))
	buf.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:4], r.BlockNum)
	buf.Write(scratch[:4])
	buf.Write(r.TxHash[:])
	binary.BigEndian.PutUint32(scratch[:4], r.Index)
	buf.Write(scratch[:4])
	binary.BigEndian.PutUint32(scratch[:4], r.TxTime)
	buf.Write(scratch[:4])
	buf.WriteByte(r.Flags)
}

func decodeLedgerEntryRecord(r *bytes.Reader) (LedgerEntryRecord, error) {
	var rec LedgerEntryRecord
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return rec, err
	}
	rec.ScrAddr = make([]byte, n)
	if _, err := readFull(r, rec.ScrAddr); err != nil {
		return rec, err
	}
	var scratch [8]byte
	if _, err := readFull(r, scratch[:8]); err != nil {
		return rec, err
	}
	rec.Value = int64(binary.BigEndian.Uint64(scratch[:8]))
	if _, err := readFull(r, scratch[:4]); err != nil {
		return rec, err
	}
	rec.BlockNum = binary.BigEndian.Uint32(scratch[:4])
	if _, err := readFull(r, rec.TxHash[:]); err != nil {
		return rec, err
	}
	if _, err := readFull(r, scratch[:4]); err != nil {
		return rec, err
	}
	rec.Index = binary.BigEndian.Uint32(scratch[:4])
	if _, err := readFull(r, scratch[:4]); err != nil {
		return rec, err
	}
	rec.TxTime = binary.BigEndian.Uint32(scratch[:4])
	flags, err := r.ReadByte()
	if err != nil {
		return rec, err
	}
	rec.Flags = flags
	return rec, nil
}

// LedgerEntryVectorArg is tag 0x04 + varint count + LedgerEntry records.
type LedgerEntryVectorArg []LedgerEntryRecord

// Tag implements Argument.
func (LedgerEntryVectorArg) Tag() Tag { return TagLedgerEntryVector }

// Encode implements Argument.
func (a LedgerEntryVectorArg) Encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(TagLedgerEntryVector))
	writeVarUint(buf, uint64(len(a)))
	for _, r := range a {
		r.encode(buf)
	}
}
