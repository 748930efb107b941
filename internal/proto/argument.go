// Package proto implements the command/argument wire framing: a
// request/response is a sequence of typed Arguments,
// big-endian for multi-byte integers, length-prefixed (varint) for
// variable-size payloads.
package proto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Tag identifies an Argument's wire type.
type Tag byte

// Recognized argument tags.
const (
	TagInt              Tag = 0x01
	TagBinaryDataObject Tag = 0x02
	TagBinaryDataVector Tag = 0x03
	TagLedgerEntryVector Tag = 0x04
	TagProgressData     Tag = 0x05
)

// Argument is one element of a command/response's ordered argument
// sequence.
type Argument interface {
	Tag() Tag
	Encode(buf *bytes.Buffer)
}

// IntArg is IntType(i64): tag 0x01 + 8 bytes big-endian.
type IntArg int64

// Tag implements Argument.
func (IntArg) Tag() Tag { return TagInt }

// Encode implements Argument.
func (a IntArg) Encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(TagInt))
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(a))
	buf.Write(scratch[:])
}

// BinaryDataObjectArg is tag 0x02 + varint length + bytes.
type BinaryDataObjectArg []byte

// Tag implements Argument.
func (BinaryDataObjectArg) Tag() Tag { return TagBinaryDataObject }

// Encode implements Argument.
func (a BinaryDataObjectArg) Encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(TagBinaryDataObject))
	writeVarUint(buf, uint64(len(a)))
	buf.Write(a)
}

// BinaryDataVectorArg is tag 0x03 + varint count + (varint len + bytes)*.
type BinaryDataVectorArg [][]byte

// Tag implements Argument.
func (BinaryDataVectorArg) Tag() Tag { return TagBinaryDataVector }

// Encode implements Argument.
func (a BinaryDataVectorArg) Encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(TagBinaryDataVector))
	writeVarUint(buf, uint64(len(a)))
	for _, b := range a {
		writeVarUint(buf, uint64(len(b)))
		buf.Write(b)
	}
}

// ProgressPhase enumerates the phases ProgressDataArg can report.
type ProgressPhase uint8

// Recognized phases.
const (
	PhaseLoadHeaders ProgressPhase = iota
	PhaseOrganizeChain
	PhaseScanTxFilters
	PhaseScanningBlocks
	PhaseRescan
)

// ProgressDataArg is tag 0x05 + phase(u8) + f64 + u32 + u32.
type ProgressDataArg struct {
	Phase     ProgressPhase
	Fraction  float64
	ETASecs   uint32
	NumBlocks uint32
}

// Tag implements Argument.
func (ProgressDataArg) Tag() Tag { return TagProgressData }

// Encode implements Argument.
func (p ProgressDataArg) Encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(TagProgressData))
	buf.WriteByte(byte(p.Phase))
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], math.Float64bits(p.Fraction))
	buf.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:4], p.ETASecs)
	buf.Write(scratch[:4])
	binary.BigEndian.PutUint32(scratch[:4], p.NumBlocks)
	buf.Write(scratch[:4])
}

// Arguments is the ordered sequence a command/response carries.
type Arguments []Argument

// Encode serializes every argument in order.
func (args Arguments) Encode() []byte {
	buf := new(bytes.Buffer)
	for _, a := range args {
		a.Encode(buf)
	}
	return buf.Bytes()
}

// IsFailure reports whether the response's first argument discriminates
// it as a failure: an Int==0 first argument.
func (args Arguments) IsFailure() bool {
	if len(args) == 0 {
		return false
	}
	i, ok := args[0].(IntArg)
	return ok && i == 0
}

func writeVarUint(buf *bytes.Buffer, n uint64) {
	var scratch [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(scratch[:], n)
	buf.Write(scratch[:l])
}

// DecodeArguments parses raw into an Arguments sequence.
func DecodeArguments(raw []byte) (Arguments, error) {
	r := bytes.NewReader(raw)
	var args Arguments
	for r.Len() > 0 {
		tagByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		arg, err := decodeOne(Tag(tagByte), r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func decodeOne(tag Tag, r *bytes.Reader) (Argument, error) {
	switch tag {
	case TagInt:
		var buf [8]byte
		if _, err := readFull(r, buf[:]); err != nil {
			return nil, err
		}
		return IntArg(int64(binary.BigEndian.Uint64(buf[:]))), nil

	case TagBinaryDataObject:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		data := make([]byte, n)
		if _, err := readFull(r, data); err != nil {
			return nil, err
		}
		return BinaryDataObjectArg(data), nil

	case TagBinaryDataVector:
		count, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		out := make([][]byte, 0, count)
		for i := uint64(0); i < count; i++ {
			n, err := binary.ReadUvarint(r)
			if err != nil {
				return nil, err
			}
			data := make([]byte, n)
			if _, err := readFull(r, data); err != nil {
				return nil, err
			}
			out = append(out, data)
		}
		return BinaryDataVectorArg(out), nil

	case TagLedgerEntryVector:
		count, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		entries := make([]LedgerEntryRecord, 0, count)
		for i := uint64(0); i < count; i++ {
			e, err := decodeLedgerEntryRecord(r)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
		return LedgerEntryVectorArg(entries), nil

	case TagProgressData:
		var scratch [1]byte
		if _, err := readFull(r, scratch[:]); err != nil {
			return nil, err
		}
		phase := ProgressPhase(scratch[0])
		var f8 [8]byte
		if _, err := readFull(r, f8[:]); err != nil {
			return nil, err
		}
		var u4a, u4b [4]byte
		if _, err := readFull(r, u4a[:]); err != nil {
			return nil, err
		}
		if _, err := readFull(r, u4b[:]); err != nil {
			return nil, err
		}
		return ProgressDataArg{
			Phase:     phase,
			Fraction:  math.Float64frombits(binary.BigEndian.Uint64(f8[:])),
			ETASecs:   binary.BigEndian.Uint32(u4a[:]),
			NumBlocks: binary.BigEndian.Uint32(u4b[:]),
		}, nil

	default:
		return nil, fmt.Errorf("proto: unknown argument tag 0x%02x", byte(tag))
	}
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
