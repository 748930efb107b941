package proto

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func encodeOne(a Argument) []byte {
	buf := new(bytes.Buffer)
	a.Encode(buf)
	return buf.Bytes()
}

func TestArgumentRoundTrips(t *testing.T) {
	var hash chainhash.Hash
	hash[0] = 0xab

	tests := []struct {
		name string
		arg  Argument
	}{
		{"int", IntArg(-42)},
		{"int zero", IntArg(0)},
		{"binary data object", BinaryDataObjectArg([]byte("hello world"))},
		{"binary data object empty", BinaryDataObjectArg(nil)},
		{"binary data vector", BinaryDataVectorArg([][]byte{[]byte("a"), []byte("bb"), {}})},
		{"progress data", ProgressDataArg{Phase: PhaseScanningBlocks, Fraction: 0.75, ETASecs: 120, NumBlocks: 9001}},
		{"ledger entry vector", LedgerEntryVectorArg([]LedgerEntryRecord{
			{ScrAddr: []byte{1, 2, 3}, Value: -500, BlockNum: 12345, TxHash: hash, Index: 2, TxTime: 99, Flags: FlagValid | FlagCoinbase},
		})},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			raw := encodeOne(test.arg)
			decoded, err := DecodeArguments(raw)
			if err != nil {
				t.Fatalf("DecodeArguments: %s", err)
			}
			if len(decoded) != 1 {
				t.Fatalf("decoded %d arguments, want 1", len(decoded))
			}
			if decoded[0].Tag() != test.arg.Tag() {
				t.Errorf("Tag() = %v, want %v", decoded[0].Tag(), test.arg.Tag())
			}
			reEncoded := encodeOne(decoded[0])
			if !bytes.Equal(reEncoded, raw) {
				t.Errorf("re-encoded bytes differ: got %x, want %x", reEncoded, raw)
			}
		})
	}
}

func TestArgumentsEncodeConcatenatesInOrder(t *testing.T) {
	args := Arguments{IntArg(1), BinaryDataObjectArg([]byte("x"))}
	raw := args.Encode()

	decoded, err := DecodeArguments(raw)
	if err != nil {
		t.Fatalf("DecodeArguments: %s", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded %d arguments, want 2", len(decoded))
	}
	if _, ok := decoded[0].(IntArg); !ok {
		t.Errorf("decoded[0] = %T, want IntArg", decoded[0])
	}
	if _, ok := decoded[1].(BinaryDataObjectArg); !ok {
		t.Errorf("decoded[1] = %T, want BinaryDataObjectArg", decoded[1])
	}
}

func TestIsFailureDetectsZeroIntFirstArgument(t *testing.T) {
	if (Arguments{IntArg(0)}).IsFailure() != true {
		t.Errorf("IsFailure() with leading IntArg(0) should be true")
	}
	if (Arguments{IntArg(1)}).IsFailure() != false {
		t.Errorf("IsFailure() with leading IntArg(1) should be false")
	}
	if (Arguments{}).IsFailure() != false {
		t.Errorf("IsFailure() on empty Arguments should be false")
	}
	if (Arguments{BinaryDataObjectArg("x")}).IsFailure() != false {
		t.Errorf("IsFailure() with a non-Int leading argument should be false")
	}
}

func TestDecodeArgumentsRejectsUnknownTag(t *testing.T) {
	if _, err := DecodeArguments([]byte{0xEE}); err == nil {
		t.Errorf("DecodeArguments with an unknown tag byte should error")
	}
}
