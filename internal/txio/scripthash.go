// Package txio defines the fundamental indexed data types shared by
// every other package in the core: the scrAddr key, the confirmed/ZC
// DBkey encoding, and the TxIOPair itself.
package txio

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// ScriptHash (scrAddr) is a fixed-length binary key identifying a
// payment target independent of pay-to-pubkey vs pay-to-pubkey-hash: a
// one-byte prefix followed by a 20- or 32-byte hash.
type ScriptHash string

// Prefix bytes for the two hash widths a ScriptHash may carry.
const (
	PrefixP2PKH    byte = 0x00
	PrefixP2SH     byte = 0x05
	PrefixP2WPKH   byte = 0x06
	PrefixP2WSH    byte = 0x07
	PrefixMultisig byte = 0xfe
)

// NewScriptHash builds a ScriptHash from a prefix byte and a raw hash.
func NewScriptHash(prefix byte, hash []byte) ScriptHash {
	buf := make([]byte, 0, 1+len(hash))
	buf = append(buf, prefix)
	buf = append(buf, hash...)
	return ScriptHash(buf)
}

// Prefix returns the leading type byte, or 0 for an empty ScriptHash.
func (s ScriptHash) Prefix() byte {
	if len(s) == 0 {
		return 0
	}
	return s[0]
}

// Hash returns the hash bytes following the prefix byte.
func (s ScriptHash) Hash() []byte {
	if len(s) <= 1 {
		return nil
	}
	return []byte(s)[1:]
}

// Bytes returns the raw encoded scrAddr.
func (s ScriptHash) Bytes() []byte {
	return []byte(s)
}

// IsMultisig reports whether this scrAddr represents a multisig script
// rather than a single-key payment target.
func (s ScriptHash) IsMultisig() bool {
	return s.Prefix() == PrefixMultisig
}

// String renders the scrAddr for debug/log output as
// "<prefix-hex>:<base58 hash>". The core never round-trips through a
// network-specific address encoding.
func (s ScriptHash) String() string {
	if len(s) == 0 {
		return "<empty scrAddr>"
	}
	return hex.EncodeToString([]byte{s.Prefix()}) + ":" + base58.Encode(s.Hash())
}
