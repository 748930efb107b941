package zeroconf

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// Outpoint identifies one output of a transaction, confirmed or not.
type Outpoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// TxIn is a minimal transaction input: which outpoint it spends, and
// (for multisig second-order matching) the raw scriptSig/witness pubkey
// hashes extracted by the out-of-scope block/tx parser.
type TxIn struct {
	PrevOut Outpoint
}

// TxOut is a minimal transaction output: its value and the scrAddr it
// pays, plus any embedded pubkey hashes for second-order multisig
// matching.
type TxOut struct {
	Value              int64
	ScrAddr            []byte
	IsMultisig         bool
	EmbeddedPubKeyHash [][]byte
}

// Tx is the minimal parsed transaction the ZeroConfContainer needs. Raw
// transaction parsing itself is an external collaborator;
// the network thread hands the container an already-parsed Tx.
type Tx struct {
	Hash         chainhash.Hash
	Inputs       []TxIn
	Outputs      []TxOut
	ReceiveTime  uint64 // monotonic, network-thread stamped
	FromCoinbase bool

	zcKey uint32 // allocated by AddRawTx, consumed by the parser
}
