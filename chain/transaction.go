// Package chain defines the minimal UTXO transaction model the generator
// and proxy need: enough to build, id, and sign a single-input transaction
// carrying a command payload, and enough to describe the accepted
// transactions and merged blocks the listener walks. It deliberately does
// not model balances, fee estimation, or general UTXO set management —
// those are explicit non-goals of the engine/listener core.
package chain

import (
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Hash is a 32-byte digest: a transaction id, a block hash, or an accepting
// hash. It is common.Hash so the rest of the module gets hex formatting,
// RLP encoding, and map-key ergonomics for free.
type Hash = common.Hash

// Version and subnetwork identify a native-currency, non-finalized
// transaction; the engine/generator never produces any other kind.
const (
	TxVersion = 0
)

// SubnetworkNative is the all-zero subnetwork id reserved for the native
// currency, mirroring kaspa_consensus_core::subnets::SUBNETWORK_ID_NATIVE.
var SubnetworkNative = [20]byte{}

// Outpoint identifies a previous transaction output being spent.
type Outpoint struct {
	TxID  Hash
	Index uint32
}

// UTXOEntry describes the output being spent at an Outpoint: its value,
// the script that locks it, and the block DAA score it was created at.
type UTXOEntry struct {
	Amount          uint64
	ScriptPublicKey []byte
	BlockDAAScore   uint64
	IsCoinbase      bool
}

// TxIn spends a single previous output. SignatureScript is filled in by
// the generator when it signs the transaction; it is empty on an unsigned
// transaction.
type TxIn struct {
	PreviousOutpoint Outpoint
	SignatureScript  []byte
	Sequence         uint64
	SigOpCount       byte
}

// TxOut pays an amount to a locking script.
type TxOut struct {
	Value           uint64
	ScriptPublicKey []byte
}

// Transaction is a single-subnetwork, native-currency transaction. Payload
// carries the framed command envelope described by the payload package.
type Transaction struct {
	Version      uint16
	Inputs       []TxIn
	Outputs      []TxOut
	LockTime     uint64
	SubnetworkID [20]byte
	Gas          uint64
	Payload      []byte

	id     Hash
	hasID  bool
}

// rlpTransaction is the canonical wire shape hashed to derive a transaction
// id: the signature scripts are deliberately excluded, matching the
// original's id-before-signing semantics (the id is computed once the
// structure is final but is independent of the eventual input signatures).
type rlpTransaction struct {
	Version      uint16
	Inputs       []rlpTxIn
	Outputs      []TxOut
	LockTime     uint64
	SubnetworkID [20]byte
	Gas          uint64
	Payload      []byte
}

type rlpTxIn struct {
	PreviousOutpoint Outpoint
	Sequence         uint64
	SigOpCount       byte
}

// NewUnfinalizedTransaction builds a transaction with the given inputs,
// outputs and payload; call Finalize (or ID) to compute its id.
func NewUnfinalizedTransaction(inputs []TxIn, outputs []TxOut, lockTime uint64, payload []byte) *Transaction {
	return &Transaction{
		Version:      TxVersion,
		Inputs:       inputs,
		Outputs:      outputs,
		LockTime:     lockTime,
		SubnetworkID: SubnetworkNative,
		Payload:      payload,
	}
}

// Finalize (re)computes the transaction's id from its current contents.
// It must be called again whenever Payload or any other id-relevant field
// changes, e.g. after payload.SetNonce rewrites the nonce bytes.
func (tx *Transaction) Finalize() Hash {
	ins := make([]rlpTxIn, len(tx.Inputs))
	for i, in := range tx.Inputs {
		ins[i] = rlpTxIn{PreviousOutpoint: in.PreviousOutpoint, Sequence: in.Sequence, SigOpCount: in.SigOpCount}
	}
	wire := rlpTransaction{
		Version:      tx.Version,
		Inputs:       ins,
		Outputs:      tx.Outputs,
		LockTime:     tx.LockTime,
		SubnetworkID: tx.SubnetworkID,
		Gas:          tx.Gas,
		Payload:      tx.Payload,
	}
	enc, err := rlp.EncodeToBytes(wire)
	if err != nil {
		panic("chain: transaction encoding failed: " + err.Error())
	}
	first := sha256.Sum256(enc)
	second := sha256.Sum256(first[:])
	tx.id = Hash(second)
	tx.hasID = true
	return tx.id
}

// ID returns the transaction id, finalizing first if necessary.
func (tx *Transaction) ID() Hash {
	if !tx.hasID {
		tx.Finalize()
	}
	return tx.id
}
