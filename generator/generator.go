// Package generator builds single-input transactions carrying a command
// payload and grinds their payload nonce until the resulting transaction id
// matches a configured bit pattern, so the listener can cheaply prefilter
// the DAG instead of indexing every transaction.
package generator

import (
	"crypto/sha256"
	"fmt"
	"math"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/kdapp-io/kdapp/chain"
	"github.com/kdapp-io/kdapp/engine"
	"github.com/kdapp-io/kdapp/pattern"
	"github.com/kdapp-io/kdapp/payload"
)

// UTXOInput pairs a spendable outpoint with the UTXO entry it references.
type UTXOInput struct {
	Outpoint chain.Outpoint
	Entry    chain.UTXOEntry
}

// TransactionGenerator is a pure function of its construction parameters
// and the UTXOs/envelope passed to each call; it is safe to invoke
// concurrently from multiple goroutines with disjoint UTXOs.
type TransactionGenerator struct {
	signer  *secp256k1.PrivateKey
	pattern pattern.Pattern
	prefix  uint32
}

// New constructs a generator that signs with signer and grinds for pattern
// under application tag prefix.
func New(signer *secp256k1.PrivateKey, p pattern.Pattern, prefix uint32) *TransactionGenerator {
	return &TransactionGenerator{signer: signer, pattern: p, prefix: prefix}
}

// BuildTransaction spends utxos into numOuts equal outputs paying
// recipientScript, carrying innerPayload framed under the generator's
// prefix, and grinds the nonce until the signed transaction id matches the
// generator's pattern.
//
// Only bytes 4..8 of the payload change between grind iterations; the
// inner command bytes are fixed before grinding starts, so the eventual
// signature covers the same command regardless of which nonce is found.
func (g *TransactionGenerator) BuildTransaction(
	utxos []UTXOInput,
	sendAmount uint64,
	numOuts uint64,
	recipientScript []byte,
	innerPayload []byte,
) (*chain.Transaction, error) {
	if numOuts == 0 {
		return nil, fmt.Errorf("generator: numOuts must be positive")
	}
	inputs := make([]chain.TxIn, len(utxos))
	for i, u := range utxos {
		inputs[i] = chain.TxIn{PreviousOutpoint: u.Outpoint, Sequence: 0, SigOpCount: 1}
	}
	outputs := make([]chain.TxOut, numOuts)
	perOutput := sendAmount / numOuts
	for i := range outputs {
		outputs[i] = chain.TxOut{Value: perOutput, ScriptPublicKey: recipientScript}
	}

	framed := payload.Pack(innerPayload, g.prefix)
	tx := chain.NewUnfinalizedTransaction(inputs, outputs, 0, framed)
	tx.Finalize()

	var nonce uint32
	for !pattern.Match(tx.ID(), g.pattern) {
		if nonce == math.MaxUint32 {
			// Expected iterations for a 10-bit pattern are ~1024; reaching
			// the full uint32 range means something is structurally wrong
			// (e.g. a pattern that can never match), so we stop rather
			// than spin forever.
			panic("generator: nonce exhausted without a pattern match")
		}
		nonce++
		payload.SetNonce(tx.Payload, nonce)
		tx.Finalize()
		if verboseGrind {
			log.Debug("grinding payload nonce", "nonce", nonce, "id", tx.ID())
		}
	}

	g.sign(tx, utxos)
	return tx, nil
}

// BuildCommandTransaction encodes the envelope msg canonically and spends a
// single utxo, minus fee, to build the carrying transaction.
func BuildCommandTransaction[C any](g *TransactionGenerator, utxo UTXOInput, recipientScript []byte, msg engine.EpisodeMessage[C], fee uint64) (*chain.Transaction, error) {
	inner, err := rlp.EncodeToBytes(msg)
	if err != nil {
		return nil, fmt.Errorf("generator: encoding envelope: %w", err)
	}
	if fee > utxo.Entry.Amount {
		return nil, fmt.Errorf("generator: fee %d exceeds input amount %d", fee, utxo.Entry.Amount)
	}
	send := utxo.Entry.Amount - fee
	return g.BuildTransaction([]UTXOInput{utxo}, send, 1, recipientScript, inner)
}

// sign computes a per-input signature over a digest of the finalized
// transaction and that input's index, and stores signature||compressed-pubkey
// as the input's signature script. Full locking-script semantics (P2SH,
// multisig, etc.) are a ledger/wallet concern outside this engine's scope;
// this is the minimal single-key spend the generator needs to carry a
// command payload.
func (g *TransactionGenerator) sign(tx *chain.Transaction, utxos []UTXOInput) {
	pub := g.signer.PubKey().SerializeCompressed()
	for i := range tx.Inputs {
		digest := sigHash(tx, i)
		sig := ecdsa.Sign(g.signer, digest[:])
		script := make([]byte, 0, len(sig.Serialize())+len(pub))
		script = append(script, sig.Serialize()...)
		script = append(script, pub...)
		tx.Inputs[i].SignatureScript = script
	}
}

func sigHash(tx *chain.Transaction, inputIndex int) [32]byte {
	id := tx.ID()
	var buf [36]byte
	copy(buf[:32], id[:])
	buf[32] = byte(inputIndex)
	buf[33] = byte(inputIndex >> 8)
	buf[34] = byte(inputIndex >> 16)
	buf[35] = byte(inputIndex >> 24)
	return sha256.Sum256(buf[:])
}

// GetFirstOutputUTXO describes the outpoint/UTXO entry of tx's first
// output, letting callers chain commands within one episode without
// re-querying the ledger.
func GetFirstOutputUTXO(tx *chain.Transaction) UTXOInput {
	return UTXOInput{
		Outpoint: chain.Outpoint{TxID: tx.ID(), Index: 0},
		Entry: chain.UTXOEntry{
			Amount:          tx.Outputs[0].Value,
			ScriptPublicKey: tx.Outputs[0].ScriptPublicKey,
		},
	}
}
