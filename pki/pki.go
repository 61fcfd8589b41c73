// Package pki provides the public key infrastructure the engine and
// generator use to authenticate commands: deterministic message digesting,
// ECDSA signing/verification over secp256k1, and the wire framing for
// public keys and signatures. Key management and storage are out of
// scope — callers supply keys, pki only operates on them.
package pki

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/rlp"
)

// PubKey wraps a compressed secp256k1 public key. Its wire form is the
// 33-byte compressed encoding written as an RLP string, so it carries RLP's
// length prefix; there is no raw, unprefixed form (see EncodeRLP).
type PubKey struct {
	key *secp256k1.PublicKey
}

// NewPubKey wraps an existing decred public key.
func NewPubKey(key *secp256k1.PublicKey) PubKey { return PubKey{key: key} }

// Key returns the underlying decred public key.
func (p PubKey) Key() *secp256k1.PublicKey { return p.key }

// Bytes returns the 33-byte compressed encoding.
func (p PubKey) Bytes() []byte { return p.key.SerializeCompressed() }

// Equal reports whether two public keys serialize identically.
func (p PubKey) Equal(o PubKey) bool {
	if p.key == nil || o.key == nil {
		return p.key == o.key
	}
	return p.key.IsEqual(o.key)
}

func (p PubKey) String() string { return fmt.Sprintf("%x", p.Bytes()) }

// EncodeRLP writes the 33-byte compressed form as a single RLP string. The
// original Borsh framing writes these bytes with no length prefix at all
// (safe there because the field width is fixed and known from context);
// RLP has no such raw mode, so this uses RLP's ordinary length-prefixed
// string encoding instead — still canonical and deterministic, which is
// the invariant P5 (envelope round-trip) actually requires.
func (p PubKey) EncodeRLP(w io.Writer) error {
	if p.key == nil {
		return fmt.Errorf("pki: cannot encode nil public key")
	}
	return rlp.Encode(w, p.Bytes())
}

// DecodeRLP reads exactly 33 bytes and parses them as a compressed public key.
func (p *PubKey) DecodeRLP(r *rlp.Stream) error {
	raw, err := r.Bytes()
	if err != nil {
		return err
	}
	if len(raw) != 33 {
		return fmt.Errorf("pki: invalid public key length %d", len(raw))
	}
	key, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return fmt.Errorf("pki: invalid public key: %w", err)
	}
	p.key = key
	return nil
}

// Signature wraps a DER-encoded ECDSA signature over secp256k1.
type Signature struct {
	sig *ecdsa.Signature
}

// Bytes returns the DER encoding.
func (s Signature) Bytes() []byte {
	if s.sig == nil {
		return nil
	}
	return s.sig.Serialize()
}

// EncodeRLP writes the DER bytes as a single RLP string (see PubKey.EncodeRLP
// for why this departs from the original's raw, reader-until-EOF framing).
func (s Signature) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, s.Bytes())
}

// DecodeRLP reads the next RLP string and parses it as a DER signature. It
// does not consume the rest of the stream.
func (s *Signature) DecodeRLP(r *rlp.Stream) error {
	raw, err := r.Bytes()
	if err != nil {
		return err
	}
	sig, err := ecdsa.ParseDERSignature(raw)
	if err != nil {
		return fmt.Errorf("pki: invalid signature: %w", err)
	}
	s.sig = sig
	return nil
}

// GenerateKeypair creates a new random secp256k1 keypair.
func GenerateKeypair() (*secp256k1.PrivateKey, PubKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, PubKey{}, err
	}
	return priv, NewPubKey(priv.PubKey()), nil
}

// ToMessage converts any RLP-serializable object into the 32-byte digest
// that gets signed: canonical RLP encoding followed by SHA-256. Callers
// signing a Command must pass the command value itself, not the envelope
// that carries it — the envelope does not bind the ledger transaction.
func ToMessage(object interface{}) ([32]byte, error) {
	enc, err := rlp.EncodeToBytes(object)
	if err != nil {
		return [32]byte{}, fmt.Errorf("pki: serialization failed: %w", err)
	}
	return sha256.Sum256(enc), nil
}

// SignMessage signs a 32-byte digest with secret.
func SignMessage(secret *secp256k1.PrivateKey, message [32]byte) Signature {
	return Signature{sig: ecdsa.Sign(secret, message[:])}
}

// VerifySignature reports whether sig is a valid signature by pub over message.
func VerifySignature(pub PubKey, message [32]byte, sig Signature) bool {
	if pub.key == nil || sig.sig == nil {
		return false
	}
	return sig.sig.Verify(message[:], pub.key)
}
