// Package engine owns the command envelope, the per-episode rollback
// wrapper, and the multi-episode engine that consumes an ordered message
// stream from the listener and applies or reverts commands deterministically.
package engine

import (
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/kdapp-io/kdapp/episode"
	"github.com/kdapp-io/kdapp/pki"
)

// MessageKind tags which variant of EpisodeMessage is populated.
type MessageKind uint8

const (
	KindNewEpisode MessageKind = iota
	KindSignedCommand
	KindUnsignedCommand
	// KindRevert is reserved for internal reorg use. The engine synthesizes
	// it from BlockReverted events; if one is ever observed arriving from
	// the chain itself it must be ignored with a warning.
	KindRevert
)

// EpisodeMessage is the tagged-union command envelope carried inside
// ledger transaction payloads (all but Revert) or synthesized internally
// by the engine (Revert only).
type EpisodeMessage[C any] struct {
	Kind         MessageKind
	EpisodeID    episode.ID
	Participants []pki.PubKey  // NewEpisode
	Cmd          C             // SignedCommand, UnsignedCommand
	PubKey       pki.PubKey    // SignedCommand
	Sig          pki.Signature // SignedCommand
}

// NewEpisodeMessage builds a NewEpisode envelope.
func NewEpisodeMessage[C any](id episode.ID, participants []pki.PubKey) EpisodeMessage[C] {
	return EpisodeMessage[C]{Kind: KindNewEpisode, EpisodeID: id, Participants: participants}
}

// NewUnsignedCommand builds an UnsignedCommand envelope.
func NewUnsignedCommand[C any](id episode.ID, cmd C) EpisodeMessage[C] {
	return EpisodeMessage[C]{Kind: KindUnsignedCommand, EpisodeID: id, Cmd: cmd}
}

// NewSignedCommand digests cmd (not the envelope), signs it with sk, and
// returns a SignedCommand envelope. The envelope does not bind the ledger
// transaction itself — cryptographic authenticity of the command is
// independent of whatever input-signing the carrying transaction has.
func NewSignedCommand[C any](id episode.ID, cmd C, sk *secp256k1.PrivateKey, pk pki.PubKey) (EpisodeMessage[C], error) {
	digest, err := pki.ToMessage(cmd)
	if err != nil {
		return EpisodeMessage[C]{}, err
	}
	sig := pki.SignMessage(sk, digest)
	return EpisodeMessage[C]{Kind: KindSignedCommand, EpisodeID: id, Cmd: cmd, PubKey: pk, Sig: sig}, nil
}

type wireNewEpisode struct {
	EpisodeID    episode.ID
	Participants []pki.PubKey
}

type wireSignedCommand[C any] struct {
	EpisodeID episode.ID
	Cmd       C
	PubKey    pki.PubKey
	Sig       pki.Signature
}

type wireUnsignedCommand[C any] struct {
	EpisodeID episode.ID
	Cmd       C
}

type wireRevert struct {
	EpisodeID episode.ID
}

type wireEnvelope struct {
	Kind  byte
	Inner []byte
}

// EncodeRLP encodes the envelope deterministically as an RLP list of
// [kind, kind-specific-payload]. Only the fields relevant to Kind are
// encoded, so an UnsignedCommand never touches the PubKey/Sig encoders.
func (m EpisodeMessage[C]) EncodeRLP(w io.Writer) error {
	var inner []byte
	var err error
	switch m.Kind {
	case KindNewEpisode:
		inner, err = rlp.EncodeToBytes(wireNewEpisode{EpisodeID: m.EpisodeID, Participants: m.Participants})
	case KindSignedCommand:
		inner, err = rlp.EncodeToBytes(wireSignedCommand[C]{EpisodeID: m.EpisodeID, Cmd: m.Cmd, PubKey: m.PubKey, Sig: m.Sig})
	case KindUnsignedCommand:
		inner, err = rlp.EncodeToBytes(wireUnsignedCommand[C]{EpisodeID: m.EpisodeID, Cmd: m.Cmd})
	case KindRevert:
		inner, err = rlp.EncodeToBytes(wireRevert{EpisodeID: m.EpisodeID})
	default:
		return fmt.Errorf("engine: unknown message kind %d", m.Kind)
	}
	if err != nil {
		return err
	}
	return rlp.Encode(w, wireEnvelope{Kind: byte(m.Kind), Inner: inner})
}

// DecodeRLP is the inverse of EncodeRLP.
func (m *EpisodeMessage[C]) DecodeRLP(s *rlp.Stream) error {
	var outer wireEnvelope
	if err := s.Decode(&outer); err != nil {
		return err
	}
	m.Kind = MessageKind(outer.Kind)
	switch m.Kind {
	case KindNewEpisode:
		var w wireNewEpisode
		if err := rlp.DecodeBytes(outer.Inner, &w); err != nil {
			return err
		}
		m.EpisodeID, m.Participants = w.EpisodeID, w.Participants
	case KindSignedCommand:
		var w wireSignedCommand[C]
		if err := rlp.DecodeBytes(outer.Inner, &w); err != nil {
			return err
		}
		m.EpisodeID, m.Cmd, m.PubKey, m.Sig = w.EpisodeID, w.Cmd, w.PubKey, w.Sig
	case KindUnsignedCommand:
		var w wireUnsignedCommand[C]
		if err := rlp.DecodeBytes(outer.Inner, &w); err != nil {
			return err
		}
		m.EpisodeID, m.Cmd = w.EpisodeID, w.Cmd
	case KindRevert:
		var w wireRevert
		if err := rlp.DecodeBytes(outer.Inner, &w); err != nil {
			return err
		}
		m.EpisodeID = w.EpisodeID
	default:
		return fmt.Errorf("engine: unknown message kind %d", m.Kind)
	}
	return nil
}
