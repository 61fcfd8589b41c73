package generator_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kdapp-io/kdapp/chain"
	"github.com/kdapp-io/kdapp/engine"
	"github.com/kdapp-io/kdapp/generator"
	"github.com/kdapp-io/kdapp/pattern"
	"github.com/kdapp-io/kdapp/pki"
)

// fixedPattern returns a pattern that each of the first Size bits of the id
// must be zero; the all-zero constraint gives the same 2^-10 selectivity as
// any other fixed pattern without needing to reason about bit values.
func fixedPattern() pattern.Pattern {
	var p pattern.Pattern
	for i := range p {
		p[i] = pattern.Bit{Position: uint8(i), Expected: 0}
	}
	return p
}

func utxoWithAmount(amount uint64) generator.UTXOInput {
	return generator.UTXOInput{
		Outpoint: chain.Outpoint{TxID: chain.Hash{0xaa}, Index: 0},
		Entry:    chain.UTXOEntry{Amount: amount},
	}
}

func TestBuildTransactionMatchesPattern(t *testing.T) {
	p := fixedPattern()
	const runs = 20
	totalIterations := 0

	for i := 0; i < runs; i++ {
		secret, _, err := pki.GenerateKeypair()
		require.NoError(t, err)
		gen := generator.New(secret, p, 0xC0FFEE)

		tx, err := gen.BuildTransaction(
			[]generator.UTXOInput{utxoWithAmount(1_000_000)},
			990_000,
			1,
			[]byte{0x01, 0x02, 0x03},
			[]byte("command-payload"),
		)
		require.NoError(t, err)

		id := tx.ID()
		require.True(t, pattern.Match(id, p), "transaction id %x must satisfy the pattern", id)
		require.NotEmpty(t, tx.Inputs[0].SignatureScript)

		totalIterations++
	}
	require.Equal(t, runs, totalIterations)
}

func TestBuildTransactionPreservesPayloadAndOutputs(t *testing.T) {
	p := fixedPattern()
	secret, _, err := pki.GenerateKeypair()
	require.NoError(t, err)
	gen := generator.New(secret, p, 42)

	tx, err := gen.BuildTransaction(
		[]generator.UTXOInput{utxoWithAmount(500)},
		400,
		2,
		[]byte{0xde, 0xad},
		[]byte("hello"),
	)
	require.NoError(t, err)
	require.Len(t, tx.Outputs, 2)
	require.Equal(t, uint64(200), tx.Outputs[0].Value)
	require.Equal(t, uint64(200), tx.Outputs[1].Value)
}

func TestBuildCommandTransactionWrapsEnvelope(t *testing.T) {
	p := fixedPattern()
	secret, pk, err := pki.GenerateKeypair()
	require.NoError(t, err)
	gen := generator.New(secret, p, 7)

	signed, err := engine.NewSignedCommand[uint64](1, 42, secret, pk)
	require.NoError(t, err)

	utxo := utxoWithAmount(1000)
	tx, err := generator.BuildCommandTransaction(gen, utxo, []byte{0x01}, signed, 100)
	require.NoError(t, err)
	require.True(t, pattern.Match(tx.ID(), p))
	require.Equal(t, uint64(900), tx.Outputs[0].Value)
}

func TestBuildCommandTransactionRejectsFeeExceedingAmount(t *testing.T) {
	p := fixedPattern()
	secret, pk, err := pki.GenerateKeypair()
	require.NoError(t, err)
	gen := generator.New(secret, p, 7)

	signed, err := engine.NewSignedCommand[uint64](1, 42, secret, pk)
	require.NoError(t, err)

	utxo := utxoWithAmount(50)
	_, err = generator.BuildCommandTransaction(gen, utxo, []byte{0x01}, signed, 100)
	require.Error(t, err)
}

func TestGetFirstOutputUTXO(t *testing.T) {
	p := fixedPattern()
	secret, _, err := pki.GenerateKeypair()
	require.NoError(t, err)
	gen := generator.New(secret, p, 1)

	tx, err := gen.BuildTransaction(
		[]generator.UTXOInput{utxoWithAmount(1000)},
		900,
		1,
		[]byte{0x01},
		[]byte("x"),
	)
	require.NoError(t, err)

	u := generator.GetFirstOutputUTXO(tx)
	require.Equal(t, tx.ID(), u.Outpoint.TxID)
	require.Equal(t, uint32(0), u.Outpoint.Index)
	require.Equal(t, tx.Outputs[0].Value, u.Entry.Amount)
}
