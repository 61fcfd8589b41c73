package chain

import "testing"

func TestFinalizeDeterministic(t *testing.T) {
	tx := NewUnfinalizedTransaction(
		[]TxIn{{PreviousOutpoint: Outpoint{TxID: Hash{1}, Index: 0}, Sequence: 0, SigOpCount: 1}},
		[]TxOut{{Value: 100, ScriptPublicKey: []byte{0xab}}},
		0,
		[]byte{1, 2, 3, 4, 5, 6, 7, 8},
	)
	id1 := tx.Finalize()
	id2 := tx.Finalize()
	if id1 != id2 {
		t.Fatal("finalize must be deterministic for unchanged contents")
	}
}

func TestFinalizeChangesWithPayload(t *testing.T) {
	tx := NewUnfinalizedTransaction(
		[]TxIn{{PreviousOutpoint: Outpoint{TxID: Hash{1}, Index: 0}}},
		[]TxOut{{Value: 100, ScriptPublicKey: []byte{0xab}}},
		0,
		[]byte{0, 0, 0, 0, 0, 0, 0, 0},
	)
	id1 := tx.Finalize()

	tx.Payload[4] = 1 // mutate nonce bytes
	id2 := tx.Finalize()

	if id1 == id2 {
		t.Fatal("changing the payload must change the id")
	}
}

func TestFinalizeIgnoresSignatureScript(t *testing.T) {
	tx := NewUnfinalizedTransaction(
		[]TxIn{{PreviousOutpoint: Outpoint{TxID: Hash{1}, Index: 0}}},
		[]TxOut{{Value: 100, ScriptPublicKey: []byte{0xab}}},
		0,
		[]byte{1},
	)
	id1 := tx.Finalize()
	tx.Inputs[0].SignatureScript = []byte{0xde, 0xad}
	id2 := tx.Finalize()
	if id1 != id2 {
		t.Fatal("signature script must not affect the transaction id")
	}
}
