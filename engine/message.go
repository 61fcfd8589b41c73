package engine

import "github.com/kdapp-io/kdapp/chain"

// Msg is the sum type of messages the listener feeds into an engine's
// inbound channel. The three concrete types below are its only variants.
type Msg interface{ isEngineMsg() }

// AssociatedTx is one accepted, pattern-matched, header-stripped
// transaction delivered as part of a BlockAccepted message.
type AssociatedTx struct {
	TxID    chain.Hash
	Payload []byte
}

// BlockAccepted carries every accepted transaction in one accepting block,
// in ledger-acceptance order, already filtered to this engine's
// (prefix, pattern) and with the payload header stripped.
type BlockAccepted struct {
	AcceptingHash chain.Hash
	AcceptingDAA  uint64
	AcceptingTime uint64
	AssociatedTxs []AssociatedTx
}

func (BlockAccepted) isEngineMsg() {}

// BlockReverted announces that accepting block AcceptingHash left the
// virtual selected-parent chain; the engine must unwind everything it
// previously applied on its behalf, in reverse order.
type BlockReverted struct {
	AcceptingHash chain.Hash
}

func (BlockReverted) isEngineMsg() {}

// Exit terminates the engine's message loop cleanly.
type Exit struct{}

func (Exit) isEngineMsg() {}
