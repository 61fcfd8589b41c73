package proxy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kdapp-io/kdapp/chain"
	"github.com/kdapp-io/kdapp/engine"
	"github.com/kdapp-io/kdapp/pattern"
	"github.com/kdapp-io/kdapp/payload"
	"github.com/kdapp-io/kdapp/proxy"
)

// fakeClient is a minimal in-memory RPCClient, modeled on the same
// no-op-stub-struct idiom used elsewhere in this module for test doubles: a
// fixed script of virtual-chain deltas and a static block index, with no
// network I/O.
type fakeClient struct {
	sink   chain.Hash
	deltas []*proxy.VirtualChainChanges
	blocks map[chain.Hash]*proxy.BlockInfo
}

func (f *fakeClient) GetBlockDAGInfo(context.Context) (*proxy.BlockDAGInfo, error) {
	return &proxy.BlockDAGInfo{SinkHash: f.sink}, nil
}

func (f *fakeClient) GetVirtualChainFromBlock(_ context.Context, _ chain.Hash, _ bool) (*proxy.VirtualChainChanges, error) {
	if len(f.deltas) == 0 {
		return &proxy.VirtualChainChanges{}, nil
	}
	d := f.deltas[0]
	f.deltas = f.deltas[1:]
	return d, nil
}

func (f *fakeClient) GetBlock(_ context.Context, hash chain.Hash, _ bool) (*proxy.BlockInfo, error) {
	blk, ok := f.blocks[hash]
	if !ok {
		return nil, errNotFound{hash}
	}
	return blk, nil
}

func (f *fakeClient) SubmitTransaction(context.Context, *chain.Transaction, bool) (chain.Hash, error) {
	return chain.Hash{}, nil
}

type errNotFound struct{ hash chain.Hash }

func (e errNotFound) Error() string { return "block not found: " + e.hash.String() }

func matchingPattern() pattern.Pattern {
	var p pattern.Pattern
	for i := range p {
		p[i] = pattern.Bit{Position: uint8(i), Expected: 0}
	}
	return p
}

func TestRunListenerDispatchesAcceptedTransaction(t *testing.T) {
	p := matchingPattern()
	txID := chain.Hash{} // all-zero id trivially satisfies the all-zero pattern
	innerPayload := payload.Pack([]byte("hello"), 0xAB)

	acceptingHash := chain.Hash{0x01}
	mergedHash := chain.Hash{0x02}

	client := &fakeClient{
		sink: chain.Hash{0x00},
		deltas: []*proxy.VirtualChainChanges{
			{
				AddedChainBlocks: []proxy.AddedChainBlock{
					{
						AcceptingBlockHash:     acceptingHash,
						AcceptedTransactionIDs: []chain.Hash{{0xc0}, txID}, // index 0 is coinbase
					},
				},
			},
		},
		blocks: map[chain.Hash]*proxy.BlockInfo{
			acceptingHash: {
				Hash:                acceptingHash,
				DAAScore:            42,
				Timestamp:           1000,
				SelectedParentHash:  mergedHash,
				MergeSetBluesHashes: []chain.Hash{mergedHash},
			},
			mergedHash: {
				Hash: mergedHash,
				Transactions: []proxy.RPCTransaction{
					{ID: chain.Hash{0xc0}, IsCoinbase: true},
					{ID: txID, Payload: innerPayload},
				},
			},
		},
	}

	out := make(chan engine.Msg, 8)
	routes := proxy.EngineMap{0xAB: {Pattern: p, Out: out}}
	cache, err := proxy.NewBlockCache()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- proxy.RunListener(ctx, client, routes, cache) }()

	var msg engine.Msg
	select {
	case msg = <-out:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for BlockAccepted")
	}
	cancel()
	require.NoError(t, <-done)

	accepted, ok := msg.(engine.BlockAccepted)
	require.True(t, ok, "expected BlockAccepted, got %T", msg)
	require.Equal(t, acceptingHash, accepted.AcceptingHash)
	require.Equal(t, uint64(42), accepted.AcceptingDAA)
	require.Len(t, accepted.AssociatedTxs, 1)
	require.Equal(t, txID, accepted.AssociatedTxs[0].TxID)
	require.Equal(t, []byte("hello"), accepted.AssociatedTxs[0].Payload)

	// Draining the Exit sent on cancellation.
	select {
	case m := <-out:
		_, ok := m.(engine.Exit)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected Exit after cancellation")
	}
}

func TestRunListenerBroadcastsRevert(t *testing.T) {
	p := matchingPattern()
	revertedHash := chain.Hash{0x09}

	client := &fakeClient{
		sink: chain.Hash{0x00},
		deltas: []*proxy.VirtualChainChanges{
			{
				RemovedChainBlockHashes: []chain.Hash{revertedHash},
				AddedChainBlocks: []proxy.AddedChainBlock{
					{AcceptingBlockHash: chain.Hash{0x10}, AcceptedTransactionIDs: []chain.Hash{{0xc0}}},
				},
			},
		},
		blocks: map[chain.Hash]*proxy.BlockInfo{},
	}

	out := make(chan engine.Msg, 8)
	routes := proxy.EngineMap{0xAB: {Pattern: p, Out: out}}
	cache, err := proxy.NewBlockCache()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- proxy.RunListener(ctx, client, routes, cache) }()

	var msg engine.Msg
	select {
	case msg = <-out:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for BlockReverted")
	}
	cancel()
	require.NoError(t, <-done)

	reverted, ok := msg.(engine.BlockReverted)
	require.True(t, ok, "expected BlockReverted, got %T", msg)
	require.Equal(t, revertedHash, reverted.AcceptingHash)
}
