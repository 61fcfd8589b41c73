// Package proxy is the chain listener: it polls a ledger RPC endpoint,
// walks the virtual selected-parent chain, resolves the transactions each
// registered engine cares about, and dispatches BlockAccepted/BlockReverted
// messages in ledger order.
package proxy

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/kdapp-io/kdapp/chain"
)

// BlockDAGInfo is the bootstrap response identifying the current sink
// (virtual selected-parent chain tip).
type BlockDAGInfo struct {
	SinkHash chain.Hash
}

// AddedChainBlock is one block that entered the virtual selected-parent
// chain, together with the ids of the transactions it accepted (coinbase
// first).
type AddedChainBlock struct {
	AcceptingBlockHash     chain.Hash
	AcceptedTransactionIDs []chain.Hash
}

// VirtualChainChanges is the response to a virtual-chain-from-block query:
// the blocks that left the chain and the blocks that joined it, both in
// ledger order.
type VirtualChainChanges struct {
	RemovedChainBlockHashes []chain.Hash
	AddedChainBlocks        []AddedChainBlock
}

// RPCTransaction is a transaction as returned by get_block with
// includeTransactions set.
type RPCTransaction struct {
	ID         chain.Hash
	Payload    []byte
	IsCoinbase bool
}

// BlockInfo is a ledger block: its header fields (DAA score, timestamp,
// mergeset) and, if requested, its full transaction list.
type BlockInfo struct {
	Hash                chain.Hash
	DAAScore            uint64
	Timestamp           uint64
	SelectedParentHash  chain.Hash
	MergeSetBluesHashes []chain.Hash
	MergeSetRedsHashes  []chain.Hash
	Transactions        []RPCTransaction
}

// RPCClient is the exactly-four-call surface the listener needs from the
// ledger node. Applications may implement this directly against a test
// double; DefaultClient is the production JSON-RPC implementation.
type RPCClient interface {
	GetBlockDAGInfo(ctx context.Context) (*BlockDAGInfo, error)
	GetVirtualChainFromBlock(ctx context.Context, startHash chain.Hash, includeAcceptedTransactionIDs bool) (*VirtualChainChanges, error)
	GetBlock(ctx context.Context, hash chain.Hash, includeTransactions bool) (*BlockInfo, error)
	SubmitTransaction(ctx context.Context, tx *chain.Transaction, allowOrphan bool) (chain.Hash, error)
}

const (
	methodGetBlockDAGInfo          = "getBlockDagInfo"
	methodGetVirtualChainFromBlock = "getVirtualChainFromBlock"
	methodGetBlock                 = "getBlock"
	methodSubmitTransaction        = "submitTransaction"
	methodGetServerInfo            = "getServerInfo"
)

// DefaultClient is a JSON-RPC RPCClient dialed against a ledger node,
// modeled the same way the pack's ethclient engine-API wrapper calls
// CallContext against a *rpc.Client.
type DefaultClient struct {
	rpc *rpc.Client
}

// ServerInfo is the node's self-reported identity and sync state, checked
// once at connect time.
type ServerInfo struct {
	NetworkID       string `json:"networkId"`
	ServerVersion   string `json:"serverVersion"`
	IsSynced        bool   `json:"isSynced"`
	VirtualDAAScore uint64 `json:"virtualDaaScore"`
}

// Dial connects to the ledger node's JSON-RPC endpoint at rawurl and
// performs the liveness check the original connect_client does: it refuses
// to proceed unless the node reports expectedNetworkID and a synced state.
// A network-id mismatch is a fatal programmer/configuration error and
// panics, exactly as connect_client does; a not-yet-synced node is a
// transient condition and is returned as an ordinary error for the caller
// to retry.
func Dial(ctx context.Context, rawurl string, expectedNetworkID string) (*DefaultClient, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("proxy: dial %s: %w", rawurl, err)
	}
	client := &DefaultClient{rpc: c}

	info, err := client.GetServerInfo(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("proxy: liveness check against %s: %w", rawurl, err)
	}
	if info.NetworkID != expectedNetworkID {
		panic(fmt.Sprintf("proxy: network mismatch, expected %q, actual %q", expectedNetworkID, info.NetworkID))
	}
	if !info.IsSynced {
		c.Close()
		return nil, fmt.Errorf("proxy: node %s (%s) is not synced", rawurl, info.ServerVersion)
	}

	log.Info("connected to ledger node", "url", rawurl, "version", info.ServerVersion, "network", info.NetworkID)
	return client, nil
}

// GetServerInfo reports the node's network id, version, and sync state.
func (c *DefaultClient) GetServerInfo(ctx context.Context) (*ServerInfo, error) {
	var resp ServerInfo
	if err := c.rpc.CallContext(ctx, &resp, methodGetServerInfo); err != nil {
		return nil, fmt.Errorf("proxy: %s: %w", methodGetServerInfo, err)
	}
	return &resp, nil
}

// Close releases the underlying RPC connection.
func (c *DefaultClient) Close() { c.rpc.Close() }

type wireBlockDAGInfo struct {
	SinkHash chain.Hash `json:"sinkHash"`
}

func (c *DefaultClient) GetBlockDAGInfo(ctx context.Context) (*BlockDAGInfo, error) {
	var resp wireBlockDAGInfo
	if err := c.rpc.CallContext(ctx, &resp, methodGetBlockDAGInfo); err != nil {
		return nil, fmt.Errorf("proxy: %s: %w", methodGetBlockDAGInfo, err)
	}
	return &BlockDAGInfo{SinkHash: resp.SinkHash}, nil
}

type wireAddedChainBlock struct {
	AcceptingBlockHash     chain.Hash   `json:"acceptingBlockHash"`
	AcceptedTransactionIDs []chain.Hash `json:"acceptedTransactionIds"`
}

type wireVirtualChainChanges struct {
	RemovedChainBlockHashes []chain.Hash         `json:"removedChainBlockHashes"`
	AddedChainBlocks        []wireAddedChainBlock `json:"addedChainBlocks"`
}

func (c *DefaultClient) GetVirtualChainFromBlock(ctx context.Context, startHash chain.Hash, includeAcceptedTransactionIDs bool) (*VirtualChainChanges, error) {
	var resp wireVirtualChainChanges
	if err := c.rpc.CallContext(ctx, &resp, methodGetVirtualChainFromBlock, startHash, includeAcceptedTransactionIDs); err != nil {
		return nil, fmt.Errorf("proxy: %s: %w", methodGetVirtualChainFromBlock, err)
	}
	added := make([]AddedChainBlock, len(resp.AddedChainBlocks))
	for i, a := range resp.AddedChainBlocks {
		added[i] = AddedChainBlock{AcceptingBlockHash: a.AcceptingBlockHash, AcceptedTransactionIDs: a.AcceptedTransactionIDs}
	}
	return &VirtualChainChanges{RemovedChainBlockHashes: resp.RemovedChainBlockHashes, AddedChainBlocks: added}, nil
}

type wireTransaction struct {
	ID         chain.Hash `json:"id"`
	Payload    []byte     `json:"payload"`
	IsCoinbase bool       `json:"isCoinbase"`
}

type wireBlock struct {
	Hash                chain.Hash        `json:"hash"`
	DAAScore            uint64            `json:"daaScore"`
	Timestamp           uint64            `json:"timestamp"`
	SelectedParentHash  chain.Hash        `json:"selectedParentHash"`
	MergeSetBluesHashes []chain.Hash      `json:"mergeSetBluesHashes"`
	MergeSetRedsHashes  []chain.Hash      `json:"mergeSetRedsHashes"`
	Transactions        []wireTransaction `json:"transactions"`
}

func (c *DefaultClient) GetBlock(ctx context.Context, hash chain.Hash, includeTransactions bool) (*BlockInfo, error) {
	var resp wireBlock
	if err := c.rpc.CallContext(ctx, &resp, methodGetBlock, hash, includeTransactions); err != nil {
		return nil, fmt.Errorf("proxy: %s: %w", methodGetBlock, err)
	}
	txs := make([]RPCTransaction, len(resp.Transactions))
	for i, t := range resp.Transactions {
		txs[i] = RPCTransaction{ID: t.ID, Payload: t.Payload, IsCoinbase: t.IsCoinbase}
	}
	return &BlockInfo{
		Hash:                resp.Hash,
		DAAScore:            resp.DAAScore,
		Timestamp:           resp.Timestamp,
		SelectedParentHash:  resp.SelectedParentHash,
		MergeSetBluesHashes: resp.MergeSetBluesHashes,
		MergeSetRedsHashes:  resp.MergeSetRedsHashes,
		Transactions:        txs,
	}, nil
}

type wireSubmitResult struct {
	TransactionID chain.Hash `json:"transactionId"`
}

func (c *DefaultClient) SubmitTransaction(ctx context.Context, tx *chain.Transaction, allowOrphan bool) (chain.Hash, error) {
	var resp wireSubmitResult
	if err := c.rpc.CallContext(ctx, &resp, methodSubmitTransaction, tx, allowOrphan); err != nil {
		return chain.Hash{}, fmt.Errorf("proxy: %s: %w", methodSubmitTransaction, err)
	}
	return resp.TransactionID, nil
}
