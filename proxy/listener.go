package proxy

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/kdapp-io/kdapp/chain"
	"github.com/kdapp-io/kdapp/engine"
	"github.com/kdapp-io/kdapp/pattern"
	"github.com/kdapp-io/kdapp/payload"
)

// Route is one registered engine's dispatch key and inbound channel.
type Route struct {
	Pattern pattern.Pattern
	Out     chan<- engine.Msg
}

// EngineMap is prefix → (pattern, outbound channel) for every engine this
// listener feeds. Prefixes must be unique; patterns should be too, though
// the listener does not enforce the latter.
type EngineMap map[uint32]Route

// defaultCacheSize bounds the listener's memory footprint across ticks: the
// same merged block is sometimes read once but contributes transactions to
// more than one registered engine's required set in the same tick.
const defaultCacheSize = 256

// NewBlockCache returns an LRU cache sized for one listener's lifetime.
func NewBlockCache() (*lru.Cache[chain.Hash, *BlockInfo], error) {
	return lru.New[chain.Hash, *BlockInfo](defaultCacheSize)
}

// RunListener bootstraps from the ledger's current sink and then polls
// every second, aligned to the previous tick, until ctx is canceled. On
// cancellation it sends Exit to every registered engine and returns nil.
// Bootstrap failure is returned to the caller to retry; mid-loop RPC
// failures are logged and the loop continues from the sink the failed tick
// returned: the last block it dispatched, or the unchanged sink if none.
func RunListener(ctx context.Context, client RPCClient, routes EngineMap, cache *lru.Cache[chain.Hash, *BlockInfo]) error {
	info, err := client.GetBlockDAGInfo(ctx)
	if err != nil {
		return fmt.Errorf("proxy: bootstrap: %w", err)
	}
	sink := info.SinkHash
	log.Info("listener bootstrapped", "sink", sink)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			broadcastExit(routes)
			return nil
		case <-ticker.C:
		}

		nextSink, err := tick(ctx, client, routes, sink, cache)
		sink = nextSink
		if err != nil {
			log.Warn("listener tick failed, retrying next tick", "sink", sink, "err", err)
			continue
		}
	}
}

// tick processes one virtual-chain delta from sink and returns the sink to
// use on the next tick.
func tick(ctx context.Context, client RPCClient, routes EngineMap, sink chain.Hash, cache *lru.Cache[chain.Hash, *BlockInfo]) (chain.Hash, error) {
	delta, err := client.GetVirtualChainFromBlock(ctx, sink, true)
	if err != nil {
		return sink, err
	}

	if len(delta.AddedChainBlocks) == 0 {
		// Removed-without-added blocks are not "lost": the next delta from
		// the same sink will report them again once accompanied by an
		// added block. Left exactly as specified, not redesigned.
		return sink, nil
	}

	for _, removed := range delta.RemovedChainBlockHashes {
		broadcastReverted(routes, removed)
	}

	// lastDispatched tracks the newest block actually committed to the
	// engines this tick. On a dispatch failure partway through, we must
	// return lastDispatched rather than the pre-loop sink: blocks already
	// sent as BlockAccepted must never be redelivered on the next tick's
	// retry, or the engine would re-execute already-applied commands and
	// clobber its revert map with a shorter replacement list.
	lastDispatched := sink
	for _, added := range delta.AddedChainBlocks {
		if err := dispatchAdded(ctx, client, routes, added, cache); err != nil {
			return lastDispatched, err
		}
		lastDispatched = added.AcceptingBlockHash
	}

	return lastDispatched, nil
}

// dispatchAdded resolves the payloads of every transaction in added that
// some registered route requires, then sends each route its own
// BlockAccepted (skipping routes that matched nothing in this block).
func dispatchAdded(ctx context.Context, client RPCClient, routes EngineMap, added AddedChainBlock, cache *lru.Cache[chain.Hash, *BlockInfo]) error {
	if len(added.AcceptedTransactionIDs) == 0 {
		return nil
	}
	accepted := added.AcceptedTransactionIDs[1:] // skip coinbase

	required := make(map[chain.Hash]bool)
	for _, id := range accepted {
		for _, r := range routes {
			if pattern.Match(id, r.Pattern) {
				required[id] = true
				break
			}
		}
	}
	if len(required) == 0 {
		return nil
	}

	header, err := client.GetBlock(ctx, added.AcceptingBlockHash, false)
	if err != nil {
		return fmt.Errorf("fetching accepting block %s: %w", added.AcceptingBlockHash, err)
	}
	if len(header.MergeSetBluesHashes) == 0 || header.SelectedParentHash != header.MergeSetBluesHashes[0] {
		panic(fmt.Sprintf("proxy: selected parent %s is not the first blue merged block of %s", header.SelectedParentHash, added.AcceptingBlockHash))
	}

	resolved := make(map[chain.Hash][]byte, len(required))
	walkMergeset(header, func(blockHash chain.Hash) bool {
		blk, blkErr := getBlockCached(ctx, client, cache, blockHash)
		if blkErr != nil {
			err = fmt.Errorf("fetching merged block %s: %w", blockHash, blkErr)
			return false
		}
		for _, tx := range blk.Transactions {
			if tx.IsCoinbase || !required[tx.ID] {
				continue
			}
			if _, have := resolved[tx.ID]; have {
				continue
			}
			resolved[tx.ID] = tx.Payload
		}
		return len(resolved) < len(required)
	})
	if err != nil {
		return err
	}
	if len(resolved) != len(required) {
		panic(fmt.Sprintf("proxy: mergeset of %s exhausted without resolving all required transactions", added.AcceptingBlockHash))
	}

	for prefix, r := range routes {
		var assoc []engine.AssociatedTx
		for _, id := range accepted {
			if !pattern.Match(id, r.Pattern) {
				continue
			}
			raw, ok := resolved[id]
			if !ok || !payload.CheckHeader(raw, prefix) {
				continue
			}
			assoc = append(assoc, engine.AssociatedTx{TxID: id, Payload: payload.StripHeader(raw)})
		}
		if len(assoc) == 0 {
			continue
		}
		r.Out <- engine.BlockAccepted{
			AcceptingHash: added.AcceptingBlockHash,
			AcceptingDAA:  header.DAAScore,
			AcceptingTime: header.Timestamp,
			AssociatedTxs: assoc,
		}
	}
	return nil
}

// walkMergeset visits blues then reds, calling visit(hash) for each; it
// stops as soon as visit returns false.
func walkMergeset(header *BlockInfo, visit func(chain.Hash) bool) {
	for _, h := range header.MergeSetBluesHashes {
		if !visit(h) {
			return
		}
	}
	for _, h := range header.MergeSetRedsHashes {
		if !visit(h) {
			return
		}
	}
}

func getBlockCached(ctx context.Context, client RPCClient, cache *lru.Cache[chain.Hash, *BlockInfo], hash chain.Hash) (*BlockInfo, error) {
	if cache != nil {
		if blk, ok := cache.Get(hash); ok {
			return blk, nil
		}
	}
	blk, err := client.GetBlock(ctx, hash, true)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.Add(hash, blk)
	}
	return blk, nil
}

func broadcastReverted(routes EngineMap, hash chain.Hash) {
	for _, r := range routes {
		r.Out <- engine.BlockReverted{AcceptingHash: hash}
	}
}

func broadcastExit(routes EngineMap) {
	for _, r := range routes {
		r.Out <- engine.Exit{}
	}
}
