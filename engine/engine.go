package engine

import (
	"errors"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/kdapp-io/kdapp/chain"
	"github.com/kdapp-io/kdapp/episode"
	"github.com/kdapp-io/kdapp/pki"
)

// EpisodeLifetime (in accepting DAA score) bounds how long a forgotten
// episode is retained before it is aged out: three days at ten DAA units
// per second.
const EpisodeLifetime = 2_592_000

// SampleRemovalTime bounds how often age-out scans run: half a day.
const SampleRemovalTime = 432_000

type revertEntry struct {
	EpisodeID episode.ID
	Metadata  episode.PayloadMetadata
}

// NoopEventHandler implements episode.EventHandler with no-op methods, for
// callers that only need the engine's state-machine semantics.
type NoopEventHandler[G episode.Episode[C, R], C any, R any] struct{}

func (NoopEventHandler[G, C, R]) OnInitialize(episode.ID, G) {}
func (NoopEventHandler[G, C, R]) OnCommand(episode.ID, G, C, *pki.PubKey, *episode.PayloadMetadata) {}
func (NoopEventHandler[G, C, R]) OnRollback(episode.ID, G) {}

// Engine owns every live episode of one type and applies the ordered
// message stream a listener feeds it. A single Engine value is meant to be
// driven by exactly one goroutine; it keeps no internal synchronization.
type Engine[G episode.Episode[C, R], C any, R any] struct {
	episodes    map[episode.ID]*episodeWrapper[G, C, R]
	revertMap   map[chain.Hash][]revertEntry
	creationDAA map[episode.ID]uint64
	nextFilterDAA uint64

	factory  episode.Factory[G, C, R]
	handlers []episode.EventHandler[G, C, R]
}

// New constructs an Engine with no live episodes.
func New[G episode.Episode[C, R], C any, R any](
	factory episode.Factory[G, C, R],
	handlers ...episode.EventHandler[G, C, R],
) *Engine[G, C, R] {
	return &Engine[G, C, R]{
		episodes:    make(map[episode.ID]*episodeWrapper[G, C, R]),
		revertMap:   make(map[chain.Hash][]revertEntry),
		creationDAA: make(map[episode.ID]uint64),
		factory:     factory,
		handlers:    handlers,
	}
}

// Run drives the engine's message loop until it receives Exit or inbound
// is closed. It performs only bounded CPU work per message: one envelope
// parse, one signature verify, one episode transition, handler fan-out.
func (e *Engine[G, C, R]) Run(inbound <-chan Msg) {
	for msg := range inbound {
		switch m := msg.(type) {
		case BlockAccepted:
			e.handleBlockAccepted(m)
		case BlockReverted:
			e.handleBlockReverted(m)
		case Exit:
			return
		}
	}
}

// EpisodeCount reports the number of currently live episodes. Exposed for
// tests and for applications that want to observe engine size without
// reaching into its internals.
func (e *Engine[G, C, R]) EpisodeCount() int { return len(e.episodes) }

func (e *Engine[G, C, R]) handleBlockAccepted(m BlockAccepted) {
	e.ageOutEpisodes(m.AcceptingDAA)

	var reverts []revertEntry
	for _, tx := range m.AssociatedTxs {
		var msg EpisodeMessage[C]
		if err := rlp.DecodeBytes(tx.Payload, &msg); err != nil {
			log.Warn("payload rejected, parsing error", "payload", tx.Payload, "err", err)
			continue
		}
		if msg.Kind == KindRevert {
			log.Warn("illegal revert attempted, ignoring", "episodeId", msg.EpisodeID)
			continue
		}
		metadata := episode.PayloadMetadata{
			AcceptingHash: m.AcceptingHash,
			AcceptingDAA:  m.AcceptingDAA,
			AcceptingTime: m.AcceptingTime,
			TxID:          tx.TxID,
		}
		if entry, ok := e.handleMessage(msg, &metadata); ok {
			reverts = append(reverts, entry)
		}
	}
	e.revertMap[m.AcceptingHash] = reverts
}

func (e *Engine[G, C, R]) handleBlockReverted(m BlockReverted) {
	entries, ok := e.revertMap[m.AcceptingHash]
	if !ok {
		return
	}
	delete(e.revertMap, m.AcceptingHash)

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		msg := EpisodeMessage[C]{Kind: KindRevert, EpisodeID: entry.EpisodeID}
		metadata := entry.Metadata
		if _, produced := e.handleMessage(msg, &metadata); produced {
			panic("engine: processing a revert unexpectedly produced a revert-map entry")
		}
	}
}

// ageOutEpisodes drops episodes whose creation DAA has fallen more than
// EpisodeLifetime behind acceptingDAA. It runs at most once per
// SampleRemovalTime of DAA advance, using the last observed accepting DAA
// as its clock rather than wall time — a process that falls behind the
// ledger ages episodes out more slowly, which mirrors the original.
func (e *Engine[G, C, R]) ageOutEpisodes(acceptingDAA uint64) {
	if acceptingDAA <= e.nextFilterDAA+SampleRemovalTime {
		return
	}
	var threshold uint64
	if acceptingDAA > EpisodeLifetime {
		threshold = acceptingDAA - EpisodeLifetime
	}
	for id, creationDAA := range e.creationDAA {
		if creationDAA < threshold {
			delete(e.episodes, id)
			delete(e.creationDAA, id)
		}
	}
	e.nextFilterDAA = acceptingDAA
}

// handleMessage applies a single envelope and reports the revert-map entry
// to record for it, if any. Only NewEpisode/SignedCommand/UnsignedCommand
// that succeed produce an entry; Revert never does.
func (e *Engine[G, C, R]) handleMessage(msg EpisodeMessage[C], metadata *episode.PayloadMetadata) (revertEntry, bool) {
	switch msg.Kind {
	case KindNewEpisode:
		return e.handleNewEpisode(msg, metadata)
	case KindSignedCommand:
		return e.handleSignedCommand(msg, metadata)
	case KindUnsignedCommand:
		return e.handleUnsignedCommand(msg, metadata)
	case KindRevert:
		e.handleRevert(msg, metadata)
		return revertEntry{}, false
	default:
		log.Warn("unknown envelope kind, ignoring", "kind", msg.Kind)
		return revertEntry{}, false
	}
}

func (e *Engine[G, C, R]) handleNewEpisode(msg EpisodeMessage[C], metadata *episode.PayloadMetadata) (revertEntry, bool) {
	if _, exists := e.episodes[msg.EpisodeID]; exists {
		log.Warn("episode already exists", "episodeId", msg.EpisodeID)
		return revertEntry{}, false
	}
	w := newEpisodeWrapper[G, C, R](e.factory, msg.Participants, metadata)
	for _, h := range e.handlers {
		h.OnInitialize(msg.EpisodeID, w.ep)
	}
	e.episodes[msg.EpisodeID] = w
	e.creationDAA[msg.EpisodeID] = metadata.AcceptingDAA
	log.Debug("episode created", "episodeId", msg.EpisodeID)
	return revertEntry{EpisodeID: msg.EpisodeID, Metadata: *metadata}, true
}

func (e *Engine[G, C, R]) handleSignedCommand(msg EpisodeMessage[C], metadata *episode.PayloadMetadata) (revertEntry, bool) {
	w, ok := e.episodes[msg.EpisodeID]
	if !ok {
		log.Warn("episode not found", "episodeId", msg.EpisodeID)
		return revertEntry{}, false
	}
	if err := w.executeSigned(msg.Cmd, msg.PubKey, msg.Sig, metadata); err != nil {
		log.Warn("command rejected", "episodeId", msg.EpisodeID, "cmd", msg.Cmd, "err", err)
		return revertEntry{}, false
	}
	pub := msg.PubKey
	for _, h := range e.handlers {
		h.OnCommand(msg.EpisodeID, w.ep, msg.Cmd, &pub, metadata)
	}
	return revertEntry{EpisodeID: msg.EpisodeID, Metadata: *metadata}, true
}

func (e *Engine[G, C, R]) handleUnsignedCommand(msg EpisodeMessage[C], metadata *episode.PayloadMetadata) (revertEntry, bool) {
	w, ok := e.episodes[msg.EpisodeID]
	if !ok {
		log.Warn("episode not found", "episodeId", msg.EpisodeID)
		return revertEntry{}, false
	}
	if err := w.executeUnsigned(msg.Cmd, metadata); err != nil {
		log.Warn("command rejected", "episodeId", msg.EpisodeID, "cmd", msg.Cmd, "err", err)
		return revertEntry{}, false
	}
	for _, h := range e.handlers {
		h.OnCommand(msg.EpisodeID, w.ep, msg.Cmd, nil, metadata)
	}
	return revertEntry{EpisodeID: msg.EpisodeID, Metadata: *metadata}, true
}

func (e *Engine[G, C, R]) handleRevert(msg EpisodeMessage[C], metadata *episode.PayloadMetadata) {
	w, ok := e.episodes[msg.EpisodeID]
	if !ok {
		log.Warn("episode not found", "episodeId", msg.EpisodeID)
		return
	}
	log.Info("reverting command", "episodeId", msg.EpisodeID, "txId", metadata.TxID)
	err := w.rollback()
	for _, h := range e.handlers {
		h.OnRollback(msg.EpisodeID, w.ep)
	}
	var epErr *episode.Error
	if errors.As(err, &epErr) && epErr.Kind == episode.KindDeleteEpisode {
		delete(e.episodes, msg.EpisodeID)
		delete(e.creationDAA, msg.EpisodeID)
	}
}
