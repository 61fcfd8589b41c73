// Package checkpoint is the optional persistence layer applications use to
// survive a restart without replaying the chain from genesis. The core
// engine and listener are in-memory by design; this package gives an
// application a concrete place to put the three things the external
// interface spec requires it capture: per-episode state (id, serialized
// state, rollback stack, creation DAA), the listener's sink, and the
// engine's revert map.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/kdapp-io/kdapp/chain"
	"github.com/kdapp-io/kdapp/episode"
)

// Key namespaces, one byte each so ordered iteration within a namespace is
// a simple prefix scan.
const (
	nsEpisode byte = 'e'
	nsSink    byte = 's'
	nsRevert  byte = 'r'
)

var sinkKey = []byte{nsSink}

// Store is a pebble-backed key-value store for engine/listener checkpoints.
// It is safe for concurrent use; pebble itself serializes writes.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if necessary) a checkpoint store rooted at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("checkpoint: close: %w", err)
	}
	return nil
}

// EpisodeRecord is the durable snapshot of one live episode. State is an
// application-supplied encoding of the episode value itself (typically
// rlp.EncodeToBytes of the concrete episode type, which this package
// cannot name since it is generic over the application's Episode type).
type EpisodeRecord[R any] struct {
	State         []byte
	RollbackStack []R
	CreationDAA   uint64
}

func episodeKey(id episode.ID) []byte {
	k := make([]byte, 5)
	k[0] = nsEpisode
	binary.BigEndian.PutUint32(k[1:], uint32(id))
	return k
}

// SaveEpisode writes or overwrites the checkpoint for id.
func SaveEpisode[R any](s *Store, id episode.ID, rec EpisodeRecord[R]) error {
	enc, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("checkpoint: encoding episode %d: %w", id, err)
	}
	if err := s.db.Set(episodeKey(id), enc, pebble.Sync); err != nil {
		return fmt.Errorf("checkpoint: writing episode %d: %w", id, err)
	}
	return nil
}

// LoadEpisode reads the checkpoint for id, reporting ok=false if none exists.
func LoadEpisode[R any](s *Store, id episode.ID) (rec EpisodeRecord[R], ok bool, err error) {
	raw, closer, getErr := s.db.Get(episodeKey(id))
	if errors.Is(getErr, pebble.ErrNotFound) {
		return rec, false, nil
	}
	if getErr != nil {
		return rec, false, fmt.Errorf("checkpoint: reading episode %d: %w", id, getErr)
	}
	defer closer.Close()
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return rec, false, fmt.Errorf("checkpoint: decoding episode %d: %w", id, err)
	}
	return rec, true, nil
}

// DeleteEpisode removes id's checkpoint, e.g. once the engine has aged the
// episode out or rolled back its creation.
func (s *Store) DeleteEpisode(id episode.ID) error {
	if err := s.db.Delete(episodeKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("checkpoint: deleting episode %d: %w", id, err)
	}
	return nil
}

// ListEpisodeIDs returns every episode id with a stored checkpoint, in
// ascending order.
func (s *Store) ListEpisodeIDs() ([]episode.ID, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{nsEpisode},
		UpperBound: []byte{nsEpisode + 1},
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing episodes: %w", err)
	}
	defer iter.Close()

	var ids []episode.ID
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != 5 {
			continue
		}
		ids = append(ids, episode.ID(binary.BigEndian.Uint32(key[1:])))
	}
	return ids, iter.Error()
}

// SaveSink records the listener's current virtual selected-parent chain tip.
func (s *Store) SaveSink(h chain.Hash) error {
	if err := s.db.Set(sinkKey, h[:], pebble.Sync); err != nil {
		return fmt.Errorf("checkpoint: writing sink: %w", err)
	}
	return nil
}

// LoadSink reads the last recorded sink, reporting ok=false if none was
// ever saved (a fresh application should bootstrap from the ledger instead).
func (s *Store) LoadSink() (h chain.Hash, ok bool, err error) {
	raw, closer, getErr := s.db.Get(sinkKey)
	if errors.Is(getErr, pebble.ErrNotFound) {
		return h, false, nil
	}
	if getErr != nil {
		return h, false, fmt.Errorf("checkpoint: reading sink: %w", getErr)
	}
	defer closer.Close()
	copy(h[:], raw)
	return h, true, nil
}

// RevertEntry mirrors one entry of the engine's in-memory revert map: the
// episode a message affected and the accepting-block metadata to replay on
// unwind.
type RevertEntry struct {
	EpisodeID episode.ID
	Metadata  episode.PayloadMetadata
}

func revertKey(acceptingHash chain.Hash) []byte {
	k := make([]byte, 1+len(acceptingHash))
	k[0] = nsRevert
	copy(k[1:], acceptingHash[:])
	return k
}

// SaveRevertEntries records the ordered revert entries produced while
// applying acceptingHash's block, or deletes the key if entries is empty.
func (s *Store) SaveRevertEntries(acceptingHash chain.Hash, entries []RevertEntry) error {
	if len(entries) == 0 {
		return s.DeleteRevertEntries(acceptingHash)
	}
	enc, err := rlp.EncodeToBytes(entries)
	if err != nil {
		return fmt.Errorf("checkpoint: encoding revert entries for %s: %w", acceptingHash, err)
	}
	if err := s.db.Set(revertKey(acceptingHash), enc, pebble.Sync); err != nil {
		return fmt.Errorf("checkpoint: writing revert entries for %s: %w", acceptingHash, err)
	}
	return nil
}

// LoadRevertEntries reads the revert entries recorded for acceptingHash.
func (s *Store) LoadRevertEntries(acceptingHash chain.Hash) (entries []RevertEntry, ok bool, err error) {
	raw, closer, getErr := s.db.Get(revertKey(acceptingHash))
	if errors.Is(getErr, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if getErr != nil {
		return nil, false, fmt.Errorf("checkpoint: reading revert entries for %s: %w", acceptingHash, getErr)
	}
	defer closer.Close()
	if err := rlp.DecodeBytes(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("checkpoint: decoding revert entries for %s: %w", acceptingHash, err)
	}
	return entries, true, nil
}

// DeleteRevertEntries drops acceptingHash's revert entries once the engine
// has permanently settled past it (an application-defined confirmation
// depth; the core does not enforce one, per spec open question (i)).
func (s *Store) DeleteRevertEntries(acceptingHash chain.Hash) error {
	if err := s.db.Delete(revertKey(acceptingHash), pebble.Sync); err != nil {
		return fmt.Errorf("checkpoint: deleting revert entries for %s: %w", acceptingHash, err)
	}
	return nil
}
