package checkpoint_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kdapp-io/kdapp/chain"
	"github.com/kdapp-io/kdapp/checkpoint"
	"github.com/kdapp-io/kdapp/episode"
)

func openStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	s, err := checkpoint.Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestEpisodeRoundTrip(t *testing.T) {
	s := openStore(t)

	rec := checkpoint.EpisodeRecord[uint64]{
		State:         []byte("serialized-episode"),
		RollbackStack: []uint64{1, 2, 3},
		CreationDAA:   100,
	}
	require.NoError(t, checkpoint.SaveEpisode[uint64](s, 7, rec))

	got, ok, err := checkpoint.LoadEpisode[uint64](s, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec, got)

	_, ok, err = checkpoint.LoadEpisode[uint64](s, 8)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEpisodeDeleteAndList(t *testing.T) {
	s := openStore(t)

	require.NoError(t, checkpoint.SaveEpisode[uint64](s, 1, checkpoint.EpisodeRecord[uint64]{CreationDAA: 1}))
	require.NoError(t, checkpoint.SaveEpisode[uint64](s, 2, checkpoint.EpisodeRecord[uint64]{CreationDAA: 2}))
	require.NoError(t, checkpoint.SaveEpisode[uint64](s, 3, checkpoint.EpisodeRecord[uint64]{CreationDAA: 3}))

	ids, err := s.ListEpisodeIDs()
	require.NoError(t, err)
	require.Equal(t, []episode.ID{1, 2, 3}, ids)

	require.NoError(t, s.DeleteEpisode(2))
	ids, err = s.ListEpisodeIDs()
	require.NoError(t, err)
	require.Equal(t, []episode.ID{1, 3}, ids)
}

func TestSinkRoundTrip(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.LoadSink()
	require.NoError(t, err)
	require.False(t, ok)

	h := chain.Hash{0x01, 0x02, 0x03}
	require.NoError(t, s.SaveSink(h))

	got, ok, err := s.LoadSink()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, h, got)
}

func TestRevertEntriesRoundTrip(t *testing.T) {
	s := openStore(t)

	h := chain.Hash{0xaa}
	entries := []checkpoint.RevertEntry{
		{EpisodeID: 1, Metadata: episode.PayloadMetadata{AcceptingHash: h, AcceptingDAA: 5}},
		{EpisodeID: 2, Metadata: episode.PayloadMetadata{AcceptingHash: h, AcceptingDAA: 5}},
	}
	require.NoError(t, s.SaveRevertEntries(h, entries))

	got, ok, err := s.LoadRevertEntries(h)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entries, got)

	require.NoError(t, s.SaveRevertEntries(h, nil))
	_, ok, err = s.LoadRevertEntries(h)
	require.NoError(t, err)
	require.False(t, ok)
}
