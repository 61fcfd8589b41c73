package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/kdapp-io/kdapp/episode"
	"github.com/kdapp-io/kdapp/pki"
)

// episodeWrapper pairs a user episode with the rollback stack needed to
// reverse every command successfully applied to it since initialization.
// rollbackStack.length always equals the number of successful executes
// since init; NewEpisode does not push an entry, so reverting the
// creation (an empty-stack rollback) destroys the wrapper instead.
type episodeWrapper[G episode.Episode[C, R], C any, R any] struct {
	ep            G
	rollbackStack []R
}

func newEpisodeWrapper[G episode.Episode[C, R], C any, R any](
	factory episode.Factory[G, C, R],
	participants []pki.PubKey,
	metadata *episode.PayloadMetadata,
) *episodeWrapper[G, C, R] {
	return &episodeWrapper[G, C, R]{ep: factory(participants, metadata)}
}

func (w *episodeWrapper[G, C, R]) executeSigned(cmd C, pub pki.PubKey, sig pki.Signature, metadata *episode.PayloadMetadata) error {
	digest, err := pki.ToMessage(cmd)
	if err != nil {
		return err
	}
	if !pki.VerifySignature(pub, digest, sig) {
		return episode.InvalidSignature()
	}
	rb, err := w.ep.Execute(cmd, &pub, metadata)
	if err != nil {
		return err
	}
	w.rollbackStack = append(w.rollbackStack, rb)
	return nil
}

func (w *episodeWrapper[G, C, R]) executeUnsigned(cmd C, metadata *episode.PayloadMetadata) error {
	rb, err := w.ep.Execute(cmd, nil, metadata)
	if err != nil {
		return err
	}
	w.rollbackStack = append(w.rollbackStack, rb)
	return nil
}

// rollback pops the stack and invokes the episode's Rollback. An empty
// stack means the next unwind would cross the creation boundary, so it
// returns episode.DeleteEpisode and leaves state untouched. It never
// returns an error in the success case even if the episode reports a
// structurally unsuccessful rollback; that is logged as a bug the host
// must observe, not propagated.
func (w *episodeWrapper[G, C, R]) rollback() error {
	n := len(w.rollbackStack)
	if n == 0 {
		return episode.DeleteEpisode()
	}
	rb := w.rollbackStack[n-1]
	w.rollbackStack = w.rollbackStack[:n-1]
	if !w.ep.Rollback(rb) {
		log.Error("episode rollback was unsuccessful, indicates a bug in episode or engine code",
			"type", fmt.Sprintf("%T", w.ep))
	}
	return nil
}
