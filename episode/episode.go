// Package episode defines the contract a user-defined state machine must
// satisfy to run under the engine: a deterministic Execute/Rollback pair
// plus the metadata and error shapes the engine threads through them.
package episode

import (
	"fmt"

	"github.com/kdapp-io/kdapp/chain"
	"github.com/kdapp-io/kdapp/pki"
)

// ID is the 32-bit application-chosen episode identifier. It must be
// unique within one engine instance; a colliding NewEpisode is ignored.
type ID = uint32

// PayloadMetadata is the immutable ledger context a command was carried in.
type PayloadMetadata struct {
	AcceptingHash chain.Hash
	AcceptingDAA  uint64
	AcceptingTime uint64
	TxID          chain.Hash
}

// Kind enumerates the engine-level error conditions surfaced by Execute and
// by the wrapper's rollback bookkeeping.
type Kind int

const (
	// KindUnauthorized means a command that required a signature arrived
	// with none.
	KindUnauthorized Kind = iota
	// KindInvalidSignature means a signature was present but did not verify.
	KindInvalidSignature
	// KindInvalidCommand wraps a domain error from the episode itself.
	KindInvalidCommand
	// KindDeleteEpisode is emitted by the wrapper when a rollback is
	// requested but the stack is empty: the next unwind would cross the
	// episode's creation boundary, so the episode must be deleted instead.
	KindDeleteEpisode
)

// Error is the error type Execute and the wrapper return. For
// KindInvalidCommand, Cause holds the episode's own domain error and is
// reachable via errors.Unwrap/errors.As.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnauthorized:
		return "participant is not authorized in this episode"
	case KindInvalidSignature:
		return "signature verification failed"
	case KindInvalidCommand:
		return fmt.Sprintf("invalid command: %v", e.Cause)
	case KindDeleteEpisode:
		return "episode no longer valid"
	default:
		return "unknown episode error"
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Unauthorized constructs a KindUnauthorized error.
func Unauthorized() *Error { return &Error{Kind: KindUnauthorized} }

// InvalidSignature constructs a KindInvalidSignature error.
func InvalidSignature() *Error { return &Error{Kind: KindInvalidSignature} }

// DeleteEpisode constructs a KindDeleteEpisode error.
func DeleteEpisode() *Error { return &Error{Kind: KindDeleteEpisode} }

// InvalidCommand wraps a domain error from the episode as KindInvalidCommand.
func InvalidCommand(cause error) *Error { return &Error{Kind: KindInvalidCommand, Cause: cause} }

// Episode is the state machine contract the engine drives. C is the
// command type, R is the opaque rollback object Execute returns and
// Rollback later consumes. Construction is modeled as a separate Factory
// function rather than an interface method, since Go interfaces cannot
// express "a method that returns Self" the way the original trait's
// associated `initialize` function does.
type Episode[C any, R any] interface {
	// Execute advances the episode's state, optionally under an already
	// verified authorization. It returns a rollback object that exactly
	// reverses this call, or an error if the command is rejected.
	Execute(cmd C, authorization *pki.PubKey, metadata *PayloadMetadata) (R, error)

	// Rollback reverses a previous Execute call. It returns whether the
	// state was restored cleanly; false indicates a bug in the episode
	// implementation and is logged but not treated as fatal.
	Rollback(r R) bool
}

// Factory constructs a new episode instance for a NewEpisode command.
type Factory[G Episode[C, R], C any, R any] func(participants []pki.PubKey, metadata *PayloadMetadata) G

// EventHandler observes engine state transitions after they commit. Handlers
// are invoked synchronously on the engine's own goroutine/event loop and
// must offload any I/O themselves; the engine makes no timing guarantee
// once it has handed off a notification. Handlers must tolerate duplicate
// notification across reorg replays.
type EventHandler[G Episode[C, R], C any, R any] interface {
	OnInitialize(id ID, ep G)
	OnCommand(id ID, ep G, cmd C, authorization *pki.PubKey, metadata *PayloadMetadata)
	OnRollback(id ID, ep G)
}
