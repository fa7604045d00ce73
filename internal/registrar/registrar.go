// Package registrar implements the Subscription Registrar (spec.md §4.E):
// a map from OfferKey to a one-shot completer that resumes the accepting
// request once the engine's outcome for that key arrives.
package registrar

import (
	"sync"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"lattice/internal/engine"
	"lattice/internal/offer"
)

// Registrar holds pending one-shot completers keyed by OfferKey. Every
// public method is safe for concurrent use.
type Registrar struct {
	mu       sync.Mutex
	pending  map[offer.Key]chan offer.MatchOutcome
	fromEng  <-chan engine.Outcome
}

// New constructs a Registrar that drains fromEngine (the engine's
// outcome T-split, see internal/engine) to fulfil completers.
func New(fromEngine <-chan engine.Outcome) *Registrar {
	return &Registrar{
		pending: make(map[offer.Key]chan offer.MatchOutcome),
		fromEng: fromEngine,
	}
}

// Register inserts a completer for key. It must be called before the
// offer is dispatched to the engine (spec.md §5: "the registrar insert
// happens before the dispatch send; therefore when an outcome arrives at
// the drain, its completer is guaranteed to be present"). The returned
// channel receives exactly one value.
func (r *Registrar) Register(key offer.Key) <-chan offer.MatchOutcome {
	ch := make(chan offer.MatchOutcome, 1)
	r.mu.Lock()
	r.pending[key] = ch
	r.mu.Unlock()
	return ch
}

// Abandon removes a completer without fulfilling it, e.g. if dispatch to
// the engine failed after Register succeeded. It is a no-op if the
// completer was already fulfilled and removed.
func (r *Registrar) Abandon(key offer.Key) {
	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()
}

// Run drains fromEngine until the tomb dies, fulfilling each arriving
// outcome's completer exactly once (spec.md §4.E). If the request that
// registered the completer was already cancelled, the buffered channel
// absorbs the send and is garbage collected — the slot is still reclaimed
// here rather than leaking.
func (r *Registrar) Run(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case o := <-r.fromEng:
			r.fulfil(o)
		}
	}
}

func (r *Registrar) fulfil(o engine.Outcome) {
	r.mu.Lock()
	ch, ok := r.pending[o.Key]
	if ok {
		delete(r.pending, o.Key)
	}
	r.mu.Unlock()

	if !ok {
		// Missing subscription for a sequenced key is a fatal invariant
		// violation per spec.md §7 ("InvariantViolation ... missing
		// subscription"); the insert-before-dispatch ordering guarantee
		// (spec.md §5) means this should never happen in correct
		// operation.
		log.Fatal().Uint64("offerKey", uint64(o.Key)).Msg("registrar: no pending completer for outcome")
		return
	}

	// Buffered with capacity 1: this never blocks, so an abandoned
	// request's completer is still fulfilled and then dropped, exactly
	// once, as spec.md §4.E requires.
	ch <- o.Outcome
}
