// Package persistor implements the Match Persistor (spec.md §4.D): it
// consumes the engine's MatchOutcome stream and durably records every
// executed trade under a monotonic MatchKey, distinct from the offer-event
// sequence.
package persistor

import (
	"sync"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"lattice/internal/engine"
	"lattice/internal/offer"
	"lattice/internal/storage"
)

// Persistor durably records executed trades.
type Persistor struct {
	tree *storage.Tree
	in   <-chan engine.Outcome

	mu      sync.Mutex
	counter uint64
}

// Open rehydrates the MatchKey counter from the match tree's maximum key
// and returns a Persistor ready to run against in.
func Open(store *storage.Store, in <-chan engine.Outcome) (*Persistor, error) {
	tree := store.Tree(storage.MatchPrefix)
	max, found, err := tree.MaxKeyU64()
	if err != nil {
		return nil, err
	}
	p := &Persistor{tree: tree, in: in}
	if found {
		p.counter = max
	}
	return p, nil
}

// Run drains in until the tomb dies, persisting every non-None outcome.
// Unlike the original Rust implementation's apparent bug (matches.rs's
// start() returns entirely on the first MatchResult::None it sees, which
// would silently stop the whole persistor), a None outcome here is simply
// skipped and the loop continues — see DESIGN.md.
func (p *Persistor) Run(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case o := <-p.in:
			if err := p.persist(o); err != nil {
				log.Error().Err(err).Uint64("offerKey", uint64(o.Key)).Msg("persistor: failed to persist outcome")
			}
		}
	}
}

// persist writes every offer in a non-None outcome's Completed list, in
// order, as spec.md §4.D requires ("completed offers are persisted as-is,
// in order"). It does not separately persist Result.Offer: per spec.md
// §4.B, the engine already appends the derived partial-fill leg to
// Completed with its traded (not original) amount at the moment it
// constructs the Partial result, so Result.Offer always either aliases
// an entry already in Completed or (on the rest-residual / market-discard
// paths) refers to an offer that merely rests or was discarded and was
// never traded — see DESIGN.md for why this departs from a literal
// reading of the original Rust persistor's extra subtraction step.
func (p *Persistor) persist(o engine.Outcome) error {
	if o.Outcome.Result.Kind == offer.None {
		return nil
	}
	for _, completedOffer := range o.Outcome.Completed {
		if err := p.write(completedOffer); err != nil {
			return err
		}
	}
	return nil
}

func (p *Persistor) write(o offer.Offer) error {
	p.mu.Lock()
	p.counter++
	key := offer.Key(p.counter)
	p.mu.Unlock()

	mv := offer.FromOffer(o, o.Value.Amount)
	kb := key.Bytes()
	return p.tree.Put(kb[:], offer.EncodeMatchValue(mv))
}
