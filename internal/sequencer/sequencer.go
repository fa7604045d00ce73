// Package sequencer implements spec.md §4.C: it mints the monotonic
// OfferKey for each accepted offer and durably appends the offer event to
// the offer-event tree before the offer is dispatched anywhere else.
package sequencer

import (
	"fmt"
	"sync"

	"lattice/internal/offer"
	"lattice/internal/storage"
)

// Sequencer allocates OfferKeys and durably logs offer events. Allocation
// and the durable write are done under one lock so that a write failure
// never reserves a key (spec.md §7 "LogWriteFailed ... no sequence number
// is reserved on failure because it is allocated just-in-time") and so
// that the no-gaps invariant (spec.md §3) holds even under concurrent
// accepts.
type Sequencer struct {
	tree    *storage.Tree
	mu      sync.Mutex
	counter uint64
}

// Open rehydrates the OfferKey counter from the maximum key already
// present in the offer-event tree (original_source/src/offers/handler.rs's
// get_max_key probe) and returns a ready Sequencer.
func Open(store *storage.Store) (*Sequencer, error) {
	tree := store.Tree(storage.OfferEventPrefix)
	max, found, err := tree.MaxKeyU64()
	if err != nil {
		return nil, fmt.Errorf("sequencer: rehydrate counter: %w", err)
	}
	s := &Sequencer{tree: tree}
	if found {
		s.counter = max
	}
	return s, nil
}

// Accept allocates the next OfferKey, durably appends (key, ev) to the
// offer-event tree (fsync'd before this call returns, since the
// underlying Store is opened with SyncWrites), and returns the key the
// caller must now dispatch to the engine and register with the
// subscription registrar. On a durable-write failure the tentative key
// is never exposed or counted, so the replica's OfferKey sequence stays
// contiguous.
func (s *Sequencer) Accept(ev offer.Event) (offer.Key, error) {
	encoded, err := offer.EncodeEvent(ev)
	if err != nil {
		return 0, fmt.Errorf("sequencer: encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := offer.Key(s.counter + 1)
	kb := key.Bytes()
	if err := s.tree.Put(kb[:], encoded); err != nil {
		return 0, fmt.Errorf("sequencer: durable append: %w", err)
	}
	s.counter++
	return key, nil
}
