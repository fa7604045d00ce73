// Package engine implements the Matching Engine (spec.md §4.B): a single
// dedicated worker thread (spec.md §5) matching a sequenced stream of
// offer events against price-time priority books, one Buy/Sell index pair
// per security (spec.md §4.B "State", §3 Non-goals "each security has its
// own logical book"). OfferKeys are minted from one replica-wide counter
// (internal/sequencer), so one engine instance — not one per security —
// owns the single last_processed cursor and not_processed gap buffer,
// exactly as the original engine/mod.rs's Engine<T> does (it carries no
// per-security partitioning at all; spec.md's redesign adds per-security
// books but keeps the single sequential cursor).
package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"lattice/internal/book"
	"lattice/internal/offer"
)

// ErrInvariantViolation marks a condition that is fatal for the engine:
// the owning goroutine logs it and the process aborts.
var ErrInvariantViolation = errors.New("engine: invariant violation")

// sequenced pairs a sequence key with the event it sequences, as delivered
// to the engine's mailbox.
type sequenced struct {
	key offer.Key
	ev  offer.Event
}

// Outcome pairs an emitted MatchOutcome with the OfferKey that produced
// it, since the engine's two downstream consumers (registrar, persistor)
// need to know which offer a given outcome belongs to.
type Outcome struct {
	Key     offer.Key
	Outcome offer.MatchOutcome
}

// sides holds the Buy and Sell Priced Order Index for one security.
type sides struct {
	buy  *book.Index
	sell *book.Index
}

func newSides() *sides {
	return &sides{buy: book.New(offer.Buy), sell: book.New(offer.Sell)}
}

// MatchingEngine matches every configured security's Buy and Sell books
// against one strictly sequenced stream of offer events.
type MatchingEngine struct {
	books map[offer.Security]*sides

	lastProcessed *offer.Key
	notProcessed  map[offer.Key]offer.Event

	mailbox chan sequenced

	// T-split: every outcome is sent to both downstream consumers so
	// that subscription completion and durable persistence are
	// independent (spec.md §4.E).
	toRegistrar chan<- Outcome
	toPersistor chan<- Outcome
}

// New constructs the engine with one Buy/Sell index pair per security in
// securities. toRegistrar and toPersistor must be buffered or drained
// promptly; the engine thread never suspends on anything but its own
// mailbox (spec.md §5).
func New(securities []offer.Security, toRegistrar, toPersistor chan<- Outcome) *MatchingEngine {
	books := make(map[offer.Security]*sides, len(securities))
	for _, s := range securities {
		books[s] = newSides()
	}
	return &MatchingEngine{
		books:        books,
		notProcessed: make(map[offer.Key]offer.Event),
		mailbox:      make(chan sequenced, 256),
		toRegistrar:  toRegistrar,
		toPersistor:  toPersistor,
	}
}

// Submit enqueues a sequenced offer event for processing. It blocks only
// on mailbox capacity, never on matching itself.
func (m *MatchingEngine) Submit(ctx context.Context, key offer.Key, ev offer.Event) error {
	select {
	case m.mailbox <- sequenced{key: key, ev: ev}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the engine's dedicated goroutine until the tomb dies. It is
// strictly sequential: only this goroutine ever touches the books.
func (m *MatchingEngine) Run(t *tomb.Tomb) error {
	log.Info().Msg("matching engine starting")
	for {
		select {
		case <-t.Dying():
			return nil
		case s := <-m.mailbox:
			m.ingest(s.key, s.ev)
		}
	}
}

// ingest applies the sequencing/gap-handling rule from spec.md §4.B: the
// engine expects key == last_processed+1 (or, before anything has been
// processed, the first key it sees becomes the anchor). Out-of-order
// arrivals are buffered in notProcessed and drained once the gap closes.
func (m *MatchingEngine) ingest(key offer.Key, ev offer.Event) {
	if !m.isExpected(key) {
		m.notProcessed[key] = ev
		return
	}
	m.process(key, ev)
	for {
		next := *m.lastProcessed + 1
		pending, ok := m.notProcessed[next]
		if !ok {
			return
		}
		delete(m.notProcessed, next)
		m.process(next, pending)
	}
}

func (m *MatchingEngine) isExpected(key offer.Key) bool {
	if m.lastProcessed == nil {
		return true
	}
	return key == *m.lastProcessed+1
}

func (m *MatchingEngine) process(key offer.Key, ev offer.Event) {
	k := key
	m.lastProcessed = &k

	var out offer.MatchOutcome
	switch {
	case ev.Add != nil:
		out = m.processAdd(key, *ev.Add)
	case ev.Delete != nil:
		out = m.processDelete(*ev.Delete)
	default:
		log.Error().Msg("engine: event with neither Add nor Delete")
		return
	}

	m.emit(Outcome{Key: key, Outcome: out})
}

func (m *MatchingEngine) emit(o Outcome) {
	m.toRegistrar <- o
	m.toPersistor <- o
}

// crosses reports whether a resting entry priced at restPrice is
// crossable against an incoming limit order of side incomingSide priced
// at incomingPrice.
func crosses(incomingSide offer.Side, incomingPrice uint64, restPrice uint64) bool {
	if incomingSide == offer.Buy {
		// Buy crosses a Sell resting order priced at or below its limit.
		return restPrice <= incomingPrice
	}
	// Sell crosses a Buy resting order priced at or above its limit.
	return restPrice >= incomingPrice
}

// processAdd implements the cross-loop and rest-residual algorithm of
// spec.md §4.B, step by step, against the book pair for v.Security. An
// Add for a security this engine was never configured with is treated as
// an invariant violation and aborts the process. The boundary
// (internal/httpapi) does not check against the configured list: the
// JSON codec accepts any of BTC/USD/COP and /offers_inner accepts any
// numeric security tag.
func (m *MatchingEngine) processAdd(key offer.Key, v offer.Value) offer.MatchOutcome {
	s, ok := m.books[v.Security]
	if !ok {
		log.Fatal().Str("security", v.Security.String()).Msg("engine: add for unconfigured security")
	}

	var same, opp *book.Index
	if v.Side == offer.Buy {
		same, opp = s.buy, s.sell
	} else {
		same, opp = s.sell, s.buy
	}

	remaining := v.Amount
	var completed []offer.Offer

	for {
		top, ok := opp.Peek()
		if !ok {
			break
		}
		if !v.IsMarket() && !crosses(v.Side, *v.Price, top.Price) {
			break
		}

		popped, _ := opp.Pop()
		a := popped.Amount

		switch {
		case a > remaining:
			popped.Amount = a - remaining
			opp.PushBack(popped)

			derived := offer.Offer{
				Key: popped.Key,
				Value: offer.Value{
					Security: v.Security,
					Side:     v.Side.Opposite(),
					Amount:   remaining,
					Price:    &popped.Price,
				},
			}
			completed = append(completed, derived)
			result := offer.Result{Kind: offer.Partial, Offer: derived, FilledAmount: remaining}
			completed = appendIncomingIfFullyConsumed(completed, result, key, v)
			return offer.MatchOutcome{Result: result, Completed: completed}

		case a == remaining:
			completed = append(completed, offer.Offer{
				Key: popped.Key,
				Value: offer.Value{
					Security: v.Security,
					Side:     v.Side.Opposite(),
					Amount:   a,
					Price:    &popped.Price,
				},
			})
			result := offer.Result{Kind: offer.Complete}
			completed = appendIncomingIfFullyConsumed(completed, result, key, v)
			return offer.MatchOutcome{Result: result, Completed: completed}

		default: // a < remaining
			completed = append(completed, offer.Offer{
				Key: popped.Key,
				Value: offer.Value{
					Security: v.Security,
					Side:     v.Side.Opposite(),
					Amount:   a,
					Price:    &popped.Price,
				},
			})
			remaining -= a
		}
	}

	incoming := offer.Offer{Key: key, Value: v}

	if !v.IsMarket() {
		same.Push(key, *v.Price, remaining)
		if remaining == v.Amount {
			return offer.MatchOutcome{Result: offer.Result{Kind: offer.None}, Completed: completed}
		}
		result := offer.Result{Kind: offer.Partial, Offer: incoming, FilledAmount: v.Amount - remaining}
		return offer.MatchOutcome{Result: result, Completed: completed}
	}

	// Market order: residual, if any, is discarded rather than rested
	// (spec.md §3, §9 "Market order residual").
	if remaining == v.Amount {
		return offer.MatchOutcome{Result: offer.Result{Kind: offer.None}, Completed: completed}
	}
	result := offer.Result{Kind: offer.Partial, Offer: incoming, FilledAmount: v.Amount - remaining}
	return offer.MatchOutcome{Result: result, Completed: completed}
}

// appendIncomingIfFullyConsumed implements the double-count-avoidance
// rule from spec.md §4.B / SPEC_FULL.md's SUPPLEMENTED FEATURES: the
// incoming offer is appended to completed whenever it was fully consumed
// by the cross, except when the returned Partial already refers to the
// incoming offer's own key (which happens only on the rest-residual and
// market-discard paths, handled outside this function).
func appendIncomingIfFullyConsumed(completed []offer.Offer, result offer.Result, key offer.Key, v offer.Value) []offer.Offer {
	if result.Kind == offer.Complete || (result.Kind == offer.Partial && result.Offer.Key != key) {
		return append(completed, offer.Offer{Key: key, Value: v})
	}
	return completed
}

// processDelete cancels a resting order by key. The original engine's
// delete_offer tries the Buy index, then the Sell index, of its one
// shared book; with per-security books this generalizes to trying every
// configured security's Buy then Sell index, since OfferEvent's Delete
// variant carries no security tag (spec.md §3). Per spec.md §4.B, the
// chosen emission policy (see DESIGN.md) is that Delete still emits an
// empty MatchOutcome so that a registered subscriber always completes.
func (m *MatchingEngine) processDelete(key offer.Key) offer.MatchOutcome {
	for _, s := range m.books {
		if s.buy.Remove(key) {
			break
		}
		if s.sell.Remove(key) {
			break
		}
	}
	return offer.MatchOutcome{Result: offer.Result{Kind: offer.None}, Completed: nil}
}
