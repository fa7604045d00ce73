// Package offer holds the exchange's core data model: securities, sides,
// offers, offer events and match outcomes. It is imported by every other
// component package and has no dependencies of its own beyond the standard
// library.
package offer

import "fmt"

// Security is an opaque tradeable tag. The engine never inspects it beyond
// equality and uses it only to select a book.
type Security uint16

const (
	BTC Security = iota
	USD
	COP
)

func (s Security) String() string {
	switch s {
	case BTC:
		return "BTC"
	case USD:
		return "USD"
	case COP:
		return "COP"
	default:
		return fmt.Sprintf("Security(%d)", uint16(s))
	}
}

// Side is which side of the book an offer rests or crosses against.
type Side uint8

const (
	Buy Side = iota
	Sell
)

// Opposite returns the side an offer of this side crosses against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	if s == Buy {
		return "Buy"
	}
	return "Sell"
}

// Key is an opaque, per-replica monotonic sequence number. It is the
// durable identity of an accepted offer and doubles as the time-priority
// tiebreaker within a price level.
type Key uint64

// Bytes renders the key as its 8-byte big-endian wire form.
func (k Key) Bytes() [8]byte {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(k)
		k >>= 8
	}
	return b
}

// KeyFromBytes parses an 8-byte big-endian key.
func KeyFromBytes(b []byte) Key {
	var k uint64
	for _, c := range b[:8] {
		k = k<<8 | uint64(c)
	}
	return Key(k)
}

// Value is the immutable payload of an offer: what security, which side,
// how much, and at what price. Price == nil is a market order: it crosses
// at any price against the top of the opposite book and, if unfilled, is
// discarded rather than rested.
type Value struct {
	Security Security
	Side     Side
	Amount   uint64
	Price    *uint64
}

// IsMarket reports whether this value represents a market order.
func (v Value) IsMarket() bool {
	return v.Price == nil
}

// Offer is a resting or executed order: a key paired with its value.
type Offer struct {
	Key   Key
	Value Value
}

// Event is the tagged union the sequencer durably logs and the engine
// consumes: either rest a new offer or cancel a resting one by key.
type Event struct {
	Add    *Value
	Delete *Key
}

// AddEvent constructs an Add event.
func AddEvent(v Value) Event { return Event{Add: &v} }

// DeleteEvent constructs a Delete event.
func DeleteEvent(k Key) Event { return Event{Delete: &k} }

func (e Event) String() string {
	if e.Add != nil {
		return fmt.Sprintf("Add(%+v)", *e.Add)
	}
	if e.Delete != nil {
		return fmt.Sprintf("Delete(%d)", *e.Delete)
	}
	return "Event(empty)"
}

// ResultKind classifies a MatchOutcome.
type ResultKind uint8

const (
	// None: no cross occurred; a limit order rested unchanged, or a
	// market order found nothing to fill and was discarded.
	None ResultKind = iota
	// Partial: either the incoming offer was partly filled and rested,
	// or a resting offer was partly consumed and returned to the book.
	Partial
	// Complete: the incoming offer was fully filled.
	Complete
)

func (r ResultKind) String() string {
	switch r {
	case None:
		return "None"
	case Partial:
		return "Partial"
	case Complete:
		return "Complete"
	default:
		return fmt.Sprintf("ResultKind(%d)", uint8(r))
	}
}

// Result is the outcome classification of processing one offer event.
// Only Partial carries a payload: which offer was left partially filled,
// and by how much the cross filled it.
type Result struct {
	Kind         ResultKind
	Offer        Offer
	FilledAmount uint64
}

// MatchOutcome is what the engine emits for each processed Add/Delete: the
// classification plus every offer leg that traded as a consequence, each
// carrying the amount it traded, persisted downstream in the order given
// here. A residual that rests or is discarded is not listed.
type MatchOutcome struct {
	Result    Result
	Completed []Offer
}
