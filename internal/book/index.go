// Package book implements the Priced Order Index: a key-addressable
// priority container holding the resting orders for one side of one
// security's book. It pairs a tidwall/btree ordered structure (for O(log n)
// insert and O(1)-ish peek of the best order) with an auxiliary map from
// order key to its resting node (for O(log n) removal by id, which a plain
// heap cannot offer).
package book

import (
	"github.com/tidwall/btree"

	"lattice/internal/offer"
)

// Entry is a resting order tracked by the index. Amount is mutated in
// place as the order is partially filled; Price and Key never change for
// the lifetime of the resting order.
type Entry struct {
	Key    offer.Key
	Price  uint64
	Amount uint64

	// signedPriority lets both Buy and Sell books share a single
	// ascending comparator: negate price for Buy so that the highest
	// price sorts first, keep it unsigned for Sell so the lowest price
	// sorts first. See spec.md §9 "price sign trick".
	signedPriority int64
}

// Index is a priced, key-addressable priority container for one side of
// one security's book.
type Index struct {
	side offer.Side
	tree *btree.BTreeG[*Entry]
	byID map[offer.Key]*Entry
}

func less(a, b *Entry) bool {
	if a.signedPriority != b.signedPriority {
		return a.signedPriority < b.signedPriority
	}
	return a.Key < b.Key
}

// New constructs an empty index for the given side.
func New(side offer.Side) *Index {
	return &Index{
		side: side,
		tree: btree.NewBTreeG(less),
		byID: make(map[offer.Key]*Entry),
	}
}

func signedPriority(side offer.Side, price uint64) int64 {
	if side == offer.Buy {
		return -int64(price)
	}
	return int64(price)
}

// Push inserts a new resting order. The caller must ensure key is not
// already present.
func (idx *Index) Push(key offer.Key, price, amount uint64) {
	e := &Entry{
		Key:            key,
		Price:          price,
		Amount:         amount,
		signedPriority: signedPriority(idx.side, price),
	}
	idx.tree.Set(e)
	idx.byID[key] = e
}

// Peek returns the best (price-time priority) resting order without
// removing it.
func (idx *Index) Peek() (*Entry, bool) {
	e, ok := idx.tree.Min()
	return e, ok
}

// Pop removes and returns the best resting order.
func (idx *Index) Pop() (*Entry, bool) {
	e, ok := idx.tree.PopMin()
	if !ok {
		return nil, false
	}
	delete(idx.byID, e.Key)
	return e, true
}

// PushBack re-inserts an order with the same key and price but a reduced
// amount, preserving its priority exactly (same signed priority, same
// key). Used when a partial fill leaves a resting remainder.
func (idx *Index) PushBack(e *Entry) {
	idx.tree.Set(e)
	idx.byID[e.Key] = e
}

// Remove excises a resting order by key. Returns false if no such order
// rests in this index.
func (idx *Index) Remove(key offer.Key) bool {
	e, ok := idx.byID[key]
	if !ok {
		return false
	}
	idx.tree.Delete(e)
	delete(idx.byID, key)
	return true
}

// Len reports how many orders currently rest in this index.
func (idx *Index) Len() int {
	return idx.tree.Len()
}
