package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	"lattice/internal/offer"
)

func ptr(u uint64) *uint64 { return &u }

func newTestEngine(securities ...offer.Security) (*MatchingEngine, chan Outcome, chan Outcome) {
	toRegistrar := make(chan Outcome, 64)
	toPersistor := make(chan Outcome, 64)
	return New(securities, toRegistrar, toPersistor), toRegistrar, toPersistor
}

// runEngine drives m.Run under a tomb for the duration of the test.
func runEngine(t *testing.T, m *MatchingEngine) *tomb.Tomb {
	t.Helper()
	var tm tomb.Tomb
	tm.Go(func() error { return m.Run(&tm) })
	t.Cleanup(func() {
		tm.Kill(nil)
		_ = tm.Wait()
	})
	return &tm
}

func submit(t *testing.T, m *MatchingEngine, key offer.Key, ev offer.Event) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Submit(ctx, key, ev))
}

func awaitOutcome(t *testing.T, ch chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

// Scenario 1: market order against an empty opposite book discards with None.
func TestScenario1_MarketAgainstEmptyBook(t *testing.T) {
	m, toReg, _ := newTestEngine(offer.BTC)
	runEngine(t, m)

	submit(t, m, 1, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Buy, Amount: 10}))
	out := awaitOutcome(t, toReg)

	assert.Equal(t, offer.None, out.Outcome.Result.Kind)
	assert.Empty(t, out.Outcome.Completed)
}

// Scenario 2: limit order with no cross rests unchanged.
func TestScenario2_LimitRestsWithNoCross(t *testing.T) {
	m, toReg, _ := newTestEngine(offer.BTC)
	runEngine(t, m)

	submit(t, m, 2, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Buy, Amount: 5, Price: ptr(32)}))
	out := awaitOutcome(t, toReg)

	assert.Equal(t, offer.None, out.Outcome.Result.Kind)
	top, ok := m.books[offer.BTC].buy.Peek()
	require.True(t, ok)
	assert.Equal(t, offer.Key(2), top.Key)
	assert.Equal(t, uint64(5), top.Amount)
	assert.Equal(t, uint64(32), top.Price)
}

// Scenario 3: market sell crosses the resting buy, fully draining the book;
// the market order's own residual is discarded, not rested.
func TestScenario3_MarketSellDrainsRestingBuyThenDiscardsResidual(t *testing.T) {
	m, toReg, _ := newTestEngine(offer.BTC)
	runEngine(t, m)

	submit(t, m, 2, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Buy, Amount: 5, Price: ptr(32)}))
	awaitOutcome(t, toReg)

	submit(t, m, 3, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Sell, Amount: 8}))
	out := awaitOutcome(t, toReg)

	require.Equal(t, offer.Partial, out.Outcome.Result.Kind)
	assert.Equal(t, offer.Key(3), out.Outcome.Result.Offer.Key)
	assert.Equal(t, uint64(5), out.Outcome.Result.FilledAmount)
	require.Len(t, out.Outcome.Completed, 1)
	assert.Equal(t, offer.Key(2), out.Outcome.Completed[0].Key)
	assert.Equal(t, uint64(5), out.Outcome.Completed[0].Value.Amount)

	_, ok := m.books[offer.BTC].buy.Peek()
	assert.False(t, ok, "buy book must be empty")
	_, ok = m.books[offer.BTC].sell.Peek()
	assert.False(t, ok, "market residual must be discarded, not rested")
}

// Scenario 4 & 5: a resting sell limit, then an exact-amount crossing buy
// produces one Complete outcome with both legs in completed.
func TestScenario4And5_ExactCrossProducesComplete(t *testing.T) {
	m, toReg, _ := newTestEngine(offer.BTC)
	runEngine(t, m)

	submit(t, m, 4, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Sell, Amount: 6, Price: ptr(33)}))
	out4 := awaitOutcome(t, toReg)
	assert.Equal(t, offer.None, out4.Outcome.Result.Kind)

	submit(t, m, 5, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Buy, Amount: 6, Price: ptr(33)}))
	out5 := awaitOutcome(t, toReg)

	require.Equal(t, offer.Complete, out5.Outcome.Result.Kind)
	require.Len(t, out5.Outcome.Completed, 2)
	assert.Equal(t, offer.Key(4), out5.Outcome.Completed[0].Key)
	assert.Equal(t, offer.Key(5), out5.Outcome.Completed[1].Key)

	_, ok := m.books[offer.BTC].buy.Peek()
	assert.False(t, ok)
	_, ok = m.books[offer.BTC].sell.Peek()
	assert.False(t, ok)
}

// Scenario 6: a large resting buy survives a smaller crossing sell, keeping
// its original key and priority, reduced by the filled amount.
func TestScenario6_PartialFillRestingExceedsIncoming(t *testing.T) {
	m, toReg, _ := newTestEngine(offer.BTC)
	runEngine(t, m)

	submit(t, m, 6, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Buy, Amount: 10, Price: ptr(50)}))
	awaitOutcome(t, toReg)

	submit(t, m, 7, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Sell, Amount: 4, Price: ptr(40)}))
	out7 := awaitOutcome(t, toReg)

	require.Equal(t, offer.Partial, out7.Outcome.Result.Kind)
	assert.Equal(t, offer.Key(6), out7.Outcome.Result.Offer.Key)
	assert.Equal(t, uint64(4), out7.Outcome.Result.Offer.Value.Amount)
	assert.Equal(t, uint64(4), out7.Outcome.Result.FilledAmount)
	require.Len(t, out7.Outcome.Completed, 2)

	top, ok := m.books[offer.BTC].buy.Peek()
	require.True(t, ok)
	assert.Equal(t, offer.Key(6), top.Key)
	assert.Equal(t, uint64(6), top.Amount)
}

// Conservation law: the sum filled on the incoming side equals the sum
// filled on the resting side across a cross that drains multiple levels.
func TestConservation_FilledAmountsBalanceAcrossMultipleLevels(t *testing.T) {
	m, toReg, _ := newTestEngine(offer.BTC)
	runEngine(t, m)

	submit(t, m, 1, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Sell, Amount: 3, Price: ptr(10)}))
	awaitOutcome(t, toReg)
	submit(t, m, 2, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Sell, Amount: 4, Price: ptr(11)}))
	awaitOutcome(t, toReg)

	submit(t, m, 3, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Buy, Amount: 5, Price: ptr(11)}))
	out := awaitOutcome(t, toReg)

	require.Equal(t, offer.Partial, out.Outcome.Result.Kind)
	var restingFilled uint64
	var incomingFilled uint64
	for _, c := range out.Outcome.Completed {
		if c.Key == 3 {
			incomingFilled += c.Value.Amount
		} else {
			restingFilled += c.Value.Amount
		}
	}
	assert.Equal(t, restingFilled, incomingFilled)
	// Result.FilledAmount is the amount consumed from the last crossed
	// level only (spec.md §4.B step 3's "a > remaining" branch reports
	// remaining at the point of return), not the incoming order's
	// cumulative fill across every level it crossed.
	assert.Equal(t, uint64(2), out.Outcome.Result.FilledAmount)
}

// Delete idempotence: deleting a resting key removes it, deleting the same
// key again is a no-op, and the engine emits an outcome for the subscriber
// both times.
func TestDeleteIdempotence(t *testing.T) {
	m, toReg, _ := newTestEngine(offer.BTC)
	runEngine(t, m)

	submit(t, m, 1, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Buy, Amount: 5, Price: ptr(20)}))
	awaitOutcome(t, toReg)

	submit(t, m, 2, offer.DeleteEvent(1))
	out := awaitOutcome(t, toReg)
	assert.Equal(t, offer.None, out.Outcome.Result.Kind)
	_, ok := m.books[offer.BTC].buy.Peek()
	assert.False(t, ok)

	submit(t, m, 3, offer.DeleteEvent(1))
	out2 := awaitOutcome(t, toReg)
	assert.Equal(t, offer.None, out2.Outcome.Result.Kind)
}

// Out-of-order delivery: the engine buffers a gap and replays once it
// closes, producing the same result as in-order delivery. The first key a
// fresh engine sees anchors its cursor, so key 1 is sent first and key 3
// then arrives ahead of key 2.
func TestOutOfOrderDeliveryReplaysInKeyOrder(t *testing.T) {
	m, toReg, _ := newTestEngine(offer.BTC)
	runEngine(t, m)

	submit(t, m, 1, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Buy, Amount: 1, Price: ptr(1)}))
	awaitOutcome(t, toReg)

	submit(t, m, 3, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Sell, Amount: 5, Price: ptr(10)}))
	submit(t, m, 2, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Buy, Amount: 5, Price: ptr(10)}))

	out1 := awaitOutcome(t, toReg)
	out2 := awaitOutcome(t, toReg)
	assert.Equal(t, offer.Key(2), out1.Key)
	assert.Equal(t, offer.Key(3), out2.Key)
	assert.Equal(t, offer.None, out1.Outcome.Result.Kind)
	assert.Equal(t, offer.Complete, out2.Outcome.Result.Kind)
}

// Replay determinism: two fresh engines fed the identical event sequence
// produce identical outcome streams.
func TestReplayDeterminism(t *testing.T) {
	events := []struct {
		key offer.Key
		ev  offer.Event
	}{
		{1, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Buy, Amount: 10, Price: ptr(50)})},
		{2, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Sell, Amount: 4, Price: ptr(40)})},
		{3, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Sell, Amount: 6, Price: ptr(50)})},
	}

	run := func() []offer.MatchOutcome {
		m, toReg, _ := newTestEngine(offer.BTC)
		runEngine(t, m)
		var out []offer.MatchOutcome
		for _, e := range events {
			submit(t, m, e.key, e.ev)
			out = append(out, awaitOutcome(t, toReg).Outcome)
		}
		return out
	}

	a := run()
	b := run()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}
}

// Both downstream consumers (registrar, persistor) receive every outcome,
// independently of each other (the T-split).
func TestEmitTSplitsToBothConsumers(t *testing.T) {
	m, toReg, toPers := newTestEngine(offer.BTC)
	runEngine(t, m)

	submit(t, m, 1, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Buy, Amount: 1, Price: ptr(1)}))
	outReg := awaitOutcome(t, toReg)
	outPers := awaitOutcome(t, toPers)
	assert.Equal(t, outReg, outPers)
}

// A single engine instance routes Add events by security into independent
// books, and a cross on one security never touches another's book.
func TestMultiSecurityIsolation(t *testing.T) {
	m, toReg, _ := newTestEngine(offer.BTC, offer.USD)
	runEngine(t, m)

	submit(t, m, 1, offer.AddEvent(offer.Value{Security: offer.BTC, Side: offer.Buy, Amount: 5, Price: ptr(10)}))
	awaitOutcome(t, toReg)
	submit(t, m, 2, offer.AddEvent(offer.Value{Security: offer.USD, Side: offer.Sell, Amount: 5, Price: ptr(10)}))
	out := awaitOutcome(t, toReg)

	assert.Equal(t, offer.None, out.Outcome.Result.Kind, "same price/amount on a different security must not cross")
	_, ok := m.books[offer.BTC].buy.Peek()
	assert.True(t, ok)
	_, ok = m.books[offer.USD].sell.Peek()
	assert.True(t, ok)
}
