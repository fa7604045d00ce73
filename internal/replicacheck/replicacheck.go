// Package replicacheck implements the Replica Cross-Check (spec.md §4.F):
// on the primary, the same sequenced offer event is fanned out to two
// peers' inner endpoints, and their MatchOutcomes are compared against
// the primary's own for equality as an availability/correctness probe,
// never as a barrier to answering the client.
package replicacheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"lattice/internal/offer"
)

// innerRequest is the wire body POSTed to a peer's /offers_inner, pairing
// the sequenced key with its event (spec.md §6).
type innerRequest struct {
	Key   uint64        `json:"key"`
	Event eventWireForm `json:"event"`
}

// eventWireForm is the JSON rendering of offer.Event per spec.md §6:
// {"Add": {...}} or {"Delete": <u64>}.
type eventWireForm struct {
	Add    *valueWireForm `json:"Add,omitempty"`
	Delete *uint64        `json:"Delete,omitempty"`
}

type valueWireForm struct {
	Security uint16  `json:"security"`
	Side     uint8   `json:"side"`
	Amount   uint64  `json:"amount"`
	Price    *uint64 `json:"price"`
}

func toWireForm(ev offer.Event) eventWireForm {
	if ev.Add != nil {
		return eventWireForm{Add: &valueWireForm{
			Security: uint16(ev.Add.Security),
			Side:     uint8(ev.Add.Side),
			Amount:   ev.Add.Amount,
			Price:    ev.Add.Price,
		}}
	}
	k := uint64(*ev.Delete)
	return eventWireForm{Delete: &k}
}

// outcomeWireForm is the JSON rendering of offer.MatchOutcome a peer's
// /offers_inner returns.
type outcomeWireForm struct {
	Result    resultWireForm `json:"result"`
	Completed []offerWireForm `json:"completed"`
}

type resultWireForm struct {
	Kind         uint8          `json:"kind"`
	Offer        *offerWireForm `json:"offer,omitempty"`
	FilledAmount uint64         `json:"filled_amount,omitempty"`
}

type offerWireForm struct {
	Key   uint64        `json:"key"`
	Value valueWireForm `json:"value"`
}

// Checker fans out sequenced offer events to two peers and compares their
// outcomes against the primary's own.
type Checker struct {
	client      *resty.Client
	peerURLs    []string
	errorCount  atomic.Uint64
}

// New builds a Checker targeting peerURLs, each call bounded by timeout.
// The retry configuration mirrors 0xtitan6-polymarket-mm's exchange
// client: retry on 5xx, bounded backoff.
func New(peerURLs []string, timeout time.Duration) *Checker {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &Checker{client: client, peerURLs: peerURLs}
}

// ErrorCount returns the replica-local mismatch counter (spec.md §6
// GET /num_errors).
func (c *Checker) ErrorCount() uint64 {
	return c.errorCount.Load()
}

type peerResult struct {
	outcome offer.MatchOutcome
	ok      bool
}

// Pending is an in-flight fan-out to both peers, started before the local
// engine has produced its own outcome so the peer round-trips and local
// matching proceed concurrently (spec.md §4.F: "in parallel (a) submit to
// local engine ... (b) POST ... to peer1 and peer2").
type Pending struct {
	results chan peerResult
	n       int
}

// Start fans the sequenced event out to both peers immediately, without
// waiting for a local outcome. Call Finish once the local outcome is
// known to complete the comparison.
func (c *Checker) Start(ctx context.Context, key offer.Key, ev offer.Event) *Pending {
	p := &Pending{results: make(chan peerResult, len(c.peerURLs)), n: len(c.peerURLs)}
	for _, base := range c.peerURLs {
		base := base
		go func() {
			outcome, err := c.callPeer(ctx, base, key, ev)
			if err != nil {
				log.Warn().Err(err).Str("peer", base).Uint64("offerKey", uint64(key)).Msg("replicacheck: peer call failed, treating as disagreement")
				p.results <- peerResult{ok: false}
				return
			}
			p.results <- peerResult{outcome: outcome, ok: true}
		}()
	}
	return p
}

// Finish awaits both peers' outcomes and compares them and the caller's
// local outcome pairwise for equality (spec.md §4.F). Peer failures count
// as disagreement. It never returns an error to fail the client request —
// a mismatch only increments the replica-local error counter. The returned
// bool reports whether all three outcomes agreed, so callers can still
// report "error" in the response body per spec.md §4.F/§6 without failing
// the request.
func (c *Checker) Finish(p *Pending, local offer.MatchOutcome) bool {
	agree := true
	for i := 0; i < p.n; i++ {
		r := <-p.results
		if !r.ok || !outcomesEqual(r.outcome, local) {
			agree = false
		}
	}
	if !agree {
		c.errorCount.Add(1)
	}
	return agree
}

// Check is a convenience wrapper combining Start and Finish for callers
// that already have the local outcome in hand.
func (c *Checker) Check(ctx context.Context, key offer.Key, ev offer.Event, local offer.MatchOutcome) bool {
	if len(c.peerURLs) == 0 {
		return true
	}
	return c.Finish(c.Start(ctx, key, ev), local)
}

func (c *Checker) callPeer(ctx context.Context, base string, key offer.Key, ev offer.Event) (offer.MatchOutcome, error) {
	req := innerRequest{Key: uint64(key), Event: toWireForm(ev)}

	var wire outcomeWireForm
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&wire).
		Post(base + "/offers_inner")
	if err != nil {
		return offer.MatchOutcome{}, fmt.Errorf("replicacheck: post to %s: %w", base, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return offer.MatchOutcome{}, fmt.Errorf("replicacheck: %s returned status %d", base, resp.StatusCode())
	}
	return fromWireForm(wire), nil
}

func fromWireForm(w outcomeWireForm) offer.MatchOutcome {
	result := offer.Result{Kind: offer.ResultKind(w.Result.Kind), FilledAmount: w.Result.FilledAmount}
	if w.Result.Offer != nil {
		result.Offer = offerFromWire(*w.Result.Offer)
	}
	// Left nil when empty, as the local engine leaves it, so that
	// outcomesEqual does not see null and [] as a disagreement.
	var completed []offer.Offer
	for _, o := range w.Completed {
		completed = append(completed, offerFromWire(o))
	}
	return offer.MatchOutcome{Result: result, Completed: completed}
}

func offerFromWire(w offerWireForm) offer.Offer {
	return offer.Offer{
		Key: offer.Key(w.Key),
		Value: offer.Value{
			Security: offer.Security(w.Value.Security),
			Side:     offer.Side(w.Value.Side),
			Amount:   w.Value.Amount,
			Price:    w.Value.Price,
		},
	}
}

func outcomesEqual(a, b offer.MatchOutcome) bool {
	encA, _ := json.Marshal(a)
	encB, _ := json.Marshal(b)
	return string(encA) == string(encB)
}
