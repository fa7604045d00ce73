package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"lattice/internal/offer"
)

// Codec is the boundary seam for body decoding spec.md §4.G/§1 names as
// "the embedded scripting sandbox used for pluggable request-body
// codecs" — out of scope to implement, but the core consumes this
// interface so a deployment can plug in its own wire format.
type Codec interface {
	DecodeOfferEvent(r *http.Request) (offer.Event, error)
}

// JSONCodec is the trivial default Codec: spec.md §6's
// `{"Add": {...}}` / `{"Delete": <u64>}` wire form, decoded straight off
// the request body.
type JSONCodec struct{}

func (JSONCodec) DecodeOfferEvent(r *http.Request) (offer.Event, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return offer.Event{}, err
	}
	var req offerEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return offer.Event{}, err
	}
	return req.toEvent()
}
