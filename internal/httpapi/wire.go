package httpapi

import "lattice/internal/offer"

// offerEventRequest is the JSON wire form of offer.Event (spec.md §6):
// {"Add": {security, side, amount, price}} or {"Delete": <u64>}.
type offerEventRequest struct {
	Add    *valueRequest `json:"Add,omitempty"`
	Delete *uint64       `json:"Delete,omitempty"`
}

type valueRequest struct {
	Security string  `json:"security"`
	Side     string  `json:"side"`
	Amount   uint64  `json:"amount"`
	Price    *uint64 `json:"price"`
}

func (r offerEventRequest) toEvent() (offer.Event, error) {
	if r.Add != nil {
		v, err := r.Add.toValue()
		if err != nil {
			return offer.Event{}, err
		}
		return offer.AddEvent(v), nil
	}
	if r.Delete != nil {
		return offer.DeleteEvent(offer.Key(*r.Delete)), nil
	}
	return offer.Event{}, errMissingEventVariant
}

func (r valueRequest) toValue() (offer.Value, error) {
	sec, err := parseSecurity(r.Security)
	if err != nil {
		return offer.Value{}, err
	}
	side, err := parseSide(r.Side)
	if err != nil {
		return offer.Value{}, err
	}
	return offer.Value{Security: sec, Side: side, Amount: r.Amount, Price: r.Price}, nil
}

func parseSecurity(s string) (offer.Security, error) {
	switch s {
	case "BTC":
		return offer.BTC, nil
	case "USD":
		return offer.USD, nil
	case "COP":
		return offer.COP, nil
	default:
		return 0, errUnknownSecurity
	}
}

func parseSide(s string) (offer.Side, error) {
	switch s {
	case "Buy":
		return offer.Buy, nil
	case "Sell":
		return offer.Sell, nil
	default:
		return 0, errUnknownSide
	}
}

// innerRequest is the body peers receive on /offers_inner: a sequencer-
// assigned key paired with the event it sequences, in the numeric wire
// form internal/replicacheck emits (peer-to-peer, not client-facing, so
// it skips the string-tag codec the public /offers endpoint uses).
type innerRequest struct {
	Key   uint64             `json:"key"`
	Event innerEventResponse `json:"event"`
}

type innerEventResponse struct {
	Add    *valueResponse `json:"Add,omitempty"`
	Delete *uint64        `json:"Delete,omitempty"`
}

func (r innerEventResponse) toEvent() (offer.Event, error) {
	if r.Add != nil {
		return offer.AddEvent(offer.Value{
			Security: offer.Security(r.Add.Security),
			Side:     offer.Side(r.Add.Side),
			Amount:   r.Add.Amount,
			Price:    r.Add.Price,
		}), nil
	}
	if r.Delete != nil {
		return offer.DeleteEvent(offer.Key(*r.Delete)), nil
	}
	return offer.Event{}, errMissingEventVariant
}

// outcomeResponse is the JSON rendering of offer.MatchOutcome returned by
// /offers_inner.
type outcomeResponse struct {
	Result    resultResponse   `json:"result"`
	Completed []offerResponse  `json:"completed"`
}

type resultResponse struct {
	Kind         uint8            `json:"kind"`
	Offer        *offerResponse   `json:"offer,omitempty"`
	FilledAmount uint64           `json:"filled_amount,omitempty"`
}

type offerResponse struct {
	Key   uint64        `json:"key"`
	Value valueResponse `json:"value"`
}

type valueResponse struct {
	Security uint16  `json:"security"`
	Side     uint8   `json:"side"`
	Amount   uint64  `json:"amount"`
	Price    *uint64 `json:"price"`
}

func toOutcomeResponse(o offer.MatchOutcome) outcomeResponse {
	resp := outcomeResponse{
		Result: resultResponse{
			Kind:         uint8(o.Result.Kind),
			FilledAmount: o.Result.FilledAmount,
		},
	}
	if o.Result.Kind != offer.None {
		v := toOfferResponse(o.Result.Offer)
		resp.Result.Offer = &v
	}
	for _, c := range o.Completed {
		resp.Completed = append(resp.Completed, toOfferResponse(c))
	}
	return resp
}

func toOfferResponse(o offer.Offer) offerResponse {
	return offerResponse{
		Key: uint64(o.Key),
		Value: valueResponse{
			Security: uint16(o.Value.Security),
			Side:     uint8(o.Value.Side),
			Amount:   o.Value.Amount,
			Price:    o.Value.Price,
		},
	}
}
