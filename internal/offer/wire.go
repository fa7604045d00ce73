package offer

import (
	"encoding/binary"
	"errors"
)

// Wire format constants. Mirrors the fixed-width, big-endian layout style
// used throughout the project's binary encodings: a tag byte, then
// fixed-width fields, then an optional tail.
const (
	eventTagAdd    = 0
	eventTagDelete = 1

	optionTagNone = 0
	optionTagSome = 1

	// valueHeaderLen is security(2) + side(1) + amount(8) + price tag(1).
	valueHeaderLen = 2 + 1 + 8 + 1
)

var (
	ErrShortBuffer    = errors.New("offer: buffer too short")
	ErrInvalidTag     = errors.New("offer: invalid tag byte")
	ErrInvalidOption  = errors.New("offer: invalid option tag")
	ErrInvalidSide    = errors.New("offer: invalid side")
	ErrInvalidKind    = errors.New("offer: invalid result kind")
)

// EncodeValue serializes a Value as: security(2) | side(1) | amount(8) |
// price option-tag(1) [| price(8)].
func EncodeValue(v Value) []byte {
	n := valueHeaderLen
	if v.Price != nil {
		n += 8
	}
	buf := make([]byte, n)
	binary.BigEndian.PutUint16(buf[0:2], uint16(v.Security))
	buf[2] = byte(v.Side)
	binary.BigEndian.PutUint64(buf[3:11], v.Amount)
	if v.Price == nil {
		buf[11] = optionTagNone
	} else {
		buf[11] = optionTagSome
		binary.BigEndian.PutUint64(buf[12:20], *v.Price)
	}
	return buf
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(buf []byte) (Value, int, error) {
	if len(buf) < valueHeaderLen {
		return Value{}, 0, ErrShortBuffer
	}
	v := Value{
		Security: Security(binary.BigEndian.Uint16(buf[0:2])),
		Side:     Side(buf[2]),
		Amount:   binary.BigEndian.Uint64(buf[3:11]),
	}
	switch buf[11] {
	case optionTagNone:
		return v, valueHeaderLen, nil
	case optionTagSome:
		if len(buf) < valueHeaderLen+8 {
			return Value{}, 0, ErrShortBuffer
		}
		price := binary.BigEndian.Uint64(buf[valueHeaderLen : valueHeaderLen+8])
		v.Price = &price
		return v, valueHeaderLen + 8, nil
	default:
		return Value{}, 0, ErrInvalidOption
	}
}

// EncodeEvent serializes an Event as a one-byte discriminant followed by
// the payload: tag 0 (Add) + EncodeValue, or tag 1 (Delete) + 8-byte key.
func EncodeEvent(e Event) ([]byte, error) {
	switch {
	case e.Add != nil:
		body := EncodeValue(*e.Add)
		buf := make([]byte, 1+len(body))
		buf[0] = eventTagAdd
		copy(buf[1:], body)
		return buf, nil
	case e.Delete != nil:
		buf := make([]byte, 1+8)
		buf[0] = eventTagDelete
		kb := e.Delete.Bytes()
		copy(buf[1:], kb[:])
		return buf, nil
	default:
		return nil, errors.New("offer: empty event")
	}
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(buf []byte) (Event, error) {
	if len(buf) < 1 {
		return Event{}, ErrShortBuffer
	}
	switch buf[0] {
	case eventTagAdd:
		v, _, err := DecodeValue(buf[1:])
		if err != nil {
			return Event{}, err
		}
		return AddEvent(v), nil
	case eventTagDelete:
		if len(buf) < 1+8 {
			return Event{}, ErrShortBuffer
		}
		k := KeyFromBytes(buf[1:9])
		return DeleteEvent(k), nil
	default:
		return Event{}, ErrInvalidTag
	}
}

// MatchValue is the durable record the persistor writes for each executed
// trade: the originating offer key, the security traded, the price paid
// (None for an unpriced market-side execution) and the amount actually
// filled.
type MatchValue struct {
	Reference Key
	Security  Security
	Price     *uint64
	Amount    uint64
}

// FromOffer builds a MatchValue from an executed Offer and the amount of
// it that actually traded.
func FromOffer(o Offer, amount uint64) MatchValue {
	return MatchValue{
		Reference: o.Key,
		Security:  o.Value.Security,
		Price:     o.Value.Price,
		Amount:    amount,
	}
}

// matchValueHeaderLen is reference(8) + security(2) + price tag(1) + amount(8).
const matchValueHeaderLen = 8 + 2 + 1 + 8

// EncodeMatchValue serializes a MatchValue: reference(8) | security(2) |
// price option-tag(1) [| price(8)] | amount(8).
func EncodeMatchValue(m MatchValue) []byte {
	n := matchValueHeaderLen
	if m.Price != nil {
		n += 8
	}
	buf := make([]byte, n)
	kb := m.Reference.Bytes()
	copy(buf[0:8], kb[:])
	binary.BigEndian.PutUint16(buf[8:10], uint16(m.Security))
	off := 10
	if m.Price == nil {
		buf[off] = optionTagNone
		off++
	} else {
		buf[off] = optionTagSome
		off++
		binary.BigEndian.PutUint64(buf[off:off+8], *m.Price)
		off += 8
	}
	binary.BigEndian.PutUint64(buf[off:off+8], m.Amount)
	return buf
}

// DecodeMatchValue is the inverse of EncodeMatchValue.
func DecodeMatchValue(buf []byte) (MatchValue, error) {
	if len(buf) < 8+2+1 {
		return MatchValue{}, ErrShortBuffer
	}
	m := MatchValue{
		Reference: KeyFromBytes(buf[0:8]),
		Security:  Security(binary.BigEndian.Uint16(buf[8:10])),
	}
	off := 10
	switch buf[off] {
	case optionTagNone:
		off++
	case optionTagSome:
		off++
		if len(buf) < off+8 {
			return MatchValue{}, ErrShortBuffer
		}
		price := binary.BigEndian.Uint64(buf[off : off+8])
		m.Price = &price
		off += 8
	default:
		return MatchValue{}, ErrInvalidOption
	}
	if len(buf) < off+8 {
		return MatchValue{}, ErrShortBuffer
	}
	m.Amount = binary.BigEndian.Uint64(buf[off : off+8])
	return m, nil
}
