package offer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(u uint64) *uint64 { return &u }

func TestEncodeDecodeValue_Limit(t *testing.T) {
	v := Value{Security: BTC, Side: Buy, Amount: 100, Price: ptr(42)}
	buf := EncodeValue(v)
	got, n, err := DecodeValue(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, v.Security, got.Security)
	assert.Equal(t, v.Side, got.Side)
	assert.Equal(t, v.Amount, got.Amount)
	require.NotNil(t, got.Price)
	assert.Equal(t, *v.Price, *got.Price)
}

func TestEncodeDecodeValue_Market(t *testing.T) {
	v := Value{Security: USD, Side: Sell, Amount: 7}
	buf := EncodeValue(v)
	got, n, err := DecodeValue(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Nil(t, got.Price)
	assert.Equal(t, v.Amount, got.Amount)
}

func TestDecodeValue_ShortBuffer(t *testing.T) {
	_, _, err := DecodeValue([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecodeValue_InvalidOptionTag(t *testing.T) {
	buf := EncodeValue(Value{Security: COP, Side: Buy, Amount: 1})
	buf[11] = 0x7f
	_, _, err := DecodeValue(buf)
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestEncodeDecodeEvent_Add(t *testing.T) {
	ev := AddEvent(Value{Security: BTC, Side: Sell, Amount: 10, Price: ptr(5)})
	buf, err := EncodeEvent(ev)
	require.NoError(t, err)

	got, err := DecodeEvent(buf)
	require.NoError(t, err)
	require.NotNil(t, got.Add)
	assert.Equal(t, *ev.Add, *got.Add)
	assert.Nil(t, got.Delete)
}

func TestEncodeDecodeEvent_Delete(t *testing.T) {
	ev := DeleteEvent(Key(123456))
	buf, err := EncodeEvent(ev)
	require.NoError(t, err)

	got, err := DecodeEvent(buf)
	require.NoError(t, err)
	require.NotNil(t, got.Delete)
	assert.Equal(t, Key(123456), *got.Delete)
	assert.Nil(t, got.Add)
}

func TestDecodeEvent_InvalidTag(t *testing.T) {
	_, err := DecodeEvent([]byte{0xff})
	assert.ErrorIs(t, err, ErrInvalidTag)
}

func TestKeyBytesRoundTrip(t *testing.T) {
	k := Key(0x0102030405060708)
	b := k.Bytes()
	assert.Equal(t, k, KeyFromBytes(b[:]))
}

func TestEncodeDecodeMatchValue(t *testing.T) {
	mv := MatchValue{Reference: Key(9), Security: USD, Price: ptr(17), Amount: 3}
	buf := EncodeMatchValue(mv)
	got, err := DecodeMatchValue(buf)
	require.NoError(t, err)
	assert.Equal(t, mv.Reference, got.Reference)
	assert.Equal(t, mv.Security, got.Security)
	assert.Equal(t, mv.Amount, got.Amount)
	require.NotNil(t, got.Price)
	assert.Equal(t, *mv.Price, *got.Price)
}

func TestEncodeDecodeMatchValue_NoPrice(t *testing.T) {
	mv := MatchValue{Reference: Key(1), Security: BTC, Amount: 50}
	buf := EncodeMatchValue(mv)
	got, err := DecodeMatchValue(buf)
	require.NoError(t, err)
	assert.Nil(t, got.Price)
}

func TestFromOffer(t *testing.T) {
	o := Offer{Key: 4, Value: Value{Security: COP, Side: Buy, Amount: 9, Price: ptr(2)}}
	mv := FromOffer(o, 6)
	assert.Equal(t, o.Key, mv.Reference)
	assert.Equal(t, o.Value.Security, mv.Security)
	assert.Equal(t, uint64(6), mv.Amount)
}
