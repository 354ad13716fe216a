package cip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter(0)
	require.NoError(t, w.PutUSINT(0xAB))
	require.NoError(t, w.PutUINT(0x1234))
	require.NoError(t, w.PutUDINT(0xDEADBEEF))
	require.NoError(t, w.PutULINT(0x0102030405060708))
	require.NoError(t, w.PutREAL(3.5))
	require.NoError(t, w.PutBOOL(true))

	r := NewReader(w.Bytes())
	u, err := r.GetUSINT()
	require.NoError(t, err)
	require.EqualValues(t, 0xAB, u)

	ui, err := r.GetUINT()
	require.NoError(t, err)
	require.EqualValues(t, 0x1234, ui)

	ud, err := r.GetUDINT()
	require.NoError(t, err)
	require.EqualValues(t, 0xDEADBEEF, ud)

	ul, err := r.GetULINT()
	require.NoError(t, err)
	require.EqualValues(t, 0x0102030405060708, ul)

	real, err := r.GetREAL()
	require.NoError(t, err)
	require.EqualValues(t, 3.5, real)

	b, err := r.GetBOOL()
	require.NoError(t, err)
	require.True(t, bool(b))

	require.Zero(t, r.Remaining())
}

func TestWriterOverflow(t *testing.T) {
	w := NewWriter(2)
	require.NoError(t, w.PutUSINT(1))
	require.NoError(t, w.PutUSINT(2))
	require.ErrorIs(t, w.PutUSINT(3), ErrBufferOverflow)
}

func TestSeekBackForHeaderFixup(t *testing.T) {
	w := NewWriter(0)
	require.NoError(t, w.PutUINT(1))
	mark := w.Mark()
	require.NoError(t, w.PutUINT(2))
	require.NoError(t, w.PutUINT(3))
	w.SeekBackForHeaderFixup(mark)
	require.Equal(t, 2, w.Len())
}

func TestCipStringRoundTripOddLength(t *testing.T) {
	w := NewWriter(0)
	s := CipString{Value: "odd"}
	require.NoError(t, s.Encode(w))
	require.Equal(t, 0, w.Len()%2) // 2-byte length + 3 chars + 1 pad = even

	decoded, err := DecodeCipString(NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Equal(t, "odd", decoded.Value)
}

func TestCipShortStringRoundTrip(t *testing.T) {
	w := NewWriter(0)
	s := CipShortString{Value: "hello"}
	require.NoError(t, s.Encode(w))

	decoded, err := DecodeCipShortString(NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Equal(t, "hello", decoded.Value)
}

func TestReaderNotEnoughData(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.GetUINT()
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, StatusNotEnoughData, cerr.Status)
}
