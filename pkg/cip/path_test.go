package cip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEPathClassInstanceAttribute(t *testing.T) {
	var p Path
	p.AddClass(0x04)
	p.AddInstance(100)
	p.AddAttribute(3)

	r := NewReader(p.Bytes())
	parsed, err := DecodeEPath(r, len(p.Bytes()))
	require.NoError(t, err)
	require.True(t, parsed.HasClass)
	require.EqualValues(t, 0x04, parsed.Class)
	require.True(t, parsed.HasInstance)
	require.EqualValues(t, 100, parsed.Instance)
	require.True(t, parsed.HasAttribute)
	require.EqualValues(t, 3, parsed.Attribute)
}

func TestDecodeEPath16BitClass(t *testing.T) {
	var p Path
	p.AddClass(0x1234)

	parsed, err := DecodeEPath(NewReader(p.Bytes()), len(p.Bytes()))
	require.NoError(t, err)
	require.True(t, parsed.HasClass)
	require.EqualValues(t, 0x1234, parsed.Class)
}

func TestDecodeEPathReservedSegmentErrors(t *testing.T) {
	data := []byte{0xE0, 0x00}
	_, err := DecodeEPath(NewReader(data), len(data))
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, StatusPathSegmentError, cerr.Status)
}

func TestDecodeEPathProductionInhibitTime(t *testing.T) {
	data := []byte{networkSegmentPIT, 0x10, 0x00, 0x00, 0x00}
	parsed, err := DecodeEPath(NewReader(data), len(data))
	require.NoError(t, err)
	require.NotNil(t, parsed.ProductionInhibitTimeMs)
	require.EqualValues(t, 0x10, *parsed.ProductionInhibitTimeMs)
}

func TestElectronicKeyMatches(t *testing.T) {
	k := ElectronicKey{VendorID: 1, DeviceType: 2, ProductCode: 3, MajorRevision: 1, MinorRevision: 5}
	require.True(t, k.Matches(1, 2, 3, 1, 5))
	require.False(t, k.Matches(1, 2, 3, 1, 4))

	compat := ElectronicKey{MajorRevision: 0x81, MinorRevision: 5}
	require.True(t, compat.Matches(9, 9, 9, 1, 6))
	require.False(t, compat.Matches(9, 9, 9, 1, 4))
}
