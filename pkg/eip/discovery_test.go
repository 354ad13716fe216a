package eip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListIdentityReplyRoundTrip(t *testing.T) {
	info := IdentityInfo{
		VendorID:      1,
		DeviceType:    0x0C,
		ProductCode:   7,
		MajorRevision: 2,
		MinorRevision: 1,
		Status:        0x30,
		SerialNumber:  0xCAFEBABE,
		ProductName:   "test adapter",
		State:         3,
	}

	encoded, err := EncodeListIdentityReply(info, [4]byte{192, 168, 1, 10}, 44818)
	require.NoError(t, err)

	decoded, err := DecodeListIdentityReply(encoded)
	require.NoError(t, err)
	require.Equal(t, info, decoded)
}

func TestListServicesReplyRoundTrip(t *testing.T) {
	entries := []ServiceEntry{{ProtocolVersion: 1, CapabilityFlags: CapabilityFlagTCP, ServiceName: "Communications"}}
	encodedList, err := EncodeListServicesReply(entries)
	require.NoError(t, err)
	require.Len(t, encodedList, 1)

	decoded, err := DecodeListServicesReply(encodedList[0])
	require.NoError(t, err)
	require.Equal(t, entries[0], decoded)
}

func TestCommonPacketFormatRoundTrip(t *testing.T) {
	cpf := NewCommonPacketFormat(
		NewCPFItem(ItemIDNullAddress, nil),
		NewCPFItem(ItemIDUnconnectedMessage, []byte{1, 2, 3}),
	)
	encoded, err := cpf.Encode()
	require.NoError(t, err)

	decoded, err := DecodeCommonPacketFormat(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Items, 2)
	item := decoded.FindItemByType(ItemIDUnconnectedMessage)
	require.NotNil(t, item)
	require.Equal(t, []byte{1, 2, 3}, item.Data)
}
