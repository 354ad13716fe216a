package eip

import (
	"encoding/binary"
)

// CyclicFrame is one Class 1 cyclic I/O datagram: the EIP-level sequenced
// address (connection ID + 32-bit sequence) plus the CIP-level 16-bit
// sequence count and application data carried in the connected data item,
// with an optional 32-bit run/idle header (spec §4.4 "Class 1 cyclic I/O
// wire format"). Lives in pkg/eip (not pkg/server) so both the encapsulation
// server's consuming socket and the connection manager's producing side can
// build/parse it without an import cycle between the two packages.
type CyclicFrame struct {
	ConnectionID uint32
	EIPSequence  uint32
	CIPSequence  uint16
	RunIdle      *uint32
	Data         []byte
}

// Run/Idle header values (CIP Vol. 1 §3-4.5.1.2).
const (
	RunIdleRun  uint32 = 0x01
	RunIdleIdle uint32 = 0x00
)

// EncodeCyclicFrame builds the two CPF items (Sequenced Address, Connected
// Data) an O->T or T->O Class 1 cyclic packet carries.
func EncodeCyclicFrame(f CyclicFrame) []CPFItem {
	addr := make([]byte, 8)
	binary.LittleEndian.PutUint32(addr[0:4], f.ConnectionID)
	binary.LittleEndian.PutUint32(addr[4:8], f.EIPSequence)

	dataLen := 2 + len(f.Data)
	if f.RunIdle != nil {
		dataLen += 4
	}
	data := make([]byte, 2, dataLen)
	binary.LittleEndian.PutUint16(data[0:2], f.CIPSequence)
	if f.RunIdle != nil {
		ri := make([]byte, 4)
		binary.LittleEndian.PutUint32(ri, *f.RunIdle)
		data = append(data, ri...)
	}
	data = append(data, f.Data...)

	return []CPFItem{
		NewCPFItem(ItemIDSequencedAddress, addr),
		NewCPFItem(ItemIDConnectedData, data),
	}
}

// DecodeCyclicFrame parses the Sequenced Address and Connected Data items
// out of an incoming Class 1 CPF datagram, returning the parsed frame.
// hasRunIdle must match the device's configured run/idle header policy for
// this direction (spec §6 OpenerConsumedDataHasRunIdleHeader).
func DecodeCyclicFrame(cpf *CommonPacketFormat, hasRunIdle bool) (CyclicFrame, bool) {
	var f CyclicFrame
	addrItem := cpf.FindItemByType(ItemIDSequencedAddress)
	dataItem := cpf.FindItemByType(ItemIDConnectedData)
	if addrItem == nil || dataItem == nil || len(addrItem.Data) < 8 || len(dataItem.Data) < 2 {
		return f, false
	}

	f.ConnectionID = binary.LittleEndian.Uint32(addrItem.Data[0:4])
	f.EIPSequence = binary.LittleEndian.Uint32(addrItem.Data[4:8])

	body := dataItem.Data
	f.CIPSequence = binary.LittleEndian.Uint16(body[0:2])
	body = body[2:]
	if hasRunIdle {
		if len(body) < 4 {
			return f, false
		}
		v := binary.LittleEndian.Uint32(body[0:4])
		f.RunIdle = &v
		body = body[4:]
	}
	f.Data = append([]byte(nil), body...)
	return f, true
}
