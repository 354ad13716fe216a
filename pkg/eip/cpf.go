package eip

import (
	"github.com/gridwell/enip-adapter/pkg/cip"
)

// CPF Item IDs (spec §6)
const (
	ItemIDNullAddress        uint16 = 0x0000
	ItemIDListIdentity       uint16 = 0x000C
	ItemIDConnectedAddress   uint16 = 0x00A1
	ItemIDConnectedData      uint16 = 0x00B1
	ItemIDUnconnectedMessage uint16 = 0x00B2
	ItemIDListServices       uint16 = 0x0100
	ItemIDSockaddrInfo       uint16 = 0x8000
	ItemIDSequencedAddress   uint16 = 0x8002
)

// CPFItem represents a single item in the Common Packet Format
type CPFItem struct {
	TypeID uint16
	Length uint16
	Data   []byte
}

// NewCPFItem creates a new CPF item
func NewCPFItem(typeID uint16, data []byte) CPFItem {
	return CPFItem{
		TypeID: typeID,
		Length: uint16(len(data)),
		Data:   data,
	}
}

// Encode writes the CPF item to the writer
func (item *CPFItem) Encode(w *cip.Writer) error {
	if err := w.PutUINT(cip.UINT(item.TypeID)); err != nil {
		return err
	}
	if err := w.PutUINT(cip.UINT(item.Length)); err != nil {
		return err
	}
	if item.Length > 0 {
		if err := w.PutBytes(item.Data); err != nil {
			return err
		}
	}
	return nil
}

// CommonPacketFormat represents a collection of CPF items
type CommonPacketFormat struct {
	ItemCount uint16
	Items     []CPFItem
}

// NewCommonPacketFormat creates a new CPF with given items
func NewCommonPacketFormat(items ...CPFItem) *CommonPacketFormat {
	return &CommonPacketFormat{
		ItemCount: uint16(len(items)),
		Items:     items,
	}
}

// Encode encodes the entire CPF structure
func (cpf *CommonPacketFormat) Encode() ([]byte, error) {
	w := cip.NewWriter(0)
	if err := w.PutUINT(cip.UINT(cpf.ItemCount)); err != nil {
		return nil, err
	}
	for _, item := range cpf.Items {
		if err := item.Encode(w); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// DecodeCommonPacketFormat decodes a CPF from a byte slice
func DecodeCommonPacketFormat(data []byte) (*CommonPacketFormat, error) {
	r := cip.NewReader(data)
	cpf := &CommonPacketFormat{}

	count, err := r.GetUINT()
	if err != nil {
		return nil, err
	}
	cpf.ItemCount = uint16(count)

	for i := 0; i < int(cpf.ItemCount); i++ {
		typeID, err := r.GetUINT()
		if err != nil {
			return nil, err
		}
		length, err := r.GetUINT()
		if err != nil {
			return nil, err
		}

		itemData, err := r.ReadBytes(int(length))
		if err != nil {
			return nil, err
		}

		cpf.Items = append(cpf.Items, CPFItem{
			TypeID: uint16(typeID),
			Length: uint16(length),
			Data:   itemData,
		})
	}

	return cpf, nil
}

// FindItemByType returns the first item with the given TypeID
func (cpf *CommonPacketFormat) FindItemByType(typeID uint16) *CPFItem {
	for i := range cpf.Items {
		if cpf.Items[i].TypeID == typeID {
			return &cpf.Items[i]
		}
	}
	return nil
}
