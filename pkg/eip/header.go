package eip

import (
	"fmt"
	"io"

	"github.com/gridwell/enip-adapter/pkg/cip"
)

// Encapsulation Header Size is always 24 bytes
const HeaderSize = 24

// SessionHandle is a handle for an EIP session
type SessionHandle uint32

// EncapsulationHeader represents the 24-byte EIP header
type EncapsulationHeader struct {
	Command       Command
	Length        uint16 // Length of the data following the header
	SessionHandle SessionHandle
	Status        uint32
	SenderContext [8]byte
	Options       uint32
}

func (h *EncapsulationHeader) encode() ([]byte, error) {
	w := cip.NewWriter(HeaderSize)
	if err := w.PutUINT(cip.UINT(h.Command)); err != nil {
		return nil, err
	}
	if err := w.PutUINT(cip.UINT(h.Length)); err != nil {
		return nil, err
	}
	if err := w.PutUDINT(cip.UDINT(h.SessionHandle)); err != nil {
		return nil, err
	}
	if err := w.PutUDINT(cip.UDINT(h.Status)); err != nil {
		return nil, err
	}
	if err := w.PutBytes(h.SenderContext[:]); err != nil {
		return nil, err
	}
	if err := w.PutUDINT(cip.UDINT(h.Options)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Encode writes the header to the writer
func (h *EncapsulationHeader) Encode(w io.Writer) error {
	b, err := h.encode()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Decode reads the header from the reader
func (h *EncapsulationHeader) Decode(r io.Reader) error {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	cr := cip.NewReader(buf)
	cmd, err := cr.GetUINT()
	if err != nil {
		return err
	}
	h.Command = Command(cmd)
	length, err := cr.GetUINT()
	if err != nil {
		return err
	}
	h.Length = uint16(length)
	sh, err := cr.GetUDINT()
	if err != nil {
		return err
	}
	h.SessionHandle = SessionHandle(sh)
	status, err := cr.GetUDINT()
	if err != nil {
		return err
	}
	h.Status = uint32(status)
	ctx, err := cr.ReadBytes(8)
	if err != nil {
		return err
	}
	copy(h.SenderContext[:], ctx)
	options, err := cr.GetUDINT()
	if err != nil {
		return err
	}
	h.Options = uint32(options)
	return nil
}

// Bytes returns the byte slice of the header
func (h *EncapsulationHeader) Bytes() []byte {
	b, _ := h.encode()
	return b
}

// String returns a string representation of the header
func (h *EncapsulationHeader) String() string {
	return fmt.Sprintf("Cmd: %s (0x%04X), Len: %d, Session: 0x%08X, Status: 0x%08X",
		h.Command, uint16(h.Command), h.Length, h.SessionHandle, h.Status)
}
