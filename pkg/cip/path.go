package cip

import (
	"encoding/binary"
	"fmt"
)

// Path Segment Types
const (
	SegmentTypePort      byte = 0x00 // 000xxxxx
	SegmentTypeLogical   byte = 0x20 // 001xxxxx
	SegmentTypeNetwork   byte = 0x40 // 010xxxxx
	SegmentTypeSymbolic  byte = 0x60 // 011xxxxx
	SegmentTypeData      byte = 0x80 // 100xxxxx
	SegmentTypeDataType1 byte = 0xA0 // 101xxxxx
	SegmentTypeDataType2 byte = 0xC0 // 110xxxxx
	SegmentTypeReserved  byte = 0xE0 // 111xxxxx
	segmentTypeMask      byte = 0xE0
)

// Logical Segment Types
const (
	LogicalTypeClass     byte = 0x00 // xxx000xx
	LogicalTypeInstance  byte = 0x04 // xxx001xx
	LogicalTypeMember    byte = 0x08 // xxx010xx
	LogicalTypePoint     byte = 0x0C // xxx011xx (connection point)
	LogicalTypeAttribute byte = 0x10 // xxx100xx
	LogicalTypeSpecial   byte = 0x14 // xxx101xx
	LogicalTypeService   byte = 0x18 // xxx110xx
	LogicalTypeExtended  byte = 0x1C // xxx111xx
	logicalTypeMask      byte = 0x1C
)

// Logical Segment Formats
const (
	LogicalFormat8Bit     byte = 0x00 // xxxxxx00
	LogicalFormat16Bit    byte = 0x01 // xxxxxx01
	LogicalFormat32Bit    byte = 0x02 // xxxxxx10
	LogicalFormatReserved byte = 0x03 // xxxxxx11
	logicalFormatMask     byte = 0x03
)

// Data segment sub-types, used by Forward_Open configuration/ network
// parameters (CIP Vol. 1 §C-1.4.2, spec §4.4).
const (
	dataSegmentSimple byte = 0x80 // 1000 0000
	dataSegmentANSI   byte = 0x91 // 1001 0001 (ANSI extended symbol)
)

// Production Inhibit Time segment, a network segment used on I/O connection
// paths (spec §4.4 "Connection path parsing").
const networkSegmentPIT byte = 0x43

// Path represents an encoded CIP EPATH as raw bytes, built incrementally by
// the Add* methods below (used when this adapter constructs a response or
// an internal lookup path, never when parsing an incoming request path —
// use DecodeEPath for that).
type Path []byte

// NewPath creates a new empty path
func NewPath() Path {
	return make(Path, 0)
}

// AddClass adds a Class segment to the path
func (p *Path) AddClass(classID UINT) {
	if classID <= 0xFF {
		*p = append(*p, SegmentTypeLogical|LogicalTypeClass|LogicalFormat8Bit)
		*p = append(*p, byte(classID))
	} else {
		*p = append(*p, SegmentTypeLogical|LogicalTypeClass|LogicalFormat16Bit)
		*p = append(*p, 0x00) // Pad
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(classID))
		*p = append(*p, b...)
	}
}

// AddInstance adds an Instance segment to the path
func (p *Path) AddInstance(instanceID UINT) {
	p.AddInstance32(uint32(instanceID))
}

// AddInstance32 adds a 32-bit Instance segment to the path
func (p *Path) AddInstance32(instanceID uint32) {
	if instanceID <= 0xFF {
		*p = append(*p, SegmentTypeLogical|LogicalTypeInstance|LogicalFormat8Bit)
		*p = append(*p, byte(instanceID))
	} else if instanceID <= 0xFFFF {
		*p = append(*p, SegmentTypeLogical|LogicalTypeInstance|LogicalFormat16Bit)
		*p = append(*p, 0x00) // Pad
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(instanceID))
		*p = append(*p, b...)
	} else {
		*p = append(*p, SegmentTypeLogical|LogicalTypeInstance|LogicalFormat32Bit)
		*p = append(*p, 0x00) // Pad
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, instanceID)
		*p = append(*p, b...)
	}
}

// AddAttribute adds an Attribute segment to the path
func (p *Path) AddAttribute(attributeID UINT) {
	if attributeID <= 0xFF {
		*p = append(*p, SegmentTypeLogical|LogicalTypeAttribute|LogicalFormat8Bit)
		*p = append(*p, byte(attributeID))
	} else {
		*p = append(*p, SegmentTypeLogical|LogicalTypeAttribute|LogicalFormat16Bit)
		*p = append(*p, 0x00) // Pad
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(attributeID))
		*p = append(*p, b...)
	}
}

// AddMember adds a Member segment to the path
func (p *Path) AddMember(memberID UINT) {
	if memberID <= 0xFF {
		*p = append(*p, SegmentTypeLogical|LogicalTypeMember|LogicalFormat8Bit)
		*p = append(*p, byte(memberID))
	} else {
		*p = append(*p, SegmentTypeLogical|LogicalTypeMember|LogicalFormat16Bit)
		*p = append(*p, 0x00) // Pad
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(memberID))
		*p = append(*p, b...)
	}
}

// Bytes returns the byte slice of the path
func (p Path) Bytes() []byte {
	return []byte(p)
}

// LenWords returns the length in 16-bit words, the form EPATH size headers
// carry on the wire.
func (p Path) LenWords() byte {
	return byte((len(p) + 1) / 2)
}

// String returns a string representation of the path
func (p Path) String() string {
	return fmt.Sprintf("%X", []byte(p))
}

// BuildPath creates a standard Class/Instance/Attribute path
func BuildPath(classID, instanceID, attributeID UINT) Path {
	p := NewPath()
	p.AddClass(classID)
	p.AddInstance(instanceID)
	if attributeID != 0 {
		p.AddAttribute(attributeID)
	}
	return p
}

// ElectronicKey is the optional key segment carried at the front of a
// connection path on Forward_Open (spec §4.4).
type ElectronicKey struct {
	VendorID        UINT
	DeviceType      UINT
	ProductCode     UINT
	MajorRevision   USINT // high bit set means "compatible with" rather than exact match
	MinorRevision   USINT
}

// CompatibilityMode reports whether the major revision's high bit requests
// "compatible with" matching rather than an exact major-revision match.
func (k ElectronicKey) CompatibilityMode() bool { return k.MajorRevision&0x80 != 0 }

// Major returns the revision number with the compatibility bit masked off.
func (k ElectronicKey) Major() USINT { return k.MajorRevision &^ 0x80 }

// ParsedPath is the decoded form of an incoming request path: a sequence of
// logical segments plus whatever connection-path extras a Forward_Open
// carries (spec §4.4 "Connection path parsing").
type ParsedPath struct {
	HasClass     bool
	Class        UINT
	HasInstance  bool
	Instance     UDINT
	HasAttribute bool
	Attribute    UINT
	HasMember    bool
	Member       UINT
	HasPoint     bool
	Point        UDINT

	Key                       *ElectronicKey
	ProductionInhibitTimeMs   *UDINT
	DataSegments              [][]byte
}

// DecodeEPath parses n bytes (the path-size-in-words * 2) of EPATH data out
// of r. Reserved segment types (0xE0+) and any selector this adapter does
// not recognize yield PathSegmentError per spec §4.4.
func DecodeEPath(r *Reader, byteLen int) (ParsedPath, error) {
	raw, err := r.ReadBytes(byteLen)
	if err != nil {
		return ParsedPath{}, err
	}
	sub := NewReader(raw)
	var out ParsedPath

	for sub.Remaining() > 0 {
		segByte, err := sub.GetUSINT()
		if err != nil {
			return ParsedPath{}, err
		}
		seg := byte(segByte)

		switch seg & segmentTypeMask {
		case SegmentTypePort:
			if err := decodePortSegment(sub, seg); err != nil {
				return ParsedPath{}, err
			}

		case SegmentTypeLogical:
			format := seg & logicalFormatMask
			var value uint32
			switch format {
			case LogicalFormat8Bit:
				b, err := sub.GetUSINT()
				if err != nil {
					return ParsedPath{}, err
				}
				value = uint32(b)
			case LogicalFormat16Bit:
				if _, err := sub.GetUSINT(); err != nil { // pad byte
					return ParsedPath{}, err
				}
				v, err := sub.GetUINT()
				if err != nil {
					return ParsedPath{}, err
				}
				value = uint32(v)
			case LogicalFormat32Bit:
				if _, err := sub.GetUSINT(); err != nil { // pad byte
					return ParsedPath{}, err
				}
				v, err := sub.GetUDINT()
				if err != nil {
					return ParsedPath{}, err
				}
				value = uint32(v)
			default:
				return ParsedPath{}, NewError(StatusPathSegmentError)
			}

			switch seg & logicalTypeMask {
			case LogicalTypeClass:
				out.HasClass = true
				out.Class = UINT(value)
			case LogicalTypeInstance:
				out.HasInstance = true
				out.Instance = UDINT(value)
			case LogicalTypeAttribute:
				out.HasAttribute = true
				out.Attribute = UINT(value)
			case LogicalTypeMember:
				out.HasMember = true
				out.Member = UINT(value)
			case LogicalTypePoint:
				out.HasPoint = true
				out.Point = UDINT(value)
			case LogicalTypeSpecial:
				// Electronic key (0x34): the byte read above as value is the
				// key format; decodeKeySegment reads the key body after it.
				key, err := decodeKeySegment(sub, value)
				if err != nil {
					return ParsedPath{}, err
				}
				out.Key = key
			default:
				return ParsedPath{}, NewError(StatusPathSegmentError)
			}

		case SegmentTypeNetwork:
			if seg == networkSegmentPIT {
				b, err := sub.GetUDINT()
				if err != nil {
					return ParsedPath{}, err
				}
				out.ProductionInhibitTimeMs = &b
			} else {
				return ParsedPath{}, NewError(StatusPathSegmentError)
			}

		case SegmentTypeData:
			n, err := sub.GetUSINT()
			if err != nil {
				return ParsedPath{}, err
			}
			payload, err := sub.ReadBytes(int(n) * 2)
			if err != nil {
				return ParsedPath{}, err
			}
			out.DataSegments = append(out.DataSegments, payload)

		default:
			return ParsedPath{}, NewError(StatusPathSegmentError)
		}
	}

	return out, nil
}

func decodePortSegment(r *Reader, seg byte) error {
	extendedLinkAddr := seg&0x10 != 0
	port := seg & 0x0F
	if port == 0x0F {
		if _, err := r.GetUINT(); err != nil { // extended port number
			return err
		}
	}
	if extendedLinkAddr {
		n, err := r.GetUSINT()
		if err != nil {
			return err
		}
		if _, err := r.ReadBytes(int(n)); err != nil {
			return err
		}
		if n%2 != 0 {
			if _, err := r.GetUSINT(); err != nil {
				return err
			}
		}
	} else {
		if _, err := r.GetUSINT(); err != nil {
			return err
		}
	}
	return nil
}

// decodeKeySegment decodes the body of the electronic key special segment.
// The 0x34 segment byte and the key format byte after it have already been
// consumed by the caller, which passes the format in; format 0x00 is the
// only key format accepted.
func decodeKeySegment(r *Reader, format uint32) (*ElectronicKey, error) {
	if format != 0 {
		return nil, NewError(StatusPathSegmentError)
	}
	var k ElectronicKey
	var err error
	if k.VendorID, err = r.GetUINT(); err != nil {
		return nil, err
	}
	if k.DeviceType, err = r.GetUINT(); err != nil {
		return nil, err
	}
	if k.ProductCode, err = r.GetUINT(); err != nil {
		return nil, err
	}
	if k.MajorRevision, err = r.GetUSINT(); err != nil {
		return nil, err
	}
	if k.MinorRevision, err = r.GetUSINT(); err != nil {
		return nil, err
	}
	return &k, nil
}

// Matches reports whether this key is satisfied by the device identity
// given (spec §4.4 electronic key matching rules).
func (k ElectronicKey) Matches(vendorID, deviceType, productCode UINT, major, minor USINT) bool {
	if k.VendorID != 0 && k.VendorID != vendorID {
		return false
	}
	if k.DeviceType != 0 && k.DeviceType != deviceType {
		return false
	}
	if k.ProductCode != 0 && k.ProductCode != productCode {
		return false
	}
	if k.Major() != 0 {
		if k.Major() != major {
			return false
		}
		if k.CompatibilityMode() {
			return minor >= k.MinorRevision
		}
		return minor == k.MinorRevision
	}
	return true
}

// MatchStatus is Matches, but on a mismatch it reports which of the three
// Forward_Open electronic-key errors applies (spec §4.4 item 1):
// VendorIdOrProductcodeError, DeviceTypeError, or RevisionMismatch. Returns
// nil when the key is satisfied.
func (k ElectronicKey) MatchStatus(vendorID, deviceType, productCode UINT, major, minor USINT) *Error {
	if k.VendorID != 0 && k.VendorID != vendorID {
		return NewExtError(StatusConnectionFailure, ExtStatusVendorIDOrProductCode)
	}
	if k.ProductCode != 0 && k.ProductCode != productCode {
		return NewExtError(StatusConnectionFailure, ExtStatusVendorIDOrProductCode)
	}
	if k.DeviceType != 0 && k.DeviceType != deviceType {
		return NewExtError(StatusConnectionFailure, ExtStatusDeviceTypeError)
	}
	if k.Major() != 0 {
		if k.Major() != major {
			return NewExtError(StatusConnectionFailure, ExtStatusRevisionMismatch)
		}
		if k.CompatibilityMode() {
			if minor < k.MinorRevision {
				return NewExtError(StatusConnectionFailure, ExtStatusRevisionMismatch)
			}
		} else if minor != k.MinorRevision {
			return NewExtError(StatusConnectionFailure, ExtStatusRevisionMismatch)
		}
	}
	return nil
}
