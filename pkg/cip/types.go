package cip

import "fmt"

// CIP Data Types
type USINT uint8
type UINT uint16
type UDINT uint32
type ULINT uint64
type SINT int8
type INT int16
type DINT int32
type LINT int64
type REAL float32
type LREAL float64
type BYTE byte
type WORD uint16
type DWORD uint32
type LWORD uint64
type BOOL bool

// Service Codes
const (
	ServiceGetAttributeAll        USINT = 0x01
	ServiceSetAttributeAll        USINT = 0x02
	ServiceGetAttributeList       USINT = 0x03
	ServiceSetAttributeList       USINT = 0x04
	ServiceReset                  USINT = 0x05
	ServiceStart                  USINT = 0x06
	ServiceStop                   USINT = 0x07
	ServiceCreate                 USINT = 0x08
	ServiceDelete                 USINT = 0x09
	ServiceMultipleServicePacket  USINT = 0x0A
	ServiceApplyAttributes        USINT = 0x0D
	ServiceGetAttributeSingle     USINT = 0x0E
	ServiceSetAttributeSingle     USINT = 0x10
	ServiceFindNextObjectInstance USINT = 0x11
	ServiceRestore                USINT = 0x15
	ServiceSave                   USINT = 0x16
	ServiceNop                    USINT = 0x17
	ServiceGetMember              USINT = 0x18
	ServiceSetMember              USINT = 0x19
	ServiceInsertMember           USINT = 0x1A
	ServiceRemoveMember           USINT = 0x1B
	ServiceGroupSync              USINT = 0x1C
)

// Common Classes
const (
	ClassIdentity         UINT = 0x01
	ClassMessageRouter    UINT = 0x02
	ClassDeviceNet        UINT = 0x03
	ClassAssembly         UINT = 0x04
	ClassConnection       UINT = 0x05
	ClassConnectionMgr    UINT = 0x06
	ClassRegister         UINT = 0x07
	ClassQoS              UINT = 0x48
	ClassTCPIPInterface   UINT = 0xF5
	ClassEthernetLink     UINT = 0xF6
	ClassCIPSecurity      UINT = 0x5D
	ClassEtherNetIPSecure UINT = 0x5E
	ClassCertificateMgmt  UINT = 0x5F
)

// Connection Manager and security-object service codes beyond the common
// services above (CIP Vol. 1 §3-5, CIP Vol. 8).
const (
	ServiceForwardClose     USINT = 0x4E
	ServiceUnconnectedSend  USINT = 0x52
	ServiceForwardOpen      USINT = 0x54
	ServiceGetConnData      USINT = 0x56
	ServiceSearchConnData   USINT = 0x57
	ServiceLargeForwardOpen USINT = 0x5B

	ServiceBeginConfig USINT = 0x4B
	ServiceKickTimer   USINT = 0x4C
	ServiceEndConfig   USINT = 0x4D
	ServiceApplyConfig USINT = 0x58
	ServiceAbortConfig USINT = 0x59
)

// DataType represents a CIP data type code (16-bit)
type DataType uint16

// Data Type Codes (for encoding/decoding)
const (
	TypeBOOL          DataType = 0x00C1
	TypeSINT          DataType = 0x00C2
	TypeINT           DataType = 0x00C3
	TypeDINT          DataType = 0x00C4
	TypeLINT          DataType = 0x00C5
	TypeUSINT         DataType = 0x00C6
	TypeUINT          DataType = 0x00C7
	TypeUDINT         DataType = 0x00C8
	TypeULINT         DataType = 0x00C9
	TypeREAL          DataType = 0x00CA
	TypeLREAL         DataType = 0x00CB
	TypeSTIME         DataType = 0x00CC
	TypeDATE          DataType = 0x00CD
	TypeTIME_OF_DAY   DataType = 0x00CE
	TypeDATE_AND_TIME DataType = 0x00CF
	TypeSTRING        DataType = 0x00D0
	TypeBYTE          DataType = 0x00D1
	TypeWORD          DataType = 0x00D2
	TypeDWORD         DataType = 0x00D3
	TypeLWORD         DataType = 0x00D4
	TypeSTRING2       DataType = 0x00D5
	TypeFTIME         DataType = 0x00D6
	TypeLTIME         DataType = 0x00D7
	TypeITIME         DataType = 0x00D8
	TypeSTRINGN       DataType = 0x00D9
	TypeSHORT_STRING  DataType = 0x00DA
	TypeTIME          DataType = 0x00DB
	TypeEPATH         DataType = 0x00DC
	TypeENGUNIT       DataType = 0x00DD
	TypeSTRINGI       DataType = 0x00DE
	TypeSTRUCT        DataType = 0x02A0 // Common struct type code
)

// General Status Codes (CIP Vol. 1 Appendix B, spec §7).
const (
	StatusSuccess                 USINT = 0x00
	StatusConnectionFailure       USINT = 0x01
	StatusResourceUnavailable     USINT = 0x02
	StatusInvalidParameterValue   USINT = 0x03
	StatusPathSegmentError        USINT = 0x04
	StatusPathDestinationUnknown  USINT = 0x05
	StatusPartialTransfer         USINT = 0x06
	StatusConnectionLost          USINT = 0x07
	StatusServiceNotSupported     USINT = 0x08
	StatusInvalidAttributeValue   USINT = 0x09
	StatusAttributeListError      USINT = 0x0A
	StatusAlreadyInRequestedState USINT = 0x0B
	StatusObjectStateConflict     USINT = 0x0C
	StatusObjectAlreadyExists     USINT = 0x0D
	StatusAttributeNotSetable     USINT = 0x0E
	StatusPrivilegeViolation      USINT = 0x0F
	StatusDeviceStateConflict     USINT = 0x10
	StatusReplyDataTooLarge       USINT = 0x11
	StatusFragmentPrimitive       USINT = 0x12
	StatusNotEnoughData           USINT = 0x13
	StatusAttributeNotSupported   USINT = 0x14
	StatusTooMuchData             USINT = 0x15
	StatusObjectDoesNotExist      USINT = 0x16
	StatusAttributeNotGettable    USINT = 0x1B
	StatusInstanceNotDeletable    USINT = 0x2A
	StatusInvalidParameter        USINT = 0x20
	StatusVerificationFailed      USINT = 0xD0
)

// Extended status codes used by Forward_Open failures (spec §4.4, §6).
const (
	ExtStatusConnectionInUse          UINT = 0x0100
	ExtStatusTransportNotSupported    UINT = 0x0103
	ExtStatusOwnershipConflict        UINT = 0x0106
	ExtStatusConnectionNotFound       UINT = 0x0107
	ExtStatusInvalidConnPointInvalid  UINT = 0x0108
	ExtStatusVendorIDOrProductCode    UINT = 0x0114
	ExtStatusDeviceTypeError          UINT = 0x0115
	ExtStatusRevisionMismatch         UINT = 0x0116
	ExtStatusInvalidProducingPath     UINT = 0x0117
	ExtStatusInvalidConsumingPath     UINT = 0x0118
	ExtStatusInconsistentAppPathCombo UINT = 0x0119
	ExtStatusNonListenOnlyConnNotOpen UINT = 0x0119
	ExtStatusTargetOutOfConnections   UINT = 0x0113
	ExtStatusRPINotSupported          UINT = 0x0121
	ExtStatusNoMoreConnsAvailable     UINT = 0x0113
	ExtStatusMismatchedRPI            UINT = 0x0125
	ExtStatusMismatchedSizeType       UINT = 0x0126
	ExtStatusMismatchedPriority       UINT = 0x0127
	ExtStatusMismatchedTransport      UINT = 0x0128
	ExtStatusMismatchedTrigger        UINT = 0x0129
	ExtStatusMismatchedPIT            UINT = 0x012A
	ExtStatusConnNotFoundAtTarget     UINT = 0x0107
)

// Error is the CIP-level failure carried on a Message Router Response. It
// implements the error interface so it composes with errors.Is/errors.As.
type Error struct {
	Status    USINT
	ExtStatus []UINT // Extended status is usually a list of words
}

func (e *Error) Error() string {
	if len(e.ExtStatus) == 0 {
		return fmt.Sprintf("cip: general status 0x%02X", e.Status)
	}
	return fmt.Sprintf("cip: general status 0x%02X ext %v", e.Status, e.ExtStatus)
}

// NewError builds a plain status error with no extended status words.
func NewError(status USINT) *Error { return &Error{Status: status} }

// NewExtError builds a status error carrying extended status words.
func NewExtError(status USINT, ext ...UINT) *Error { return &Error{Status: status, ExtStatus: ext} }

// IsArray returns true if the array bit (0x8000) is set
func (d DataType) IsArray() bool {
	return (d & 0x8000) != 0
}

// Base returns the base type without flags (e.g. Array bit)
func (d DataType) Base() DataType {
	return d & 0x7FFF // Mask out Array bit (Bit 15)
}

// String returns the string representation of the data type
func (d DataType) String() string {
	base := d.Base()
	name, ok := typeNames[base]
	if !ok {
		if d.IsArray() {
			return fmt.Sprintf("UNKNOWN(0x%04X)[]", uint16(base))
		}
		return fmt.Sprintf("UNKNOWN(0x%04X)", uint16(d))
	}

	if d.IsArray() {
		return name + "[]"
	}
	return name
}

var typeNames = map[DataType]string{
	TypeBOOL:          "BOOL",
	TypeSINT:          "SINT",
	TypeINT:           "INT",
	TypeDINT:          "DINT",
	TypeLINT:          "LINT",
	TypeUSINT:         "USINT",
	TypeUINT:          "UINT",
	TypeUDINT:         "UDINT",
	TypeULINT:         "ULINT",
	TypeREAL:          "REAL",
	TypeLREAL:         "LREAL",
	TypeSTIME:         "STIME",
	TypeDATE:          "DATE",
	TypeTIME_OF_DAY:   "TIME_OF_DAY",
	TypeDATE_AND_TIME: "DATE_AND_TIME",
	TypeSTRING:        "STRING",
	TypeBYTE:          "BYTE",
	TypeWORD:          "WORD",
	TypeDWORD:         "DWORD",
	TypeLWORD:         "LWORD",
	TypeSTRING2:       "STRING2",
	TypeFTIME:         "FTIME",
	TypeLTIME:         "LTIME",
	TypeITIME:         "ITIME",
	TypeSTRINGN:       "STRINGN",
	TypeSHORT_STRING:  "SHORT_STRING",
	TypeTIME:          "TIME",
	TypeEPATH:         "EPATH",
	TypeENGUNIT:       "ENGUNIT",
	TypeSTRINGI:       "STRINGI",
	TypeSTRUCT:        "STRUCT",
}
