// Package pdmsg defines types to encode and decode USB Power Delivery
// messages: headers, data objects (PDO/RDO/VDM/BIST/Alert) and the chunked
// extended-message framing used by Revisions 2.0 through 3.2.
package pdmsg

const (
	// MaxDataObjects is the maximum number of data objects that can be stored
	// in a standard message, as set by the standard.
	MaxDataObjects = 7

	// MaxEPRDataObjects is the maximum number of data objects an EPR source
	// or sink capabilities message may carry (7 SPR + 6 EPR slots addressed
	// via extended messages in the real protocol; kept as a single constant
	// here since pdstack treats the EPR list as its own buffer).
	MaxEPRDataObjects = 13

	// MaxMessageBytes is the maximum number of bytes in a standard message,
	// header plus up to MaxDataObjects 32-bit data objects.
	MaxMessageBytes = 2 + 4*MaxDataObjects

	// MaxExtendedBytes is the maximum payload size, in bytes, of a chunked
	// extended message (e.g. Manufacturer_Info, Battery_Status, Security
	// messages).
	MaxExtendedBytes = 260

	// MaxChunkBytes is the maximum number of payload bytes carried in a
	// single chunk of an extended message.
	MaxChunkBytes = 26

	// LegacyExtendedBytes is the maximum extended-message payload under PD
	// 2.0, which predates chunking.
	LegacyExtendedBytes = 26

	// MaxFrameBytes is the largest wire frame ToBytes can produce: a 2-byte
	// header, a 2-byte extended header, and one chunk's worth of data
	// objects (a chunked extended message's per-chunk frame is its largest
	// case; a standard message never uses the extended header bytes).
	MaxFrameBytes = 2 + 2 + 4*((MaxChunkBytes+3)/4)
)

// SOP identifies the packet class a message is associated with: to the port
// partner, or to one of the (up to two) cable markers.
type SOP uint8

// Packet classes.
const (
	SOPMessage     SOP = iota // SOP: to the port partner
	SOPPrime                  // SOP': to the near-end cable marker
	SOPDoublePrime            // SOP'': to the far-end cable marker
)

func (s SOP) String() string {
	switch s {
	case SOPMessage:
		return "SOP"
	case SOPPrime:
		return "SOP'"
	case SOPDoublePrime:
		return "SOP''"
	default:
		return "SOP(invalid)"
	}
}

// Message represents a decoded power delivery message, standard or extended.
// A single Message value is reused across decode calls by callers that want
// to avoid heap allocation (see pdstack's hardware driver guidance); the
// Extended field's backing array is always MaxExtendedBytes long regardless
// of how many bytes are actually populated.
type Message struct {
	SOP    SOP
	Header uint16

	// Data holds the message's data objects for non-extended messages. For
	// TypeSourceCap/TypeSinkCap, convert elements to PDO and then to the
	// specific PDO type indicated by PDO.Type(). Only the first
	// DataObjectCount() elements are meaningful.
	Data [MaxDataObjects]uint32

	// Extended carries the chunked-extended-message header and payload when
	// IsExtended() is true. It is the zero value otherwise.
	Extended ExtendedPayload
}

// ExtendedPayload is the chunked-extended-message header plus the
// (possibly partially received) reassembled byte payload.
type ExtendedPayload struct {
	Header uint16       // chunked extended header, see ExtHeader accessors below
	Data   [MaxExtendedBytes]byte
	Len    uint16 // number of valid bytes in Data
}

// ToBytes serializes a message -- standard or extended -- to a byte slice
// and returns the number of bytes written: a 2-byte header, a further
// 2-byte extended header when IsExtended() is set, then up to
// DataObjectCount() 32-bit data objects. b must have capacity for at least
// MaxFrameBytes.
func (m Message) ToBytes(b []byte) uint8 {
	b[0] = byte(m.Header & 0xff)
	b[1] = byte((m.Header >> 8) & 0xff)
	idx := uint8(2)
	if m.IsExtended() {
		b[2] = byte(m.Extended.Header & 0xff)
		b[3] = byte((m.Extended.Header >> 8) & 0xff)
		idx = 4
	}
	c := m.DataObjectCount()
	for i, d := range m.Data[:c] {
		s := int(idx) + i*4
		b[s] = byte(d & 0xff)
		b[s+1] = byte((d >> 8) & 0xff)
		b[s+2] = byte((d >> 16) & 0xff)
		b[s+3] = byte((d >> 24) & 0xff)
	}
	return idx + c*4
}

// FromBytes decodes a message -- standard or extended -- from b. For
// extended messages, only Extended.Header is populated directly; the raw
// chunk payload bytes are available via the data-object words as for a
// standard message (package prl's chunk reassembly reads them from there).
func (m *Message) FromBytes(b []byte) {
	m.Header = uint16(b[0]) | uint16(b[1])<<8
	idx := 2
	if m.IsExtended() {
		m.Extended.Header = uint16(b[2]) | uint16(b[3])<<8
		idx = 4
	}
	c := m.DataObjectCount()
	for i := uint8(0); i < c; i++ {
		s := idx + int(i)*4
		m.Data[i] = uint32(b[s]) | uint32(b[s+1])<<8 | uint32(b[s+2])<<16 | uint32(b[s+3])<<24
	}
}

// IsExtended returns true if the message has its extended flag set.
func (m Message) IsExtended() bool {
	return m.Header&(1<<15) != 0
}

// SetExtended sets the extended flag in the message.
func (m *Message) SetExtended(e bool) {
	var b uint16
	if e {
		b = 1 << 15
	}
	m.Header = (m.Header & ^(uint16(1) << 15)) | b
}

// ID returns the message ID.
func (m Message) ID() uint8 {
	return uint8((m.Header >> 9) & 0b111)
}

// SetID sets the message ID.
func (m *Message) SetID(id uint8) {
	m.Header = (m.Header & ^(uint16(0b111) << 9)) | (uint16(id) << 9)
}

// DataObjectCount returns the number of data objects in the message (or, for
// an extended message, the number of chunk-header "count" bits, which the
// standard overloads as the object count field).
func (m Message) DataObjectCount() uint8 {
	return uint8((m.Header >> 12) & 0b111)
}

// SetDataObjectCount sets the number of data objects in the message.
func (m *Message) SetDataObjectCount(n uint8) {
	m.Header = (m.Header & ^(uint16(0b111) << 12)) | (uint16(n) << 12)
}

// IsData returns true if the message is a data message, otherwise it's a
// control message.
func (m Message) IsData() bool {
	return m.DataObjectCount() > 0 || m.IsExtended()
}

// Type returns the message type. As data and control messages share the
// same value range for some types, the user must check IsData in addition
// to Type to determine the correct type of the message.
func (m Message) Type() Type {
	return Type(m.Header & 0b11111)
}

// SetType sets the message type.
func (m *Message) SetType(t Type) {
	m.Header = (m.Header & ^uint16(0b11111)) | uint16(t)
}

// Type represents the PD message type. For control messages, the value is
// equivalent to that of the PD spec. Actual message type requires
// determining if the message is a control or a data message using IsData().
type Type uint8

// Control message types.
const (
	TypeGoodCRC         Type = 0b00001
	TypeGotoMin         Type = 0b00010
	TypeAccept          Type = 0b00011
	TypeReject          Type = 0b00100
	TypePing            Type = 0b00101
	TypePSReady         Type = 0b00110
	TypeGetSourceCap    Type = 0b00111
	TypeGetSinkCap      Type = 0b01000
	TypeDRSwap          Type = 0b01001
	TypePRSwap          Type = 0b01010
	TypeVCONNSwap       Type = 0b01011
	TypeWait            Type = 0b01100
	TypeSoftReset       Type = 0b01101
	TypeDataReset       Type = 0b01110
	TypeDataResetComp   Type = 0b01111
	TypeNotSupported    Type = 0b10000
	TypeGetSourceCapExt Type = 0b10001
	TypeGetStatus       Type = 0b10010
	TypeFRSwap          Type = 0b10011
	TypeGetPPSStatus    Type = 0b10100
	TypeGetCountryCodes Type = 0b10101
	TypeGetSinkCapExt   Type = 0b10110
	TypeGetSourceInfo   Type = 0b10111
	TypeGetRevision     Type = 0b11000
)

// Data message types.
const (
	TypeSourceCap      Type = 0b00001
	TypeRequest        Type = 0b00010
	TypeBIST           Type = 0b00011
	TypeSinkCap        Type = 0b00100
	TypeBatteryStatus  Type = 0b00101
	TypeAlert          Type = 0b00110
	TypeGetCountryInfo Type = 0b00111
	TypeEnterUSB       Type = 0b01000
	TypeEPRRequest     Type = 0b01001
	TypeEPRMode        Type = 0b01010
	TypeSourceInfo     Type = 0b01011
	TypeRevision       Type = 0b01100
	TypeVendorDefined  Type = 0b01111
)

// Extended message types (only valid when IsExtended()).
const (
	TypeSourceCapExt           Type = 0b00001
	TypeStatus                 Type = 0b00010
	TypeGetBatteryCap          Type = 0b00011
	TypeGetBatteryStatus       Type = 0b00100
	TypeBatteryCapability      Type = 0b00101
	TypeGetManufacturerInfo    Type = 0b00110
	TypeManufacturerInfo       Type = 0b00111
	TypeSecurityRequest        Type = 0b01000
	TypeSecurityResponse       Type = 0b01001
	TypeFirmwareUpdateRequest  Type = 0b01010
	TypeFirmwareUpdateResponse Type = 0b01011
	TypePPSStatus              Type = 0b01100
	TypeCountryInfo            Type = 0b01101
	TypeCountryCodes           Type = 0b01110
	TypeSinkCapExt             Type = 0b01111
	TypeExtControl             Type = 0b10000
	TypeEPRSourceCap           Type = 0b10001
	TypeEPRSinkCap             Type = 0b10010
)

// Revision returns the power delivery revision number of the message.
func (m Message) Revision() Revision {
	return Revision((m.Header >> 6) & 0b11)
}

// SetRevision sets the power delivery revision number of the message.
// Revision31 and Revision32 are written as Revision30.
func (m *Message) SetRevision(r Revision) {
	if r > Revision30 {
		r = Revision30
	}
	m.Header = (m.Header & ^(uint16(0b11) << 6)) | uint16(r<<6)
}

// Revision represents the power delivery revision number of a message or
// port.
type Revision uint8

// Power delivery revision numbers. Revision31/Revision32 are transmitted on
// the wire identically to Revision30 (the header field only has 2 bits) but
// are tracked at the port level to decide which optional messages (EPR,
// Data_Reset, BIST_STM) a partner may legally receive.
const (
	Revision10 Revision = 0b00
	Revision20 Revision = 0b01
	Revision30 Revision = 0b10
	Revision31 Revision = 0b11
	Revision32 Revision = 0b100
)

// VDMVersionFor returns the Structured VDM version to advertise for a given
// negotiated PD revision: 1.0 for PD 2.0 partners, 2.0 for PD 3.x.
func VDMVersionFor(r Revision) uint8 {
	if r <= Revision20 {
		return 0 // 1.0
	}
	return 1 // 2.0
}

// PowerRole returns the power role of the sender of the message.
func (m Message) PowerRole() PowerRole {
	return PowerRole((m.Header >> 8) & 1)
}

// SetPowerRole sets the power role of the sender of the message.
func (m *Message) SetPowerRole(r PowerRole) {
	m.Header = (m.Header & ^(uint16(1) << 8)) | (uint16(r) << 8)
}

// PowerRole represents the power role of the sender of a message.
type PowerRole uint8

// Power roles of the sender of a message.
const (
	PowerRoleSink   PowerRole = 0
	PowerRoleSource PowerRole = 1
)

// DataRole returns the data role of the sender of the message.
func (m Message) DataRole() DataRole {
	return DataRole((m.Header >> 5) & 1)
}

// SetDataRole sets the data role of the sender of the message.
func (m *Message) SetDataRole(r DataRole) {
	m.Header = (m.Header & ^(uint16(1) << 5)) | uint16(r<<5)
}

// DataRole represents the data role of the sender of a message.
type DataRole uint8

// Data roles of the sender of a message.
const (
	DataRoleUFP DataRole = 0
	DataRoleDFP DataRole = 1
)

// --- Extended header (only meaningful when Message.IsExtended()) ---

// ExtHeaderChunkNumber returns the chunk number field of an extended header.
func ExtHeaderChunkNumber(h uint16) uint8 {
	return uint8((h >> 11) & 0b1111)
}

// SetExtHeaderChunkNumber sets the chunk number field of an extended header.
func SetExtHeaderChunkNumber(h uint16, n uint8) uint16 {
	return (h & ^(uint16(0b1111) << 11)) | (uint16(n&0b1111) << 11)
}

// ExtHeaderRequestChunk returns the request-chunk bit of an extended header.
func ExtHeaderRequestChunk(h uint16) bool {
	return h&(1<<10) != 0
}

// SetExtHeaderRequestChunk sets the request-chunk bit of an extended header.
func SetExtHeaderRequestChunk(h uint16, req bool) uint16 {
	if req {
		return h | (1 << 10)
	}
	return h & ^(uint16(1) << 10)
}

// ExtHeaderChunked returns the chunked bit of an extended header.
func ExtHeaderChunked(h uint16) bool {
	return h&(1<<15) != 0
}

// SetExtHeaderChunked sets the chunked bit of an extended header.
func SetExtHeaderChunked(h uint16, chunked bool) uint16 {
	if chunked {
		return h | (1 << 15)
	}
	return h & ^(uint16(1) << 15)
}

// ExtHeaderDataSize returns the total data size field of an extended header.
func ExtHeaderDataSize(h uint16) uint16 {
	return h & 0x1ff
}

// SetExtHeaderDataSize sets the total data size field of an extended header.
func SetExtHeaderDataSize(h uint16, size uint16) uint16 {
	return (h & ^uint16(0x1ff)) | (size & 0x1ff)
}
